package storage

import (
	"io"
)

type ImageInfo struct {
	Filename    string
	ContentType string
}

// Storage holds committed item images. UploadImage returns a URL usable as
// the collection entry's image reference.
type Storage interface {
	UploadImage(data []byte, info ImageInfo) (string, error)
	OpenImage(name string) (io.ReadSeekCloser, error)
	DeleteImage(name string) error
}
