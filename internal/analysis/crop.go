package analysis

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/akazmin/batchlens/internal/models"
)

// CropByBoundingBox decodes payload, cuts the box region and re-encodes it
// as JPEG. Returns an error when the payload does not decode or the box lies
// outside the image; callers fall back to the full image in that case.
func CropByBoundingBox(payload []byte, box models.BoundingBox) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	if box.Width <= 0 || box.Height <= 0 {
		return nil, fmt.Errorf("invalid bounding box %dx%d", box.Width, box.Height)
	}

	rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
	cropped := imaging.Crop(img, rect)
	if cropped.Rect.Empty() {
		return nil, fmt.Errorf("bounding box outside image bounds")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encoding cropped image: %w", err)
	}

	return buf.Bytes(), nil
}
