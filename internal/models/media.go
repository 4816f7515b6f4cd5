package models

import (
	"fmt"
	"strings"
	"time"
)

// MediaStatus is the lifecycle of one queued media item. Transitions are
// monotonic: pending -> analyzing -> success | error.
type MediaStatus string

const (
	StatusPending   MediaStatus = "pending"
	StatusAnalyzing MediaStatus = "analyzing"
	StatusSuccess   MediaStatus = "success"
	StatusError     MediaStatus = "error"
)

func (s MediaStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

type QueuedMedia struct {
	ID          string           `json:"id"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	Payload     []byte           `json:"-"`
	IsVideo     bool             `json:"is_video"`
	Status      MediaStatus      `json:"status"`
	Results     []AnalysisResult `json:"results,omitempty"`
	ErrorDetail string           `json:"error_detail,omitempty"`
}

// NewQueuedMedia assigns an id from submission order plus a timestamp so ids
// stay unique across batches without coordination.
func NewQueuedMedia(index int, filename, contentType string, payload []byte, isVideo bool) *QueuedMedia {
	return &QueuedMedia{
		ID:          fmt.Sprintf("%d-%d", index, time.Now().UnixNano()),
		Filename:    filename,
		ContentType: contentType,
		Payload:     payload,
		IsVideo:     isVideo,
		Status:      StatusPending,
	}
}

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Identification is the recognition payload for one physical item candidate.
type Identification struct {
	Brand     string `json:"brand"`
	Model     string `json:"model"`
	Year      int    `json:"year"`
	Series    string `json:"series,omitempty"`
	Color     string `json:"color,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// Key returns the case-insensitive duplicate-matching key.
func (id Identification) Key() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%d", strings.TrimSpace(id.Brand), strings.TrimSpace(id.Model), id.Year))
}

type AnalysisResult struct {
	Identification    Identification `json:"identification"`
	BoundingBox       *BoundingBox   `json:"bounding_box,omitempty"`
	CroppedImage      []byte         `json:"cropped_image,omitempty"`
	IsDuplicate       bool           `json:"is_duplicate"`
	ExistingItemImage string         `json:"existing_item_image,omitempty"`
}

// ConsolidatedResult is an AnalysisResult lifted into the review list.
// MediaID/MediaIndex identify the originating media without owning it.
type ConsolidatedResult struct {
	AnalysisResult
	MediaID    string `json:"media_id"`
	MediaIndex int    `json:"media_index"`
	IsSelected bool   `json:"is_selected"`
}

// StoredBatch is the durable snapshot of a review in progress.
type StoredBatch struct {
	Results   []ConsolidatedResult `json:"results"`
	Timestamp time.Time            `json:"timestamp"`
}
