// Package recognition wraps the external collectible recognition service.
// The service is treated as unreliable: any transport or parse failure is
// returned as an error for the caller to record on the media item.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/akazmin/batchlens/internal/models"
)

// Response is the recognition service's answer for one media payload.
type Response struct {
	Identified      bool        `json:"identified"`
	Count           int         `json:"count"`
	Items           []Candidate `json:"items"`
	QualityIssue    bool        `json:"quality_issue"`
	SubjectMismatch bool        `json:"subject_mismatch"`
}

// Candidate is one identified item within a media payload.
type Candidate struct {
	Brand       string              `json:"brand"`
	Model       string              `json:"model"`
	Year        int                 `json:"year"`
	Series      string              `json:"series,omitempty"`
	Color       string              `json:"color,omitempty"`
	Condition   string              `json:"condition,omitempty"`
	BoundingBox *models.BoundingBox `json:"bounding_box,omitempty"`
}

// Identification converts the wire candidate into the domain payload.
func (c Candidate) Identification() models.Identification {
	return models.Identification{
		Brand:     c.Brand,
		Model:     c.Model,
		Year:      c.Year,
		Series:    c.Series,
		Color:     c.Color,
		Condition: c.Condition,
	}
}

type Recognizer interface {
	Recognize(ctx context.Context, payload []byte, filename string) (*Response, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Recognize(ctx context.Context, payload []byte, filename string) (*Response, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("media", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("copying media data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/recognize", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition service returned status %d", resp.StatusCode)
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// CheckHealth probes the recognition service so startup can warn early when
// it is unreachable.
func (c *Client) CheckHealth() error {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognition service health check returned status %d", resp.StatusCode)
	}
	return nil
}
