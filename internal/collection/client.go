// Package collection is the client for the external collection store holding
// the user's permanent collection.
package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/akazmin/batchlens/internal/models"
)

// DuplicateResult is the store's answer to "does the user already own this".
type DuplicateResult struct {
	IsDuplicate   bool   `json:"is_duplicate"`
	ExistingImage string `json:"existing_image,omitempty"`
}

// Entry is one persisted collection item.
type Entry struct {
	ID        string                `json:"id"`
	UserID    string                `json:"user_id"`
	Item      models.Identification `json:"item"`
	ImageURL  string                `json:"image_url,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Store is the collection-store surface the pipeline depends on.
type Store interface {
	CheckDuplicate(ctx context.Context, userID string, item models.Identification) (*DuplicateResult, error)
	Create(ctx context.Context, userID string, item models.Identification, imageURL string) (*Entry, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckDuplicate matches on brand, model and year. Key fields are lowercased
// so matching is case-insensitive on both sides.
func (c *Client) CheckDuplicate(ctx context.Context, userID string, item models.Identification) (*DuplicateResult, error) {
	params := url.Values{}
	params.Set("brand", strings.ToLower(strings.TrimSpace(item.Brand)))
	params.Set("model", strings.ToLower(strings.TrimSpace(item.Model)))
	params.Set("year", strconv.Itoa(item.Year))

	fullURL := fmt.Sprintf("%s/users/%s/collection/duplicate?%s", c.baseURL, url.PathEscape(userID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collection store returned status %d", resp.StatusCode)
	}

	var result DuplicateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

type createRequest struct {
	Item     models.Identification `json:"item"`
	ImageURL string                `json:"image_url,omitempty"`
}

func (c *Client) Create(ctx context.Context, userID string, item models.Identification, imageURL string) (*Entry, error) {
	jsonData, err := json.Marshal(createRequest{Item: item, ImageURL: imageURL})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	fullURL := fmt.Sprintf("%s/users/%s/collection", c.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, "POST", fullURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("collection store returned status %d", resp.StatusCode)
	}

	var entry Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &entry, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
}
