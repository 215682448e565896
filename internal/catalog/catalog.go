// Package catalog wraps the HTTP catalog backend used by action steps.
//
// It provides listing and creation of catalog items and maps transport and
// status failures onto a fixed error taxonomy the flow interpreter can
// translate into user-facing messages.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultListLimit is the number of items fetched when no limit is given.
const DefaultListLimit = 10

// Error variables covering every failure kind the interpreter must be able
// to distinguish when reporting a catalog call to the user.
var (
	ErrUnavailable   = errors.New("catalog backend unreachable")
	ErrUnauthorized  = errors.New("catalog request unauthorized")
	ErrForbidden     = errors.New("catalog request forbidden")
	ErrNotFound      = errors.New("catalog resource not found")
	ErrDuplicateID   = errors.New("catalog item id already exists")
	ErrInvalidInput  = errors.New("catalog rejected item input")
	ErrImageUpload   = errors.New("catalog image upload failed")
	ErrServer        = errors.New("catalog backend error")
	ErrUnknown       = errors.New("catalog request failed")
	ErrNotConfigured = errors.New("catalog backend not configured")
	ErrEmptyItemName = errors.New("item name cannot be empty")
	ErrEmptyItemID   = errors.New("item id cannot be empty")
)

// Item aliases the shared catalog item model for convenience.
type Item struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// ItemInput is the creation payload. GeneratedID is supplied by the caller
// before the request so a retried create is recognizable as a duplicate.
type ItemInput struct {
	GeneratedID string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	ImageMime   string  `json:"image_mime,omitempty"`
}

// Validate checks the creation payload before it goes on the wire.
func (in ItemInput) Validate() error {
	if in.GeneratedID == "" {
		return ErrEmptyItemID
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyItemName
	}
	if in.Price <= 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	if in.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	return nil
}

// Client is the catalog backend abstraction consumed by action steps.
type Client interface {
	// ListItems returns up to limit items from the catalog.
	ListItems(ctx context.Context, limit int) ([]Item, error)

	// CreateItem creates a new catalog item and returns the stored item.
	CreateItem(ctx context.Context, input ItemInput) (*Item, error)
}

// Opts holds configuration options for the HTTP catalog client.
type Opts struct {
	BaseURL    string
	APIToken   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the HTTP catalog client.
type Option func(*Opts)

// WithBaseURL sets the catalog backend base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithAPIToken sets the bearer token sent on every request.
func WithAPIToken(token string) Option {
	return func(o *Opts) { o.APIToken = token }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient injects a custom HTTP client (for tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// HTTPClient talks to the catalog backend over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a catalog client, falling back to CATALOG_BASE_URL
// and CATALOG_API_TOKEN environment variables when options are not given.
func NewHTTPClient(opts ...Option) (*HTTPClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("CATALOG_BASE_URL")
	}
	if cfg.APIToken == "" {
		cfg.APIToken = os.Getenv("CATALOG_API_TOKEN")
	}
	slog.Debug("Catalog client config loaded", "base_url_set", cfg.BaseURL != "", "token_set", cfg.APIToken != "")
	if cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		client:  client,
	}, nil
}

// ListItems fetches up to limit items from GET /items.
func (c *HTTPClient) ListItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	url := fmt.Sprintf("%s/items?limit=%d", c.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Catalog ListItems transport failure", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		slog.Error("Catalog ListItems rejected", "status", resp.StatusCode, "error", err)
		return nil, err
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		slog.Error("Catalog ListItems decode failure", "error", err)
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnknown, err)
	}
	slog.Debug("Catalog ListItems succeeded", "count", len(items))
	return items, nil
}

// CreateItem posts a new item to POST /items.
func (c *HTTPClient) CreateItem(ctx context.Context, input ItemInput) (*Item, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode item input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/items", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Catalog CreateItem transport failure", "error", err, "item_id", input.GeneratedID)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		slog.Error("Catalog CreateItem rejected", "status", resp.StatusCode, "error", err, "item_id", input.GeneratedID)
		return nil, err
	}

	var item Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		slog.Error("Catalog CreateItem decode failure", "error", err, "item_id", input.GeneratedID)
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnknown, err)
	}
	slog.Info("Catalog item created", "item_id", item.ID, "name", item.Name)
	return &item, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorBody is the backend's error envelope; Code carries machine-readable
// detail such as "duplicate_id" or "image_upload_failed".
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classifyStatus maps an HTTP response onto the package error taxonomy.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var detail errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &detail)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrDuplicateID
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if detail.Code == "image_upload_failed" {
			return ErrImageUpload
		}
		if detail.Message != "" {
			return fmt.Errorf("%w: %s", ErrInvalidInput, detail.Message)
		}
		return ErrInvalidInput
	}
	if resp.StatusCode >= 500 {
		if detail.Code == "image_upload_failed" {
			return ErrImageUpload
		}
		return ErrServer
	}
	return fmt.Errorf("%w: unexpected status %d", ErrUnknown, resp.StatusCode)
}

// MockClient implements Client in memory for tests and local development.
type MockClient struct {
	Items     []Item
	ListErr   error
	CreateErr error
	ListCalls int
	CreateLog []ItemInput
}

// NewMockClient creates an empty in-memory catalog.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// ListItems returns the stored items, truncated to limit.
func (m *MockClient) ListItems(ctx context.Context, limit int) ([]Item, error) {
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if len(m.Items) > limit {
		return m.Items[:limit], nil
	}
	return m.Items, nil
}

// CreateItem appends the item, honoring duplicate-id semantics.
func (m *MockClient) CreateItem(ctx context.Context, input ItemInput) (*Item, error) {
	m.CreateLog = append(m.CreateLog, input)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	for _, it := range m.Items {
		if it.ID == input.GeneratedID {
			return nil, ErrDuplicateID
		}
	}
	item := Item{
		ID:          input.GeneratedID,
		Name:        input.Name,
		Price:       input.Price,
		Quantity:    input.Quantity,
		Description: input.Description,
		ImageURL:    input.ImageURL,
	}
	m.Items = append(m.Items, item)
	return &item, nil
}
