package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cartsync/internal/identity"
	"cartsync/internal/model"
	"cartsync/internal/transport"
)

// apiPath is the base path of the collection endpoints.
const apiPath = "/api"

// userAgent identifies this client to the collection service.
const userAgent = "cartsync/1.0"

// serviceName appears in network error messages.
const serviceName = "collection service"

// Config holds HTTP client configuration.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration // default 15s
	ChromeTLS         bool          // present a browser TLS fingerprint
	RequestsPerSecond float64       // 0 = unlimited
	Burst             int

	// HTTPClient overrides the transport stack entirely (tests).
	HTTPClient *http.Client
}

// Client implements Service over the collection REST API:
//
//	GET    /api/{kind}
//	POST   /api/{kind}/items
//	PUT    /api/{kind}/items/{entryId}
//	DELETE /api/{kind}/items/{entryId}
//	DELETE /api/{kind}
//
// Mutations carry an Idempotency-Key so a retried request is applied once.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	newKey     func() string
}

// New creates an HTTP client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		var rt http.RoundTripper = http.DefaultTransport
		if cfg.ChromeTLS {
			rt = transport.NewChromeTransport(timeout)
		}
		if cfg.RequestsPerSecond > 0 {
			rt = transport.RateLimited(rt, transport.NewLimiter(cfg.RequestsPerSecond, cfg.Burst))
		}
		hc = &http.Client{Timeout: timeout, Transport: rt}
	}

	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		newKey:     uuid.NewString,
	}, nil
}

// Fetch implements Service.
func (c *Client) Fetch(ctx context.Context, kind model.Kind) (model.Collection, error) {
	return c.do(ctx, http.MethodGet, c.collectionPath(kind), nil, kind, model.Key{})
}

// AddItem implements Service.
func (c *Client) AddItem(ctx context.Context, kind model.Kind, req AddRequest) (model.Collection, error) {
	return c.do(ctx, http.MethodPost, c.collectionPath(kind)+"/items", req, kind, req.Key())
}

// UpdateQuantity implements Service.
func (c *Client) UpdateQuantity(ctx context.Context, kind model.Kind, entryID string, key model.Key, quantity int) (model.Collection, error) {
	body := updateRequest{ProductID: key.ProductID, VariantKey: key.VariantKey, Quantity: quantity}
	return c.do(ctx, http.MethodPut, c.itemPath(kind, entryID), body, kind, key)
}

// RemoveItem implements Service.
func (c *Client) RemoveItem(ctx context.Context, kind model.Kind, entryID string, key model.Key) (model.Collection, error) {
	q := url.Values{}
	q.Set("productId", key.ProductID)
	if key.VariantKey != "" {
		q.Set("variantKey", key.VariantKey)
	}
	return c.do(ctx, http.MethodDelete, c.itemPath(kind, entryID)+"?"+q.Encode(), nil, kind, key)
}

// Clear implements Service.
func (c *Client) Clear(ctx context.Context, kind model.Kind) (model.Collection, error) {
	return c.do(ctx, http.MethodDelete, c.collectionPath(kind), nil, kind, model.Key{})
}

type updateRequest struct {
	ProductID  string `json:"productId"`
	VariantKey string `json:"variantKey"`
	Quantity   int    `json:"quantity"`
}

// errorResponse is the error body returned by the collection service.
type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) collectionPath(kind model.Kind) string {
	return apiPath + "/" + url.PathEscape(string(kind))
}

// itemPath addresses an entry. Entries without a server id yet are addressed
// by "-" and identified by the key in the body or query.
func (c *Client) itemPath(kind model.Kind, entryID string) string {
	if entryID == "" || model.IsTemporaryID(entryID) {
		entryID = "-"
	}
	return c.collectionPath(kind) + "/items/" + url.PathEscape(entryID)
}

// do executes a request and decodes the returned collection.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, kind model.Kind, key model.Key) (model.Collection, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return model.Collection{}, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return model.Collection{}, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Collection{}, model.NewNetworkError(serviceName, err).WithKey(key)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Collection{}, model.NewNetworkError(serviceName, fmt.Errorf("reading response: %w", err)).WithKey(key)
	}

	if resp.StatusCode >= 400 {
		return model.Collection{}, parseErrorResponse(resp.StatusCode, respBody, key)
	}

	var out model.Collection
	if err := json.Unmarshal(respBody, &out); err != nil {
		return model.Collection{}, model.NewServerError(fmt.Sprintf("unreadable %s response: %v", kind, err)).WithKey(key)
	}
	if out.Kind == "" {
		out.Kind = kind
	}
	for i := range out.Items {
		out.Items[i].Pending = false
	}
	return out, nil
}

// setHeaders sets content, authentication, identity and idempotency headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Method != http.MethodGet {
		req.Header.Set("Idempotency-Key", c.newKey())
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	id := identity.FromContext(req.Context())
	if id.UserID != "" {
		req.Header.Set("X-User-ID", id.UserID)
	}
	if id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}
}

// parseErrorResponse converts a service error body to a classified model.Error.
// The body's kind wins; the status code is the fallback.
func parseErrorResponse(statusCode int, body []byte, key model.Key) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp) // best effort
	msg := errResp.Error.Message

	var e *model.Error
	switch errResp.Error.Kind {
	case "validation":
		e = model.NewInvalidItemError("request", orDefault(msg, "rejected by server"))
	case "availability_restriction":
		e = model.NewAvailabilityError(key, msg)
	case "not_found":
		e = model.NewNotFoundError("entry")
	case "server_error":
		e = model.NewServerError(msg)
	default:
		e = errorForStatus(statusCode, msg)
	}
	if !key.IsZero() {
		e = e.WithKey(key)
	}
	return e
}

func errorForStatus(statusCode int, msg string) *model.Error {
	switch {
	case statusCode == http.StatusNotFound:
		return model.NewNotFoundError("entry")
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return model.NewInvalidItemError("request", orDefault(msg, "rejected by server"))
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusGatewayTimeout:
		return model.NewNetworkError(serviceName, fmt.Errorf("status %d", statusCode))
	default:
		return model.NewServerError(orDefault(msg, fmt.Sprintf("status %d", statusCode)))
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

var _ Service = (*Client)(nil)
