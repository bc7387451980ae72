// Package remote implements the HTTP client the sync manager dispatches
// batches through.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/arborapp/localsync/internal/queue"
	"github.com/arborapp/localsync/internal/syncer"
)

// Config holds settings for the backend the queue syncs against.
type Config struct {
	BaseURL   string        `toml:"base_url"`
	Timeout   time.Duration `toml:"timeout"`
	AuthToken string        `toml:"auth_token"`
}

// operationPayload is the wire shape of one queued operation.
type operationPayload struct {
	ID         string         `json:"id"`
	ObjectType string         `json:"objectType"`
	ObjectID   string         `json:"objectId"`
	Kind       string         `json:"kind"`
	Priority   int            `json:"priority"`
	Payload    map[string]any `json:"payload,omitempty"`
	Version    int64          `json:"version"`
}

// operationResult is the backend's per-operation outcome.
type operationResult struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

type batchResponse struct {
	Results []operationResult `json:"results"`
}

// Client posts operation batches to the backend's sync endpoint and maps
// responses onto the engine's error taxonomy. Implements syncer.RemoteClient.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	tokenMu sync.RWMutex
	token   string
}

func NewClient(config Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger,
		token:   config.AuthToken,
	}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) bearer() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Send posts one object type's batch to POST {base}/v1/sync/{objectType}.
// A non-2xx response fails the whole call with a classified error; a 2xx
// response carries per-operation outcomes.
func (c *Client) Send(ctx context.Context, objectType string, batch []*queue.Record) ([]syncer.DispatchResult, error) {
	payload := make([]operationPayload, 0, len(batch))
	for _, rec := range batch {
		payload = append(payload, operationPayload{
			ID:         rec.ID,
			ObjectType: rec.ObjectType,
			ObjectID:   rec.ObjectID,
			Kind:       string(rec.Kind),
			Priority:   int(rec.Priority),
			Payload:    rec.Payload,
			Version:    rec.Version,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, syncer.Permanent(fmt.Errorf("failed to encode batch: %w", err))
	}

	url := fmt.Sprintf("%s/v1/sync/%s", c.baseURL, objectType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, syncer.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, syncer.Transient(fmt.Errorf("sync request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body for the log, the status drives the class
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("sync batch rejected",
			"object_type", objectType,
			"status", resp.StatusCode,
			"body", string(snippet))
		return nil, syncer.FromStatusCode(resp.StatusCode,
			fmt.Errorf("sync batch for %s: status %d", objectType, resp.StatusCode))
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, syncer.Transient(fmt.Errorf("failed to decode sync response: %w", err))
	}

	results := make([]syncer.DispatchResult, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		result := syncer.DispatchResult{ID: r.ID}
		if r.Status < 200 || r.Status >= 300 {
			result.Err = syncer.FromStatusCode(r.Status,
				fmt.Errorf("operation %s: status %d: %s", r.ID, r.Status, r.Error))
		}
		results = append(results, result)
	}
	return results, nil
}
