// Package client calls the pawtrack HTTP API and reports metered writes as
// optimistic.Outcome values, ready to reconcile a local store.
package client

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

	"github.com/smallbiznis/pawtrack/pkg/client/optimistic"
)

const KindTransport = "transport_error"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Feeding is the wire shape of a feeding record.
type Feeding struct {
	ID           string    `json:"id,omitempty"`
	PetID        string    `json:"petId,omitempty"`
	TimeRecorded time.Time `json:"timeRecorded"`
	Notes        string    `json:"notes,omitempty"`
	FoodAmount   string    `json:"foodAmount"`
	FoodType     string    `json:"foodType"`
	Brand        string    `json:"brand"`
	MoodRating   int       `json:"moodRating"`
}

func (c *Client) CreateFeeding(ctx context.Context, petID string, f Feeding, idempotencyKey string) optimistic.Outcome[Feeding] {
	return CreateRecord(ctx, c, petID, "feedings", "feeding", f, idempotencyKey)
}

func (c *Client) DeleteFeeding(ctx context.Context, id, idempotencyKey string) optimistic.Outcome[Feeding] {
	return DeleteRecord[Feeding](ctx, c, "feedings", "feeding", id, idempotencyKey)
}

// CreateRecord posts body to /api/pets/{petID}/{route}; the entity comes back under key.
func CreateRecord[T any](ctx context.Context, c *Client, petID, route, key string, body T, idempotencyKey string) optimistic.Outcome[T] {
	path := fmt.Sprintf("/api/pets/%s/%s", url.PathEscape(petID), route)
	return metered[T](ctx, c, http.MethodPost, path, key, body, idempotencyKey)
}

func DeleteRecord[T any](ctx context.Context, c *Client, route, key, id, idempotencyKey string) optimistic.Outcome[T] {
	path := fmt.Sprintf("/api/%s/%s", route, url.PathEscape(id))
	return metered[T](ctx, c, http.MethodDelete, path, key, nil, idempotencyKey)
}

// Balance reads the caller's token balance.
func (c *Client) Balance(ctx context.Context) (optimistic.Balance, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/me/tokens", nil, "")
	if err != nil {
		return optimistic.Balance{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return optimistic.Balance{}, decodeError[optimistic.Balance](resp)
	}
	var out struct {
		User optimistic.Balance `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return optimistic.Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return out.User, nil
}

func metered[T any](ctx context.Context, c *Client, method, path, key string, body any, idempotencyKey string) optimistic.Outcome[T] {
	resp, err := c.do(ctx, method, path, body, idempotencyKey)
	if err != nil {
		return optimistic.Err[T]{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError[T](resp)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return optimistic.Err[T]{Status: resp.StatusCode, Kind: KindTransport, Message: fmt.Sprintf("decode response: %v", err)}
	}
	var out optimistic.Ok[T]
	if err := json.Unmarshal(raw[key], &out.Entity); err != nil {
		return optimistic.Err[T]{Status: resp.StatusCode, Kind: KindTransport, Message: fmt.Sprintf("decode %s: %v", key, err)}
	}
	if err := json.Unmarshal(raw["user"], &out.Balance); err != nil {
		return optimistic.Err[T]{Status: resp.StatusCode, Kind: KindTransport, Message: fmt.Sprintf("decode balance: %v", err)}
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.http.Do(req)
}

func decodeError[T any](resp *http.Response) optimistic.Err[T] {
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	out := optimistic.Err[T]{Status: resp.StatusCode, Kind: "unknown", Message: http.StatusText(resp.StatusCode)}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return out
	}
	if payload.Error.Type != "" {
		out.Kind = payload.Error.Type
	}
	if payload.Message != "" {
		out.Message = payload.Message
	}
	return out
}
