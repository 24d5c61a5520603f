// Package mirror implements the best-effort external vector-store mirror
// adapter (C7). Every failure from the adapter is captured as a
// dead-lettered outbox event rather than surfaced to the caller; callers
// of the mirror always "succeed" from the caller's point of view.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/axiomme/axiomme/internal/models"
	"golang.org/x/time/rate"
)

// Adapter is the mirror contract. Absence of a configured mirror is
// represented by NoopAdapter, a no-op success.
type Adapter interface {
	EnsureCollection(ctx context.Context) error
	UpsertRecord(ctx context.Context, r models.IndexRecord) error
	DeleteURIs(ctx context.Context, uris []string) error
}

// NoopAdapter is used when no mirror endpoint is configured.
type NoopAdapter struct{}

func (NoopAdapter) EnsureCollection(context.Context) error           { return nil }
func (NoopAdapter) UpsertRecord(context.Context, models.IndexRecord) error { return nil }
func (NoopAdapter) DeleteURIs(context.Context, []string) error       { return nil }

// HTTPAdapter talks to an external vector-store mirror over HTTP+JSON. This
// is a deliberately plain transport: the original system's own external
// addon clients (dedup, observer) use plain HTTP, not RPC, and this task
// cannot generate protobuf stubs, so the mirror contract follows the same
// shape.
type HTTPAdapter struct {
	endpoint   string
	collection string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewHTTPAdapter builds an adapter rate-limited to ratePerSecond requests/s.
func NewHTTPAdapter(endpoint, collection string, timeout time.Duration, ratePerSecond float64) *HTTPAdapter {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	return &HTTPAdapter{
		endpoint:   endpoint,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
	}
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mirror: rate limiter: %w", err)
	}

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mirror: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("mirror: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mirror: unexpected status %d from %s %s", resp.StatusCode, method, path)
	}
	return nil
}

// EnsureCollection idempotently creates the target collection.
func (a *HTTPAdapter) EnsureCollection(ctx context.Context) error {
	return a.do(ctx, http.MethodPut, "/collections/"+a.collection, nil)
}

type upsertPayload struct {
	URI       string   `json:"uri"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updated_at"`
}

// UpsertRecord pushes a single record into the mirror collection.
func (a *HTTPAdapter) UpsertRecord(ctx context.Context, r models.IndexRecord) error {
	payload := upsertPayload{URI: r.URI, Content: r.Content, Tags: r.Tags, UpdatedAt: r.UpdatedAt.Format(time.RFC3339)}
	return a.do(ctx, http.MethodPost, "/collections/"+a.collection+"/points", payload)
}

type deletePayload struct {
	URIs []string `json:"uris"`
}

// DeleteURIs deletes the given URIs from the mirror collection.
func (a *HTTPAdapter) DeleteURIs(ctx context.Context, uris []string) error {
	return a.do(ctx, http.MethodPost, "/collections/"+a.collection+"/points/delete", deletePayload{URIs: uris})
}

// Dispatcher wraps an Adapter and converts every error into a logged,
// best-effort failure: callers never see mirror errors directly.
type Dispatcher struct {
	adapter Adapter
	onFail  func(ctx context.Context, op, uri string, err error)
}

// NewDispatcher builds a Dispatcher. onFail is invoked for every failed
// mirror call (normally: enqueue a dead-lettered outbox event).
func NewDispatcher(adapter Adapter, onFail func(ctx context.Context, op, uri string, err error)) *Dispatcher {
	if adapter == nil {
		adapter = NoopAdapter{}
	}
	return &Dispatcher{adapter: adapter, onFail: onFail}
}

// Upsert best-effort upserts r; failures are routed to onFail and the call
// still reports success to its own caller.
func (d *Dispatcher) Upsert(ctx context.Context, r models.IndexRecord) {
	if err := d.adapter.UpsertRecord(ctx, r); err != nil {
		slog.Warn("mirror upsert failed, dead-lettering", "uri", r.URI, "error", err)
		if d.onFail != nil {
			d.onFail(ctx, "upsert", r.URI, err)
		}
	}
}

// Delete best-effort deletes uri.
func (d *Dispatcher) Delete(ctx context.Context, uri string) {
	if err := d.adapter.DeleteURIs(ctx, []string{uri}); err != nil {
		slog.Warn("mirror delete failed, dead-lettering", "uri", uri, "error", err)
		if d.onFail != nil {
			d.onFail(ctx, "delete", uri, err)
		}
	}
}
