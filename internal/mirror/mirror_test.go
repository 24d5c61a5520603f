package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/models"
)

func TestNoopAdapterAlwaysSucceeds(t *testing.T) {
	var a NoopAdapter
	require.NoError(t, a.EnsureCollection(context.Background()))
	require.NoError(t, a.UpsertRecord(context.Background(), models.IndexRecord{URI: "axiom://resources/a.md"}))
	require.NoError(t, a.DeleteURIs(context.Background(), []string{"axiom://resources/a.md"}))
}

func TestHTTPAdapterUpsertRecordPostsJSON(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "mycollection", time.Second, 50)
	err := adapter.UpsertRecord(context.Background(), models.IndexRecord{URI: "axiom://resources/a.md", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "/collections/mycollection/points", gotPath)
	assert.Equal(t, "axiom://resources/a.md", gotBody["uri"])
}

func TestHTTPAdapterUpsertRecordPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "mycollection", time.Second, 50)
	err := adapter.UpsertRecord(context.Background(), models.IndexRecord{URI: "axiom://resources/a.md"})
	require.Error(t, err)
}

func TestHTTPAdapterDeleteURIsPostsBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, "mycollection", time.Second, 50)
	require.NoError(t, adapter.DeleteURIs(context.Background(), []string{"axiom://resources/a.md"}))
	uris, _ := gotBody["uris"].([]any)
	require.Len(t, uris, 1)
}

type stubAdapter struct {
	upsertErr error
	deleteErr error
}

func (s *stubAdapter) EnsureCollection(context.Context) error { return nil }
func (s *stubAdapter) UpsertRecord(context.Context, models.IndexRecord) error {
	return s.upsertErr
}
func (s *stubAdapter) DeleteURIs(context.Context, []string) error { return s.deleteErr }

func TestDispatcherUpsertReportsFailureViaOnFail(t *testing.T) {
	var failedOp, failedURI string
	adapter := &stubAdapter{upsertErr: errors.New("boom")}
	d := NewDispatcher(adapter, func(ctx context.Context, op, uri string, err error) {
		failedOp, failedURI = op, uri
	})

	d.Upsert(context.Background(), models.IndexRecord{URI: "axiom://resources/a.md"})
	assert.Equal(t, "upsert", failedOp)
	assert.Equal(t, "axiom://resources/a.md", failedURI)
}

func TestDispatcherDeleteSuccessDoesNotCallOnFail(t *testing.T) {
	called := false
	d := NewDispatcher(&stubAdapter{}, func(ctx context.Context, op, uri string, err error) {
		called = true
	})
	d.Delete(context.Background(), "axiom://resources/a.md")
	assert.False(t, called)
}

func TestNewDispatcherDefaultsToNoopAdapter(t *testing.T) {
	d := NewDispatcher(nil, nil)
	// Should not panic even with no onFail and no adapter configured.
	d.Upsert(context.Background(), models.IndexRecord{URI: "axiom://resources/a.md"})
}
