package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	ReplayEventsTotal.WithLabelValues("commit", "success").Inc()
	OMTriggersTotal.WithLabelValues("axiom://session/abc", "threshold").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "axiomme_outbox_replay_events_total")
	assert.Contains(t, body, "axiomme_om_triggers_total")
}

func TestRegistryDoesNotLeakDefaultProcessCollectors(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	// The private Registry only carries axiomme's own collectors, not the
	// default process/go runtime collectors promhttp would add for the
	// global registry.
	assert.NotContains(t, rec.Body.String(), "go_goroutines")
}
