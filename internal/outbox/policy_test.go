package outbox

import (
	"testing"

	"github.com/axiomme/axiomme/internal/models"
)

func TestShouldRetryEventLimitsByType(t *testing.T) {
	cases := []struct {
		eventType models.OutboxEventType
		maxOK     int
	}{
		{models.EventSemanticScan, 5},
		{models.EventMirrorFailure, 12},
		{models.EventUpsert, 3},
		{models.EventDelete, 3},
	}
	for _, tc := range cases {
		if !ShouldRetryEvent(tc.eventType, tc.maxOK-1) {
			t.Errorf("%s: expected retry allowed at attempt %d", tc.eventType, tc.maxOK-1)
		}
		if ShouldRetryEvent(tc.eventType, tc.maxOK) {
			t.Errorf("%s: expected retry denied at attempt %d", tc.eventType, tc.maxOK)
		}
	}
}

func TestRetryBackoffSecondsWithinRangeAndDeterministic(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		baseline := min(1<<(attempt-1), 60)
		lo := baseline
		hi := baseline + baseline/4

		got := RetryBackoffSeconds(models.EventSemanticScan, attempt, 42)
		if got < lo || got > hi {
			t.Errorf("attempt %d: backoff %d out of range [%d,%d]", attempt, got, lo, hi)
		}

		again := RetryBackoffSeconds(models.EventSemanticScan, attempt, 42)
		if got != again {
			t.Errorf("attempt %d: backoff not deterministic: %d vs %d", attempt, got, again)
		}
	}
}

func TestRetryBackoffSecondsVariesByEventID(t *testing.T) {
	a := RetryBackoffSeconds(models.EventSemanticScan, 4, 1)
	b := RetryBackoffSeconds(models.EventSemanticScan, 4, 2)
	if a == b {
		t.Skip("jitter collision across event ids is possible but unlikely; not a correctness failure")
	}
}

func TestRetryBackoffSecondsCapsAtMaxBackoff(t *testing.T) {
	got := RetryBackoffSeconds(models.EventMirrorFailure, 20, 7)
	if got < 300 || got > 300+300/4 {
		t.Errorf("expected capped backoff near 300, got %d", got)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
