package om

import (
	"context"
	"strings"
	"time"

	"github.com/axiomme/axiomme/internal/store"
)

// ApplyRejectReason names why a reflection apply was rejected rather than
// applied.
type ApplyRejectReason string

const (
	RejectNone            ApplyRejectReason = ""
	RejectStaleGeneration ApplyRejectReason = "stale_generation"
	RejectIdempotentEvent ApplyRejectReason = "idempotent_event"
)

// ReflectionEvent is one ReflectRequested outbox event's payload, as
// dispatched by the replay worker into ApplyReflection.
type ReflectionEvent struct {
	EventID             int64
	ScopeKey            string
	ExpectedGeneration  int64
	ReflectedText       string // replacement text for the reflected prefix of active_observations
	ReflectedLineCount   int    // number of leading lines the reflection replaces
}

// ApplyMetrics accumulates reflection-apply outcomes across a process
// lifetime, exposed for the ambient health/metrics surface.
type ApplyMetrics struct {
	Attempts        int
	Applied         int
	StaleGeneration int
	Idempotent      int
	LatencyMSTotal  int64
	LatencyMSMax    int64
}

// ApplyReflection applies one reflection outcome to its OM record with
// generation-counter optimistic concurrency, per spec §4.10.3.
func ApplyReflection(ctx context.Context, st *store.Store, ev ReflectionEvent, metrics *ApplyMetrics) (ApplyRejectReason, error) {
	start := time.Now()
	if metrics != nil {
		metrics.Attempts++
	}
	defer func() {
		if metrics == nil {
			return
		}
		elapsed := time.Since(start).Milliseconds()
		metrics.LatencyMSTotal += elapsed
		if elapsed > metrics.LatencyMSMax {
			metrics.LatencyMSMax = elapsed
		}
	}()

	rec, err := st.GetOrCreateOMRecord(ctx, ev.ScopeKey)
	if err != nil {
		return RejectNone, err
	}

	if ev.ExpectedGeneration != rec.GenerationCount {
		if metrics != nil {
			metrics.StaleGeneration++
		}
		return RejectStaleGeneration, nil
	}
	if ev.EventID <= rec.LastAppliedOutboxEventID {
		if metrics != nil {
			metrics.Idempotent++
		}
		return RejectIdempotentEvent, nil
	}

	rec.ActiveObservations = replaceReflectedPrefix(rec.ActiveObservations, ev.ReflectedLineCount, ev.ReflectedText)
	rec.GenerationCount++
	rec.LastAppliedOutboxEventID = ev.EventID
	rec.BufferedReflection.Valid = false
	rec.BufferedReflection.String = ""

	if err := st.SaveOMRecord(ctx, rec); err != nil {
		return RejectNone, err
	}
	if metrics != nil {
		metrics.Applied++
	}
	return RejectNone, nil
}

// replaceReflectedPrefix replaces the first n lines of text with
// replacement, keeping the remainder untouched — the buffered-reflection
// line-slicing boundary from spec §4.10.3.
func replaceReflectedPrefix(text string, n int, replacement string) string {
	if n <= 0 {
		if replacement == "" {
			return text
		}
		return strings.TrimSpace(replacement + "\n" + text)
	}
	lines := strings.Split(text, "\n")
	if n > len(lines) {
		n = len(lines)
	}
	rest := lines[n:]
	if replacement == "" {
		return strings.Join(rest, "\n")
	}
	return strings.TrimSpace(replacement + "\n" + strings.Join(rest, "\n"))
}
