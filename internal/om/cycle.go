package om

import (
	"context"
	"strings"

	"github.com/axiomme/axiomme/internal/metrics"
	"github.com/axiomme/axiomme/internal/store"
)

// ObserverFunc produces an observation summary for a bounded slice of
// pending message text. A nil ObserverFunc falls back to a deterministic
// truncation-based summary (no external model configured).
type ObserverFunc func(ctx context.Context, scopeKey string, pendingText string) (string, error)

// CycleInput is one message-append trigger into the OM state machine.
type CycleInput struct {
	ScopeKey        string
	NewMessageIDs   []string
	NewMessageText  string
	NewMessageTokens int
}

// Command is the outbox command the cycle decides to emit.
type Command string

const (
	CommandNone            Command = ""
	CommandBufferRequested Command = "BufferRequested"
	CommandReflectRequested Command = "ReflectRequested"
)

// CycleResult summarizes one cycle's decisions for logging/testing.
type CycleResult struct {
	ThresholdReached  bool
	IntervalTriggered bool
	BlockAfterExceeded bool
	RanObserver       bool
	Activated         bool
	Command           Command
	ExpectedGeneration int64
}

// RunCycle executes the observer/reflector decision cycle for one message
// append, persisting the updated OM record and chunk state. Grounded on
// spec §4.10.2.
func RunCycle(ctx context.Context, st *store.Store, cfg ResolvedConfig, observe ObserverFunc, in CycleInput) (CycleResult, error) {
	rec, err := st.GetOrCreateOMRecord(ctx, in.ScopeKey)
	if err != nil {
		return CycleResult{}, err
	}

	pending := rec.PendingMessageTokens + in.NewMessageTokens
	threshold := cfg.Observation.DynamicThreshold(rec.ObservationTokenCount, cfg.ShareTokenBudget)

	result := CycleResult{ExpectedGeneration: rec.GenerationCount}
	result.ThresholdReached = pending >= threshold

	intervalTriggered := false
	if !cfg.AsyncBufferingDisabled && cfg.Observation.BufferTokens > 0 {
		debounce := cfg.Observation.BufferTokens / 2
		if debounce < 1 {
			debounce = 1
		}
		newTokensSinceBoundary := pending - rec.LastBufferedAtTokens
		crossedBoundary := newTokensSinceBoundary >= cfg.Observation.BufferTokens
		if crossedBoundary && newTokensSinceBoundary >= debounce {
			intervalTriggered = true
		}
		if result.ThresholdReached && crossedBoundary {
			intervalTriggered = true
		}
	}
	result.IntervalTriggered = intervalTriggered

	blockAfter := cfg.Observation.BlockAfter
	result.BlockAfterExceeded = blockAfter > 0 && pending >= blockAfter

	var shouldRunObserver, shouldActivate bool
	if cfg.AsyncBufferingDisabled {
		shouldRunObserver = result.ThresholdReached
		shouldActivate = result.ThresholdReached
	} else {
		shouldRunObserver = intervalTriggered || (result.ThresholdReached && result.BlockAfterExceeded)
		shouldActivate = result.ThresholdReached && result.BlockAfterExceeded
	}

	if shouldActivate {
		if err := drainBufferedChunks(ctx, st, &rec, cfg, threshold); err != nil {
			return result, err
		}
		result.Activated = true
	}

	if shouldRunObserver {
		pendingText := strings.TrimSpace(rec.ActiveObservations + " " + in.NewMessageText)
		var summary string
		if observe != nil {
			summary, err = observe(ctx, in.ScopeKey, pendingText)
			if err != nil {
				return result, err
			}
		} else {
			summary = deterministicSummary(pendingText, cfg.Observation.MaxTokensPerBatch)
		}

		if shouldActivate || cfg.AsyncBufferingDisabled {
			rec.ActiveObservations = summary
			rec.ObservationTokenCount += estimateTokens(summary)
			rec.PendingMessageTokens = 0
			rec.LastBufferedAtTokens = 0
		} else {
			if err := st.AppendOMChunk(ctx, in.ScopeKey, in.NewMessageTokens, estimateTokens(summary), in.NewMessageIDs, summary); err != nil {
				return result, err
			}
			rec.PendingMessageTokens = pending
			rec.LastBufferedAtTokens = pending
		}
		rec.ObserverTriggerCount++
		result.RanObserver = true
		switch {
		case result.BlockAfterExceeded:
			metrics.OMTriggersTotal.WithLabelValues(cfg.Scope, "block_after").Inc()
		case intervalTriggered:
			metrics.OMTriggersTotal.WithLabelValues(cfg.Scope, "interval").Inc()
		default:
			metrics.OMTriggersTotal.WithLabelValues(cfg.Scope, "threshold").Inc()
		}
	} else {
		rec.PendingMessageTokens = pending
	}

	reflectorTriggered := rec.ObservationTokenCount > cfg.Reflection.ObservationTokens
	command := CommandNone
	if reflectorTriggered {
		if cfg.AsyncBufferingDisabled {
			command = CommandReflectRequested
		} else if rec.BufferedReflection.Valid || (cfg.Reflection.BlockAfter > 0 && rec.ObservationTokenCount >= cfg.Reflection.BlockAfter) {
			command = CommandReflectRequested
		} else if rec.ObservationTokenCount >= int(cfg.Reflection.BufferActivation*float64(cfg.Reflection.ObservationTokens)) {
			command = CommandBufferRequested
		}
	}
	result.Command = command
	if command != CommandNone {
		rec.ReflectorTriggerCount++
	}

	if err := st.SaveOMRecord(ctx, rec); err != nil {
		return result, err
	}
	return result, nil
}

// drainBufferedChunks merges buffered observation chunks into
// active_observations until pending tokens drop below
// (1-activation)*threshold, per spec §4.10.2 step 4.
func drainBufferedChunks(ctx context.Context, st *store.Store, rec *store.OMRecord, cfg ResolvedConfig, threshold int) error {
	chunks, err := st.ListOMChunks(ctx, rec.ScopeKey)
	if err != nil {
		return err
	}
	target := int((1 - cfg.Observation.BufferActivation) * float64(threshold))

	pending := rec.PendingMessageTokens
	drainedThrough := -1
	var merged strings.Builder
	merged.WriteString(rec.ActiveObservations)

	for _, c := range chunks {
		if pending < target {
			break
		}
		merged.WriteString(" ")
		merged.WriteString(c.ObservationText)
		pending -= c.MessageTokens
		rec.ObservationTokenCount += c.TokenCount
		drainedThrough = c.Seq
	}
	if drainedThrough < 0 {
		return nil
	}
	rec.ActiveObservations = strings.TrimSpace(merged.String())
	rec.PendingMessageTokens = pending
	return st.DeleteOMChunks(ctx, rec.ScopeKey, drainedThrough)
}

// estimateTokens is the same coarse word-count proxy used elsewhere in the
// absence of a tokenizer dependency (no model client is in scope for the
// core per spec §1).
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

func deterministicSummary(text string, maxTokens int) string {
	fields := strings.Fields(text)
	if len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	return strings.Join(fields, " ")
}
