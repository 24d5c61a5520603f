package om

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axiomme/axiomme/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(context.Background(), store.Config{Path: filepath.Join(dir, "axiomme.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func bufferedCfg(t *testing.T) ResolvedConfig {
	t.Helper()
	cfg, err := Resolve(Config{
		Scope: "default", ObservationMessageTokens: 100, ReflectionObservationTokens: 1000,
		ObservationMaxPerBatch: 50, ObservationBufferTokens: BufferTokens{Kind: BufferAbsolute, Value: 10},
	})
	require.NoError(t, err)
	return cfg
}

func TestRunCycleBuffersBelowThresholdWithoutActivating(t *testing.T) {
	st := newTestStore(t)
	cfg := bufferedCfg(t)

	result, err := RunCycle(context.Background(), st, cfg, nil, CycleInput{
		ScopeKey: "scope-a", NewMessageIDs: []string{"m1"}, NewMessageText: "hello there", NewMessageTokens: 12,
	})
	require.NoError(t, err)
	require.True(t, result.IntervalTriggered)
	require.False(t, result.Activated)
	require.False(t, result.ThresholdReached)

	rec, err := st.GetOrCreateOMRecord(context.Background(), "scope-a")
	require.NoError(t, err)
	require.Equal(t, 12, rec.PendingMessageTokens)
	require.Equal(t, 12, rec.LastBufferedAtTokens)
}

// TestRunCycleDebounceTracksLastBufferedNotPriorPending exercises the fix
// for computing interval crossings against the last actual buffer event
// rather than the prior cycle's running pending total: several small
// messages that individually stay under the debounce distance from the
// last buffered point must not each re-trigger a buffer event merely
// because "pending mod buffer_tokens" ticked into a new bucket.
func TestRunCycleDebounceTracksLastBufferedNotPriorPending(t *testing.T) {
	st := newTestStore(t)
	cfg := bufferedCfg(t) // buffer_tokens=10, debounce=5

	ctx := context.Background()

	// First message: pending=6, last_buffered_at=0 -> tokens-since-boundary=6,
	// crosses the 10-token boundary? 6 < 10, no crossing yet, no trigger.
	r1, err := RunCycle(ctx, st, cfg, nil, CycleInput{ScopeKey: "scope-b", NewMessageTokens: 6})
	require.NoError(t, err)
	require.False(t, r1.IntervalTriggered)

	// Second message: pending=6+6=12, last_buffered_at still 0 (no buffer
	// happened yet) -> tokens-since-boundary=12 >= 10, crosses, and
	// 12 >= debounce(5) -> triggers and records last_buffered_at=12.
	r2, err := RunCycle(ctx, st, cfg, nil, CycleInput{ScopeKey: "scope-b", NewMessageTokens: 6})
	require.NoError(t, err)
	require.True(t, r2.IntervalTriggered)

	rec, err := st.GetOrCreateOMRecord(ctx, "scope-b")
	require.NoError(t, err)
	require.Equal(t, 12, rec.LastBufferedAtTokens)

	// Third message: small increment that does not itself cross another
	// full buffer_tokens distance from the last buffered point.
	r3, err := RunCycle(ctx, st, cfg, nil, CycleInput{ScopeKey: "scope-b", NewMessageTokens: 4})
	require.NoError(t, err)
	require.False(t, r3.IntervalTriggered)
}

func TestRunCycleActivatesAndResetsLastBufferedAtTokens(t *testing.T) {
	st := newTestStore(t)
	cfg, err := Resolve(Config{
		Scope: "default", ObservationMessageTokens: 10, ReflectionObservationTokens: 1000,
		ObservationMaxPerBatch: 50, ObservationBufferTokens: BufferTokens{Kind: BufferAbsolute, Value: 2},
		ObservationBlockAfter: 1.0,
	})
	require.NoError(t, err)

	ctx := context.Background()
	result, err := RunCycle(ctx, st, cfg, nil, CycleInput{
		ScopeKey: "scope-c", NewMessageText: "some observed text here", NewMessageTokens: 20,
	})
	require.NoError(t, err)
	require.True(t, result.ThresholdReached)
	require.True(t, result.Activated)

	rec, err := st.GetOrCreateOMRecord(ctx, "scope-c")
	require.NoError(t, err)
	require.Equal(t, 0, rec.PendingMessageTokens)
	require.Equal(t, 0, rec.LastBufferedAtTokens)
}

func TestRunCycleAsyncDisabledIgnoresBufferTokens(t *testing.T) {
	st := newTestStore(t)
	cfg, err := Resolve(Config{
		Scope: "resource", ObservationMessageTokens: 50, ReflectionObservationTokens: 1000,
		ObservationMaxPerBatch: 20,
	})
	require.NoError(t, err)
	require.True(t, cfg.AsyncBufferingDisabled)

	result, err := RunCycle(context.Background(), st, cfg, nil, CycleInput{
		ScopeKey: "scope-d", NewMessageTokens: 10,
	})
	require.NoError(t, err)
	require.False(t, result.IntervalTriggered)
}
