package outbox

import (
	"math"

	"github.com/axiomme/axiomme/internal/models"
	"github.com/cespare/xxhash/v2"
)

// retryLimits is (max attempts, max backoff seconds) per event type family.
type retryLimits struct {
	maxAttempts int
	maxBackoff  int
}

func limitsFor(eventType models.OutboxEventType) retryLimits {
	switch eventType {
	case models.EventSemanticScan:
		return retryLimits{maxAttempts: 5, maxBackoff: 60}
	case models.EventMirrorFailure:
		return retryLimits{maxAttempts: 12, maxBackoff: 300}
	default:
		return retryLimits{maxAttempts: 3, maxBackoff: 30}
	}
}

// ShouldRetryEvent reports whether an event of eventType should be retried
// after the given attempt count, per the per-type max-attempts policy.
func ShouldRetryEvent(eventType models.OutboxEventType, attempt int) bool {
	return attempt < limitsFor(eventType).maxAttempts
}

// RetryBackoffSeconds computes the deterministic exponential backoff with
// jitter for (eventType, attempt, eventID): min(2^(attempt-1), max) plus a
// deterministic jitter in [0, baseline/4] seeded by a hash of
// "type:attempt:id" (the corpus original seeds jitter with blake3; xxhash
// gives the same determinism property with a dependency already present
// across the retrieval pack).
func RetryBackoffSeconds(eventType models.OutboxEventType, attempt int, eventID int64) int {
	limits := limitsFor(eventType)
	if attempt < 1 {
		attempt = 1
	}
	baseline := math.Min(math.Pow(2, float64(attempt-1)), float64(limits.maxBackoff))

	seed := jitterSeed(eventType, attempt, eventID)
	maxJitter := baseline / 4
	var jitter float64
	if maxJitter > 0 {
		jitter = float64(seed%uint64(maxJitter*1000)) / 1000
	}
	return int(baseline + jitter)
}

func jitterSeed(eventType models.OutboxEventType, attempt int, eventID int64) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(eventType))
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(itoa(int64(attempt)))
	_, _ = h.WriteString(":")
	_, _ = h.WriteString(itoa(eventID))
	return h.Sum64()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
