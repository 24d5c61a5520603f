package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/axiomme/axiomme/internal/index"
	"github.com/axiomme/axiomme/internal/metrics"
	"github.com/axiomme/axiomme/internal/mirror"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/axiomme/axiomme/internal/store"
)

// WorkerStatus is the current state of the replay worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a snapshot of replay worker progress for the ambient
// health endpoint.
type WorkerHealth struct {
	Status          WorkerStatus
	EventsProcessed int
	LastActivity    time.Time
	LastError       string
}

// Worker drains the durable outbox sequentially (single-flight: there is
// exactly one replay worker per store, matching the state store's
// single-writer design).
type Worker struct {
	st           *store.Store
	idx          *index.Index
	mirror       *mirror.Dispatcher
	pollInterval time.Duration
	batchSize    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.RWMutex
	status WorkerStatus
	count  int
	lastAt time.Time
	lastErr string
}

// NewWorker builds a replay worker over st and idx, dispatching mirror
// operations through dispatcher (may be nil for a no-op mirror).
func NewWorker(st *store.Store, idx *index.Index, dispatcher *mirror.Dispatcher, pollInterval time.Duration, batchSize int) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Worker{
		st:           st,
		idx:          idx,
		mirror:       dispatcher,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastAt:       time.Now(),
	}
}

// Start begins the poll loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to exit. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current progress snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{Status: w.status, EventsProcessed: w.count, LastActivity: w.lastAt, LastError: w.lastErr}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("component", "outbox.replay")
	log.Info("replay worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("replay worker stopping")
			return
		case <-ctx.Done():
			log.Info("context cancelled, replay worker stopping")
			return
		default:
			n, err := w.drainBatch(ctx)
			if err != nil {
				log.Error("replay batch failed", "error", err)
				w.setErr(err)
				w.sleep(time.Second)
				continue
			}
			if n == 0 {
				w.sleep(w.pollInterval)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// drainBatch fetches up to batchSize due events with status=new, filling
// any remainder from dead_letter (include_dead_letter per spec §4.6.1), and
// processes them in id order.
func (w *Worker) drainBatch(ctx context.Context) (int, error) {
	batchStart := time.Now()
	defer func() { metrics.ReplayBatchDuration.Observe(time.Since(batchStart).Seconds()) }()

	events, err := w.st.FetchOutbox(ctx, models.OutboxNew, w.batchSize)
	if err != nil {
		return 0, err
	}
	if remainder := w.batchSize - len(events); remainder > 0 {
		dead, err := w.st.FetchOutbox(ctx, models.OutboxDeadLetter, remainder)
		if err != nil {
			return 0, err
		}
		events = append(events, dead...)
	}
	if len(events) == 0 {
		return 0, nil
	}

	w.setStatus(WorkerStatusWorking)
	defer w.setStatus(WorkerStatusIdle)

	for _, ev := range events {
		w.processOne(ctx, ev)
		if err := w.st.SetCheckpoint(ctx, "replay", ev.ID); err != nil {
			slog.Warn("failed to record replay checkpoint", "event_id", ev.ID, "error", err)
		}
	}
	return len(events), nil
}

func (w *Worker) processOne(ctx context.Context, ev models.OutboxEvent) {
	log := slog.With("event_id", ev.ID, "event_type", ev.EventType, "uri", ev.URI)
	if err := w.st.MarkOutboxStatus(ctx, ev.ID, models.OutboxProcessing, false); err != nil {
		log.Error("failed to mark event processing", "error", err)
		return
	}

	err := w.dispatch(ctx, ev)
	w.bumpCount()

	if err == nil {
		metrics.ReplayEventsTotal.WithLabelValues(string(ev.EventType), "done").Inc()
		if markErr := w.st.MarkOutboxStatus(ctx, ev.ID, models.OutboxDone, false); markErr != nil {
			log.Error("failed to mark event done", "error", markErr)
		}
		return
	}

	log.Warn("event processing failed", "error", err)
	if !ShouldRetryEvent(ev.EventType, ev.AttemptCount+1) {
		metrics.ReplayEventsTotal.WithLabelValues(string(ev.EventType), "dead_letter").Inc()
		if markErr := w.st.MarkOutboxStatus(ctx, ev.ID, models.OutboxDeadLetter, true); markErr != nil {
			log.Error("failed to dead-letter event", "error", markErr)
		}
		return
	}
	metrics.ReplayEventsTotal.WithLabelValues(string(ev.EventType), "retry").Inc()

	backoff := RetryBackoffSeconds(ev.EventType, ev.AttemptCount+1, ev.ID)
	if reqErr := w.st.RequeueOutboxWithDelay(ctx, ev.ID, time.Duration(backoff)*time.Second); reqErr != nil {
		log.Error("failed to requeue event", "error", reqErr)
	}
}

// dispatch routes an event to its handler by type.
func (w *Worker) dispatch(ctx context.Context, ev models.OutboxEvent) error {
	switch ev.EventType {
	case models.EventUpsert, models.EventReindex:
		return w.dispatchUpsert(ctx, ev)
	case models.EventDelete:
		return w.dispatchDelete(ctx, ev)
	case models.EventSemanticScan:
		return w.dispatchSemanticScan(ctx, ev)
	case models.EventMirrorFailure:
		return w.dispatchMirrorRetry(ctx, ev)
	default:
		slog.Warn("unknown outbox event type, dropping", "event_type", ev.EventType)
		return nil
	}
}

func (w *Worker) dispatchUpsert(ctx context.Context, ev models.OutboxEvent) error {
	rec, ok := w.idx.Get(ev.URI)
	if !ok {
		slog.Warn("upsert event for uri no longer in index, treating as delete", "uri", ev.URI)
		return w.dispatchDelete(ctx, ev)
	}
	if err := w.st.UpsertSearchDocument(ctx, rec); err != nil {
		return err
	}
	if w.mirror != nil {
		w.mirror.Upsert(ctx, rec)
	}
	return nil
}

func (w *Worker) dispatchDelete(ctx context.Context, ev models.OutboxEvent) error {
	if err := w.st.RemoveSearchDocument(ctx, ev.URI); err != nil {
		return err
	}
	if w.mirror != nil {
		w.mirror.Delete(ctx, ev.URI)
	}
	return nil
}

// semanticScanPayload is the outbox payload for a semantic_scan event: a
// batch of child URIs whose tier summaries should be re-synthesized and
// reindexed once a prior partial ingest settles.
type semanticScanPayload struct {
	URIs []string `json:"uris"`
}

func (w *Worker) dispatchSemanticScan(ctx context.Context, ev models.OutboxEvent) error {
	var payload semanticScanPayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return err
		}
	}
	for _, u := range payload.URIs {
		rec, ok := w.idx.Get(u)
		if !ok {
			continue
		}
		if err := w.st.UpsertSearchDocument(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) dispatchMirrorRetry(ctx context.Context, ev models.OutboxEvent) error {
	rec, ok := w.idx.Get(ev.URI)
	if !ok {
		if w.mirror != nil {
			w.mirror.Delete(ctx, ev.URI)
		}
		return nil
	}
	if w.mirror != nil {
		w.mirror.Upsert(ctx, rec)
	}
	return nil
}

func (w *Worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	w.lastAt = time.Now()
}

func (w *Worker) bumpCount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	w.lastAt = time.Now()
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = err.Error()
}
