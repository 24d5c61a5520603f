package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/jmoiron/sqlx"
)

type outboxRow struct {
	ID            int64          `db:"id"`
	EventType     string         `db:"event_type"`
	URI           string         `db:"uri"`
	Payload       []byte         `db:"payload"`
	Status        string         `db:"status"`
	AttemptCount  int            `db:"attempt_count"`
	NextAttemptAt sql.NullTime   `db:"next_attempt_at"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r outboxRow) toModel() models.OutboxEvent {
	ev := models.OutboxEvent{
		ID:           r.ID,
		EventType:    models.OutboxEventType(r.EventType),
		URI:          r.URI,
		Payload:      r.Payload,
		Status:       models.OutboxStatus(r.Status),
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt,
	}
	if r.NextAttemptAt.Valid {
		ev.NextAttemptAt = &r.NextAttemptAt.Time
	}
	return ev
}

// EnqueueOutbox inserts a new outbox event with status=new and returns its
// monotonic id.
func (s *Store) EnqueueOutbox(ctx context.Context, eventType models.OutboxEventType, uri string, payload []byte) (int64, error) {
	return s.enqueueOutboxWithStatus(ctx, eventType, uri, payload, models.OutboxNew)
}

// EnqueueOutboxDeadLetter inserts a new outbox event already in
// status=dead_letter, for failures that must be captured as permanently
// failed immediately rather than entering the normal retry/backoff cycle
// (spec §4.7, §4.4.4: mirror dispatch failures and debug-retrieval
// recovery misses).
func (s *Store) EnqueueOutboxDeadLetter(ctx context.Context, eventType models.OutboxEventType, uri string, payload []byte) (int64, error) {
	return s.enqueueOutboxWithStatus(ctx, eventType, uri, payload, models.OutboxDeadLetter)
}

func (s *Store) enqueueOutboxWithStatus(ctx context.Context, eventType models.OutboxEventType, uri string, payload []byte, status models.OutboxStatus) (int64, error) {
	var id int64
	err := s.withWriteTx(ctx, "store.enqueue_outbox", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_events (event_type, uri, payload, status, attempt_count, next_attempt_at)
			 VALUES (?, ?, ?, ?, 0, CURRENT_TIMESTAMP)`,
			string(eventType), uri, payload, string(status))
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.enqueue_outbox", err).WithURI(uri)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.enqueue_outbox", err).WithURI(uri)
		}
		return nil
	})
	return id, err
}

// FetchOutbox returns up to limit events in status whose next_attempt_at is
// due, ordered by ascending id (ordering guarantee: replay processes a
// single URI's events in id order).
func (s *Store) FetchOutbox(ctx context.Context, status models.OutboxStatus, limit int) ([]models.OutboxEvent, error) {
	var rows []outboxRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, event_type, uri, payload, status, attempt_count, next_attempt_at, created_at
		FROM outbox_events
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= CURRENT_TIMESTAMP)
		ORDER BY id ASC
		LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.fetch_outbox", err)
	}
	out := make([]models.OutboxEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// MarkOutboxStatus transitions an event's status, optionally bumping its
// attempt counter.
func (s *Store) MarkOutboxStatus(ctx context.Context, id int64, status models.OutboxStatus, bumpAttempt bool) error {
	return s.withWriteTx(ctx, "store.mark_outbox_status", func(tx *sqlx.Tx) error {
		query := `UPDATE outbox_events SET status = ?`
		args := []any{string(status)}
		if bumpAttempt {
			query += `, attempt_count = attempt_count + 1`
		}
		query += ` WHERE id = ?`
		args = append(args, id)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.mark_outbox_status", err)
		}
		return nil
	})
}

// RequeueOutboxWithDelay sets status=new and next_attempt_at = now+delay.
func (s *Store) RequeueOutboxWithDelay(ctx context.Context, id int64, delay time.Duration) error {
	return s.withWriteTx(ctx, "store.requeue_outbox_with_delay", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE outbox_events SET status = 'new', next_attempt_at = datetime(CURRENT_TIMESTAMP, ?) WHERE id = ?`,
			secondsOffset(delay), id)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.requeue_outbox_with_delay", err)
		}
		return nil
	})
}

func secondsOffset(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return "+" + itoa(secs) + " seconds"
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

// SetCheckpoint records the last processed outbox id for worker.
func (s *Store) SetCheckpoint(ctx context.Context, worker string, id int64) error {
	return s.withWriteTx(ctx, "store.set_checkpoint", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_checkpoints (worker, last_event_id) VALUES (?, ?)
			ON CONFLICT(worker) DO UPDATE SET last_event_id = excluded.last_event_id`,
			worker, id)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.set_checkpoint", err)
		}
		return nil
	})
}

// GetCheckpoint returns the last processed outbox id for worker, or 0 if
// none recorded.
func (s *Store) GetCheckpoint(ctx context.Context, worker string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT last_event_id FROM outbox_checkpoints WHERE worker = ?`, worker)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, apperr.Wrap(apperr.SQLiteError, "store.get_checkpoint", err)
	}
	return id, nil
}
