package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/jmoiron/sqlx"
)

// OMRecord is the persisted per-scope observational-memory state.
type OMRecord struct {
	ScopeKey                 string         `db:"scope_key"`
	ActiveObservations       string         `db:"active_observations"`
	ObservationTokenCount    int            `db:"observation_token_count"`
	PendingMessageTokens     int            `db:"pending_message_tokens"`
	LastBufferedAtTokens     int            `db:"last_buffered_at_tokens"`
	BufferedReflection       sql.NullString `db:"buffered_reflection"`
	GenerationCount          int64          `db:"generation_count"`
	ObserverTriggerCount     int            `db:"observer_trigger_count"`
	ReflectorTriggerCount    int            `db:"reflector_trigger_count"`
	IsObserving              bool           `db:"is_observing"`
	IsReflecting             bool           `db:"is_reflecting"`
	IsBufferingObservation   bool           `db:"is_buffering_observation"`
	IsBufferingReflection    bool           `db:"is_buffering_reflection"`
	LastAppliedOutboxEventID int64          `db:"last_applied_outbox_event_id"`
	UpdatedAt                time.Time      `db:"updated_at"`
}

// GetOrCreateOMRecord loads the OM record for scopeKey, lazily creating an
// empty one on first observation.
func (s *Store) GetOrCreateOMRecord(ctx context.Context, scopeKey string) (OMRecord, error) {
	var rec OMRecord
	err := s.withWriteTx(ctx, "store.get_or_create_om_record", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO om_records (scope_key) VALUES (?) ON CONFLICT(scope_key) DO NOTHING`, scopeKey)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.get_or_create_om_record", err)
		}
		return tx.GetContext(ctx, &rec, `SELECT * FROM om_records WHERE scope_key = ?`, scopeKey)
	})
	return rec, err
}

// SaveOMRecord persists the full OM record, the only way generation_count
// and observation text ever change.
func (s *Store) SaveOMRecord(ctx context.Context, rec OMRecord) error {
	return s.withWriteTx(ctx, "store.save_om_record", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE om_records SET
				active_observations = ?, observation_token_count = ?, pending_message_tokens = ?,
				last_buffered_at_tokens = ?,
				buffered_reflection = ?, generation_count = ?, observer_trigger_count = ?,
				reflector_trigger_count = ?, is_observing = ?, is_reflecting = ?,
				is_buffering_observation = ?, is_buffering_reflection = ?,
				last_applied_outbox_event_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE scope_key = ?`,
			rec.ActiveObservations, rec.ObservationTokenCount, rec.PendingMessageTokens,
			rec.LastBufferedAtTokens,
			rec.BufferedReflection, rec.GenerationCount, rec.ObserverTriggerCount,
			rec.ReflectorTriggerCount, rec.IsObserving, rec.IsReflecting,
			rec.IsBufferingObservation, rec.IsBufferingReflection,
			rec.LastAppliedOutboxEventID, rec.ScopeKey)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.save_om_record", err)
		}
		return nil
	})
}

// OMChunk buffers a deferred observation keyed by (record_id, seq).
type OMChunk struct {
	RecordID        string    `db:"record_id"`
	Seq             int       `db:"seq"`
	MessageTokens   int       `db:"message_tokens"`
	TokenCount      int       `db:"token_count"`
	MessageIDsJSON  string    `db:"message_ids"`
	ObservationText string    `db:"observation_text"`
	CreatedAt       time.Time `db:"created_at"`
}

// MessageIDs unmarshals the JSON message-id set stored on the chunk.
func (c OMChunk) MessageIDs() []string {
	var ids []string
	_ = json.Unmarshal([]byte(c.MessageIDsJSON), &ids)
	return ids
}

// AppendOMChunk inserts a new chunk at the next sequence number for
// recordID.
func (s *Store) AppendOMChunk(ctx context.Context, recordID string, messageTokens, tokenCount int, messageIDs []string, observationText string) error {
	idsJSON, err := json.Marshal(messageIDs)
	if err != nil {
		return apperr.Wrap(apperr.JSONError, "store.append_om_chunk", err)
	}
	return s.withWriteTx(ctx, "store.append_om_chunk", func(tx *sqlx.Tx) error {
		var nextSeq int
		if err := tx.GetContext(ctx, &nextSeq, `SELECT COALESCE(MAX(seq), -1) + 1 FROM om_observation_chunks WHERE record_id = ?`, recordID); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.append_om_chunk", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO om_observation_chunks (record_id, seq, message_tokens, token_count, message_ids, observation_text)
			VALUES (?, ?, ?, ?, ?, ?)`,
			recordID, nextSeq, messageTokens, tokenCount, string(idsJSON), observationText)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.append_om_chunk", err)
		}
		return nil
	})
}

// ListOMChunks returns chunks for recordID ordered by sequence ascending.
func (s *Store) ListOMChunks(ctx context.Context, recordID string) ([]OMChunk, error) {
	var chunks []OMChunk
	err := s.db.SelectContext(ctx, &chunks, `
		SELECT record_id, seq, message_tokens, token_count, message_ids, observation_text, created_at
		FROM om_observation_chunks WHERE record_id = ? ORDER BY seq ASC`, recordID)
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.list_om_chunks", err)
	}
	return chunks, nil
}

// DeleteOMChunks removes chunks up to and including maxSeq, used once their
// observations have been drained into active_observations.
func (s *Store) DeleteOMChunks(ctx context.Context, recordID string, maxSeq int) error {
	return s.withWriteTx(ctx, "store.delete_om_chunks", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM om_observation_chunks WHERE record_id = ? AND seq <= ?`, recordID, maxSeq)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.delete_om_chunks", err)
		}
		return nil
	})
}
