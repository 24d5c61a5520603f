package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/jmoiron/sqlx"
)

// PromotionPhase mirrors the 3-phase checkpoint state machine.
type PromotionPhase string

const (
	PromotionPending  PromotionPhase = "pending"
	PromotionApplying PromotionPhase = "applying"
	PromotionApplied  PromotionPhase = "applied"
)

// PromotionCheckpoint is the persisted row for a (session_id,
// checkpoint_id) pair.
type PromotionCheckpoint struct {
	SessionID    string         `db:"session_id"`
	CheckpointID string         `db:"checkpoint_id"`
	RequestHash  string         `db:"request_hash"`
	RequestJSON  string         `db:"request_json"`
	Phase        PromotionPhase `db:"phase"`
	ResultJSON   sql.NullString `db:"result_json"`
	AppliedAt    sql.NullTime   `db:"applied_at"`
	AttemptCount int            `db:"attempt_count"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// GetOrInsertPendingCheckpoint loads the checkpoint row for (sessionID,
// checkpointID), inserting a fresh pending row with requestHash/requestJSON
// if none exists yet.
func (s *Store) GetOrInsertPendingCheckpoint(ctx context.Context, sessionID, checkpointID, requestHash, requestJSON string) (PromotionCheckpoint, error) {
	var cp PromotionCheckpoint
	err := s.withWriteTx(ctx, "store.get_or_insert_pending_checkpoint", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_checkpoints (session_id, checkpoint_id, request_hash, request_json, phase, attempt_count, updated_at)
			VALUES (?, ?, ?, ?, 'pending', 0, CURRENT_TIMESTAMP)
			ON CONFLICT(session_id, checkpoint_id) DO NOTHING`,
			sessionID, checkpointID, requestHash, requestJSON)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.get_or_insert_pending_checkpoint", err)
		}
		return tx.GetContext(ctx, &cp, `
			SELECT session_id, checkpoint_id, request_hash, request_json, phase, result_json, applied_at, attempt_count, updated_at
			FROM promotion_checkpoints WHERE session_id = ? AND checkpoint_id = ?`, sessionID, checkpointID)
	})
	return cp, err
}

// DemoteStaleApplying demotes any row stuck in 'applying' older than
// staleAfter back to 'pending', returning the number of rows affected.
func (s *Store) DemoteStaleApplying(ctx context.Context, staleAfter time.Duration) (int, error) {
	var n int
	err := s.withWriteTx(ctx, "store.demote_stale_applying", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE promotion_checkpoints
			SET phase = 'pending'
			WHERE phase = 'applying' AND updated_at <= datetime(CURRENT_TIMESTAMP, ?)`,
			"-"+itoa(int64(staleAfter.Seconds()))+" seconds")
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.demote_stale_applying", err)
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		return nil
	})
	return n, err
}

// ClaimApplying attempts the single-winner conditional UPDATE pending ->
// applying keyed on (session_id, checkpoint_id, request_hash). Returns true
// if this caller won the claim.
func (s *Store) ClaimApplying(ctx context.Context, sessionID, checkpointID, requestHash string) (bool, error) {
	var won bool
	err := s.withWriteTx(ctx, "store.claim_applying", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE promotion_checkpoints
			SET phase = 'applying', attempt_count = attempt_count + 1, updated_at = CURRENT_TIMESTAMP
			WHERE session_id = ? AND checkpoint_id = ? AND request_hash = ? AND phase = 'pending'`,
			sessionID, checkpointID, requestHash)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.claim_applying", err)
		}
		affected, _ := res.RowsAffected()
		won = affected == 1
		return nil
	})
	return won, err
}

// DemoteToPending reverts applying -> pending after an apply failure.
func (s *Store) DemoteToPending(ctx context.Context, sessionID, checkpointID string) error {
	return s.withWriteTx(ctx, "store.demote_to_pending", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE promotion_checkpoints SET phase = 'pending', updated_at = CURRENT_TIMESTAMP
			WHERE session_id = ? AND checkpoint_id = ?`, sessionID, checkpointID)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.demote_to_pending", err)
		}
		return nil
	})
}

// FinalizeApplied transitions applying -> applied with the serialized
// result.
func (s *Store) FinalizeApplied(ctx context.Context, sessionID, checkpointID, resultJSON string) error {
	return s.withWriteTx(ctx, "store.finalize_applied", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE promotion_checkpoints
			SET phase = 'applied', result_json = ?, applied_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE session_id = ? AND checkpoint_id = ?`, resultJSON, sessionID, checkpointID)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.finalize_applied", err)
		}
		return nil
	})
}
