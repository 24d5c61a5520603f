package store

import (
	"context"
	"database/sql"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/jmoiron/sqlx"
)

// UpsertTrace persists a retrieval trace by id, overwriting any prior
// version (traces are append-mostly but upsert keeps replay idempotent).
func (s *Store) UpsertTrace(ctx context.Context, traceID, requestType, query, targetURI string, payloadJSON []byte) error {
	return s.withWriteTx(ctx, "store.upsert_trace", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO retrieval_traces (trace_id, request_type, query, target_uri, payload_json)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(trace_id) DO UPDATE SET
				request_type = excluded.request_type,
				query = excluded.query,
				target_uri = excluded.target_uri,
				payload_json = excluded.payload_json`,
			traceID, requestType, query, targetURI, string(payloadJSON))
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.upsert_trace", err)
		}
		return nil
	})
}

// GetTrace fetches a persisted trace payload by id.
func (s *Store) GetTrace(ctx context.Context, traceID string) ([]byte, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, `SELECT payload_json FROM retrieval_traces WHERE trace_id = ?`, traceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "store.get_trace", "trace not found: "+traceID)
		}
		return nil, apperr.Wrap(apperr.SQLiteError, "store.get_trace", err)
	}
	return []byte(payload), nil
}

// ListRecentTraces returns up to limit trace ids ordered by recency.
func (s *Store) ListRecentTraces(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT trace_id FROM retrieval_traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.list_recent_traces", err)
	}
	return ids, nil
}

// StartReconcileRun records the start of a reconcile pass.
func (s *Store) StartReconcileRun(ctx context.Context, runID string) error {
	return s.withWriteTx(ctx, "store.start_reconcile_run", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO reconcile_runs (run_id, status, drift_count, started_at) VALUES (?, 'running', 0, CURRENT_TIMESTAMP)`,
			runID)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.start_reconcile_run", err)
		}
		return nil
	})
}

// FinishReconcileRun records the outcome of a reconcile pass, including the
// full report JSON (supplemental: the spec names status+drift_count, this
// keeps the whole report retrievable by run id).
func (s *Store) FinishReconcileRun(ctx context.Context, runID, status string, driftCount int, reportJSON []byte) error {
	return s.withWriteTx(ctx, "store.finish_reconcile_run", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE reconcile_runs SET status = ?, drift_count = ?, report_json = ?, finished_at = CURRENT_TIMESTAMP
			WHERE run_id = ?`,
			status, driftCount, string(reportJSON), runID)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.finish_reconcile_run", err)
		}
		return nil
	})
}

// GetReconcileRun fetches a persisted reconcile report by run id.
func (s *Store) GetReconcileRun(ctx context.Context, runID string) ([]byte, error) {
	var payload sql.NullString
	err := s.db.GetContext(ctx, &payload, `SELECT report_json FROM reconcile_runs WHERE run_id = ?`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "store.get_reconcile_run", "run not found: "+runID)
		}
		return nil, apperr.Wrap(apperr.SQLiteError, "store.get_reconcile_run", err)
	}
	if !payload.Valid {
		return nil, apperr.New(apperr.NotFound, "store.get_reconcile_run", "run not finished: "+runID)
	}
	return []byte(payload.String), nil
}
