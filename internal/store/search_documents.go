package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/axiomme/axiomme/internal/apperr"
	"github.com/axiomme/axiomme/internal/models"
	"github.com/jmoiron/sqlx"
)

// UpsertSearchDocument writes r into both the row table and the FTS shadow
// table inside a single transaction.
func (s *Store) UpsertSearchDocument(ctx context.Context, r models.IndexRecord) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return apperr.Wrap(apperr.JSONError, "store.upsert_search_document", err).WithURI(r.URI)
	}

	return s.withWriteTx(ctx, "store.upsert_search_document", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_documents (uri, context_type, name, abstract, content, tags, depth, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(uri) DO UPDATE SET
				context_type = excluded.context_type,
				name = excluded.name,
				abstract = excluded.abstract,
				content = excluded.content,
				tags = excluded.tags,
				depth = excluded.depth,
				updated_at = excluded.updated_at`,
			r.URI, string(r.ContextType), r.Name, r.Abstract, r.Content, string(tags), r.Depth, r.UpdatedAt)
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.upsert_search_document", err).WithURI(r.URI)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM search_documents_fts WHERE uri = ?`, r.URI); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.upsert_search_document", err).WithURI(r.URI)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO search_documents_fts (uri, name, abstract, content) VALUES (?, ?, ?, ?)`,
			r.URI, r.Name, r.Abstract, r.Content); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.upsert_search_document", err).WithURI(r.URI)
		}
		return nil
	})
}

// RemoveSearchDocument deletes the row and FTS shadow entry for uri.
func (s *Store) RemoveSearchDocument(ctx context.Context, uri string) error {
	return s.withWriteTx(ctx, "store.remove_search_document", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_documents WHERE uri = ?`, uri); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.remove_search_document", err).WithURI(uri)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_documents_fts WHERE uri = ?`, uri); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.remove_search_document", err).WithURI(uri)
		}
		return nil
	})
}

// RemoveSearchDocumentsByPrefix deletes every row whose uri equals prefix or
// starts with prefix + "/", used by reconcile pruning.
func (s *Store) RemoveSearchDocumentsByPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.withWriteTx(ctx, "store.remove_search_documents_by_prefix", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM search_documents WHERE uri = ? OR uri LIKE ?`, prefix, prefix+"/%")
		if err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.remove_search_documents_by_prefix", err)
		}
		affected, _ := res.RowsAffected()
		n = int(affected)
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_documents_fts WHERE uri = ? OR uri LIKE ?`, prefix, prefix+"/%"); err != nil {
			return apperr.Wrap(apperr.SQLiteError, "store.remove_search_documents_by_prefix", err)
		}
		return nil
	})
	return n, err
}

// SearchFTSOptions parameterizes a full-text query against search_documents.
type SearchFTSOptions struct {
	Query          string
	Prefix         string
	Tags           []string
	MaxDepth       int
	Normalize      bool
	Limit          int
	MinMatchTokens int
}

// SearchDocumentsFTS runs a BM25-ranked full-text query via SQLite FTS5,
// scoped by optional URI prefix and max depth. Scores are normalized into
// [0,1] via the same bm25/(bm25+2) transform the in-memory index uses, so
// callers can compare across backends.
func (s *Store) SearchDocumentsFTS(ctx context.Context, opts SearchFTSOptions) ([]models.SearchHit, error) {
	q := strings.TrimSpace(opts.Query)
	if q == "" {
		return nil, apperr.New(apperr.ValidationFailed, "store.search_documents_fts", "empty query")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	sqlQuery := `
		SELECT sd.uri AS uri, sd.abstract AS abstract, sd.context_type AS context_type,
		       bm25(search_documents_fts) AS raw_score
		FROM search_documents_fts
		JOIN search_documents sd ON sd.uri = search_documents_fts.uri
		WHERE search_documents_fts MATCH ?`
	args := []any{ftsQuery(q)}

	if opts.Prefix != "" {
		sqlQuery += ` AND (sd.uri = ? OR sd.uri LIKE ?)`
		args = append(args, opts.Prefix, opts.Prefix+"/%")
	}
	if opts.MaxDepth > 0 {
		sqlQuery += ` AND sd.depth <= ?`
		args = append(args, opts.MaxDepth)
	}
	sqlQuery += ` ORDER BY raw_score LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.search_documents_fts", err)
	}
	defer rows.Close()

	var hits []models.SearchHit
	for rows.Next() {
		var uri, abstract, contextType string
		var rawScore float64
		if err := rows.Scan(&uri, &abstract, &contextType, &rawScore); err != nil {
			return nil, apperr.Wrap(apperr.SQLiteError, "store.search_documents_fts", err)
		}
		// bm25() in SQLite returns a negative-is-better score; flip and
		// normalize into [0,1] with the same curve used in-memory.
		positive := -rawScore
		if positive < 0 {
			positive = 0
		}
		score := positive / (positive + 2)
		hits = append(hits, models.SearchHit{
			URI:         uri,
			Score:       score,
			Abstract:    abstract,
			ContextType: models.ContextType(contextType),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.SQLiteError, "store.search_documents_fts", err)
	}
	return hits, nil
}

// ftsQuery escapes a free-text query for FTS5 MATCH by quoting each token
// and joining with AND, avoiding FTS5 query-syntax injection from raw user
// text.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		escaped := strings.ReplaceAll(f, `"`, `""`)
		parts = append(parts, `"`+escaped+`"`)
	}
	return strings.Join(parts, " AND ")
}
