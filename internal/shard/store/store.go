// Package store is the FTS-backed persistence layer beneath one shard. It
// wraps a single SQLite database holding one virtual FTS5 table, tokenized
// with the porter/unicode61 stemmer+normalizer pair, and exposes the four
// operations a Shard needs: Upsert, DeleteByRowidUpTo, Match, and
// ScanSince, plus CountAndBytes for stats reporting.
//
// Two schemas are supported, chosen once at creation and never changed
// afterward (see config.IDType):
//
//   - integer mode: a single `content` column with `content_rowid=id`, so the
//     caller's own integer id doubles as the FTS rowid. Upsert is a single
//     REPLACE INTO per chunk.
//   - string mode: `id UNINDEXED, content`, where rowid is assigned by
//     SQLite. Upsert deletes any existing rows for the given ids, then
//     inserts fresh ones.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	appErrors "github.com/distshard/shardcore/pkg/errors"

	_ "modernc.org/sqlite"
)

// maxBoundParams is the underlying storage engine's limit on bound
// parameters per statement.
const maxBoundParams = 32

// chunkSize is the number of documents per Upsert statement: 2 params per
// document (id/rowid + content) keeps every chunk within maxBoundParams.
const chunkSize = 15

// Mode selects the FTS schema a Store uses.
type Mode int

const (
	// ModeInteger uses content_rowid=id with a caller-supplied int64 id.
	ModeInteger Mode = iota
	// ModeString uses an UNINDEXED id column and an engine-assigned rowid.
	ModeString
)

// Row is one row as returned by ScanSince.
type Row struct {
	Rowid   int64
	ID      string
	Content string
}

// Hit is one ranked match as returned by Match.
type Hit struct {
	ID      string
	Content string
	Rank    float64
}

// Doc is one document to persist via Upsert.
type Doc struct {
	ID      string
	IntID   int64
	Content string
}

// Store is a single shard's FTS-backed document table.
type Store struct {
	db   *sql.DB
	mode Mode
	path string
}

// Open creates (if necessary) and opens the SQLite database at path with the
// given schema mode. mode must not change across restarts of the same file.
func Open(path string, mode Mode) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, mode: mode, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var ddl string
	switch s.mode {
	case ModeInteger:
		ddl = `CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
			content,
			content_rowid='id',
			tokenize='porter unicode61'
		)`
	case ModeString:
		ddl = `CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
			id UNINDEXED,
			content,
			tokenize='porter unicode61'
		)`
	default:
		return fmt.Errorf("unknown store mode %d", s.mode)
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert persists docs, chunking at chunkSize documents per statement per
// the store's bound-parameter budget. Chunks execute in insertion order;
// if a later chunk fails, earlier chunks remain committed — callers must
// treat Upsert as best-effort idempotent and may retry the whole batch
// safely, since REPLACE/DELETE+INSERT make every chunk idempotent on its
// own rowid or id.
func (s *Store) Upsert(ctx context.Context, docs []Doc) error {
	for start := 0; start < len(docs); start += chunkSize {
		end := start + chunkSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.upsertChunk(ctx, docs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertChunk(ctx context.Context, chunk []Doc) error {
	switch s.mode {
	case ModeInteger:
		return s.upsertChunkInteger(ctx, chunk)
	default:
		return s.upsertChunkString(ctx, chunk)
	}
}

func (s *Store) upsertChunkInteger(ctx context.Context, chunk []Doc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `REPLACE INTO documents(rowid, content) VALUES (?, ?)`)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer stmt.Close()

	for _, d := range chunk {
		if _, err := stmt.ExecContext(ctx, d.IntID, d.Content); err != nil {
			return wrapStoreErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func (s *Store) upsertChunkString(ctx context.Context, chunk []Doc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback()

	ids := make([]any, 0, len(chunk))
	placeholders := make([]string, 0, len(chunk))
	for _, d := range chunk {
		ids = append(ids, d.ID)
		placeholders = append(placeholders, "?")
	}
	delQuery := fmt.Sprintf(`DELETE FROM documents WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, delQuery, ids...); err != nil {
		return wrapStoreErr(err)
	}

	insStmt, err := tx.PrepareContext(ctx, `INSERT INTO documents(id, content) VALUES (?, ?)`)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer insStmt.Close()

	for _, d := range chunk {
		if _, err := insStmt.ExecContext(ctx, d.ID, d.Content); err != nil {
			return wrapStoreErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

// DeleteByRowidUpTo deletes every row with rowid <= maxRowid, used by the
// lifecycle manager after a cold shard has durably accepted those rows. It
// returns the number of rows removed.
func (s *Store) DeleteByRowidUpTo(ctx context.Context, maxRowid int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE rowid <= ?`, maxRowid)
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// needsPhraseQuote reports whether raw contains characters that could be
// misinterpreted as FTS5 query syntax and should be forced into phrase
// mode.
func needsPhraseQuote(raw string) bool {
	return strings.ContainsAny(raw, `"';`) || strings.Contains(raw, "--")
}

// asPhrase wraps raw as a double-quoted FTS5 phrase, doubling any embedded
// quote characters.
func asPhrase(raw string) string {
	return `"` + strings.ReplaceAll(raw, `"`, `""`) + `"`
}

// Match runs query against the FTS index and returns up to limit hits
// ordered by rank (ascending: bm25's convention is that lower is better).
// A query containing FTS5 metacharacters is forced into phrase mode before
// the first attempt. If the engine still rejects the query as malformed,
// Match retries once as a quoted phrase capped at 50 rows.
func (s *Store) Match(ctx context.Context, rawQuery string, limit int) ([]Hit, error) {
	query := rawQuery
	if needsPhraseQuote(rawQuery) {
		query = asPhrase(rawQuery)
	}

	hits, err := s.match(ctx, query, limit)
	if err == nil {
		return hits, nil
	}
	if !isFTSParseError(err) {
		return nil, err
	}

	retryLimit := limit
	if retryLimit > 50 {
		retryLimit = 50
	}
	return s.match(ctx, asPhrase(rawQuery), retryLimit)
}

func (s *Store) match(ctx context.Context, query string, limit int) ([]Hit, error) {
	var selectCols string
	switch s.mode {
	case ModeInteger:
		selectCols = `rowid, content, rank`
	default:
		selectCols = `id, content, rank`
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM documents WHERE documents MATCH ? ORDER BY rank LIMIT ?`, selectCols),
		query, limit,
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		switch s.mode {
		case ModeInteger:
			var rowid int64
			if err := rows.Scan(&rowid, &h.Content, &h.Rank); err != nil {
				return nil, fmt.Errorf("scanning match row: %w", err)
			}
			h.ID = fmt.Sprintf("%d", rowid)
		default:
			if err := rows.Scan(&h.ID, &h.Content, &h.Rank); err != nil {
				return nil, fmt.Errorf("scanning match row: %w", err)
			}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match rows: %w", err)
	}
	return hits, nil
}

// ScanSince returns up to limit rows with rowid > cursor, ordered by rowid
// ascending, for use by the replicator and lifecycle manager.
func (s *Store) ScanSince(ctx context.Context, cursor int64, limit int) ([]Row, error) {
	var idExpr string
	switch s.mode {
	case ModeInteger:
		idExpr = `rowid`
	default:
		idExpr = `id`
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT rowid, %s, content FROM documents WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, idExpr),
		cursor, limit,
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		switch s.mode {
		case ModeInteger:
			var id int64
			if err := rows.Scan(&r.Rowid, &id, &r.Content); err != nil {
				return nil, fmt.Errorf("scanning scan row: %w", err)
			}
			r.ID = fmt.Sprintf("%d", id)
		default:
			if err := rows.Scan(&r.Rowid, &r.ID, &r.Content); err != nil {
				return nil, fmt.Errorf("scanning scan row: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scan rows: %w", err)
	}
	return out, nil
}

// CountAndBytes reports the current row count and the actual on-disk size
// of the database file (not an estimate), per spec.md section 4.1.
func (s *Store) CountAndBytes(ctx context.Context) (count int64, bytes int64, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`)
	if err := row.Scan(&count); err != nil {
		return 0, 0, wrapStoreErr(err)
	}

	info, statErr := os.Stat(s.path)
	if statErr != nil {
		return count, 0, fmt.Errorf("stat store file: %w", statErr)
	}
	return count, info.Size(), nil
}

func isFTSParseError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "fts5: syntax error")
}

func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") {
		return fmt.Errorf("store: %s: %w", err.Error(), appErrors.ErrReadOnly)
	}
	if strings.Contains(msg, "constraint") {
		return fmt.Errorf("store: %s: %w", err.Error(), appErrors.ErrInvalidInput)
	}
	return fmt.Errorf("store: %w", err)
}
