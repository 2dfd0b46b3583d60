package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/memuri/internal/feedback/migrations"
)

// timeLayout is fixed width (nine fractional digits, UTC) so lexicographic
// TEXT comparison in SQL matches chronological order. RFC3339Nano strips
// trailing zeros and breaks that property: "…00.5Z" sorts after
// "…00.512345678Z" even though it is earlier.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists feedback in a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens or creates the feedback database at path, running
// embedded migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create feedback directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open feedback database: %w", err)
	}

	// WAL keeps readers unblocked while the scheduler appends.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate feedback schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Record appends one entry. Duplicates on (source, timestamp, kind) are
// ignored, so retried submissions are safe.
func (s *SQLiteStore) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}

	var metadata *string
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshaling metadata: %v", ErrInvalidRecord, err)
		}
		str := string(raw)
		metadata = &str
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO feedback (id, source, kind, truth, timestamp, metadata, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Source,
		string(rec.Kind),
		rec.Truth,
		rec.Timestamp.UTC().Format(timeLayout),
		metadata,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		observeRecord(rec.Kind)
	}
	return nil
}

// Unseen returns records newer than since, oldest first.
func (s *SQLiteStore) Unseen(ctx context.Context, since time.Time) (int, []Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, kind, truth, timestamp, metadata
		FROM feedback
		WHERE timestamp > ?
		ORDER BY timestamp ASC, id ASC
	`, since.UTC().Format(timeLayout))
	if err != nil {
		return 0, nil, fmt.Errorf("query unseen feedback: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return 0, nil, err
	}
	return len(records), records, nil
}

// Samples returns up to limit records of one kind, oldest first.
func (s *SQLiteStore) Samples(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, kind, truth, timestamp, metadata
		FROM feedback
		WHERE kind = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback samples: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkConsumed advances the consumer's high-water mark.
func (s *SQLiteStore) MarkConsumed(ctx context.Context, consumer string, upTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consumer_offsets (consumer, consumed_up_to) VALUES (?, ?)
		ON CONFLICT (consumer) DO UPDATE SET consumed_up_to = excluded.consumed_up_to
	`, consumer, upTo.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	return nil
}

// LastConsumed returns the consumer's high-water mark.
func (s *SQLiteStore) LastConsumed(ctx context.Context, consumer string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, ErrStoreClosed
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT consumed_up_to FROM consumer_offsets WHERE consumer = ?`, consumer,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query consumer offset: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse consumer offset: %w", err)
	}
	return t, nil
}

// Close closes the database. Subsequent calls are no-ops.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec      Record
			kind     string
			ts       string
			metadata sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &kind, &rec.Truth, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}
		rec.Kind = Kind(kind)

		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse feedback timestamp: %w", err)
		}
		rec.Timestamp = parsed

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal feedback metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feedback rows: %w", err)
	}
	return records, nil
}
