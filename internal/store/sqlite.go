package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"scanwedge/internal/scanner"
)

// Store is the SQLite scan history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertScan records an accepted scan and returns its row ID.
func (s *Store) InsertScan(ctx context.Context, r scanner.Result) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (session_id, code, suffix, started_ns, ended_ns, keystrokes, avg_interval_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Code, string(r.Suffix), r.StartedAt.UnixNano(), r.EndedAt.UnixNano(),
		r.Keystrokes, int64(r.AvgInterval),
	)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

const scanColumns = `id, session_id, code, suffix, started_ns, ended_ns, keystrokes, avg_interval_ns`

// RecentScans returns up to limit scans, newest first.
func (s *Store) RecentScans(ctx context.Context, limit int) ([]Scan, error) {
	if limit <= 0 {
		return []Scan{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scanColumns+`
		FROM scans
		ORDER BY ended_ns DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent scans: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ScansByCode returns every scan of code, newest first.
func (s *Store) ScansByCode(ctx context.Context, code string) ([]Scan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scanColumns+`
		FROM scans
		WHERE code = ?
		ORDER BY ended_ns DESC, id DESC`, code)
	if err != nil {
		return nil, fmt.Errorf("query scans by code: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// ScanByID retrieves a scan by row ID.
func (s *Store) ScanByID(ctx context.Context, id int64) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	sc, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return sc, nil
}

// ScanBySession retrieves a scan by its session ID.
func (s *Store) ScanBySession(ctx context.Context, sessionID string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE session_id = ?`, sessionID)
	sc, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get scan by session: %w", err)
	}
	return sc, nil
}

// CountByCode returns how often each code was scanned, most frequent
// first. limit <= 0 returns all codes.
func (s *Store) CountByCode(ctx context.Context, limit int) ([]CodeCount, error) {
	query := `
		SELECT code, COUNT(*), MAX(ended_ns)
		FROM scans
		GROUP BY code
		ORDER BY COUNT(*) DESC, code ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count by code: %w", err)
	}
	defer rows.Close()

	counts := []CodeCount{}
	for rows.Next() {
		var c CodeCount
		var lastNs int64
		if err := rows.Scan(&c.Code, &c.Count, &lastNs); err != nil {
			return nil, fmt.Errorf("scan code count: %w", err)
		}
		c.Last = time.Unix(0, lastNs)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate code counts: %w", err)
	}
	return counts, nil
}

// Prune deletes scans that ended before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE ended_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune scans: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// Stats summarizes the history.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var first, last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT code), MIN(ended_ns), MAX(ended_ns)
		FROM scans`,
	).Scan(&st.TotalScans, &st.DistinctCodes, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	if first.Valid {
		st.FirstScan = time.Unix(0, first.Int64)
	}
	if last.Valid {
		st.LastScan = time.Unix(0, last.Int64)
	}
	if st.SchemaVersion, err = schemaVersion(ctx, s.db); err != nil {
		return nil, err
	}
	return &st, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row rowScanner) (*Scan, error) {
	var sc Scan
	var suffix string
	var startedNs, endedNs, avgNs int64
	if err := row.Scan(&sc.ID, &sc.SessionID, &sc.Code, &suffix, &startedNs, &endedNs, &sc.Keystrokes, &avgNs); err != nil {
		return nil, err
	}
	sc.Suffix = scanner.Suffix(suffix)
	sc.StartedAt = time.Unix(0, startedNs)
	sc.EndedAt = time.Unix(0, endedNs)
	sc.AvgInterval = time.Duration(avgNs)
	return &sc, nil
}

// scanRows is a helper to scan rows into a slice.
func scanRows(rows *sql.Rows) ([]Scan, error) {
	scans := []Scan{}
	for rows.Next() {
		sc, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}
