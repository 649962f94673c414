package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"

	UnknownUser = "Unknown"
)

// AccessLog is one stored door event.
type AccessLog struct {
	ID            int64     `json:"id"`
	Date          string    `json:"event_date"`
	Time          string    `json:"event_time"`
	UserName      string    `json:"user_name"`
	FingerprintID *string   `json:"fingerprint_id"`
	Note          *string   `json:"note"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewLog is an event to insert. Date and Time use DateLayout and TimeLayout.
// Empty FingerprintID and Note are stored as NULL, an empty UserName as UnknownUser.
type NewLog struct {
	Date          string
	Time          string
	UserName      string
	FingerprintID string
	Note          string
}

// Frequency is the number of events per user name.
type Frequency struct {
	UserName string `json:"user_name"`
	Count    int64  `json:"cnt"`
}

// DateRange filters events by day, both bounds inclusive.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Store manages the PostgreSQL connection pool for the access log.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the access log table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS access_logs (
			id BIGSERIAL PRIMARY KEY,
			event_date DATE NOT NULL,
			event_time TIME NOT NULL,
			user_name TEXT NOT NULL DEFAULT 'Unknown',
			fingerprint_id TEXT,
			note TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS access_logs_event_date_idx ON access_logs (event_date);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database pool.
func (s *Store) Close() {
	s.pool.Close()
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// InsertLog stores one event and returns its ID.
func (s *Store) InsertLog(ctx context.Context, l NewLog) (int64, error) {
	user := l.UserName
	if user == "" {
		user = UnknownUser
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO access_logs (event_date, event_time, user_name, fingerprint_id, note)
		VALUES ($1::date, $2::time, $3, $4, $5)
		RETURNING id
	`, l.Date, l.Time, user, nullIfEmpty(l.FingerprintID), nullIfEmpty(l.Note)).Scan(&id)
	return id, err
}

// where renders the optional date filter; r == nil means no filter.
func where(r *DateRange) (string, []any) {
	if r == nil {
		return "", nil
	}
	return " WHERE event_date BETWEEN $1::date AND $2::date",
		[]any{r.From.Format(DateLayout), r.To.Format(DateLayout)}
}

// ListLogs returns events, newest first.
func (s *Store) ListLogs(ctx context.Context, r *DateRange) ([]AccessLog, error) {
	cond, args := where(r)
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_date::text, to_char(event_time, 'HH24:MI:SS'), user_name, fingerprint_id, note, created_at
		FROM access_logs`+cond+`
		ORDER BY event_date DESC, event_time DESC, id DESC
	`, args...)
	if err != nil {
		return nil, err
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AccessLog, error) {
		var l AccessLog
		err := row.Scan(&l.ID, &l.Date, &l.Time, &l.UserName, &l.FingerprintID, &l.Note, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []AccessLog{}
	}
	return logs, nil
}

// Frequency counts events per user name, most frequent first.
func (s *Store) Frequency(ctx context.Context, r *DateRange) ([]Frequency, error) {
	cond, args := where(r)
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(user_name, 'Unknown') AS name, COUNT(*) AS cnt
		FROM access_logs`+cond+`
		GROUP BY name
		ORDER BY cnt DESC, name ASC
	`, args...)
	if err != nil {
		return nil, err
	}

	freq, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Frequency, error) {
		var f Frequency
		err := row.Scan(&f.UserName, &f.Count)
		return f, err
	})
	if err != nil {
		return nil, err
	}
	if freq == nil {
		freq = []Frequency{}
	}
	return freq, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS access_logs CASCADE;`)
	return err
}
