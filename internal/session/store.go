// Package session records sleep sessions to sqlite: one row per session, one
// aggregate row per elapsed minute and every event line the device emitted.
package session

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/inspec/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrSessionNotFound = errors.New("session not found")

// Session is one recording.
type Session struct {
	ID         string     `json:"id"`
	Researcher string     `json:"researcher"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Minute is the aggregate of one elapsed minute of a session.
type Minute struct {
	Minute         int       `json:"minute"`
	SampleCount    int       `json:"sample_count"`
	MeanVariance   float64   `json:"mean_variance"`
	PeakVariance   float64   `json:"peak_variance"`
	StdDevVariance float64   `json:"stddev_variance"`
	MaxREM         int       `json:"max_rem"`
	MaxNREM        int       `json:"max_nrem"`
	Quality        int       `json:"quality"`
	Samples        []float64 `json:"-"`
}

// Event is one emitted name:value line.
type Event struct {
	At    time.Time `json:"at"`
	Name  string    `json:"name"`
	Value string    `json:"value"`
}

type Store struct {
	db   *sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for debug tooling.
func (s *Store) DB() *sql.DB { return s.db }

// MigrateUp applies every embedded migration not yet recorded.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion reports the applied schema version.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { monitoring.Logf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }

// StartSession creates a session starting at at.
func (s *Store) StartSession(researcher string, at time.Time) (Session, error) {
	sess := Session{ID: uuid.NewString(), Researcher: researcher, StartedAt: at.UTC()}
	_, err := s.db.Exec(`INSERT INTO sessions (id, researcher, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Researcher, sess.StartedAt.UnixMilli())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the end time.
func (s *Store) EndSession(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, at.UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordMinute inserts or replaces the aggregate for m.Minute.
func (s *Store) RecordMinute(id string, m Minute) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO minutes (
			session_id, minute, sample_count, mean_variance, peak_variance,
			stddev_variance, max_rem, max_nrem, quality, samples
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.Minute, m.SampleCount, m.MeanVariance, m.PeakVariance,
		m.StdDevVariance, m.MaxREM, m.MaxNREM, m.Quality, joinSamples(m.Samples),
	)
	if err != nil {
		return fmt.Errorf("record minute %d: %w", m.Minute, err)
	}
	return nil
}

// RecordEvent appends an event.
func (s *Store) RecordEvent(id string, e Event) error {
	_, err := s.db.Exec(`INSERT INTO events (session_id, at, name, value) VALUES (?, ?, ?, ?)`,
		id, e.At.UTC().UnixMilli(), e.Name, e.Value)
	if err != nil {
		return fmt.Errorf("record event %s: %w", e.Name, err)
	}
	return nil
}

// Sessions lists sessions, newest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`SELECT id, researcher, started_at, ended_at FROM sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Session looks up one session.
func (s *Store) Session(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT id, researcher, started_at, ended_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var (
		sess    Session
		started int64
		ended   sql.NullInt64
	)
	if err := r.Scan(&sess.ID, &sess.Researcher, &started, &ended); err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		sess.EndedAt = &t
	}
	return sess, nil
}

// Minutes returns the session's minute aggregates in order.
func (s *Store) Minutes(id string) ([]Minute, error) {
	rows, err := s.db.Query(`SELECT minute, sample_count, mean_variance, peak_variance,
			stddev_variance, max_rem, max_nrem, quality, samples
		FROM minutes WHERE session_id = ? ORDER BY minute`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Minute
	for rows.Next() {
		var (
			m       Minute
			samples string
		)
		if err := rows.Scan(&m.Minute, &m.SampleCount, &m.MeanVariance, &m.PeakVariance,
			&m.StdDevVariance, &m.MaxREM, &m.MaxNREM, &m.Quality, &samples); err != nil {
			return nil, err
		}
		if m.Samples, err = splitSamples(samples); err != nil {
			return nil, fmt.Errorf("minute %d: %w", m.Minute, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Events returns the session's events in time order.
func (s *Store) Events(id string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT at, name, value FROM events WHERE session_id = ? ORDER BY at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&at, &e.Name, &e.Value); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionIDs lists session ids, newest first.
func (s *Store) SessionIDs() ([]string, error) {
	sessions, err := s.Sessions()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return ids, nil
}

// DeleteSession removes a session with its minutes and events.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM events WHERE session_id = ?`,
		`DELETE FROM minutes WHERE session_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return tx.Commit()
}

// BackupTo writes a consistent copy of the database to path.
func (s *Store) BackupTo(path string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}
