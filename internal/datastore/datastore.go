// Package datastore persists per-session submission artifacts in a local
// SQLite database. Blobs are keyed by test session id and name, so status
// records and cached evidence survive process restarts and let an
// interrupted submission resume where it stopped.
package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/esvtools/esvsync/internal/log"
)

var (
	// ErrNotFound is returned when no blob exists under the requested key.
	ErrNotFound = errors.New("datastore: blob not found")
	// ErrExists is returned when a write would clobber an existing blob
	// without the overwrite flag.
	ErrExists = errors.New("datastore: blob already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	session_id INTEGER NOT NULL,
	name       TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, name)
);
`

// Store provides access to the submission datastore.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the datastore at path. The special path ":memory:"
// opens a private in-memory store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	log.Debug(log.CatDB, "Opening datastore", "path", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		log.ErrorErr(log.CatDB, "Failed to open datastore", err, "path", path)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		log.ErrorErr(log.CatDB, "Failed to ping datastore", err, "path", path)
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		log.ErrorErr(log.CatDB, "Failed to migrate datastore", err, "path", path)
		return nil, err
	}
	log.Info(log.CatDB, "Datastore ready", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteBlob stores data under (session, name). Without overwrite an
// existing blob is left untouched and ErrExists is returned, so a stale
// process cannot silently clobber a newer status record.
func (s *Store) WriteBlob(session uint64, name string, data []byte, overwrite bool) error {
	query := `INSERT INTO blobs (session_id, name, data) VALUES (?, ?, ?)`
	if overwrite {
		query += ` ON CONFLICT(session_id, name) DO UPDATE
			SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := s.db.Exec(query, session, name, data); err != nil {
		if !overwrite && isConstraintErr(err) {
			return fmt.Errorf("%w: session %d name %q", ErrExists, session, name)
		}
		log.ErrorErr(log.CatDB, "WriteBlob failed", err, "session", session, "name", name)
		return err
	}
	log.Debug(log.CatDB, "Wrote blob", "session", session, "name", name, "bytes", len(data))
	return nil
}

// ReadBlob fetches the blob stored under (session, name).
func (s *Store) ReadBlob(session uint64, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM blobs WHERE session_id = ? AND name = ?`,
		session, name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %d name %q", ErrNotFound, session, name)
	}
	if err != nil {
		log.ErrorErr(log.CatDB, "ReadBlob failed", err, "session", session, "name", name)
		return nil, err
	}
	return data, nil
}

// DeleteBlob removes the blob under (session, name). Deleting a missing
// blob is not an error.
func (s *Store) DeleteBlob(session uint64, name string) error {
	_, err := s.db.Exec(
		`DELETE FROM blobs WHERE session_id = ? AND name = ?`,
		session, name,
	)
	if err != nil {
		log.ErrorErr(log.CatDB, "DeleteBlob failed", err, "session", session, "name", name)
	}
	return err
}

// Sessions lists the session ids that have at least one stored blob.
func (s *Store) Sessions() ([]uint64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT session_id FROM blobs ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// isConstraintErr reports whether err is a primary key violation. The
// driver wraps sqlite extended codes in its own error type; matching the
// message avoids importing driver internals.
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "UNIQUE")
}
