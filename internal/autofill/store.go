// Package autofill persists form values the active client asks the
// platform to remember.
//
// Values are sealed at rest: the database holds identifiers, hints,
// and opaque ciphertext, and the sealing key is derived from a
// separate key file created on first open. Swapping ciphertext between
// rows fails authentication because each value is bound to its context
// and hint.
package autofill

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"textinputd/internal/config"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
)

// Store is the sealed autofill database. Safe for concurrent use.
type Store struct {
	db            *sql.DB
	sealer        *sealer
	path          string
	retentionDays int
	log           *logging.Logger
}

// Open opens the store described by cfg, creating the database and key
// file on first use. Values past the retention period are pruned.
func Open(cfg config.AutofillConfig) (*Store, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("autofill: store path not configured")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0700); err != nil {
		return nil, fmt.Errorf("autofill: create store directory: %w", err)
	}

	master, err := loadOrCreateKey(cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	defer wipe(master)

	slr, err := newSealer(master)
	if err != nil {
		return nil, err
	}

	busyTimeout, journalMode := config.DefaultStoreSettings()
	if cfg.BusyTimeoutMs > 0 {
		busyTimeout = cfg.BusyTimeoutMs
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=on",
		cfg.StorePath, journalMode, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("autofill: open database: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// The database file exists only after the first statement ran.
	if err := os.Chmod(cfg.StorePath, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("autofill: chmod database: %w", err)
	}

	s := &Store{
		db:            db,
		sealer:        slr,
		path:          cfg.StorePath,
		retentionDays: cfg.RetentionDays,
		log:           logging.Default().WithComponent("autofill"),
	}

	if pruned, err := s.Prune(); err != nil {
		s.log.Warn("retention prune failed", "error", err)
	} else if pruned > 0 {
		s.log.Info("pruned expired autofill values", "count", pruned)
	}

	s.publishEntryCount()
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SaveContext seals and stores every value of a finished context.
// Empty hints and empty values are skipped; existing rows for the same
// context and hint are replaced, keeping their original created_at.
func (s *Store) SaveContext(contextID string, values map[string]string) error {
	if contextID == "" {
		return fmt.Errorf("autofill: empty context id")
	}

	now := time.Now().UnixNano()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("autofill: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO autofill_values (context_id, hint, seal_version, nonce, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(context_id, hint) DO UPDATE SET
			seal_version = excluded.seal_version,
			nonce        = excluded.nonce,
			value        = excluded.value,
			updated_at   = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("autofill: prepare insert: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for hint, value := range values {
		if hint == "" || value == "" {
			continue
		}
		nonce, sealed, err := s.sealer.seal([]byte(value), rowAAD(contextID, hint))
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(contextID, hint, sealVersion, nonce, sealed, now, now); err != nil {
			return fmt.Errorf("autofill: insert value for hint %q: %w", hint, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("autofill: commit: %w", err)
	}

	if saved > 0 {
		metrics.GetMetrics().RecordAutofillSave()
		s.publishEntryCount()
	}
	s.log.Debug("saved autofill context", "context", contextID, "values", saved)
	return nil
}

// Lookup returns the most recently saved value for each requested
// hint. Hints with no stored value are absent from the result.
func (s *Store) Lookup(hints []string) (map[string]string, error) {
	result := make(map[string]string, len(hints))

	for _, hint := range hints {
		if hint == "" {
			continue
		}

		var (
			contextID string
			version   int
			nonce     []byte
			sealed    []byte
		)
		err := s.db.QueryRow(`
			SELECT context_id, seal_version, nonce, value
			FROM autofill_values
			WHERE hint = ?
			ORDER BY updated_at DESC
			LIMIT 1
		`, hint).Scan(&contextID, &version, &nonce, &sealed)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("autofill: lookup hint %q: %w", hint, err)
		}
		if version != sealVersion {
			return nil, fmt.Errorf("%w: %d", ErrSealVersion, version)
		}

		value, err := s.sealer.open(nonce, sealed, rowAAD(contextID, hint))
		if err != nil {
			return nil, err
		}
		result[hint] = string(value)
	}

	if len(result) > 0 {
		metrics.GetMetrics().RecordAutofillFill()
	}
	return result, nil
}

// Delete removes every stored value for a context.
func (s *Store) Delete(contextID string) error {
	res, err := s.db.Exec("DELETE FROM autofill_values WHERE context_id = ?", contextID)
	if err != nil {
		return fmt.Errorf("autofill: delete context: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publishEntryCount()
	}
	return nil
}

// Clear removes all stored values and reports how many were dropped.
func (s *Store) Clear() (int64, error) {
	res, err := s.db.Exec("DELETE FROM autofill_values")
	if err != nil {
		return 0, fmt.Errorf("autofill: clear store: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.publishEntryCount()
	}
	return n, nil
}

// Prune deletes values whose last update is past the retention period.
// A retention of zero keeps values indefinitely.
func (s *Store) Prune() (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UnixNano()
	res, err := s.db.Exec("DELETE FROM autofill_values WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("autofill: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.publishEntryCount()
	}
	return n, nil
}

// CountEntries returns the number of stored values.
func (s *Store) CountEntries() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM autofill_values").Scan(&n); err != nil {
		return 0, fmt.Errorf("autofill: count entries: %w", err)
	}
	return n, nil
}

// Entry describes a stored value without revealing it.
type Entry struct {
	ContextID string    `json:"context_id"`
	Hint      string    `json:"hint"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns metadata for every stored value, newest first. Sealed
// values themselves are never returned.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT context_id, hint, created_at, updated_at
		FROM autofill_values
		ORDER BY updated_at DESC, context_id, hint
	`)
	if err != nil {
		return nil, fmt.Errorf("autofill: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                Entry
			created, updated int64
		)
		if err := rows.Scan(&e.ContextID, &e.Hint, &created, &updated); err != nil {
			return nil, fmt.Errorf("autofill: scan entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		e.UpdatedAt = time.Unix(0, updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Entries       int64     `json:"entries"`
	Contexts      int64     `json:"contexts"`
	DistinctHints int64     `json:"distinct_hints"`
	OldestEntry   time.Time `json:"oldest_entry"`
	NewestEntry   time.Time `json:"newest_entry"`
	SizeBytes     int64     `json:"size_bytes"`
}

// Stats returns store statistics.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{}

	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT context_id), COUNT(DISTINCT hint)
		FROM autofill_values
	`).Scan(&st.Entries, &st.Contexts, &st.DistinctHints)
	if err != nil {
		return nil, fmt.Errorf("autofill: stats: %w", err)
	}

	if st.Entries > 0 {
		var oldest, newest int64
		err = s.db.QueryRow(
			"SELECT MIN(created_at), MAX(updated_at) FROM autofill_values",
		).Scan(&oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("autofill: stats range: %w", err)
		}
		st.OldestEntry = time.Unix(0, oldest)
		st.NewestEntry = time.Unix(0, newest)
	}

	if fi, err := os.Stat(s.path); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st, nil
}

func (s *Store) publishEntryCount() {
	if n, err := s.CountEntries(); err == nil {
		metrics.GetMetrics().SetStoreEntries(n)
	}
}
