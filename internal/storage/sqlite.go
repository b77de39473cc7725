package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding call records, staged transcripts,
// and embeddings.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "callsight.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing
	// immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

// AppliedMigrations returns the applied schema versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Call records ---

const callRecordColumns = `id, phone_number, call_time, filename, transcription,
	sentiment, customer_interest, summary, entities, date_processed, created_at`

// InsertCallRecord inserts a scraped call record unless one already exists
// for the same (phone_number, call_time) pair. Returns true if a row was
// inserted.
func (s *Store) InsertCallRecord(rec CallRecord) (bool, error) {
	res, err := s.db.Exec(`
		INSERT INTO call_records (`+callRecordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone_number, call_time) WHERE phone_number <> '' DO NOTHING`,
		rec.ID, rec.PhoneNumber, rec.CallTime, rec.Filename, nullIfEmpty(rec.Transcription),
		rec.Sentiment, rec.CustomerInterest, rec.Summary, rec.EntitiesJSON,
		rec.DateProcessed, rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CallRecordByFilename returns the record matched to filename, or ErrNotFound.
func (s *Store) CallRecordByFilename(filename string) (CallRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+callRecordColumns+` FROM call_records WHERE filename = ?`, filename)
	return scanCallRecord(row)
}

// CallRecordByPhoneTime returns the record for (phone, callTime), or ErrNotFound.
func (s *Store) CallRecordByPhoneTime(phone, callTime string) (CallRecord, error) {
	row := s.db.QueryRow(`
		SELECT `+callRecordColumns+` FROM call_records
		WHERE phone_number = ? AND call_time = ?`, phone, callTime)
	return scanCallRecord(row)
}

// SetTranscription writes the transcript onto an existing record and binds
// the artifact filename to it. It never inserts: a transcript with no
// matching record is the caller's failure to handle, not a stray row.
func (s *Store) SetTranscription(id, filename, text string) error {
	res, err := s.db.Exec(`
		UPDATE call_records SET transcription = ?, filename = ? WHERE id = ?`,
		text, filename, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertAnalysis writes LLM-derived fields onto the record matched by
// filename. A missing record is synthesized from the analysis output: by the
// analyze stage the record's existence has been proven once already, so this
// deliberately differs from SetTranscription's no-insert rule.
func (s *Store) UpsertAnalysis(id, filename string, a AnalysisUpdate) error {
	res, err := s.db.Exec(`
		UPDATE call_records
		SET sentiment = ?, customer_interest = ?, summary = ?, entities = ?, date_processed = ?
		WHERE filename = ?`,
		a.Sentiment, a.CustomerInterest, a.Summary, a.EntitiesJSON, a.DateProcessed, filename)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	_, err = s.db.Exec(`
		INSERT INTO call_records (`+callRecordColumns+`)
		VALUES (?, '', '', ?, NULL, ?, ?, ?, ?, ?, ?)`,
		id, filename, a.Sentiment, a.CustomerInterest, a.Summary, a.EntitiesJSON,
		a.DateProcessed, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListPendingAnalysis returns the filename/transcription projection of all
// records that have a transcription bound to an artifact. The check is for
// a stored transcription, not a non-empty one: a silent recording yields ''
// and still flows to analysis. Filtering out already-analyzed filenames is
// the ledger's job, not the store's.
func (s *Store) ListPendingAnalysis() ([]CallRecord, error) {
	rows, err := s.db.Query(`
		SELECT filename, transcription FROM call_records
		WHERE transcription IS NOT NULL AND filename <> ''
		ORDER BY filename ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.Filename, &r.Transcription); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountCallRecords returns the total number of call records.
func (s *Store) CountCallRecords() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM call_records`).Scan(&n)
	return n, err
}

func scanCallRecord(row *sql.Row) (CallRecord, error) {
	var r CallRecord
	var transcription sql.NullString
	var createdAt string
	err := row.Scan(&r.ID, &r.PhoneNumber, &r.CallTime, &r.Filename, &transcription,
		&r.Sentiment, &r.CustomerInterest, &r.Summary, &r.EntitiesJSON,
		&r.DateProcessed, &createdAt)
	if err == sql.ErrNoRows {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, err
	}
	r.Transcription = transcription.String
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return CallRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// nullIfEmpty maps "" to NULL so a record inserted before transcription is
// distinguishable from one whose recording transcribed to empty text.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Transcript staging ---

// SaveTranscript stages a raw transcript so downstream stages can re-read it
// after a restart. Re-staging the same filename overwrites.
func (s *Store) SaveTranscript(t Transcript) error {
	_, err := s.db.Exec(`
		INSERT INTO transcripts (filename, text, created_at) VALUES (?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET text = excluded.text, created_at = excluded.created_at`,
		t.Filename, t.Text, t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetTranscript returns the staged transcript for filename, or ErrNotFound.
func (s *Store) GetTranscript(filename string) (Transcript, error) {
	var t Transcript
	var createdAt string
	err := s.db.QueryRow(`
		SELECT filename, text, created_at FROM transcripts WHERE filename = ?`, filename,
	).Scan(&t.Filename, &t.Text, &createdAt)
	if err == sql.ErrNoRows {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, err
	}
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Transcript{}, fmt.Errorf("parsing created_at: %w", err)
	}
	t.CreatedAt = parsed
	return t, nil
}

// DeleteTranscript removes a staged transcript. Deleting an absent row is
// not an error; terminal cleanup may run more than once.
func (s *Store) DeleteTranscript(filename string) error {
	_, err := s.db.Exec(`DELETE FROM transcripts WHERE filename = ?`, filename)
	return err
}

// --- Embeddings ---

// HasEmbedding reports whether an embedding already exists for filename.
// This existence check backs the embed stage's idempotence independently of
// the ledger.
func (s *Store) HasEmbedding(filename string) (bool, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE filename = ?`, filename).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveEmbedding inserts the derived vector for one artifact.
func (s *Store) SaveEmbedding(e Embedding) error {
	_, err := s.db.Exec(`
		INSERT INTO embeddings (id, filename, vector, date_processed, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Filename, e.VectorJSON, e.DateProcessed,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// CountEmbeddings returns the total number of stored embeddings.
func (s *Store) CountEmbeddings() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}
