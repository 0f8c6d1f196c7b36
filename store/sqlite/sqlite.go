/*
Package sqlite provides a SQLite-backed implementation of book.Repository.

PURPOSE:
  Persists the policy book: input records, their derived facts, renewal
  links, carrier indicators, the run audit and the settings table. In
  production the same schema ports to PostgreSQL with minor dialect changes.

KEY TABLES:
  policies:   one row per original policy number; record_json holds the
              canonical input, facts_json the latest derived facts
  indicators: carrier indicators, unique per (period, policy_number)
  runs:       import/recompute audit
  settings:   key/value engine overrides (tc_udis, dias_gracia_pago, ...)

DERIVED FACTS:
  facts_json is always replaced wholesale. The status, policy_type and
  policy_year columns are copies of fields inside the JSON, kept only so
  list filters can use indexes.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Multi-row writes run inside a single
  database transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block the
  single writer.

USAGE:
  store, err := sqlite.New("./data/policies.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := book.NewService(store, cfg, m, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - book/store.go: Repository interface
  - store/memory/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/policy-engine/book"
	"github.com/warp/policy-engine/engine"
)

// Store implements book.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ book.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policy book (inputs + latest derived facts)
	CREATE TABLE IF NOT EXISTS policies (
		original_number TEXT PRIMARY KEY,
		normalized_number TEXT NOT NULL,
		line INTEGER NOT NULL DEFAULT 0,
		policy_year INTEGER NOT NULL DEFAULT 0,
		effective_date TEXT,
		record_json TEXT NOT NULL,
		facts_json TEXT,
		status TEXT NOT NULL DEFAULT '',
		policy_type TEXT NOT NULL DEFAULT '',
		parent_number TEXT,
		reissue_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policies_normalized
		ON policies(normalized_number);
	CREATE INDEX IF NOT EXISTS idx_policies_year_line
		ON policies(policy_year, line);
	CREATE INDEX IF NOT EXISTS idx_policies_status
		ON policies(status);
	CREATE INDEX IF NOT EXISTS idx_policies_type
		ON policies(policy_type);

	-- Carrier indicators
	CREATE TABLE IF NOT EXISTS indicators (
		period TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		normalized_number TEXT NOT NULL,
		indicator_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(period, policy_number)
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_period
		ON indicators(period);

	-- Import / recompute audit
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		source TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		errors_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started
		ON runs(started_at DESC);

	-- Engine settings overrides
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a database transaction.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// POLICIES
// =============================================================================

// SavePolicies upserts input records keyed on the trimmed policy number.
func (s *Store) SavePolicies(ctx context.Context, records []engine.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO policies
		(original_number, normalized_number, line, policy_year, effective_date, record_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(original_number) DO UPDATE SET
			normalized_number = excluded.normalized_number,
			line = excluded.line,
			policy_year = excluded.policy_year,
			effective_date = excluded.effective_date,
			record_json = excluded.record_json,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			key := strings.TrimSpace(r.PolicyNumber)
			if key == "" {
				continue
			}
			recordJSON, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode policy %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx, query,
				key,
				engine.NormalizePolicyNumber(key),
				int(r.Line),
				book.PolicyYear(r),
				nullString(r.EffectiveDate.String()),
				string(recordJSON),
				now, now,
			); err != nil {
				return fmt.Errorf("failed to save policy %s: %w", key, err)
			}
		}
		return nil
	})
}

const policyColumns = `original_number, record_json, facts_json, parent_number, reissue_count, updated_at`

// ListPolicies returns matching policies ordered by policy number.
func (s *Store) ListPolicies(ctx context.Context, filter book.Filter) ([]book.StoredPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if filter.Year != 0 {
		where = append(where, "policy_year = ?")
		args = append(args, filter.Year)
	}
	if filter.Line != engine.LineUnknown {
		where = append(where, "line = ?")
		args = append(args, int(filter.Line))
	}
	switch filter.Status {
	case engine.StatusNone:
	case engine.StatusCancelled:
		where = append(where, "status LIKE ?")
		args = append(args, string(engine.StatusCancelled)+"%")
	default:
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Type != "" {
		where = append(where, "policy_type = ?")
		args = append(args, string(filter.Type))
	}

	query := "SELECT " + policyColumns + " FROM policies"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY original_number ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var result []book.StoredPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// GetPolicy retrieves a policy by its original number.
func (s *Store) GetPolicy(ctx context.Context, number string) (*book.StoredPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+policyColumns+" FROM policies WHERE original_number = ?",
		strings.TrimSpace(number),
	)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (book.StoredPolicy, error) {
	var (
		p          book.StoredPolicy
		number     string
		recordJSON string
		factsJSON  sql.NullString
		parent     sql.NullString
		updatedAt  string
	)
	if err := row.Scan(&number, &recordJSON, &factsJSON, &parent, &p.ReissueCount, &updatedAt); err != nil {
		return book.StoredPolicy{}, err
	}
	if err := json.Unmarshal([]byte(recordJSON), &p.Record); err != nil {
		return book.StoredPolicy{}, fmt.Errorf("failed to decode policy %s: %w", number, err)
	}
	if factsJSON.Valid {
		var f engine.DerivedFacts
		if err := json.Unmarshal([]byte(factsJSON.String), &f); err != nil {
			return book.StoredPolicy{}, fmt.Errorf("failed to decode facts for %s: %w", number, err)
		}
		p.Facts = &f
	}
	p.ParentNumber = parent.String
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}

// SaveDerived replaces the facts of each record wholesale.
func (s *Store) SaveDerived(ctx context.Context, facts []engine.DerivedFacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE policies
		SET facts_json = ?, status = ?, policy_type = ?, updated_at = ?
		WHERE original_number = ?
	`

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range facts {
			factsJSON, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("failed to encode facts for %s: %w", f.PolicyNumber, err)
			}
			if _, err := tx.ExecContext(ctx, query,
				string(factsJSON),
				string(f.Status),
				string(f.Classification.Type),
				now,
				strings.TrimSpace(f.PolicyNumber),
			); err != nil {
				return fmt.Errorf("failed to save facts for %s: %w", f.PolicyNumber, err)
			}
		}
		return nil
	})
}

// SaveLinks replaces parent and reissue count for every policy.
func (s *Store) SaveLinks(ctx context.Context, links engine.Links) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE policies SET parent_number = NULL, reissue_count = 0"); err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
		for id, count := range links.ReissueCounts {
			if err := updateLink(ctx, tx, id, links.Parents[id], count); err != nil {
				return err
			}
		}
		for id, parent := range links.Parents {
			if _, counted := links.ReissueCounts[id]; counted {
				continue
			}
			if err := updateLink(ctx, tx, id, parent, 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateLink(ctx context.Context, db execer, id, parent string, count int) error {
	_, err := db.ExecContext(ctx,
		"UPDATE policies SET parent_number = ?, reissue_count = ? WHERE original_number = ?",
		nullString(parent), count, id,
	)
	if err != nil {
		return fmt.Errorf("failed to save link for %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// INDICATORS
// =============================================================================

// SaveIndicators upserts carrier indicators keyed on (period, number).
func (s *Store) SaveIndicators(ctx context.Context, indicators []engine.Indicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO indicators (period, policy_number, normalized_number, indicator_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(period, policy_number) DO UPDATE SET
			normalized_number = excluded.normalized_number,
			indicator_json = excluded.indicator_json
	`

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ind := range indicators {
			number := strings.TrimSpace(ind.PolicyNumber)
			indJSON, err := json.Marshal(ind)
			if err != nil {
				return fmt.Errorf("failed to encode indicator %s: %w", number, err)
			}
			if _, err := tx.ExecContext(ctx, query,
				strings.TrimSpace(ind.Period),
				number,
				engine.NormalizePolicyNumber(number),
				string(indJSON),
				now,
			); err != nil {
				return fmt.Errorf("failed to save indicator %s: %w", number, err)
			}
		}
		return nil
	})
}

// ListIndicators returns one period's indicators, or all when period is "".
func (s *Store) ListIndicators(ctx context.Context, period string) ([]engine.Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT indicator_json FROM indicators"
	var args []any
	if period != "" {
		query += " WHERE period = ?"
		args = append(args, period)
	}
	query += " ORDER BY period ASC, policy_number ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query indicators: %w", err)
	}
	defer rows.Close()

	var result []engine.Indicator
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ind engine.Indicator
		if err := json.Unmarshal([]byte(raw), &ind); err != nil {
			return nil, fmt.Errorf("failed to decode indicator: %w", err)
		}
		result = append(result, ind)
	}
	return result, rows.Err()
}

// ListPeriods returns the distinct indicator periods, ascending.
func (s *Store) ListPeriods(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT period FROM indicators ORDER BY period ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	defer rows.Close()

	var periods []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// RUNS
// =============================================================================

// SaveRun creates or updates a run record.
func (s *Store) SaveRun(ctx context.Context, run book.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	query := `
		INSERT INTO runs (id, kind, source, started_at, finished_at, processed, updated, failed, errors_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			processed = excluded.processed,
			updated = excluded.updated,
			failed = excluded.failed,
			errors_json = excluded.errors_json
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(run.Kind),
		nullString(run.Source),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Processed,
		run.Updated,
		run.Failed,
		string(errorsJSON),
	)
	return err
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]book.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, kind, source, started_at, finished_at, processed, updated, failed, errors_json
		FROM runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var result []book.Run
	for rows.Next() {
		var (
			r                   book.Run
			kind                string
			source, errorsJSON  sql.NullString
			startedAt, finished string
		)
		if err := rows.Scan(&r.ID, &kind, &source, &startedAt, &finished, &r.Processed, &r.Updated, &r.Failed, &errorsJSON); err != nil {
			return nil, err
		}
		r.Kind = book.RunKind(kind)
		r.Source = source.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		if errorsJSON.Valid && errorsJSON.String != "" {
			json.Unmarshal([]byte(errorsJSON.String), &r.Errors)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns every stored setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// PutSetting stores one setting.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	return err
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears the book. Settings are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"policies", "indicators", "runs"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
