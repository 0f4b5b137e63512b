package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

// SQLiteStore is the local store. It holds the operational tables
// (commands, scrape_logs) and, when no Postgres URL is configured, the
// domain tables as well.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _txlock=immediate takes the write lock at BEGIN so concurrent result
	// writes queue on busy_timeout instead of failing on lock upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dbPath, err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		neighborhood TEXT,
		management_company TEXT,
		strategy_id TEXT,
		rentcafe_property_id TEXT,
		rentcafe_api_token TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_status TEXT NOT NULL DEFAULT 'never',
		last_run_at DATETIME,
		consecutive_zero_count INTEGER NOT NULL DEFAULT 0,
		needs_attention BOOLEAN NOT NULL DEFAULT FALSE,
		attention_since DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS units (
		id INTEGER PRIMARY KEY,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		unit_label TEXT NOT NULL,
		bed_type TEXT NOT NULL,
		non_canonical BOOLEAN NOT NULL DEFAULT FALSE,
		rent_cents INTEGER NOT NULL,
		availability_date TEXT NOT NULL,
		floor_plan_name TEXT,
		floor_plan_url TEXT,
		baths TEXT,
		sqft INTEGER,
		captured_at DATETIME NOT NULL,
		UNIQUE(source_id, unit_label)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		source_id INTEGER NOT NULL,
		strategy_id TEXT,
		run_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		unit_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sources_active ON sources(active);
	CREATE INDEX IF NOT EXISTS idx_units_filter ON units(bed_type, rent_cents, availability_date);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON scrape_runs(source_id, run_at);
	CREATE INDEX IF NOT EXISTS idx_runs_run_at ON scrape_runs(run_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON scrape_logs(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Sources
// =============================================================================

const sourceColumns = `id, name, url, COALESCE(neighborhood, ''), COALESCE(management_company, ''),
	COALESCE(strategy_id, ''), COALESCE(rentcafe_property_id, ''), COALESCE(rentcafe_api_token, ''),
	active, last_run_status, last_run_at, consecutive_zero_count, needs_attention, attention_since`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (models.Source, error) {
	var src models.Source
	err := row.Scan(&src.ID, &src.Name, &src.URL, &src.Neighborhood, &src.ManagementCompany,
		&src.StrategyID, &src.RentCafePropertyCode, &src.RentCafeAPIToken,
		&src.Active, &src.LastRunStatus, &src.LastRunAt, &src.ConsecutiveZeroCount,
		&src.NeedsAttention, &src.AttentionSince)
	return src, err
}

// SyncSources upserts the external building list by URL. Descriptive fields
// follow the list; a non-blank platform in the list overrides the stored
// strategy. Active sources missing from the list are deactivated.
func (s *SQLiteStore) SyncSources(ctx context.Context, records []models.SourceRecord) (models.SyncStats, error) {
	var stats models.SyncStats

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	active, err := s.activeURLs(ctx, tx)
	if err != nil {
		return stats, err
	}
	plan := planSync(records, active)
	if plan.skipped > 0 {
		log.Printf("Source sync: skipped %d records without name/url or duplicated", plan.skipped)
	}

	for _, r := range plan.records {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sources WHERE url = ?`, r.URL).Scan(&exists)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return stats, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sources (name, url, neighborhood, management_company, strategy_id,
				rentcafe_property_id, rentcafe_api_token, active)
			VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), TRUE)
			ON CONFLICT(url) DO UPDATE SET
				name = excluded.name,
				neighborhood = excluded.neighborhood,
				management_company = excluded.management_company,
				strategy_id = COALESCE(excluded.strategy_id, sources.strategy_id),
				rentcafe_property_id = excluded.rentcafe_property_id,
				rentcafe_api_token = excluded.rentcafe_api_token,
				active = TRUE,
				updated_at = CURRENT_TIMESTAMP`,
			r.Name, r.URL, r.Neighborhood, r.ManagementCompany, r.StrategyID,
			r.RentCafePropertyCode, r.RentCafeAPIToken)
		if err != nil {
			return stats, fmt.Errorf("upsert source %s: %w", r.URL, err)
		}
		if exists == 1 {
			stats.Updated++
		} else {
			stats.Added++
		}
	}

	for _, id := range plan.deactivate {
		if _, err := tx.ExecContext(ctx, `UPDATE sources SET active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id); err != nil {
			return stats, err
		}
		stats.Deactivated++
	}

	return stats, tx.Commit()
}

func (s *SQLiteStore) activeURLs(ctx context.Context, tx *sql.Tx) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, url FROM sources WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	active := make(map[string]int64)
	for rows.Next() {
		var id int64
		var url string
		if err := rows.Scan(&id, &url); err != nil {
			return nil, err
		}
		active[url] = id
	}
	return active, rows.Err()
}

// AssignStrategy sets strategyID only when the source has none.
func (s *SQLiteStore) AssignStrategy(ctx context.Context, sourceID int64, strategyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sources SET strategy_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND (strategy_id IS NULL OR strategy_id = '')`, strategyID, sourceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active ORDER BY id`)
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

func (s *SQLiteStore) listSources(ctx context.Context, query string) ([]models.Source, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLiteStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// =============================================================================
// Runs
// =============================================================================

// CommitRun applies one run in a single transaction. Units are replaced only
// when the run succeeded; the run row is always appended.
func (s *SQLiteStore) CommitRun(ctx context.Context, c models.RunCommit, next models.TransitionFunc) (models.SourceState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.SourceState{}, err
	}
	defer tx.Rollback()

	var prev models.SourceState
	err = tx.QueryRowContext(ctx, `
		SELECT last_run_status, last_run_at, consecutive_zero_count, needs_attention, attention_since
		FROM sources WHERE id = ?`, c.SourceID).Scan(
		&prev.LastRunStatus, &prev.LastRunAt, &prev.ConsecutiveZeroCount, &prev.NeedsAttention, &prev.AttentionSince)
	if errors.Is(err, sql.ErrNoRows) {
		return prev, fmt.Errorf("source %d: %w", c.SourceID, ErrNotFound)
	}
	if err != nil {
		return prev, err
	}

	if c.Succeeded {
		if _, err := tx.ExecContext(ctx, `DELETE FROM units WHERE source_id = ?`, c.SourceID); err != nil {
			return prev, fmt.Errorf("delete units: %w", err)
		}
		if err := insertUnitsSQLite(ctx, tx, c.Units); err != nil {
			return prev, err
		}
	}

	state := next(prev)
	_, err = tx.ExecContext(ctx, `
		UPDATE sources SET last_run_status = ?, last_run_at = ?, consecutive_zero_count = ?,
			needs_attention = ?, attention_since = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		state.LastRunStatus, state.LastRunAt, state.ConsecutiveZeroCount,
		state.NeedsAttention, state.AttentionSince, c.SourceID)
	if err != nil {
		return prev, fmt.Errorf("update source state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scrape_runs (source_id, strategy_id, run_at, status, unit_count, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		c.SourceID, c.StrategyID, c.RunAt.UTC(), runStatus(c.Succeeded), unitCount(c), c.ErrorMessage, durationMillis(c.Duration))
	if err != nil {
		return prev, fmt.Errorf("insert run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return prev, err
	}
	return state, nil
}

func insertUnitsSQLite(ctx context.Context, tx *sql.Tx, units []models.Unit) error {
	if len(units) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (source_id, unit_label, bed_type, non_canonical, rent_cents, availability_date,
			floor_plan_name, floor_plan_url, baths, sqft, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range units {
		_, err := stmt.ExecContext(ctx, u.SourceID, u.UnitLabel, u.BedType, u.NonCanonical, u.RentCents,
			u.AvailabilityDate, u.FloorPlanName, u.FloorPlanURL, u.Baths, u.SqFt, u.CapturedAt)
		if err != nil {
			return fmt.Errorf("insert unit %s: %w", u.UnitLabel, err)
		}
	}
	return nil
}

// ListRuns returns the newest run rows, optionally for one source
// (sourceID 0 means all).
func (s *SQLiteStore) ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query := `SELECT id, source_id, COALESCE(strategy_id, ''), run_at, status, unit_count,
		COALESCE(error_message, ''), duration_ms FROM scrape_runs`
	args := []any{}
	if sourceID > 0 {
		query += ` WHERE source_id = ?`
		args = append(args, sourceID)
	}
	query += ` ORDER BY run_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows interface {
	rowScanner
	Next() bool
	Err() error
}) ([]models.ScrapeRun, error) {
	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var ms int64
		if err := rows.Scan(&r.ID, &r.SourceID, &r.StrategyID, &r.RunAt, &r.Status, &r.UnitCount, &r.ErrorMessage, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrape_runs WHERE run_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// =============================================================================
// Units
// =============================================================================

func (s *SQLiteStore) QueryUnits(ctx context.Context, f models.UnitFilter) ([]models.UnitView, error) {
	query, args := unitQuery(f, questionMark)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []models.UnitView
	for rows.Next() {
		v, err := scanUnitView(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, v)
	}
	return units, rows.Err()
}

func scanUnitView(row rowScanner) (models.UnitView, error) {
	var v models.UnitView
	err := row.Scan(&v.ID, &v.SourceID, &v.UnitLabel, &v.BedType, &v.NonCanonical, &v.RentCents,
		&v.AvailabilityDate, &v.FloorPlanName, &v.FloorPlanURL, &v.Baths, &v.SqFt, &v.CapturedAt,
		&v.SourceName, &v.SourceURL, &v.Neighborhood, &v.LastRunStatus, &v.LastRunAt)
	return v, err
}

func (s *SQLiteStore) CountUnits(ctx context.Context, sourceID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE source_id = ?`, sourceID).Scan(&n)
	return n, err
}

// =============================================================================
// Commands and logs
// =============================================================================

func (s *SQLiteStore) GetPendingCommands(ctx context.Context) ([]models.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, string(data), time.Now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) MarkCommandProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func (s *SQLiteStore) Log(level models.LogLevel, sourceID *int64, message string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (timestamp, level, message, source_id)
		VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), level, message, sourceID)
	return err
}

func (s *SQLiteStore) RecentLogs(ctx context.Context, limit int) ([]models.ScrapeLog, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, level, message, source_id
		FROM scrape_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.SourceID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// PruneLogs deletes log lines older than before.
func (s *SQLiteStore) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scrape_logs WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
