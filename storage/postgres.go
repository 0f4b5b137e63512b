package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		neighborhood TEXT,
		management_company TEXT,
		strategy_id TEXT,
		rentcafe_property_id TEXT,
		rentcafe_api_token TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_status TEXT NOT NULL DEFAULT 'never',
		last_run_at TIMESTAMPTZ,
		consecutive_zero_count INTEGER NOT NULL DEFAULT 0,
		needs_attention BOOLEAN NOT NULL DEFAULT FALSE,
		attention_since TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS units (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		unit_label TEXT NOT NULL,
		bed_type TEXT NOT NULL,
		non_canonical BOOLEAN NOT NULL DEFAULT FALSE,
		rent_cents BIGINT NOT NULL,
		availability_date TEXT NOT NULL CHECK (availability_date ~ '^\d{4}-\d{2}-\d{2}$'),
		floor_plan_name TEXT,
		floor_plan_url TEXT,
		baths TEXT,
		sqft INTEGER,
		captured_at TIMESTAMPTZ NOT NULL,
		UNIQUE (source_id, unit_label)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL,
		strategy_id TEXT,
		run_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		unit_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_units_filter ON units (bed_type, rent_cents, availability_date);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON scrape_runs (source_id, run_at);
	CREATE INDEX IF NOT EXISTS idx_runs_run_at ON scrape_runs (run_at);
	`)
	return err
}

func (s *PostgresStore) runInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// Sources
// =============================================================================

func (s *PostgresStore) SyncSources(ctx context.Context, records []models.SourceRecord) (models.SyncStats, error) {
	var stats models.SyncStats

	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, url FROM sources WHERE active`)
		if err != nil {
			return err
		}
		active := make(map[string]int64)
		for rows.Next() {
			var id int64
			var url string
			if err := rows.Scan(&id, &url); err != nil {
				rows.Close()
				return err
			}
			active[url] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		plan := planSync(records, active)
		if plan.skipped > 0 {
			log.Printf("Source sync: skipped %d records without name/url or duplicated", plan.skipped)
		}

		for _, r := range plan.records {
			var inserted bool
			err := tx.QueryRow(ctx, `
				INSERT INTO sources (name, url, neighborhood, management_company, strategy_id,
					rentcafe_property_id, rentcafe_api_token, active)
				VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), TRUE)
				ON CONFLICT (url) DO UPDATE SET
					name = EXCLUDED.name,
					neighborhood = EXCLUDED.neighborhood,
					management_company = EXCLUDED.management_company,
					strategy_id = COALESCE(EXCLUDED.strategy_id, sources.strategy_id),
					rentcafe_property_id = EXCLUDED.rentcafe_property_id,
					rentcafe_api_token = EXCLUDED.rentcafe_api_token,
					active = TRUE,
					updated_at = NOW()
				RETURNING (xmax = 0)`,
				r.Name, r.URL, r.Neighborhood, r.ManagementCompany, r.StrategyID,
				r.RentCafePropertyCode, r.RentCafeAPIToken,
			).Scan(&inserted)
			if err != nil {
				return fmt.Errorf("upsert source %s: %w", r.URL, err)
			}
			if inserted {
				stats.Added++
			} else {
				stats.Updated++
			}
		}

		if len(plan.deactivate) > 0 {
			tag, err := tx.Exec(ctx, `UPDATE sources SET active = FALSE, updated_at = NOW() WHERE id = ANY($1)`, plan.deactivate)
			if err != nil {
				return err
			}
			stats.Deactivated = int(tag.RowsAffected())
		}
		return nil
	})
	return stats, err
}

func (s *PostgresStore) AssignStrategy(ctx context.Context, sourceID int64, strategyID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources SET strategy_id = $1, updated_at = NOW()
		WHERE id = $2 AND (strategy_id IS NULL OR strategy_id = '')`, strategyID, sourceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active ORDER BY id`)
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]models.Source, error) {
	return s.listSources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
}

func (s *PostgresStore) listSources(ctx context.Context, query string) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, query)
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

func (s *PostgresStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

// CommitRun locks the source row, replaces its units on success, applies the
// state transition and appends the run row, all in one transaction. Readers
// see either the old unit set or the new one.
func (s *PostgresStore) CommitRun(ctx context.Context, c models.RunCommit, next models.TransitionFunc) (models.SourceState, error) {
	var state models.SourceState

	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		var prev models.SourceState
		err := tx.QueryRow(ctx, `
			SELECT last_run_status, last_run_at, consecutive_zero_count, needs_attention, attention_since
			FROM sources WHERE id = $1 FOR UPDATE`, c.SourceID).Scan(
			&prev.LastRunStatus, &prev.LastRunAt, &prev.ConsecutiveZeroCount, &prev.NeedsAttention, &prev.AttentionSince)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("source %d: %w", c.SourceID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		b := &pgx.Batch{}
		if c.Succeeded {
			b.Queue(`DELETE FROM units WHERE source_id = $1`, c.SourceID)
			for _, u := range c.Units {
				b.Queue(`
					INSERT INTO units (source_id, unit_label, bed_type, non_canonical, rent_cents, availability_date,
						floor_plan_name, floor_plan_url, baths, sqft, captured_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
					u.SourceID, u.UnitLabel, u.BedType, u.NonCanonical, u.RentCents, u.AvailabilityDate,
					u.FloorPlanName, u.FloorPlanURL, u.Baths, u.SqFt, u.CapturedAt)
			}
		}

		state = next(prev)
		b.Queue(`
			UPDATE sources SET last_run_status = $1, last_run_at = $2, consecutive_zero_count = $3,
				needs_attention = $4, attention_since = $5, updated_at = NOW()
			WHERE id = $6`,
			string(state.LastRunStatus), state.LastRunAt, state.ConsecutiveZeroCount,
			state.NeedsAttention, state.AttentionSince, c.SourceID)
		b.Queue(`
			INSERT INTO scrape_runs (source_id, strategy_id, run_at, status, unit_count, error_message, duration_ms)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
			c.SourceID, c.StrategyID, c.RunAt, string(runStatus(c.Succeeded)), unitCount(c),
			c.ErrorMessage, durationMillis(c.Duration))

		br := tx.SendBatch(ctx, b)
		for i := 0; i < b.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("commit run statement %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return models.SourceState{}, err
	}
	return state, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	query := `SELECT id, source_id, COALESCE(strategy_id, ''), run_at, status, unit_count,
		COALESCE(error_message, ''), duration_ms FROM scrape_runs`
	args := []any{}
	if sourceID > 0 {
		query += ` WHERE source_id = $1`
		args = append(args, sourceID)
	}
	query += fmt.Sprintf(` ORDER BY run_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (s *PostgresStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_runs WHERE run_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Units
// =============================================================================

func (s *PostgresStore) QueryUnits(ctx context.Context, f models.UnitFilter) ([]models.UnitView, error) {
	query, args := unitQuery(f, dollar)
	rows, err := s.pool.Query(ctx, query, args...)
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
