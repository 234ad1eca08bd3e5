package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/db"
	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_death_record": `SELECT circumstances, rumored, factors, related_persons, location, additional_context, provenance
	                     FROM death_records WHERE person_id = $1`,
	"upsert_death_record": `INSERT INTO death_records
	        (person_id, circumstances, rumored, factors, related_persons, location, additional_context, provenance, updated_at)
	    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	    ON CONFLICT (person_id) DO UPDATE SET
	        circumstances = EXCLUDED.circumstances, rumored = EXCLUDED.rumored,
	        factors = EXCLUDED.factors, related_persons = EXCLUDED.related_persons,
	        location = EXCLUDED.location, additional_context = EXCLUDED.additional_context,
	        provenance = EXCLUDED.provenance, updated_at = EXCLUDED.updated_at`,
	"invalidate_cache": `DELETE FROM subject_cache WHERE person_id = $1`,
	"insert_subject_stats": `INSERT INTO subject_stats (run_id, person_id, stats, created_at)
	    VALUES ($1, $2, $3, $4)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for the bulk IMDb loader.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS actors (
	person_id   BIGINT PRIMARY KEY,
	name        TEXT NOT NULL,
	birth_year  TEXT NOT NULL DEFAULT '',
	death_year  TEXT NOT NULL DEFAULT '',
	professions TEXT NOT NULL DEFAULT '',
	title_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS death_records (
	person_id          BIGINT PRIMARY KEY,
	circumstances      TEXT NOT NULL DEFAULT '',
	rumored            TEXT NOT NULL DEFAULT '',
	factors            JSONB NOT NULL DEFAULT '[]',
	related_persons    JSONB NOT NULL DEFAULT '[]',
	location           TEXT NOT NULL DEFAULT '',
	additional_context TEXT NOT NULL DEFAULT '',
	provenance         JSONB NOT NULL DEFAULT '{}',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subject_cache (
	person_id  BIGINT PRIMARY KEY,
	payload    JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	stats       JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subject_stats (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT NOT NULL,
	person_id  BIGINT NOT NULL,
	stats      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_provenance (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	person_id     BIGINT NOT NULL,
	field_key     TEXT NOT NULL,
	winner_source TEXT NOT NULL,
	winner_value  TEXT NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	threshold     DOUBLE PRECISION NOT NULL,
	threshold_met BOOLEAN NOT NULL,
	attempts      JSONB NOT NULL,
	cost_usd      DOUBLE PRECISION NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id          TEXT PRIMARY KEY,
	person_id   BIGINT NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_actors_death_year ON actors(death_year);
CREATE INDEX IF NOT EXISTS idx_subject_stats_run ON subject_stats(run_id);
CREATE INDEX IF NOT EXISTS idx_provenance_person ON field_provenance(person_id);
CREATE INDEX IF NOT EXISTS idx_provenance_run ON field_provenance(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_resolved ON review_queue(resolved_at);
CREATE INDEX IF NOT EXISTS idx_subject_cache_expires ON subject_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListEnrichable(ctx context.Context, limit int) ([]Enrichable, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.person_id, a.name, a.birth_year, a.death_year, a.title_count,
		       COALESCE(d.rumored, ''), COALESCE(d.factors, '[]'::jsonb),
		       COALESCE(d.related_persons, '[]'::jsonb), COALESCE(d.location, ''),
		       COALESCE(d.additional_context, ''), COALESCE(d.provenance, '{}'::jsonb)
		FROM actors a
		LEFT JOIN death_records d ON d.person_id = a.person_id
		WHERE a.death_year != '' AND COALESCE(d.circumstances, '') = ''
		ORDER BY a.title_count DESC, a.person_id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list enrichable")
	}
	defer rows.Close()

	var out []Enrichable
	for rows.Next() {
		var e Enrichable
		var factorsJSON, relatedJSON, provJSON []byte
		if err := rows.Scan(
			&e.Subject.PersonID, &e.Subject.Name, &e.Subject.BirthYear, &e.Subject.DeathYear,
			&e.Rank.TitleCount,
			&e.Subject.Known.Rumored, &factorsJSON, &relatedJSON,
			&e.Subject.Known.Location, &e.Subject.Known.AdditionalContext, &provJSON,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan enrichable")
		}
		if err := decodeRecord(&e.Subject.Known, factorsJSON, relatedJSON, provJSON); err != nil {
			return nil, err
		}
		e.Rank.PersonID = e.Subject.PersonID
		e.Rank.DeathYear = yearOf(e.Subject.DeathYear)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list enrichable iterate")
}

func (s *PostgresStore) GetSubject(ctx context.Context, personID int64) (*model.Subject, error) {
	var subj model.Subject
	var factorsJSON, relatedJSON, provJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT a.person_id, a.name, a.birth_year, a.death_year,
		       COALESCE(d.circumstances, ''), COALESCE(d.rumored, ''),
		       COALESCE(d.factors, '[]'::jsonb), COALESCE(d.related_persons, '[]'::jsonb),
		       COALESCE(d.location, ''), COALESCE(d.additional_context, ''),
		       COALESCE(d.provenance, '{}'::jsonb)
		FROM actors a
		LEFT JOIN death_records d ON d.person_id = a.person_id
		WHERE a.person_id = $1`,
		personID,
	).Scan(
		&subj.PersonID, &subj.Name, &subj.BirthYear, &subj.DeathYear,
		&subj.Known.Circumstances, &subj.Known.Rumored,
		&factorsJSON, &relatedJSON,
		&subj.Known.Location, &subj.Known.AdditionalContext, &provJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: subject %d not found", personID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get subject %d", personID)
	}
	if err := decodeRecord(&subj.Known, factorsJSON, relatedJSON, provJSON); err != nil {
		return nil, err
	}
	return &subj, nil
}

func (s *PostgresStore) UpsertDeathRecord(ctx context.Context, personID int64, data model.EnrichmentData, supersede bool) error {
	existing, err := s.GetDeathRecord(ctx, personID)
	if err != nil {
		return err
	}
	merged := MergeRecord(existing, data, supersede)

	enc, err := encodeRecord(merged)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, preparedStatements["upsert_death_record"],
		personID, merged.Circumstances, merged.Rumored,
		enc.Factors, enc.Related,
		merged.Location, merged.AdditionalContext, enc.Provenance,
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert death record %d", personID)
}

func (s *PostgresStore) GetDeathRecord(ctx context.Context, personID int64) (*model.EnrichmentData, error) {
	var data model.EnrichmentData
	var factorsJSON, relatedJSON, provJSON []byte

	err := s.pool.QueryRow(ctx, preparedStatements["get_death_record"], personID).Scan(
		&data.Circumstances, &data.Rumored, &factorsJSON, &relatedJSON,
		&data.Location, &data.AdditionalContext, &provJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get death record %d", personID)
	}
	if err := decodeRecord(&data, factorsJSON, relatedJSON, provJSON); err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *PostgresStore) GetCachedSubject(ctx context.Context, personID int64) ([]byte, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM subject_cache
		WHERE person_id = $1 AND expires_at > now()`,
		personID,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cached subject %d", personID)
	}
	return payload, nil
}

func (s *PostgresStore) SetCachedSubject(ctx context.Context, personID int64, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subject_cache (person_id, payload, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (person_id) DO UPDATE SET payload = $2, cached_at = $3, expires_at = $4`,
		personID, payload, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "postgres: set cached subject %d", personID)
}

func (s *PostgresStore) InvalidateCache(ctx context.Context, personID int64) error {
	_, err := s.pool.Exec(ctx, preparedStatements["invalidate_cache"], personID)
	return eris.Wrapf(err, "postgres: invalidate cache %d", personID)
}

func (s *PostgresStore) RecordRunStats(ctx context.Context, stats model.RunStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (run_id, mode, stats, started_at, finished_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id) DO UPDATE SET stats = $3, finished_at = $5`,
		stats.RunID, stats.Mode, payload, stats.StartedAt, stats.FinishedAt,
	)
	return eris.Wrapf(err, "postgres: record run %s", stats.RunID)
}

func (s *PostgresStore) RecordSubjectStats(ctx context.Context, stats model.SubjectStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal subject stats")
	}
	_, err = s.pool.Exec(ctx, preparedStatements["insert_subject_stats"],
		stats.RunID, stats.PersonID, payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record subject stats %d", stats.PersonID)
}

func (s *PostgresStore) SaveFieldProvenance(ctx context.Context, rows []model.FieldProvenance) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin provenance tx")
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		attempts, err := json.Marshal(row.Attempts)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal attempts")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO field_provenance
				(run_id, person_id, field_key, winner_source, winner_value, confidence,
				 threshold, threshold_met, attempts, cost_usd, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			row.RunID, row.PersonID, row.FieldKey, row.WinnerSource, row.WinnerValue,
			row.Confidence, row.Threshold, row.ThresholdMet, attempts,
			row.CostUSD, row.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert provenance %s/%s", row.RunID, row.FieldKey)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit provenance")
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunStats, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT stats FROM runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunStats
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var stats model.RunStats
		if err := json.Unmarshal(payload, &stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run stats")
		}
		out = append(out, stats)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AddReviewItem(ctx context.Context, item resilience.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO review_queue (id, person_id, name, source, url, status_code, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.PersonID, item.Name, item.Source, item.URL,
		item.StatusCode, item.Reason, item.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add review item")
}

func (s *PostgresStore) ListReviewItems(ctx context.Context, unresolvedOnly bool, limit int) ([]resilience.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, person_id, name, source, url, status_code, reason, created_at, resolved_at
	          FROM review_queue`
	if unresolvedOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var items []resilience.ReviewItem
	for rows.Next() {
		var item resilience.ReviewItem
		var resolved *time.Time
		if err := rows.Scan(&item.ID, &item.PersonID, &item.Name, &item.Source,
			&item.URL, &item.StatusCode, &item.Reason, &item.CreatedAt, &resolved); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		if resolved != nil {
			item.ResolvedAt = *resolved
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

func (s *PostgresStore) ResolveReviewItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_queue SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("review item not found or already resolved: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpsertActors(ctx context.Context, actors []Actor) (int64, error) {
	if len(actors) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(actors))
	for _, a := range actors {
		rows = append(rows, []any{a.PersonID, a.Name, a.BirthYear, a.DeathYear, a.Professions, a.TitleCount})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "actors",
		Columns:      []string{"person_id", "name", "birth_year", "death_year", "professions", "title_count"},
		ConflictKeys: []string{"person_id"},
	}, rows)
}

var _ Store = (*PostgresStore)(nil)
var _ enrich.ReviewSink = (*PostgresStore)(nil)
