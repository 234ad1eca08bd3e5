package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS actors (
	person_id   INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	birth_year  TEXT NOT NULL DEFAULT '',
	death_year  TEXT NOT NULL DEFAULT '',
	professions TEXT NOT NULL DEFAULT '',
	title_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS death_records (
	person_id          INTEGER PRIMARY KEY,
	circumstances      TEXT NOT NULL DEFAULT '',
	rumored            TEXT NOT NULL DEFAULT '',
	factors            TEXT NOT NULL DEFAULT '[]',
	related_persons    TEXT NOT NULL DEFAULT '[]',
	location           TEXT NOT NULL DEFAULT '',
	additional_context TEXT NOT NULL DEFAULT '',
	provenance         TEXT NOT NULL DEFAULT '{}',
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS subject_cache (
	person_id  INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	stats       TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS subject_stats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	person_id  INTEGER NOT NULL,
	stats      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_provenance (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	person_id     INTEGER NOT NULL,
	field_key     TEXT NOT NULL,
	winner_source TEXT NOT NULL,
	winner_value  TEXT NOT NULL,
	confidence    REAL NOT NULL,
	threshold     REAL NOT NULL,
	threshold_met INTEGER NOT NULL,
	attempts      TEXT NOT NULL,
	cost_usd      REAL NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id          TEXT PRIMARY KEY,
	person_id   INTEGER NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	reason      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_actors_death_year ON actors(death_year);
CREATE INDEX IF NOT EXISTS idx_subject_stats_run ON subject_stats(run_id);
CREATE INDEX IF NOT EXISTS idx_provenance_person ON field_provenance(person_id);
CREATE INDEX IF NOT EXISTS idx_provenance_run ON field_provenance(run_id);
CREATE INDEX IF NOT EXISTS idx_review_queue_resolved ON review_queue(resolved_at);
CREATE INDEX IF NOT EXISTS idx_subject_cache_expires ON subject_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListEnrichable(ctx context.Context, limit int) ([]Enrichable, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.person_id, a.name, a.birth_year, a.death_year, a.title_count,
		       COALESCE(d.rumored, ''), COALESCE(d.factors, '[]'),
		       COALESCE(d.related_persons, '[]'), COALESCE(d.location, ''),
		       COALESCE(d.additional_context, ''), COALESCE(d.provenance, '{}')
		FROM actors a
		LEFT JOIN death_records d ON d.person_id = a.person_id
		WHERE a.death_year != '' AND COALESCE(d.circumstances, '') = ''
		ORDER BY a.title_count DESC, a.person_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list enrichable")
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
			return nil, eris.Wrap(err, "sqlite: scan enrichable")
		}
		if err := decodeRecord(&e.Subject.Known, factorsJSON, relatedJSON, provJSON); err != nil {
			return nil, err
		}
		e.Rank.PersonID = e.Subject.PersonID
		e.Rank.DeathYear = yearOf(e.Subject.DeathYear)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list enrichable iterate")
}

func (s *SQLiteStore) GetSubject(ctx context.Context, personID int64) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.person_id, a.name, a.birth_year, a.death_year,
		       COALESCE(d.circumstances, ''), COALESCE(d.rumored, ''),
		       COALESCE(d.factors, '[]'), COALESCE(d.related_persons, '[]'),
		       COALESCE(d.location, ''), COALESCE(d.additional_context, ''),
		       COALESCE(d.provenance, '{}')
		FROM actors a
		LEFT JOIN death_records d ON d.person_id = a.person_id
		WHERE a.person_id = ?`,
		personID,
	)

	var subj model.Subject
	var factorsJSON, relatedJSON, provJSON []byte
	err := row.Scan(
		&subj.PersonID, &subj.Name, &subj.BirthYear, &subj.DeathYear,
		&subj.Known.Circumstances, &subj.Known.Rumored,
		&factorsJSON, &relatedJSON,
		&subj.Known.Location, &subj.Known.AdditionalContext, &provJSON,
	)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: subject %d not found", personID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get subject %d", personID)
	}
	if err := decodeRecord(&subj.Known, factorsJSON, relatedJSON, provJSON); err != nil {
		return nil, err
	}
	return &subj, nil
}

func (s *SQLiteStore) UpsertDeathRecord(ctx context.Context, personID int64, data model.EnrichmentData, supersede bool) error {
	existing, err := s.GetDeathRecord(ctx, personID)
	if err != nil {
		return err
	}
	merged := MergeRecord(existing, data, supersede)

	enc, err := encodeRecord(merged)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO death_records
			(person_id, circumstances, rumored, factors, related_persons, location, additional_context, provenance, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			circumstances = excluded.circumstances,
			rumored = excluded.rumored,
			factors = excluded.factors,
			related_persons = excluded.related_persons,
			location = excluded.location,
			additional_context = excluded.additional_context,
			provenance = excluded.provenance,
			updated_at = excluded.updated_at`,
		personID, merged.Circumstances, merged.Rumored,
		string(enc.Factors), string(enc.Related),
		merged.Location, merged.AdditionalContext, string(enc.Provenance),
		time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert death record %d", personID)
}

func (s *SQLiteStore) GetDeathRecord(ctx context.Context, personID int64) (*model.EnrichmentData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT circumstances, rumored, factors, related_persons, location, additional_context, provenance
		FROM death_records WHERE person_id = ?`,
		personID,
	)

	var data model.EnrichmentData
	var factorsJSON, relatedJSON, provJSON []byte
	err := row.Scan(
		&data.Circumstances, &data.Rumored, &factorsJSON, &relatedJSON,
		&data.Location, &data.AdditionalContext, &provJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get death record %d", personID)
	}
	if err := decodeRecord(&data, factorsJSON, relatedJSON, provJSON); err != nil {
		return nil, err
	}
	return &data, nil
}

func (s *SQLiteStore) GetCachedSubject(ctx context.Context, personID int64) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM subject_cache
		WHERE person_id = ? AND expires_at > datetime('now')`,
		personID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cached subject %d", personID)
	}
	return payload, nil
}

func (s *SQLiteStore) SetCachedSubject(ctx context.Context, personID int64, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subject_cache (person_id, payload, cached_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET payload = excluded.payload,
			cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		personID, string(payload), now, now.Add(ttl),
	)
	return eris.Wrapf(err, "sqlite: set cached subject %d", personID)
}

func (s *SQLiteStore) InvalidateCache(ctx context.Context, personID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subject_cache WHERE person_id = ?`, personID,
	)
	return eris.Wrapf(err, "sqlite: invalidate cache %d", personID)
}

func (s *SQLiteStore) RecordRunStats(ctx context.Context, stats model.RunStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, mode, stats, started_at, finished_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET stats = excluded.stats, finished_at = excluded.finished_at`,
		stats.RunID, stats.Mode, string(payload), stats.StartedAt, stats.FinishedAt,
	)
	return eris.Wrapf(err, "sqlite: record run %s", stats.RunID)
}

func (s *SQLiteStore) RecordSubjectStats(ctx context.Context, stats model.SubjectStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal subject stats")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subject_stats (run_id, person_id, stats, created_at) VALUES (?, ?, ?, ?)`,
		stats.RunID, stats.PersonID, string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record subject stats %d", stats.PersonID)
}

func (s *SQLiteStore) SaveFieldProvenance(ctx context.Context, rows []model.FieldProvenance) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin provenance tx")
	}
	defer tx.Rollback()

	for _, row := range rows {
		attempts, err := json.Marshal(row.Attempts)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal attempts")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO field_provenance
				(run_id, person_id, field_key, winner_source, winner_value, confidence,
				 threshold, threshold_met, attempts, cost_usd, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.RunID, row.PersonID, row.FieldKey, row.WinnerSource, row.WinnerValue,
			row.Confidence, row.Threshold, row.ThresholdMet, string(attempts),
			row.CostUSD, row.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert provenance %s/%s", row.RunID, row.FieldKey)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit provenance")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunStats, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT stats FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RunStats
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var stats model.RunStats
		if err := json.Unmarshal(payload, &stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run stats")
		}
		out = append(out, stats)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AddReviewItem(ctx context.Context, item resilience.ReviewItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_queue (id, person_id, name, source, url, status_code, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.PersonID, item.Name, item.Source, item.URL,
		item.StatusCode, item.Reason, item.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add review item")
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, unresolvedOnly bool, limit int) ([]resilience.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, person_id, name, source, url, status_code, reason, created_at, resolved_at
	          FROM review_queue`
	if unresolvedOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review items")
	}
	defer rows.Close()

	var items []resilience.ReviewItem
	for rows.Next() {
		var item resilience.ReviewItem
		var resolved sql.NullTime
		if err := rows.Scan(&item.ID, &item.PersonID, &item.Name, &item.Source,
			&item.URL, &item.StatusCode, &item.Reason, &item.CreatedAt, &resolved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		if resolved.Valid {
			item.ResolvedAt = resolved.Time
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list review items iterate")
}

func (s *SQLiteStore) ResolveReviewItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_queue SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review item %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("review item not found or already resolved: %s", id)
	}
	return nil
}

func (s *SQLiteStore) UpsertActors(ctx context.Context, actors []Actor) (int64, error) {
	if len(actors) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin actors tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actors (person_id, name, birth_year, death_year, professions, title_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id) DO UPDATE SET
			name = excluded.name, birth_year = excluded.birth_year,
			death_year = excluded.death_year, professions = excluded.professions,
			title_count = excluded.title_count`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare actors upsert")
	}
	defer stmt.Close()

	var n int64
	for _, a := range actors {
		if _, err := stmt.ExecContext(ctx, a.PersonID, a.Name, a.BirthYear,
			a.DeathYear, a.Professions, a.TitleCount); err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert actor %d", a.PersonID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit actors")
	}
	return n, nil
}

// yearOf parses the text year IMDb ships; 0 when absent or malformed.
func yearOf(s string) int {
	year := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	if len(s) != 4 {
		return 0
	}
	return year
}

var _ Store = (*SQLiteStore)(nil)
var _ enrich.ReviewSink = (*SQLiteStore)(nil)
