package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

func newMockPostgres(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func emptyRecordRow() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"circumstances", "rumored", "factors", "related_persons",
		"location", "additional_context", "provenance",
	})
}

func TestPostgresUpsertDeathRecordNewSubject(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT circumstances`).
		WithArgs(int64(1)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO death_records`).
		WithArgs(int64(1), "Died of a heart attack.", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "Santa Monica, California", "",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertDeathRecord(context.Background(), 1, model.EnrichmentData{
		Circumstances: "Died of a heart attack.",
		Location:      "Santa Monica, California",
	}, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertDeathRecordKeepsExistingNarrative(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT circumstances`).
		WithArgs(int64(1)).
		WillReturnRows(emptyRecordRow().AddRow(
			"Died of a heart attack.", "", []byte(`[]`), []byte(`[]`), "", "", []byte(`{}`),
		))
	// The incoming narrative loses; only the location gap fills in.
	mock.ExpectExec(`INSERT INTO death_records`).
		WithArgs(int64(1), "Died of a heart attack.", "",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "Santa Monica, California", "",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertDeathRecord(context.Background(), 1, model.EnrichmentData{
		Circumstances: "Died of heart failure.",
		Location:      "Santa Monica, California",
	}, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertDeathRecordSupersede(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectQuery(`SELECT circumstances`).
		WithArgs(int64(1)).
		WillReturnRows(emptyRecordRow().AddRow(
			"Died of a heart attack.", "Rumored to have been poisoned.",
			[]byte(`[]`), []byte(`[]`), "", "", []byte(`{}`),
		))
	mock.ExpectExec(`INSERT INTO death_records`).
		WithArgs(int64(1), "Died of heart failure following surgery.",
			"Rumored to have been poisoned.",
			pgxmock.AnyArg(), pgxmock.AnyArg(), "", "",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertDeathRecord(context.Background(), 1, model.EnrichmentData{
		Circumstances: "Died of heart failure following surgery.",
	}, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInvalidateCache(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`DELETE FROM subject_cache`).
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.InvalidateCache(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveReviewItemNotFound(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectExec(`UPDATE review_queue`).
		WithArgs(pgxmock.AnyArg(), "missing-id").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResolveReviewItem(context.Background(), "missing-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRuns(t *testing.T) {
	s, mock := newMockPostgres(t)

	stats := model.RunStats{RunID: "run-1", Mode: "batch", SubjectsEnriched: 3, StartedAt: time.Now().UTC()}
	payload, err := json.Marshal(stats)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT stats FROM runs`).
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"stats"}).AddRow(payload))

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 3, runs[0].SubjectsEnriched)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveFieldProvenanceTx(t *testing.T) {
	s, mock := newMockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO field_provenance`).
		WithArgs("run-1", int64(1), model.FieldCircumstances, "wikidata",
			"Died of a heart attack.", 0.9, 0.5, true,
			pgxmock.AnyArg(), 0.0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveFieldProvenance(context.Background(), []model.FieldProvenance{{
		RunID: "run-1", PersonID: 1, FieldKey: model.FieldCircumstances,
		WinnerSource: "wikidata", WinnerValue: "Died of a heart attack.",
		Confidence: 0.9, Threshold: 0.5, ThresholdMet: true,
		CreatedAt: time.Now().UTC(),
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
