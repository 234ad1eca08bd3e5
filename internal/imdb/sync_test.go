package imdb

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/store"
)

const testTSV = "nconst\tprimaryName\tbirthYear\tdeathYear\tprimaryProfession\tknownForTitles\n" +
	"nm0000001\tFred Astaire\t1899\t1987\tactor,soundtrack,miscellaneous\ttt0050419,tt0053137,tt0072308,tt0043044\n" +
	"nm0000002\tLauren Bacall\t1924\t2014\tactress,soundtrack,archive_footage\ttt0037382,tt0075213,tt0117057\n" +
	"nm0000003\tBrigitte Bardot\t1934\t\\N\tactress,music_department,producer\ttt0057345\n" +
	"nm0000004\tJohn Belushi\t1949\t1982\tactor,writer,music_department\ttt0077975,tt0080455\n" +
	"nm0000005\tIngmar Bergman\t1918\t2007\twriter,director,producer\ttt0050976\n" +
	"bogus\tBad Row\t\\N\t1900\tactor\t\\N\n"

// stubFetcher serves a fixed body for any URL.
type stubFetcher struct {
	body []byte
	err  error
}

func (s *stubFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.body)), nil
}

func (s *stubFetcher) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	return 0, eris.New("not implemented")
}

func (s *stubFetcher) HeadETag(ctx context.Context, url string) (string, error) {
	return "", eris.New("not implemented")
}

func (s *stubFetcher) DownloadIfChanged(ctx context.Context, url, etag string) (io.ReadCloser, string, bool, error) {
	return nil, "", false, eris.New("not implemented")
}

type memActorStore struct {
	batches [][]store.Actor
}

func (m *memActorStore) UpsertActors(ctx context.Context, actors []store.Actor) (int64, error) {
	batch := make([]store.Actor, len(actors))
	copy(batch, actors)
	m.batches = append(m.batches, batch)
	return int64(len(actors)), nil
}

func (m *memActorStore) all() []store.Actor {
	var out []store.Actor
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func gzipTSV(t *testing.T, tsv string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(tsv))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestSyncFiltersToDeceasedPerformers(t *testing.T) {
	actors := &memActorStore{}
	s := NewSyncer(&stubFetcher{body: gzipTSV(t, testTSV)}, actors, 0)

	result, err := s.Sync(context.Background(), "https://example.com/name.basics.tsv.gz")
	require.NoError(t, err)

	// Alive (Bardot), non-performer (Bergman), and malformed ID rows drop.
	assert.Equal(t, int64(6), result.RowsScanned)
	assert.Equal(t, int64(3), result.ActorsUpserted)
	assert.Equal(t, int64(3), result.RowsSkipped)

	all := actors.all()
	require.Len(t, all, 3)

	astaire := all[0]
	assert.Equal(t, int64(1), astaire.PersonID)
	assert.Equal(t, "Fred Astaire", astaire.Name)
	assert.Equal(t, "1899", astaire.BirthYear)
	assert.Equal(t, "1987", astaire.DeathYear)
	assert.Equal(t, "actor,soundtrack,miscellaneous", astaire.Professions)
	assert.Equal(t, 4, astaire.TitleCount)

	assert.Equal(t, int64(2), all[1].PersonID)
	assert.Equal(t, int64(4), all[2].PersonID)
	assert.Equal(t, 2, all[2].TitleCount)
}

func TestSyncChunksUpserts(t *testing.T) {
	actors := &memActorStore{}
	s := NewSyncer(&stubFetcher{body: gzipTSV(t, testTSV)}, actors, 2)

	result, err := s.Sync(context.Background(), "https://example.com/name.basics.tsv.gz")
	require.NoError(t, err)

	assert.Equal(t, int64(3), result.ActorsUpserted)
	require.Len(t, actors.batches, 2)
	assert.Len(t, actors.batches[0], 2)
	assert.Len(t, actors.batches[1], 1)
}

func TestSyncKeepFileRetainsArchive(t *testing.T) {
	body := gzipTSV(t, testTSV)
	path := filepath.Join(t.TempDir(), "name.basics.tsv.gz")
	s := NewSyncer(&stubFetcher{body: body}, &memActorStore{}, 0).WithKeepFile(path)

	_, err := s.Sync(context.Background(), "https://example.com/name.basics.tsv.gz")
	require.NoError(t, err)

	kept, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, kept)
}

func TestSyncRejectsNonGzipBody(t *testing.T) {
	s := NewSyncer(&stubFetcher{body: []byte("plain text")}, &memActorStore{}, 0)

	_, err := s.Sync(context.Background(), "https://example.com/name.basics.tsv.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip")
}

func TestSyncDownloadError(t *testing.T) {
	s := NewSyncer(&stubFetcher{err: eris.New("boom")}, &memActorStore{}, 0)

	_, err := s.Sync(context.Background(), "https://example.com/name.basics.tsv.gz")
	require.Error(t, err)
}

func TestParseNConst(t *testing.T) {
	id, err := parseNConst("nm0000123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)

	_, err = parseNConst("tt0000123")
	assert.Error(t, err)

	_, err = parseNConst("nm")
	assert.Error(t, err)
}

func TestIsPerformer(t *testing.T) {
	assert.True(t, isPerformer("actor,soundtrack"))
	assert.True(t, isPerformer("music_department, actress"))
	assert.False(t, isPerformer("writer,director,producer"))
	assert.False(t, isPerformer(""))
}

func TestCountTitles(t *testing.T) {
	assert.Equal(t, 0, countTitles(""))
	assert.Equal(t, 1, countTitles("tt0000001"))
	assert.Equal(t, 3, countTitles("tt1,tt2,tt3"))
}
