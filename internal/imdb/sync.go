// Package imdb syncs the IMDb name.basics dataset into the actor store.
package imdb

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/fetcher"
	"github.com/deadonfilm/deadonfilm/internal/store"
)

const defaultChunkSize = 5000

// nullField is the dataset's marker for a missing value.
const nullField = `\N`

// ActorStore receives the filtered dataset rows.
type ActorStore interface {
	UpsertActors(ctx context.Context, actors []store.Actor) (int64, error)
}

// SyncResult summarizes one dataset sync.
type SyncResult struct {
	RowsScanned    int64 `json:"rows_scanned"`
	ActorsUpserted int64 `json:"actors_upserted"`
	RowsSkipped    int64 `json:"rows_skipped"`
}

// Syncer streams name.basics.tsv.gz and upserts deceased performers.
type Syncer struct {
	fetcher   fetcher.Fetcher
	actors    ActorStore
	chunkSize int
	keepFile  string
}

// NewSyncer creates a Syncer. chunkSize <= 0 uses the default.
func NewSyncer(f fetcher.Fetcher, actors ActorStore, chunkSize int) *Syncer {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Syncer{fetcher: f, actors: actors, chunkSize: chunkSize}
}

// WithKeepFile retains a copy of the raw downloaded archive at path.
func (s *Syncer) WithKeepFile(path string) *Syncer {
	s.keepFile = path
	return s
}

// Sync downloads the dataset at url and upserts every performer with a
// recorded death year. Living people and non-performing professions are
// skipped. The download is streamed; unless a keep file is set, the
// full dataset never touches disk.
func (s *Syncer) Sync(ctx context.Context, url string) (*SyncResult, error) {
	log := zap.L().With(zap.String("dataset", "name.basics"))
	log.Info("downloading dataset", zap.String("url", url))

	body, err := s.fetcher.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "imdb: download dataset")
	}
	defer body.Close()

	var raw io.Reader = body
	if s.keepFile != "" {
		f, err := os.Create(s.keepFile)
		if err != nil {
			return nil, eris.Wrapf(err, "imdb: create keep file %s", s.keepFile)
		}
		defer f.Close()
		raw = io.TeeReader(body, f)
	}

	gz, err := gzip.NewReader(raw)
	if err != nil {
		return nil, eris.Wrap(err, "imdb: open gzip stream")
	}
	defer gz.Close()

	rowCh, errCh := fetcher.StreamCSV(ctx, gz, fetcher.CSVOptions{
		Delimiter:  '\t',
		LazyQuotes: true,
	})

	colIdx := map[string]int{}
	header := true
	result := &SyncResult{}
	chunk := make([]store.Actor, 0, s.chunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := s.actors.UpsertActors(ctx, chunk)
		if err != nil {
			return eris.Wrap(err, "imdb: upsert actors")
		}
		result.ActorsUpserted += n
		chunk = chunk[:0]
		return nil
	}

	for record := range rowCh {
		if header {
			colIdx = mapColumns(record)
			header = false
			continue
		}
		result.RowsScanned++

		actor, ok := parseRow(record, colIdx)
		if !ok {
			result.RowsSkipped++
			continue
		}
		chunk = append(chunk, actor)

		if len(chunk) >= s.chunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := <-errCh; err != nil {
		return result, eris.Wrap(err, "imdb: stream dataset")
	}
	if err := flush(); err != nil {
		return result, err
	}

	log.Info("dataset sync complete",
		zap.Int64("rows_scanned", result.RowsScanned),
		zap.Int64("actors_upserted", result.ActorsUpserted),
		zap.Int64("rows_skipped", result.RowsSkipped))
	return result, nil
}

// parseRow maps one dataset record to an Actor. It returns false for
// rows outside scope: living people, non-performers, malformed IDs.
func parseRow(record []string, colIdx map[string]int) (store.Actor, bool) {
	deathYear := field(record, colIdx, "deathyear")
	if deathYear == "" {
		return store.Actor{}, false
	}

	professions := field(record, colIdx, "primaryprofession")
	if !isPerformer(professions) {
		return store.Actor{}, false
	}

	personID, err := parseNConst(field(record, colIdx, "nconst"))
	if err != nil {
		return store.Actor{}, false
	}

	name := field(record, colIdx, "primaryname")
	if name == "" {
		return store.Actor{}, false
	}

	return store.Actor{
		PersonID:    personID,
		Name:        name,
		BirthYear:   field(record, colIdx, "birthyear"),
		DeathYear:   deathYear,
		Professions: professions,
		TitleCount:  countTitles(field(record, colIdx, "knownfortitles")),
	}, true
}

// isPerformer reports whether the profession list includes an acting
// credit. Directors-only and crew-only entries are out of scope.
func isPerformer(professions string) bool {
	for _, p := range strings.Split(professions, ",") {
		switch strings.TrimSpace(p) {
		case "actor", "actress":
			return true
		}
	}
	return false
}

// parseNConst converts an "nm0000123" identifier to its numeric ID.
func parseNConst(nconst string) (int64, error) {
	digits := strings.TrimPrefix(nconst, "nm")
	if digits == nconst || digits == "" {
		return 0, eris.Errorf("imdb: malformed nconst %q", nconst)
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "imdb: malformed nconst %q", nconst)
	}
	return id, nil
}

func countTitles(titles string) int {
	if titles == "" {
		return 0
	}
	return len(strings.Split(titles, ","))
}

// field fetches a column by dataset header name, treating \N as empty.
func field(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	v := strings.TrimSpace(record[idx])
	if v == nullField {
		return ""
	}
	return v
}

// mapColumns builds a case-insensitive column name to index map.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}
