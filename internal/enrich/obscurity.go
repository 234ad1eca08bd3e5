package enrich

import (
	"sort"

	"github.com/rotisserie/eris"
)

// SubjectRank carries the signals an obscurity policy may consult when
// ordering batch-eligible subjects. Zero values mean "unknown".
type SubjectRank struct {
	PersonID    int64
	TitleCount  int     // filmography size on record
	Popularity  float64 // external popularity score, higher is better known
	DeathYear   int
	HasKnownCOD bool
}

// ObscurityPolicy scores how obscure a subject is, in [0,1] with 1 the
// most obscure. The cascade never consults obscurity; it only orders
// which subjects a batch run picks up first (better-known subjects
// lead, since their sources are richer).
type ObscurityPolicy interface {
	Name() string
	Score(rank SubjectRank) float64
}

// NewObscurityPolicy selects a policy by config name.
func NewObscurityPolicy(name string) (ObscurityPolicy, error) {
	switch name {
	case "", "filmography":
		return FilmographyPolicy{Threshold: defaultFilmographyThreshold}, nil
	case "popularity":
		return PopularityPolicy{Threshold: defaultPopularityThreshold}, nil
	default:
		return nil, eris.Errorf("enrich: unknown obscurity policy %q", name)
	}
}

const (
	defaultFilmographyThreshold = 20
	defaultPopularityThreshold  = 10.0
)

// FilmographyPolicy treats subjects with small filmographies as
// obscure: fewer credited titles than the threshold scales the score
// up linearly.
type FilmographyPolicy struct {
	Threshold int
}

func (FilmographyPolicy) Name() string { return "filmography" }

// Score returns 1 for an empty filmography, 0 at or past the threshold.
func (p FilmographyPolicy) Score(rank SubjectRank) float64 {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = defaultFilmographyThreshold
	}
	if rank.TitleCount >= threshold {
		return 0
	}
	return 1 - float64(rank.TitleCount)/float64(threshold)
}

// PopularityPolicy treats subjects below a popularity threshold as
// obscure.
type PopularityPolicy struct {
	Threshold float64
}

func (PopularityPolicy) Name() string { return "popularity" }

// Score returns 1 at zero popularity, 0 at or past the threshold.
func (p PopularityPolicy) Score(rank SubjectRank) float64 {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = defaultPopularityThreshold
	}
	if rank.Popularity >= threshold {
		return 0
	}
	return 1 - rank.Popularity/threshold
}

// OrderByObscurity sorts ranks ascending by obscurity so the least
// obscure subjects are enriched first. The sort is stable: equal scores
// keep their input order.
func OrderByObscurity(policy ObscurityPolicy, ranks []SubjectRank) {
	sort.SliceStable(ranks, func(i, j int) bool {
		return policy.Score(ranks[i]) < policy.Score(ranks[j])
	})
}
