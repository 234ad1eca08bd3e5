// Package store persists actors, death records, run history, and the
// review queue. Two drivers ship: postgres (pgx pool) for production
// and sqlite (modernc) for local runs; both apply their schema through
// Migrate and expose the same Store interface.
package store

import (
	"context"
	"time"

	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// Actor is one row of the IMDb-derived actors table.
type Actor struct {
	PersonID    int64  `json:"person_id"`
	Name        string `json:"name"`
	BirthYear   string `json:"birth_year,omitempty"`
	DeathYear   string `json:"death_year,omitempty"`
	Professions string `json:"professions,omitempty"`
	TitleCount  int    `json:"title_count"`
}

// Enrichable pairs a subject still lacking a narrative with the ranking
// signals an obscurity policy consults when ordering a run.
type Enrichable struct {
	Subject model.Subject
	Rank    enrich.SubjectRank
}

// Store is the persistence surface for the enrichment engine.
type Store interface {
	// Subjects
	ListEnrichable(ctx context.Context, limit int) ([]Enrichable, error)
	GetSubject(ctx context.Context, personID int64) (*model.Subject, error)

	// Death records. Upsert keeps existing non-empty fields unless
	// supersede is set; in either direction the losing side only fills
	// gaps, never clobbers.
	UpsertDeathRecord(ctx context.Context, personID int64, data model.EnrichmentData, supersede bool) error
	GetDeathRecord(ctx context.Context, personID int64) (*model.EnrichmentData, error)

	// Rendered-subject cache. Writes to a death record must be followed
	// by InvalidateCache so stale renderings never outlive the data.
	GetCachedSubject(ctx context.Context, personID int64) ([]byte, error)
	SetCachedSubject(ctx context.Context, personID int64, payload []byte, ttl time.Duration) error
	InvalidateCache(ctx context.Context, personID int64) error

	// Run history and audit trail
	RecordRunStats(ctx context.Context, stats model.RunStats) error
	RecordSubjectStats(ctx context.Context, stats model.SubjectStats) error
	SaveFieldProvenance(ctx context.Context, rows []model.FieldProvenance) error
	ListRuns(ctx context.Context, limit int) ([]model.RunStats, error)

	// Review queue for blocked sources
	AddReviewItem(ctx context.Context, item resilience.ReviewItem) error
	ListReviewItems(ctx context.Context, unresolvedOnly bool, limit int) ([]resilience.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string) error

	// IMDb dataset sync
	UpsertActors(ctx context.Context, actors []Actor) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// MergeRecord combines an existing death record with incoming fields.
// Without supersede the existing record wins every field it already
// has; with supersede the incoming fields win and the existing record
// only fills what the incoming data left empty. Per-field provenance
// follows whichever side contributed the field.
func MergeRecord(existing *model.EnrichmentData, incoming model.EnrichmentData, supersede bool) model.EnrichmentData {
	if existing == nil {
		return incoming
	}
	if supersede {
		merged := incoming
		overlay(&merged, *existing)
		return merged
	}
	merged := *existing
	overlay(&merged, incoming)
	return merged
}

// overlay fills fields still empty in dst from src, carrying src's
// provenance stamp for each field it contributes.
func overlay(dst *model.EnrichmentData, src model.EnrichmentData) {
	take := func(key string) {
		if ref, ok := src.ProvenanceOf(key); ok {
			if dst.Provenance == nil {
				dst.Provenance = make(map[string]model.SourceRef)
			}
			dst.Provenance[key] = ref
		}
	}

	if dst.Circumstances == "" && src.Circumstances != "" {
		dst.Circumstances = src.Circumstances
		take(model.FieldCircumstances)
	}
	if dst.Rumored == "" && src.Rumored != "" {
		dst.Rumored = src.Rumored
		take(model.FieldRumored)
	}
	if len(dst.Factors) == 0 && len(src.Factors) > 0 {
		dst.Factors = append([]model.Factor(nil), src.Factors...)
		take(model.FieldFactors)
	}
	if len(dst.RelatedPersons) == 0 && len(src.RelatedPersons) > 0 {
		dst.RelatedPersons = append([]model.RelatedPerson(nil), src.RelatedPersons...)
		take(model.FieldRelatedPersons)
	}
	if dst.Location == "" && src.Location != "" {
		dst.Location = src.Location
		take(model.FieldLocation)
	}
	if dst.AdditionalContext == "" && src.AdditionalContext != "" {
		dst.AdditionalContext = src.AdditionalContext
		take(model.FieldAdditionalContext)
	}
}
