package model

import (
	"fmt"
	"strings"
)

// Subject is one deceased person whose record may need enrichment. It is
// immutable input to an enrichment attempt: newly discovered fields
// accumulate in EnrichmentData, never on the Subject itself.
type Subject struct {
	PersonID  int64  `json:"person_id"`
	Name      string `json:"name"`
	BirthYear string `json:"birth_year,omitempty"` // IMDb years arrive as text and may be empty
	DeathYear string `json:"death_year,omitempty"`

	// Known holds whatever cause-of-death fields are already on record.
	Known EnrichmentData `json:"known"`
}

// NConst renders the IMDb name identifier ("nm0000148") for the subject.
func (s Subject) NConst() string {
	return fmt.Sprintf("nm%07d", s.PersonID)
}

// NeedsEnrichment reports whether the subject still lacks a
// cause-of-death narrative.
func (s Subject) NeedsEnrichment() bool {
	return strings.TrimSpace(s.Known.Circumstances) == ""
}

// Lifespan renders "1923-1999" style text for logs and search queries.
// Unknown years render as "?".
func (s Subject) Lifespan() string {
	birth := s.BirthYear
	if birth == "" {
		birth = "?"
	}
	death := s.DeathYear
	if death == "" {
		death = "?"
	}
	return birth + "-" + death
}
