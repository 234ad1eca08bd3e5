package enrich

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
)

// Config controls one enrichment run.
type Config struct {
	// Categories enables source tiers. An empty map enables everything.
	Categories map[model.SourceCategory]bool `yaml:"categories" mapstructure:"categories"`

	// ConfidenceThreshold is the overall confidence at which the cascade
	// may stop early when StopOnMatch is set.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`

	// StopOnMatch stops the cascade once the winning confidence reaches
	// the threshold instead of exhausting every source.
	StopOnMatch bool `yaml:"stop_on_match" mapstructure:"stop_on_match"`

	// Ceilings caps spend per subject and per run.
	Ceilings cost.Ceilings `yaml:"ceilings" mapstructure:"ceilings"`

	// Order overrides the cascade order by adapter name. Empty uses
	// registration order.
	Order []string `yaml:"order" mapstructure:"order"`

	// Consolidate runs the cleanup stage after the cascade when more
	// than one source contributed.
	Consolidate bool `yaml:"consolidate" mapstructure:"consolidate"`
}

// DefaultConfig returns the cascade defaults: every category enabled,
// stop on the first match at 0.5 confidence, cleanup stage on.
func DefaultConfig() Config {
	return Config{
		Categories: map[model.SourceCategory]bool{
			model.CategoryFree: true,
			model.CategoryPaid: true,
			model.CategoryAI:   true,
		},
		ConfidenceThreshold: 0.5,
		StopOnMatch:         true,
		Consolidate:         true,
	}
}

// CategoryEnabled reports whether a tier participates in the cascade.
func (c Config) CategoryEnabled(cat model.SourceCategory) bool {
	if len(c.Categories) == 0 {
		return true
	}
	return c.Categories[cat]
}

// CascadeFile is the optional YAML overriding source order and
// per-tier enablement. It mirrors the shape:
//
//	cascade:
//	  confidence_threshold: 0.5
//	  stop_on_match: true
//	  sources:
//	    - name: wikidata
//	    - name: claude
//	      disabled: true
type CascadeFile struct {
	ConfidenceThreshold float64         `yaml:"confidence_threshold"`
	StopOnMatch         *bool           `yaml:"stop_on_match"`
	Sources             []CascadeSource `yaml:"sources"`
}

// CascadeSource is one entry of the cascade file.
type CascadeSource struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled"`
}

// LoadCascadeFile reads a cascade file and applies it over cfg.
func LoadCascadeFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "enrich: read cascade file %s", path)
	}

	var wrapper struct {
		Cascade CascadeFile `yaml:"cascade"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return cfg, eris.Wrap(err, "enrich: parse cascade file")
	}

	cf := wrapper.Cascade
	if cf.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = cf.ConfidenceThreshold
	}
	if cf.StopOnMatch != nil {
		cfg.StopOnMatch = *cf.StopOnMatch
	}
	if len(cf.Sources) > 0 {
		cfg.Order = cfg.Order[:0]
		for _, s := range cf.Sources {
			if s.Name == "" || s.Disabled {
				continue
			}
			cfg.Order = append(cfg.Order, s.Name)
		}
	}
	return cfg, nil
}
