package transform

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"metaetl/internal/domain"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

// ActionTaxonomy maps action type names onto insight columns.
type ActionTaxonomy struct {
	Version      string
	LinkClicks   TypeSet
	LeadForm     TypeSet
	LeadSite     TypeSet
	LeadMessage  TypeSet
	FollowerGain TypeSet
	VideoViews   TypeSet
	Extras       []ExtraMetric
}

// ExtraMetric is an additional column summed from an action list field.
type ExtraMetric struct {
	Column string
	Field  string
	Types  TypeSet
}

type taxonomyFile struct {
	Version    string   `yaml:"version"`
	LinkClicks []string `yaml:"link_clicks"`
	Leads      struct {
		Form    []string `yaml:"form"`
		Site    []string `yaml:"site"`
		Message []string `yaml:"message"`
	} `yaml:"leads"`
	FollowerGain []string `yaml:"follower_gain"`
	VideoViews   []string `yaml:"video_views"`
	ExtraMetrics []struct {
		Column string   `yaml:"column"`
		Field  string   `yaml:"field"`
		Types  []string `yaml:"types"`
	} `yaml:"extra_metrics"`
}

// DefaultTaxonomy returns the taxonomy bundled with the binary.
func DefaultTaxonomy() *ActionTaxonomy {
	t, err := ParseTaxonomy(defaultTaxonomyYAML)
	if err != nil {
		panic(fmt.Sprintf("bundled taxonomy is invalid: %v", err))
	}
	return t
}

// LoadTaxonomy reads a taxonomy file, or the bundled one when path is empty.
func LoadTaxonomy(path string) (*ActionTaxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	t, err := ParseTaxonomy(b)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return t, nil
}

func ParseTaxonomy(data []byte) (*ActionTaxonomy, error) {
	var raw taxonomyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}

	var errs []error
	required := map[string][]string{
		"link_clicks":   raw.LinkClicks,
		"leads.form":    raw.Leads.Form,
		"leads.site":    raw.Leads.Site,
		"leads.message": raw.Leads.Message,
		"follower_gain": raw.FollowerGain,
		"video_views":   raw.VideoViews,
	}
	names := lo.Keys(required)
	slices.Sort(names)
	for _, name := range names {
		if len(lo.Compact(required[name])) == 0 {
			errs = append(errs, fmt.Errorf("%s must list at least one action type", name))
		}
	}

	// The lead total is a partition of the three categories.
	leadSets := [][2]string{{"form", "site"}, {"form", "message"}, {"site", "message"}}
	byName := map[string][]string{"form": raw.Leads.Form, "site": raw.Leads.Site, "message": raw.Leads.Message}
	for _, pair := range leadSets {
		if shared := lo.Intersect(byName[pair[0]], byName[pair[1]]); len(shared) > 0 {
			errs = append(errs, fmt.Errorf("leads.%s and leads.%s share %v", pair[0], pair[1], shared))
		}
	}

	t := &ActionTaxonomy{
		Version:      raw.Version,
		LinkClicks:   NewTypeSet(raw.LinkClicks...),
		LeadForm:     NewTypeSet(raw.Leads.Form...),
		LeadSite:     NewTypeSet(raw.Leads.Site...),
		LeadMessage:  NewTypeSet(raw.Leads.Message...),
		FollowerGain: NewTypeSet(raw.FollowerGain...),
		VideoViews:   NewTypeSet(raw.VideoViews...),
	}

	seen := map[string]bool{}
	for _, extra := range raw.ExtraMetrics {
		switch {
		case extra.Column == "":
			errs = append(errs, errors.New("extra metric without column"))
			continue
		case slices.Contains(domain.InsightsSchema, extra.Column) || extra.Column == domain.ColUpdatedAt:
			errs = append(errs, fmt.Errorf("extra metric %s shadows a canonical column", extra.Column))
			continue
		case seen[extra.Column]:
			errs = append(errs, fmt.Errorf("extra metric %s declared twice", extra.Column))
			continue
		case len(extra.Types) == 0:
			errs = append(errs, fmt.Errorf("extra metric %s lists no action types", extra.Column))
			continue
		}
		seen[extra.Column] = true

		field := extra.Field
		if field == "" {
			field = domain.FieldActions
		}
		t.Extras = append(t.Extras, ExtraMetric{Column: extra.Column, Field: field, Types: NewTypeSet(extra.Types...)})
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return t, nil
}
