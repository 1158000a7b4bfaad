package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/skilltree/internal/condition"
)

// Validate checks the catalog for:
//   - Required fields and duplicate IDs across skills, selectors and options
//   - Ranks referenced by skills and pools that are not declared
//   - Unknown selector modes and negative pools
//   - A highlight expression that does not parse
//
// Prerequisite references are not resolved here: a dangling prerequisite is a
// data-quality condition handled when the graph is built.
func Validate(cfg *CatalogConfig) error {
	if cfg.Version == "" {
		return fmt.Errorf("catalog: version is required")
	}
	var errs []string

	ranks := make(map[string]struct{}, len(cfg.Ranks))
	for _, r := range cfg.Ranks {
		if _, dup := ranks[r]; dup {
			errs = append(errs, fmt.Sprintf("duplicate rank %q", r))
		}
		ranks[r] = struct{}{}
	}

	skills := make(map[string]struct{}, len(cfg.Skills))
	for i, s := range cfg.Skills {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("skills[%d]: id is required", i))
			continue
		}
		if strings.ContainsAny(s.ID, "./") {
			errs = append(errs, fmt.Sprintf("skill %s: id must not contain '.' or '/'", s.ID))
		}
		if _, dup := skills[s.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate skill id %q", s.ID))
		}
		skills[s.ID] = struct{}{}
		if _, ok := ranks[s.Rank]; !ok {
			errs = append(errs, fmt.Sprintf("skill %s: unknown rank %q", s.ID, s.Rank))
		}
	}

	selectors := make(map[string]struct{}, len(cfg.Selectors))
	for i, sel := range cfg.Selectors {
		if sel.ID == "" {
			errs = append(errs, fmt.Sprintf("selectors[%d]: id is required", i))
			continue
		}
		loc := fmt.Sprintf("selector %s", sel.ID)
		if _, dup := selectors[sel.ID]; dup {
			errs = append(errs, fmt.Sprintf("duplicate selector id %q", sel.ID))
		}
		selectors[sel.ID] = struct{}{}

		switch sel.Mode {
		case ModeBudgeted:
		case ModeSingle:
			if len(sel.Options) > 0 {
				errs = append(errs, fmt.Sprintf("%s: single mode does not take options", loc))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown mode %q", loc, sel.Mode))
		}
		validatePools(sel.Pools, loc, ranks, &errs)

		options := make(map[string]struct{}, len(sel.Options))
		for j, opt := range sel.Options {
			if opt.ID == "" {
				errs = append(errs, fmt.Sprintf("%s.options[%d]: id is required", loc, j))
				continue
			}
			if _, dup := options[opt.ID]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate option id %q", loc, opt.ID))
			}
			options[opt.ID] = struct{}{}
			validatePools(opt.Pools, fmt.Sprintf("%s option %s", loc, opt.ID), ranks, &errs)
		}
	}

	if cfg.Highlight.When != "" {
		if _, err := condition.Parse(cfg.Highlight.When); err != nil {
			errs = append(errs, fmt.Sprintf("highlight.when: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("catalog validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validatePools(pools map[string]int, loc string, ranks map[string]struct{}, errs *[]string) {
	keys := make([]string, 0, len(pools))
	for k := range pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, rank := range keys {
		if _, ok := ranks[rank]; !ok {
			*errs = append(*errs, fmt.Sprintf("%s: pool for unknown rank %q", loc, rank))
		}
		if pools[rank] < 0 {
			*errs = append(*errs, fmt.Sprintf("%s: pool %q must not be negative", loc, rank))
		}
	}
}
