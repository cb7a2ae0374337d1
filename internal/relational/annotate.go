// Package relational attaches fieldmap-pairing facts to parameter records:
// which fieldmaps intend a scan (HasFieldmap / FieldmapKeyNN) and, for
// fieldmaps, which entity sets they are intended for (UsedAsFieldmap /
// IntendedForKeyNN).
package relational

import (
	"fmt"
	"sort"
	"strings"

	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/metadata"
	"bidsc/internal/tables"
)

// IntendedForField is the sidecar field naming a fieldmap's targets
const IntendedForField = "IntendedFor"

// Annotate enriches records (parallel to files, same order) with relational
// columns per the configured display modes. Fieldmaps with no IntendedFor
// entries are logged as advisory, excluded from relational columns, and
// returned as misfits.
func Annotate(files []index.ScanFile, records []metadata.Record, cfg *grouping.Config, logger *logging.Logger) []string {
	byPath := map[string]int{}
	for i, f := range files {
		byPath[f.Path] = i
	}

	// fieldmapsFor maps a scan path to the entity sets of fieldmaps that
	// intend it; targetsFor maps a fieldmap path to its targets' entity sets.
	fieldmapsFor := map[string]map[string]bool{}
	targetsFor := map[string]map[string]bool{}
	var misfits []string

	for i, f := range files {
		if f.Entities["datatype"] != "fmap" {
			continue
		}
		targets := ResolveIntendedFor(f)
		if len(targets) == 0 {
			logger.Warn("Orphaned fieldmap has no IntendedFor entries", map[string]interface{}{
				"path": f.Path,
			})
			misfits = append(misfits, f.Path)
			continue
		}
		fmapSet := records[i].EntitySet
		for _, target := range targets {
			j, ok := byPath[target]
			if !ok {
				logger.Debug("IntendedFor entry does not match any indexed file", map[string]interface{}{
					"fieldmap": f.Path,
					"target":   target,
				})
				continue
			}
			addSet(targetsFor, f.Path, records[j].EntitySet)
			addSet(fieldmapsFor, target, fmapSet)
		}
	}

	fmapRule := cfg.RelationalParams[grouping.FieldmapKey]
	intendedRule := cfg.RelationalParams[grouping.IntendedForKey]

	for i := range records {
		rec := &records[i]
		if files[i].Entities["datatype"] == "fmap" {
			sets, ok := targetsFor[rec.Path]
			if !ok {
				continue // orphan, excluded
			}
			applyRelation(rec, sortedKeys(sets), intendedRule, grouping.UsedAsFieldmapColumn, grouping.IntendedForKey)
			continue
		}
		sets := fieldmapsFor[rec.Path]
		applyRelation(rec, sortedKeys(sets), fmapRule, grouping.HasFieldmapColumn, grouping.FieldmapKey)
	}

	return misfits
}

// applyRelation writes either the boolean column or the indexed entity-set
// columns for one relation onto a record.
func applyRelation(rec *metadata.Record, sets []string, rule grouping.RelationalRule, boolColumn, keyFamily string) {
	if rule.DisplayMode == "columns" {
		for i, s := range sets {
			rec.Fields[fmt.Sprintf("%s%02d", keyFamily, i)] = tables.String(s)
		}
		return
	}
	rec.Fields[boolColumn] = tables.Bool(len(sets) > 0)
}

// ResolveIntendedFor returns the dataset-relative paths a fieldmap's
// IntendedFor entries point at. Entries are either subject-relative paths
// (the common BIDS form) or bids:: URIs relative to the dataset root.
func ResolveIntendedFor(f index.ScanFile) []string {
	raw, ok := f.Sidecar[IntendedForField]
	if !ok {
		return nil
	}

	var entries []string
	switch t := raw.(type) {
	case string:
		entries = []string{t}
	case []interface{}:
		for _, e := range t {
			if s, ok := e.(string); ok {
				entries = append(entries, s)
			}
		}
	}

	subject := f.Entities["sub"]
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e, "bids::") {
			out = append(out, strings.TrimPrefix(e, "bids::"))
			continue
		}
		if subject != "" {
			out = append(out, "sub-"+subject+"/"+e)
		}
	}
	return out
}

func addSet(m map[string]map[string]bool, key, value string) {
	if m[key] == nil {
		m[key] = map[string]bool{}
	}
	m[key][value] = true
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
