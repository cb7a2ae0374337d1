// Package cluster implements the parameter-group discovery engine: rounding
// configured numeric fields, tolerance-based clustering of near-duplicate
// values, deduplication of the resulting parameter vectors, and
// population-ranked ParamGroup id assignment within one entity set.
package cluster

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"bidsc/internal/grouping"
	"bidsc/internal/metadata"
	"bidsc/internal/tables"
)

// defaultSentinel stands in for missing values during clustering so they
// cluster with each other. It is displaced when real data comes near it.
const defaultSentinel = -999.0

// Group is one deduplicated parameter vector within an entity set
type Group struct {
	// ParamGroup is the 1-based id, assigned by descending population;
	// id 1 is always the dominant (most populous) group.
	ParamGroup int
	// Counts is the number of files sharing this vector
	Counts int
	// Modality is the datatype the group's files live under
	Modality string
	// Params holds the representative record's retained columns after
	// rounding, including relational columns. Cluster labels are an
	// internal aid and never appear here.
	Params map[string]tables.Value
}

// Result is the engine output for one entity set. A result with no groups is
// the "no data" sentinel for an entity set with zero files.
type Result struct {
	Groups []Group
	// ParamGroupOf maps each input record index to its group's ParamGroup id
	ParamGroupOf []int
}

// GroupRecords clusters all parameter records sharing one entity set.
// The steps run in a fixed order (round, cluster, dedup, rank) and are
// deterministic for identical input ordering.
func GroupRecords(records []metadata.Record, cfg *grouping.Config) *Result {
	if len(records) == 0 {
		return &Result{}
	}
	modality := records[0].Modality
	rules := mergedRules(cfg, modality)

	rounded := roundFields(records, rules)
	labels := clusterFields(records, rounded, rules)
	keys := groupingKeys(records, rounded, labels, rules)

	// Provisional ids in first-seen order.
	provisionalOf := make([]int, len(records))
	firstRecord := []int{}
	counts := []int{}
	seen := map[string]int{}
	for i, key := range keys {
		id, ok := seen[key]
		if !ok {
			id = len(firstRecord)
			seen[key] = id
			firstRecord = append(firstRecord, i)
			counts = append(counts, 0)
		}
		provisionalOf[i] = id
		counts[id]++
	}

	// Population-ranked renumbering: counts descending, ties keep
	// provisional (first-seen) order.
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})
	rank := make([]int, len(counts))
	for newID, prov := range order {
		rank[prov] = newID + 1
	}

	groups := make([]Group, len(counts))
	for prov, rec := range firstRecord {
		groups[rank[prov]-1] = Group{
			ParamGroup: rank[prov],
			Counts:     counts[prov],
			Modality:   modality,
			Params:     rounded[rec],
		}
	}

	assignments := make([]int, len(records))
	for i, prov := range provisionalOf {
		assignments[i] = rank[prov]
	}

	return &Result{Groups: groups, ParamGroupOf: assignments}
}

// mergedRules combines sidecar and derived rules for a modality
func mergedRules(cfg *grouping.Config, modality string) map[string]grouping.FieldRule {
	rules := map[string]grouping.FieldRule{}
	for field, rule := range cfg.RulesFor(modality) {
		rules[field] = rule
	}
	for field, rule := range cfg.DerivedFor(modality) {
		rules[field] = rule
	}
	return rules
}

// roundFields applies configured precision to every numeric column. Expanded
// list columns inherit the precision of their list field.
func roundFields(records []metadata.Record, rules map[string]grouping.FieldRule) []map[string]tables.Value {
	out := make([]map[string]tables.Value, len(records))
	for i, rec := range records {
		fields := make(map[string]tables.Value, len(rec.Fields))
		for col, v := range rec.Fields {
			if rule, ok := ruleForColumn(col, rules); ok && rule.Precision != nil {
				v = v.Round(*rule.Precision)
			}
			fields[col] = v
		}
		out[i] = fields
	}
	return out
}

// ruleForColumn resolves the rule governing a column, matching expanded list
// columns (SliceTime012) back to their list field (SliceTiming).
func ruleForColumn(col string, rules map[string]grouping.FieldRule) (grouping.FieldRule, bool) {
	if rule, ok := rules[col]; ok {
		return rule, true
	}
	for field, rule := range rules {
		if rule.Expand && isExpandedColumn(col, field) {
			return rule, true
		}
	}
	return grouping.FieldRule{}, false
}

func isExpandedColumn(col, field string) bool {
	base := metadata.ExpandedListFieldName(field)
	if !strings.HasPrefix(col, base) || len(col) != len(base)+3 {
		return false
	}
	for _, c := range col[len(base):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// clusterFields produces a cluster label per record for every field with a
// tolerance, provided more than one record is present.
func clusterFields(records []metadata.Record, rounded []map[string]tables.Value, rules map[string]grouping.FieldRule) map[string][]int {
	labels := map[string][]int{}
	if len(records) < 2 {
		return labels
	}

	fields := make([]string, 0, len(rules))
	for field, rule := range rules {
		if rule.Tolerance != nil {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := rules[field]
		if rule.Expand {
			labels[field] = clusterVectors(rounded, field, *rule.Tolerance)
		} else {
			labels[field] = clusterScalars(rounded, field, *rule.Tolerance)
		}
	}
	return labels
}

// clusterScalars clusters one scalar column in 1-D. Missing values are
// temporarily mapped to a sentinel outside the observed range so they
// cluster together.
func clusterScalars(rounded []map[string]tables.Value, field string, tolerance float64) []int {
	n := len(rounded)
	points := make([]float64, n)

	min := math.Inf(1)
	for _, fields := range rounded {
		if f, ok := fields[field].Num(); ok && f < min {
			min = f
		}
	}
	sentinel := defaultSentinel
	if min <= sentinel+tolerance {
		sentinel = min - 10*(tolerance+1)
	}

	for i, fields := range rounded {
		if f, ok := fields[field].Num(); ok {
			points[i] = f
		} else {
			points[i] = sentinel
		}
	}

	return CompleteLinkage(n, func(i, j int) float64 {
		return math.Abs(points[i] - points[j])
	}, tolerance)
}

// clusterVectors clusters an expanded list field. Records are bucketed by
// list length first (different lengths never share a cluster), then
// complete-linkage clustered under the max elementwise distance within each
// bucket. Label spaces are offset per bucket in order of first appearance.
func clusterVectors(rounded []map[string]tables.Value, field string, tolerance float64) []int {
	n := len(rounded)
	vectors := make([][]float64, n)
	for i, fields := range rounded {
		vectors[i] = gatherVector(fields, field)
	}

	// Buckets keyed by length, in order of first appearance.
	bucketOf := map[int][]int{}
	var lengths []int
	for i, v := range vectors {
		l := len(v)
		if _, ok := bucketOf[l]; !ok {
			lengths = append(lengths, l)
		}
		bucketOf[l] = append(bucketOf[l], i)
	}

	labels := make([]int, n)
	offset := 0
	for _, l := range lengths {
		members := bucketOf[l]
		local := CompleteLinkage(len(members), func(a, b int) float64 {
			return chebyshev(vectors[members[a]], vectors[members[b]])
		}, tolerance)
		maxLocal := 0
		for k, m := range members {
			labels[m] = offset + local[k]
			if local[k] > maxLocal {
				maxLocal = local[k]
			}
		}
		offset += maxLocal + 1
	}
	return labels
}

// gatherVector reassembles an expanded list field's indexed columns, in
// index order, stopping at the first missing index.
func gatherVector(fields map[string]tables.Value, field string) []float64 {
	var out []float64
	for i := 0; ; i++ {
		v, ok := fields[metadata.ExpandedColumn(field, i)]
		if !ok {
			break
		}
		f, isNum := v.Num()
		if !isNum {
			break
		}
		out = append(out, f)
	}
	return out
}

func chebyshev(a, b []float64) float64 {
	max := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max
}

// groupingKeys builds the deduplication key per record: every retained
// column except the file path, substituting cluster labels for fields that
// have them. Missing equals missing because missing canonicalizes to "".
func groupingKeys(records []metadata.Record, rounded []map[string]tables.Value, labels map[string][]int, rules map[string]grouping.FieldRule) []string {
	// Union of columns across records, sorted.
	colSet := map[string]bool{}
	for _, fields := range rounded {
		for col := range fields {
			colSet[col] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for col := range colSet {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	clusteredFields := make([]string, 0, len(labels))
	for field := range labels {
		clusteredFields = append(clusteredFields, field)
	}
	sort.Strings(clusteredFields)

	// Columns covered by a cluster label are excluded from raw comparison.
	covered := func(col string) bool {
		for _, field := range clusteredFields {
			if col == field {
				return true
			}
			if rules[field].Expand && isExpandedColumn(col, field) {
				return true
			}
		}
		return false
	}

	keys := make([]string, len(records))
	for i := range records {
		var b strings.Builder
		for _, col := range cols {
			if covered(col) {
				continue
			}
			b.WriteString(col)
			b.WriteByte('=')
			b.WriteString(rounded[i][col].Canon())
			b.WriteByte('|')
		}
		for _, field := range clusteredFields {
			fmt.Fprintf(&b, "Cluster_%s=%d|", field, labels[field][i])
		}
		keys[i] = b.String()
	}
	return keys
}
