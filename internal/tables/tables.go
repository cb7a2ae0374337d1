// Package tables defines the two derived tables bidsc produces, the
// per-group summary table and the per-file table, together with their
// deterministic TSV encoding. Row and column ordering is stable for
// identical inputs so that re-derived tables diff cleanly.
package tables

import (
	"sort"
)

// Fixed summary-table columns, in persisted order. Parameter columns follow,
// sorted alphabetically.
var SummaryFixedColumns = []string{
	"KeyParamGroup", "RenameEntitySet", "MergeInto", "ManualCheck", "Notes",
	"EntitySet", "ParamGroup", "Counts", "Modality",
}

// Fixed files-table columns, in persisted order
var FilesFixedColumns = []string{
	"KeyParamGroup", "EntitySet", "ParamGroup", "FilePath",
}

// SummaryRow is one (EntitySet, ParamGroup) row of the summary table.
// RenameEntitySet, MergeInto, ManualCheck and Notes are the user-editable
// control columns consumed by the change-set applier.
type SummaryRow struct {
	KeyParamGroup   string
	RenameEntitySet string
	MergeInto       string // "", "0" (delete), or a ParamGroup id
	ManualCheck     string
	Notes           string
	EntitySet       string
	ParamGroup      int
	Counts          int
	Modality        string
	Params          map[string]Value
}

// FileRow is one file of the files table, carrying its group's parameter
// columns for traceability.
type FileRow struct {
	KeyParamGroup string
	EntitySet     string
	ParamGroup    int
	FilePath      string
	Params        map[string]Value
}

// SummaryTable holds summary rows in derived order
type SummaryTable struct {
	Rows []SummaryRow
}

// FilesTable holds file rows in derived order
type FilesTable struct {
	Rows []FileRow
}

// ParamColumns returns the sorted union of parameter column names across rows
func (t *SummaryTable) ParamColumns() []string {
	return paramColumnUnion(len(t.Rows), func(i int) map[string]Value { return t.Rows[i].Params })
}

// ParamColumns returns the sorted union of parameter column names across rows
func (t *FilesTable) ParamColumns() []string {
	return paramColumnUnion(len(t.Rows), func(i int) map[string]Value { return t.Rows[i].Params })
}

func paramColumnUnion(n int, params func(int) map[string]Value) []string {
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		for k := range params(i) {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Sort orders summary rows by EntitySet, then ParamGroup
func (t *SummaryTable) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		if t.Rows[i].EntitySet != t.Rows[j].EntitySet {
			return t.Rows[i].EntitySet < t.Rows[j].EntitySet
		}
		return t.Rows[i].ParamGroup < t.Rows[j].ParamGroup
	})
}

// Sort orders file rows by EntitySet, ParamGroup, then path
func (t *FilesTable) Sort() {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.EntitySet != b.EntitySet {
			return a.EntitySet < b.EntitySet
		}
		if a.ParamGroup != b.ParamGroup {
			return a.ParamGroup < b.ParamGroup
		}
		return a.FilePath < b.FilePath
	})
}

// RowsForSet returns the summary rows belonging to one entity set,
// in ParamGroup order.
func (t *SummaryTable) RowsForSet(entitySet string) []SummaryRow {
	var out []SummaryRow
	for _, r := range t.Rows {
		if r.EntitySet == entitySet {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ParamGroup < out[j].ParamGroup })
	return out
}

// FilesForKey returns the file rows belonging to one KeyParamGroup
func (t *FilesTable) FilesForKey(key string) []FileRow {
	var out []FileRow
	for _, r := range t.Rows {
		if r.KeyParamGroup == key {
			out = append(out, r)
		}
	}
	return out
}

// EntitySets returns the distinct entity sets of the summary table, sorted
func (t *SummaryTable) EntitySets() []string {
	seen := map[string]bool{}
	for _, r := range t.Rows {
		seen[r.EntitySet] = true
	}
	sets := make([]string, 0, len(seen))
	for s := range seen {
		sets = append(sets, s)
	}
	sort.Strings(sets)
	return sets
}
