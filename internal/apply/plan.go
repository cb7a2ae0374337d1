package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"bidsc/internal/assoc"
	"bidsc/internal/checkpoint"
	"bidsc/internal/entities"
	"bidsc/internal/errors"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/metadata"
	"bidsc/internal/tables"
)

// Plan resolves every validated directive to concrete file operations.
// Reported (non-fatal) rejections skip their directive and the batch
// continues; structural problems abort immediately.
func (a *Applier) Plan() error {
	if a.state != StateValidated {
		return fmt.Errorf("plan: unexpected state %d", a.state)
	}

	deleted := map[string]bool{}
	var removeOrder []string
	addRemove := func(path string) {
		if !deleted[path] {
			deleted[path] = true
			removeOrder = append(removeOrder, path)
		}
	}

	// Deletions: every file of the marked group plus its associations.
	for _, key := range a.deletes {
		for _, f := range a.files.FilesForKey(key) {
			addRemove(f.FilePath)
			for _, p := range assoc.Discover(a.root, f.FilePath) {
				addRemove(p)
			}
		}
	}

	// pending accumulates sidecar rewrites so multiple directives touching
	// the same sidecar compose instead of clobbering each other.
	pending := map[string]map[string]interface{}{}

	for _, m := range a.merges {
		a.planMerge(m, pending)
	}

	renamed := map[string]string{}
	var moves []checkpoint.Op
	for _, r := range a.renames {
		ms, err := a.planRename(r, deleted, renamed)
		if err != nil {
			return err
		}
		moves = append(moves, ms...)
	}

	if err := a.planIntendedForRewrites(deleted, renamed, pending); err != nil {
		return err
	}

	// Duplicate rename targets are unrecoverable.
	targets := map[string]string{}
	for _, mv := range moves {
		if prev, ok := targets[mv.NewPath]; ok {
			return errors.Newf(errors.InternalError,
				"rename collision: %s and %s both map to %s", prev, mv.Path, mv.NewPath)
		}
		targets[mv.NewPath] = mv.Path
	}

	// Writes first (content lands before any move relocates the file),
	// then moves, then removes.
	var writePaths []string
	for p := range pending {
		if !deleted[p] {
			writePaths = append(writePaths, p)
		}
	}
	sort.Strings(writePaths)

	a.ops = a.ops[:0]
	for _, p := range writePaths {
		content, err := metadata.EncodeSidecar(pending[p])
		if err != nil {
			return err
		}
		a.ops = append(a.ops, checkpoint.Op{Kind: checkpoint.OpWrite, Path: p, Content: content})
	}
	a.ops = append(a.ops, moves...)
	for _, p := range removeOrder {
		a.ops = append(a.ops, checkpoint.Op{Kind: checkpoint.OpRemove, Path: p})
	}

	a.state = StatePlanComputed
	return nil
}

// planMerge schedules one metadata merge. The whole directive is skipped
// (and reported) if the groups' relational columns differ or any destination
// file would conflict -- a merge never partially applies.
func (a *Applier) planMerge(m mergeDirective, pending map[string]map[string]interface{}) {
	destRow := a.summaryRow(m.DestKey)
	srcRow := a.summaryRow(m.SourceKey)
	if destRow == nil || srcRow == nil {
		a.report.Add(m.DestKey, errors.InternalError, "merge rows disappeared from summary table")
		return
	}

	if col, ok := relationalMismatch(srcRow, destRow); !ok {
		a.report.Add(m.DestKey, errors.SdcIncompatible,
			fmt.Sprintf("relational column %s differs between groups %s and %s", col, m.SourceKey, m.DestKey))
		return
	}

	srcFiles := a.files.FilesForKey(m.SourceKey)
	if len(srcFiles) == 0 {
		a.report.Add(m.DestKey, errors.InternalError, "merge source group has no files")
		return
	}
	paths := make([]string, len(srcFiles))
	for i, f := range srcFiles {
		paths[i] = f.FilePath
	}
	sort.Strings(paths)
	srcSidecar := a.sidecarFor(paths[0])
	fields := a.imagingFields()

	// Compute every destination write before committing any of them.
	type write struct {
		path    string
		content map[string]interface{}
	}
	var writes []write
	for _, f := range a.files.FilesForKey(m.DestKey) {
		scPath := index.SidecarPath(f.FilePath)
		base, ok := pending[scPath]
		if !ok {
			base = a.sidecarFor(f.FilePath)
		}
		merged, cerr := metadata.Merge(srcSidecar, base, fields)
		if cerr != nil {
			a.report.Add(m.DestKey, cerr.Code, cerr.Message)
			return
		}
		if !reflect.DeepEqual(merged, base) {
			writes = append(writes, write{path: scPath, content: merged})
		}
	}
	for _, w := range writes {
		pending[w.path] = w.content
	}
}

// planRename schedules the move of every file in the group plus its
// associations. A missing source file is fatal; a datatype change is
// advisory and honored, not reinterpreted.
func (a *Applier) planRename(r renameDirective, deleted map[string]bool, renamed map[string]string) ([]checkpoint.Op, error) {
	newSet, err := entities.ParseSetString(r.NewSet)
	if err != nil {
		return nil, errors.New(errors.MalformedEntitySet, "bad RenameEntitySet", err)
	}
	oldSet, err := entities.ParseSetString(r.OldSet)
	if err != nil {
		return nil, errors.New(errors.MalformedEntitySet, "bad EntitySet", err)
	}
	if oldSet["datatype"] != newSet["datatype"] {
		a.logger.Warn("Rename changes datatype folder", map[string]interface{}{
			"key":  r.Key,
			"from": oldSet["datatype"],
			"to":   newSet["datatype"],
		})
	}

	var moves []checkpoint.Op
	for _, f := range a.files.FilesForKey(r.Key) {
		oldPath := f.FilePath
		parsed := entities.Parse(oldPath)
		newPath := entities.BuildPath(parsed["sub"], parsed["ses"], newSet, parsed["extension"])
		if newPath == oldPath {
			continue
		}
		if deleted[oldPath] {
			return nil, errors.Newf(errors.InternalError,
				"%s is both renamed and scheduled for deletion", oldPath)
		}
		if _, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(oldPath))); err != nil {
			return nil, errors.Newf(errors.RenameSourceMissing,
				"cannot rename %s: %v", oldPath, err)
		}

		moves = append(moves, checkpoint.Op{Kind: checkpoint.OpMove, Path: oldPath, NewPath: newPath})
		renamed[oldPath] = newPath

		for _, ap := range assoc.Discover(a.root, oldPath) {
			np, ok := assoc.MapToNewPrimary(ap, oldPath, newPath)
			if !ok || np == ap {
				continue
			}
			moves = append(moves, checkpoint.Op{Kind: checkpoint.OpMove, Path: ap, NewPath: np})
		}
	}
	return moves, nil
}

// planIntendedForRewrites updates every sidecar whose IntendedFor entries
// reference deleted or renamed files: deleted targets are purged, renamed
// targets are rewritten preserving the entry's original form. This covers
// fieldmaps and paired M0 scans alike.
func (a *Applier) planIntendedForRewrites(deleted map[string]bool, renamed map[string]string, pending map[string]map[string]interface{}) error {
	if len(deleted) == 0 && len(renamed) == 0 {
		return nil
	}

	for _, f := range a.scan {
		if deleted[f.Path] {
			continue
		}
		scPath := index.SidecarPath(f.Path)
		base, pendingHit := pending[scPath]
		if !pendingHit {
			base = f.Sidecar
		}
		if base == nil {
			continue
		}
		raw, ok := base[relationalIntendedFor]
		if !ok {
			continue
		}

		entriesList, wasString := intendedForEntries(raw)
		subject := f.Entities["sub"]
		var rebuilt []interface{}
		changed := false
		for _, e := range entriesList {
			resolved := resolveEntry(e, subject)
			if deleted[resolved] {
				changed = true
				continue
			}
			if np, ok := renamed[resolved]; ok {
				rebuilt = append(rebuilt, reformEntry(e, np, subject))
				changed = true
				continue
			}
			rebuilt = append(rebuilt, e)
		}
		if !changed {
			continue
		}

		updated := make(map[string]interface{}, len(base))
		for k, v := range base {
			updated[k] = v
		}
		if wasString && len(rebuilt) == 1 {
			updated[relationalIntendedFor] = rebuilt[0]
		} else {
			if rebuilt == nil {
				rebuilt = []interface{}{}
			}
			updated[relationalIntendedFor] = rebuilt
		}
		pending[scPath] = updated
	}
	return nil
}

const relationalIntendedFor = "IntendedFor"

func intendedForEntries(raw interface{}) (entries []string, wasString bool) {
	switch t := raw.(type) {
	case string:
		return []string{t}, true
	case []interface{}:
		for _, e := range t {
			if s, ok := e.(string); ok {
				entries = append(entries, s)
			}
		}
	}
	return entries, false
}

// resolveEntry maps one IntendedFor entry to a dataset-relative path
func resolveEntry(entry, subject string) string {
	if strings.HasPrefix(entry, "bids::") {
		return strings.TrimPrefix(entry, "bids::")
	}
	if subject == "" {
		return entry
	}
	return "sub-" + subject + "/" + entry
}

// reformEntry renders a new dataset-relative target in the same form the
// original entry used.
func reformEntry(original, newPath, subject string) string {
	if strings.HasPrefix(original, "bids::") {
		return "bids::" + newPath
	}
	return strings.TrimPrefix(newPath, "sub-"+subject+"/")
}

// relationalMismatch compares the relational ("SDC") columns of two summary
// rows, returning the first differing column name.
func relationalMismatch(a, b *tables.SummaryRow) (string, bool) {
	cols := map[string]bool{}
	collect := func(params map[string]tables.Value) {
		for name := range params {
			if isRelationalColumn(name) {
				cols[name] = true
			}
		}
	}
	collect(a.Params)
	collect(b.Params)

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !a.Params[name].Equal(b.Params[name]) {
			return name, false
		}
	}
	return "", true
}

func isRelationalColumn(name string) bool {
	return strings.HasPrefix(name, grouping.FieldmapKey) ||
		strings.HasPrefix(name, grouping.IntendedForKey) ||
		name == grouping.HasFieldmapColumn ||
		name == grouping.UsedAsFieldmapColumn
}

func (a *Applier) summaryRow(key string) *tables.SummaryRow {
	for i := range a.summary.Rows {
		if a.summary.Rows[i].KeyParamGroup == key {
			return &a.summary.Rows[i]
		}
	}
	return nil
}
