package apply

import (
	"os"
	"path/filepath"
	"sort"

	"bidsc/internal/assoc"
	"bidsc/internal/checkpoint"
	"bidsc/internal/metadata"
)

// RunPurge removes the given dataset-relative scan paths, their
// associations, and every IntendedFor reference to them, as one checkpointed
// commit, then reindexes. Paths that no longer exist are logged and skipped.
func (a *Applier) RunPurge(paths []string, message string) error {
	deleted := map[string]bool{}
	var removeOrder []string
	addRemove := func(p string) {
		if !deleted[p] {
			deleted[p] = true
			removeOrder = append(removeOrder, p)
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(a.root, filepath.FromSlash(p))); err != nil {
			a.logger.Warn("Purge target does not exist, skipping", map[string]interface{}{
				"path": p,
			})
			continue
		}
		addRemove(p)
		for _, ap := range assoc.Discover(a.root, p) {
			addRemove(ap)
		}
	}

	pending := map[string]map[string]interface{}{}
	if err := a.planIntendedForRewrites(deleted, nil, pending); err != nil {
		return err
	}

	var writePaths []string
	for p := range pending {
		if !deleted[p] {
			writePaths = append(writePaths, p)
		}
	}
	sort.Strings(writePaths)

	a.ops = a.ops[:0]
	for _, p := range writePaths {
		data, err := metadata.EncodeSidecar(pending[p])
		if err != nil {
			return err
		}
		a.ops = append(a.ops, checkpoint.Op{Kind: checkpoint.OpWrite, Path: p, Content: data})
	}
	for _, p := range removeOrder {
		a.ops = append(a.ops, checkpoint.Op{Kind: checkpoint.OpRemove, Path: p})
	}

	a.state = StatePlanComputed
	if err := a.Apply(message); err != nil {
		return err
	}
	return a.Reindex()
}
