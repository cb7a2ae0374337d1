// Package apply implements the change-set applier: it interprets user edits
// to the summary table (merge, delete, and rename directives), computes the
// concrete file operations they imply, enforces the safety invariants, and
// executes everything as a single checkpointed commit.
package apply

import (
	"fmt"
	"strconv"

	"bidsc/internal/checkpoint"
	"bidsc/internal/derive"
	"bidsc/internal/errors"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/metadata"
	"bidsc/internal/storage"
	"bidsc/internal/tables"
)

// State tracks the applier's progress through one apply invocation
type State int

const (
	// StateLoaded means summary and files tables are read
	StateLoaded State = iota
	// StateValidated means merge directives are type-checked and resolved
	StateValidated
	// StatePlanComputed means all directives resolved to concrete operations
	StatePlanComputed
	// StateApplied means the filesystem was mutated
	StateApplied
	// StateReindexed means fresh tables were regenerated
	StateReindexed
)

// mergeDirective is one validated MergeInto edit: the row carrying the
// directive is the destination; SourceGroup names the group whose metadata
// is copied in.
type mergeDirective struct {
	DestKey     string
	SourceKey   string
	SourceGroup int
}

// renameDirective is one validated RenameEntitySet edit
type renameDirective struct {
	Key    string
	OldSet string
	NewSet string
}

// Applier drives one apply invocation through the state machine
type Applier struct {
	root     string
	summary  *tables.SummaryTable
	files    *tables.FilesTable
	scan     []index.ScanFile
	grouping *grouping.Config
	store    checkpoint.Store
	cache    *storage.ScanCache
	pipeline *derive.Pipeline
	logger   *logging.Logger

	// RaiseOnError turns reported (non-fatal) validation issues into a
	// hard failure for strict pipelines.
	RaiseOnError bool

	state   State
	report  *errors.Report
	deletes []string          // KeyParamGroups marked MergeInto == 0
	merges  []mergeDirective
	renames []renameDirective
	ops     []checkpoint.Op

	// NewSummary and NewFiles hold the re-derived tables after Reindexed
	NewSummary *tables.SummaryTable
	NewFiles   *tables.FilesTable
}

// New creates an applier over already-loaded tables and the current scan
func New(root string, summary *tables.SummaryTable, files *tables.FilesTable, scan []index.ScanFile,
	cfg *grouping.Config, store checkpoint.Store, cache *storage.ScanCache,
	pipeline *derive.Pipeline, logger *logging.Logger) *Applier {
	return &Applier{
		root:     root,
		summary:  summary,
		files:    files,
		scan:     scan,
		grouping: cfg,
		store:    store,
		cache:    cache,
		pipeline: pipeline,
		logger:   logger,
		state:    StateLoaded,
		report:   &errors.Report{},
	}
}

// Report returns the collected non-fatal issues
func (a *Applier) Report() *errors.Report { return a.report }

// Ops returns the planned operations (valid after Plan)
func (a *Applier) Ops() []checkpoint.Op { return a.ops }

// Run drives the full state machine:
// Loaded -> Validated -> PlanComputed -> Applied -> Reindexed.
func (a *Applier) Run(message string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := a.Plan(); err != nil {
		return err
	}
	if err := a.report.Err(a.RaiseOnError); err != nil {
		return err
	}
	if err := a.Apply(message); err != nil {
		return err
	}
	return a.Reindex()
}

// Validate type-checks every MergeInto cell and resolves merge sources.
// A MergeInto id that does not resolve to exactly one group within the
// row's own entity set is fatal; cross-entity-set merges are disallowed.
func (a *Applier) Validate() error {
	if a.state != StateLoaded {
		return fmt.Errorf("validate: unexpected state %d", a.state)
	}

	for _, row := range a.summary.Rows {
		if row.MergeInto != "" {
			id, err := strconv.Atoi(row.MergeInto)
			if err != nil {
				return errors.Newf(errors.InternalError,
					"row %s: MergeInto %q is not an integer", row.KeyParamGroup, row.MergeInto)
			}
			if id == 0 {
				a.deletes = append(a.deletes, row.KeyParamGroup)
			} else {
				src, err := a.resolveMergeSource(row.EntitySet, id)
				if err != nil {
					return err
				}
				a.merges = append(a.merges, mergeDirective{
					DestKey:     row.KeyParamGroup,
					SourceKey:   src.KeyParamGroup,
					SourceGroup: id,
				})
			}
		}

		if row.RenameEntitySet != "" && row.RenameEntitySet != row.EntitySet {
			a.renames = append(a.renames, renameDirective{
				Key:    row.KeyParamGroup,
				OldSet: row.EntitySet,
				NewSet: row.RenameEntitySet,
			})
		}
	}

	a.state = StateValidated
	return nil
}

func (a *Applier) resolveMergeSource(entitySet string, id int) (*tables.SummaryRow, error) {
	var matches []*tables.SummaryRow
	for i := range a.summary.Rows {
		r := &a.summary.Rows[i]
		if r.EntitySet == entitySet && r.ParamGroup == id {
			matches = append(matches, r)
		}
	}
	if len(matches) != 1 {
		return nil, errors.Newf(errors.AmbiguousMergeSource,
			"MergeInto %d in entity set %q matches %d rows, want exactly 1", id, entitySet, len(matches))
	}
	return matches[0], nil
}

// Apply executes the planned operations as one checkpointed commit and
// invalidates the scan cache. A plan with zero operations commits nothing.
func (a *Applier) Apply(message string) error {
	if a.state != StatePlanComputed {
		return fmt.Errorf("apply: unexpected state %d", a.state)
	}

	if len(a.ops) > 0 {
		id, err := a.store.RunAsCommit(a.ops, message)
		if err != nil {
			return err
		}
		a.logger.Info("Applied change set", map[string]interface{}{
			"commit": id,
			"ops":    len(a.ops),
		})
		if a.cache != nil {
			if err := a.cache.Invalidate(a.root); err != nil {
				return err
			}
		}
	} else {
		a.logger.Info("Nothing to apply", nil)
	}

	a.state = StateApplied
	return nil
}

// Reindex re-derives fresh tables from the mutated dataset
func (a *Applier) Reindex() error {
	if a.state != StateApplied {
		return fmt.Errorf("reindex: unexpected state %d", a.state)
	}

	summary, files, _, err := a.pipeline.DeriveTables()
	if err != nil {
		return err
	}
	a.NewSummary = summary
	a.NewFiles = files
	a.state = StateReindexed
	return nil
}

// sidecarFor returns the decoded sidecar of a scanned file, or an empty map
func (a *Applier) sidecarFor(path string) map[string]interface{} {
	for _, f := range a.scan {
		if f.Path == path {
			if f.Sidecar != nil {
				return f.Sidecar
			}
			break
		}
	}
	return map[string]interface{}{}
}

// imagingFields is the merge-checked field set derived from configuration
func (a *Applier) imagingFields() map[string]bool {
	return metadata.ImagingFields(a.grouping)
}
