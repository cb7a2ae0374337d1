// Package derive runs the full table-derivation pipeline: scan (or cached
// scan) -> metadata extraction -> relational annotation -> parameter
// clustering -> variant rename suggestions, producing the summary and files
// tables.
package derive

import (
	"fmt"

	"bidsc/internal/cluster"
	"bidsc/internal/entities"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/metadata"
	"bidsc/internal/relational"
	"bidsc/internal/storage"
	"bidsc/internal/tables"
	"bidsc/internal/variants"
)

// Pipeline derives tables for one dataset
type Pipeline struct {
	Root     string
	Grouping *grouping.Config
	Level    entities.Level
	Index    index.Index
	// Cache is optional; when set, unchanged trees are not re-walked
	Cache  *storage.ScanCache
	Logger *logging.Logger
}

// Scan lists the dataset's scan files, consulting the cache when enabled
func (p *Pipeline) Scan() ([]index.ScanFile, error) {
	if p.Cache == nil {
		return p.Index.ListFiles(p.Root)
	}

	fp, err := index.Fingerprint(p.Root)
	if err != nil {
		return nil, err
	}
	if files, ok, err := p.Cache.Get(p.Root, fp); err != nil {
		p.Logger.Warn("Scan cache unavailable, re-walking", map[string]interface{}{
			"error": err.Error(),
		})
	} else if ok {
		p.Logger.Debug("Scan cache hit", map[string]interface{}{
			"files": len(files),
		})
		return files, nil
	}

	files, err := p.Index.ListFiles(p.Root)
	if err != nil {
		return nil, err
	}
	if err := p.Cache.Set(p.Root, fp, files); err != nil {
		p.Logger.Warn("Failed to populate scan cache", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return files, nil
}

// DeriveTables runs the full pipeline and returns the summary and files
// tables plus the scan they were derived from.
func (p *Pipeline) DeriveTables() (*tables.SummaryTable, *tables.FilesTable, []index.ScanFile, error) {
	files, err := p.Scan()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to scan dataset: %w", err)
	}

	records := metadata.Extract(files, p.Grouping, p.Level, p.Logger)
	misfits := relational.Annotate(files, records, p.Grouping, p.Logger)
	if len(misfits) > 0 {
		p.Logger.Warn("Orphaned fieldmaps excluded from relational columns", map[string]interface{}{
			"count": len(misfits),
		})
	}

	summary, filesTable := BuildTables(records, p.Grouping)
	if err := variants.SuggestRenames(summary, p.Grouping); err != nil {
		return nil, nil, nil, err
	}

	summary.Sort()
	filesTable.Sort()
	return summary, filesTable, files, nil
}

// BuildTables clusters records per entity set and assembles both tables.
// Entity sets with zero records simply produce no rows.
func BuildTables(records []metadata.Record, cfg *grouping.Config) (*tables.SummaryTable, *tables.FilesTable) {
	// Records of one entity set keep their input (path-sorted) order; the
	// engine's tie-breaks depend on it.
	bySet := map[string][]metadata.Record{}
	var sets []string
	for _, r := range records {
		if _, ok := bySet[r.EntitySet]; !ok {
			sets = append(sets, r.EntitySet)
		}
		bySet[r.EntitySet] = append(bySet[r.EntitySet], r)
	}

	summary := &tables.SummaryTable{}
	filesTable := &tables.FilesTable{}

	for _, set := range sets {
		recs := bySet[set]
		result := cluster.GroupRecords(recs, cfg)

		groupParams := map[int]map[string]tables.Value{}
		for _, g := range result.Groups {
			key := entities.KeyParamGroup(set, g.ParamGroup)
			summary.Rows = append(summary.Rows, tables.SummaryRow{
				KeyParamGroup: key,
				EntitySet:     set,
				ParamGroup:    g.ParamGroup,
				Counts:        g.Counts,
				Modality:      g.Modality,
				Params:        g.Params,
			})
			groupParams[g.ParamGroup] = g.Params
		}

		for i, rec := range recs {
			pg := result.ParamGroupOf[i]
			filesTable.Rows = append(filesTable.Rows, tables.FileRow{
				KeyParamGroup: entities.KeyParamGroup(set, pg),
				EntitySet:     set,
				ParamGroup:    pg,
				FilePath:      rec.Path,
				Params:        groupParams[pg],
			})
		}
	}

	return summary, filesTable
}
