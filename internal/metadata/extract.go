// Package metadata reduces sidecar JSON to flat parameter records per the
// grouping configuration, and implements the all-or-nothing sidecar merge
// used by the change-set applier.
package metadata

import (
	"fmt"

	"bidsc/internal/entities"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/tables"
)

// Record is the flat parameter record for one scan file. Fields holds only
// configured fields that were present in the sidecar; everything else is
// treated as missing downstream.
type Record struct {
	Path      string
	EntitySet string
	Modality  string
	Fields    map[string]tables.Value
}

// ExpandedListFieldName maps a list-valued field to the base name of its
// indexed scalar columns.
func ExpandedListFieldName(field string) string {
	if field == "SliceTiming" {
		return "SliceTime"
	}
	return field
}

// ExpandedColumn formats the indexed column name for one list element
func ExpandedColumn(field string, i int) string {
	return fmt.Sprintf("%s%03d", ExpandedListFieldName(field), i)
}

// Extract produces one Record per scan file. Fields absent from a sidecar
// are omitted, never zeroed. List-valued fields marked for expansion become
// indexed scalar columns and the list column itself is dropped.
func Extract(files []index.ScanFile, cfg *grouping.Config, level entities.Level, logger *logging.Logger) []Record {
	out := make([]Record, 0, len(files))
	for _, f := range files {
		modality := f.Entities["datatype"]
		if modality == "" {
			logger.Warn("File outside a recognized datatype folder, treating as other", map[string]interface{}{
				"path": f.Path,
			})
			modality = "other"
		}

		rec := Record{
			Path:      f.Path,
			EntitySet: entities.SetString(f.Entities, level),
			Modality:  modality,
			Fields:    map[string]tables.Value{},
		}

		for field, rule := range cfg.RulesFor(modality) {
			raw, ok := f.Sidecar[field]
			if !ok {
				continue
			}
			if list, isList := raw.([]interface{}); isList && rule.Expand {
				for i, elem := range list {
					rec.Fields[ExpandedColumn(field, i)] = tables.FromJSON(elem)
				}
				continue
			}
			rec.Fields[field] = tables.FromJSON(raw)
		}

		for field := range cfg.DerivedFor(modality) {
			if v, ok := derive(field, f.Sidecar); ok {
				rec.Fields[field] = v
			}
		}

		out = append(out, rec)
	}
	return out
}

// derive computes one derived parameter from raw sidecar contents
func derive(field string, sidecar map[string]interface{}) (tables.Value, bool) {
	switch field {
	case "NSliceTimes":
		raw, ok := sidecar["SliceTiming"]
		if !ok {
			return tables.Missing(), false
		}
		list, ok := raw.([]interface{})
		if !ok {
			return tables.Missing(), false
		}
		return tables.Number(float64(len(list))), true
	}
	return tables.Missing(), false
}
