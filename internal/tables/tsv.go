package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// WriteSummary writes the summary table as tab-delimited text
func WriteSummary(w io.Writer, t *SummaryTable) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	params := t.ParamColumns()
	header := append(append([]string{}, SummaryFixedColumns...), params...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		rec := []string{
			r.KeyParamGroup, r.RenameEntitySet, r.MergeInto, r.ManualCheck, r.Notes,
			r.EntitySet, strconv.Itoa(r.ParamGroup), strconv.Itoa(r.Counts), r.Modality,
		}
		for _, col := range params {
			rec = append(rec, r.Params[col].Canon())
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFiles writes the files table as tab-delimited text
func WriteFiles(w io.Writer, t *FilesTable) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	params := t.ParamColumns()
	header := append(append([]string{}, FilesFixedColumns...), params...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range t.Rows {
		rec := []string{
			r.KeyParamGroup, r.EntitySet, strconv.Itoa(r.ParamGroup), r.FilePath,
		}
		for _, col := range params {
			rec = append(rec, r.Params[col].Canon())
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadSummary reads a summary table from tab-delimited text
func ReadSummary(r io.Reader) (*SummaryTable, error) {
	records, header, err := readTSV(r)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, SummaryFixedColumns)
	if err != nil {
		return nil, fmt.Errorf("summary table: %w", err)
	}

	t := &SummaryTable{}
	for i, rec := range records {
		pg, err := strconv.Atoi(rec[col["ParamGroup"]])
		if err != nil {
			return nil, fmt.Errorf("summary table row %d: bad ParamGroup %q", i+2, rec[col["ParamGroup"]])
		}
		counts, err := strconv.Atoi(rec[col["Counts"]])
		if err != nil {
			return nil, fmt.Errorf("summary table row %d: bad Counts %q", i+2, rec[col["Counts"]])
		}
		row := SummaryRow{
			KeyParamGroup:   rec[col["KeyParamGroup"]],
			RenameEntitySet: rec[col["RenameEntitySet"]],
			MergeInto:       rec[col["MergeInto"]],
			ManualCheck:     rec[col["ManualCheck"]],
			Notes:           rec[col["Notes"]],
			EntitySet:       rec[col["EntitySet"]],
			ParamGroup:      pg,
			Counts:          counts,
			Modality:        rec[col["Modality"]],
			Params:          map[string]Value{},
		}
		for j, name := range header {
			if _, fixed := col[name]; fixed {
				continue
			}
			if v := ParseCell(rec[j]); !v.IsMissing() {
				row.Params[name] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFiles reads a files table from tab-delimited text
func ReadFiles(r io.Reader) (*FilesTable, error) {
	records, header, err := readTSV(r)
	if err != nil {
		return nil, err
	}
	col, err := columnIndex(header, FilesFixedColumns)
	if err != nil {
		return nil, fmt.Errorf("files table: %w", err)
	}

	t := &FilesTable{}
	for i, rec := range records {
		pg, err := strconv.Atoi(rec[col["ParamGroup"]])
		if err != nil {
			return nil, fmt.Errorf("files table row %d: bad ParamGroup %q", i+2, rec[col["ParamGroup"]])
		}
		row := FileRow{
			KeyParamGroup: rec[col["KeyParamGroup"]],
			EntitySet:     rec[col["EntitySet"]],
			ParamGroup:    pg,
			FilePath:      rec[col["FilePath"]],
			Params:        map[string]Value{},
		}
		for j, name := range header {
			if _, fixed := col[name]; fixed {
				continue
			}
			if v := ParseCell(rec[j]); !v.IsMissing() {
				row.Params[name] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteSummaryFile writes the summary table to a path
func WriteSummaryFile(path string, t *SummaryTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteSummary(f, t)
}

// WriteFilesFile writes the files table to a path
func WriteFilesFile(path string, t *FilesTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteFiles(f, t)
}

// ReadSummaryFile reads a summary table from a path
func ReadSummaryFile(path string) (*SummaryTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSummary(f)
}

// ReadFilesFile reads a files table from a path
func ReadFilesFile(path string) (*FilesTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFiles(f)
}

func readTSV(r io.Reader) (records [][]string, header []string, err error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1

	all, err := cr.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("empty table: missing header row")
	}
	header = all[0]
	for _, rec := range all[1:] {
		// Tolerate short rows from hand-edited files.
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		records = append(records, rec)
	}
	return records, header, nil
}

func columnIndex(header []string, required []string) (map[string]int, error) {
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	idx := map[string]int{}
	for _, name := range required {
		i, ok := col[name]
		if !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
		idx[name] = i
	}
	return idx, nil
}
