package derive

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"bidsc/internal/entities"
	"bidsc/internal/grouping"
	"bidsc/internal/index"
	"bidsc/internal/logging"
	"bidsc/internal/storage"
)

func newTestLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Level:  logging.ErrorLevel,
		Format: logging.JSONFormat,
		Output: io.Discard,
	})
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", relPath, err)
	}
}

func writeSidecar(t *testing.T, root, relPath string, sidecar map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(sidecar)
	if err != nil {
		t.Fatalf("Failed to encode sidecar: %v", err)
	}
	writeFile(t, root, relPath, string(data))
}

// anatFixture builds a dataset where three subjects share an echo time and a
// fourth deviates.
func anatFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range []string{"01", "02", "03"} {
		writeFile(t, root, "sub-"+sub+"/anat/sub-"+sub+"_T1w.nii.gz", "scan")
		writeSidecar(t, root, "sub-"+sub+"/anat/sub-"+sub+"_T1w.json",
			map[string]interface{}{"EchoTime": 0.03, "FlipAngle": 90.0})
	}
	writeFile(t, root, "sub-04/anat/sub-04_T1w.nii.gz", "scan")
	writeSidecar(t, root, "sub-04/anat/sub-04_T1w.json",
		map[string]interface{}{"EchoTime": 0.07, "FlipAngle": 90.0})
	return root
}

func newPipeline(root string) *Pipeline {
	logger := newTestLogger()
	return &Pipeline{
		Root:     root,
		Grouping: grouping.Default(),
		Level:    entities.SubjectLevel,
		Index:    index.NewFSIndex(logger),
		Logger:   logger,
	}
}

func TestDeriveTables(t *testing.T) {
	root := anatFixture(t)
	summary, files, scan, err := newPipeline(root).DeriveTables()
	if err != nil {
		t.Fatalf("DeriveTables failed: %v", err)
	}

	if len(scan) != 4 {
		t.Fatalf("Expected 4 scanned files, got %d", len(scan))
	}

	set := "datatype-anat_suffix-T1w"
	rows := summary.RowsForSet(set)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 parameter groups, got %d", len(rows))
	}
	if rows[0].ParamGroup != 1 || rows[0].Counts != 3 {
		t.Errorf("Dominant group = (pg %d, counts %d), want (1, 3)", rows[0].ParamGroup, rows[0].Counts)
	}
	if rows[1].Counts != 1 {
		t.Errorf("Variant counts = %d, want 1", rows[1].Counts)
	}
	if rows[0].RenameEntitySet != "" {
		t.Errorf("Dominant group got a rename suggestion: %q", rows[0].RenameEntitySet)
	}
	want := "acquisition-VARIANTEchoTime_datatype-anat_suffix-T1w"
	if rows[1].RenameEntitySet != want {
		t.Errorf("Variant rename = %q, want %q", rows[1].RenameEntitySet, want)
	}
	if rows[1].KeyParamGroup != set+"__2" {
		t.Errorf("Variant key = %q, want %q", rows[1].KeyParamGroup, set+"__2")
	}

	if len(files.Rows) != 4 {
		t.Fatalf("Expected 4 file rows, got %d", len(files.Rows))
	}
	variantFiles := files.FilesForKey(set + "__2")
	if len(variantFiles) != 1 || variantFiles[0].FilePath != "sub-04/anat/sub-04_T1w.nii.gz" {
		t.Errorf("Variant files = %+v, want only sub-04", variantFiles)
	}
}

func TestDeriveTablesDeterministic(t *testing.T) {
	root := anatFixture(t)
	p := newPipeline(root)

	first, _, _, err := p.DeriveTables()
	if err != nil {
		t.Fatalf("DeriveTables failed: %v", err)
	}
	second, _, _, err := p.DeriveTables()
	if err != nil {
		t.Fatalf("DeriveTables failed: %v", err)
	}
	if len(first.Rows) != len(second.Rows) {
		t.Fatalf("Row counts differ: %d vs %d", len(first.Rows), len(second.Rows))
	}
	for i := range first.Rows {
		if first.Rows[i].KeyParamGroup != second.Rows[i].KeyParamGroup ||
			first.Rows[i].Counts != second.Rows[i].Counts {
			t.Errorf("Row %d differs: %+v vs %+v", i, first.Rows[i], second.Rows[i])
		}
	}
}

func TestScanUsesCache(t *testing.T) {
	root := anatFixture(t)
	db, err := storage.Open(root, newTestLogger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	p := newPipeline(root)
	p.Cache = storage.NewScanCache(db)

	first, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// The cache now holds the scan; a cached result must match a fresh walk.
	cached, err := p.Scan()
	if err != nil {
		t.Fatalf("Cached scan failed: %v", err)
	}
	if len(cached) != len(first) {
		t.Fatalf("Cached scan has %d files, want %d", len(cached), len(first))
	}
	for i := range first {
		if cached[i].Path != first[i].Path {
			t.Errorf("File %d = %q, want %q", i, cached[i].Path, first[i].Path)
		}
	}

	// A tree change invalidates the fingerprint and the new file shows up.
	writeFile(t, root, "sub-05/anat/sub-05_T1w.nii.gz", "scan")
	after, err := p.Scan()
	if err != nil {
		t.Fatalf("Scan after change failed: %v", err)
	}
	if len(after) != len(first)+1 {
		t.Errorf("Expected %d files after adding one, got %d", len(first)+1, len(after))
	}
}

func TestDeriveTablesEmptyDataset(t *testing.T) {
	root := t.TempDir()
	summary, files, scan, err := newPipeline(root).DeriveTables()
	if err != nil {
		t.Fatalf("DeriveTables failed: %v", err)
	}
	if len(summary.Rows) != 0 || len(files.Rows) != 0 || len(scan) != 0 {
		t.Errorf("Expected empty tables for an empty dataset")
	}
}
