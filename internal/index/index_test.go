package index

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bidsc/internal/logging"
)

func newTestLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Level:  logging.ErrorLevel,
		Format: logging.JSONFormat,
		Output: io.Discard,
	})
}

func write(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", relPath, err)
	}
}

func TestListFiles(t *testing.T) {
	root := t.TempDir()
	write(t, root, "sub-02/anat/sub-02_T1w.nii.gz", "")
	write(t, root, "sub-01/anat/sub-01_T1w.nii.gz", "")
	write(t, root, "sub-01/anat/sub-01_T1w.json", `{"EchoTime": 0.03}`)
	write(t, root, "sub-01/dwi/sub-01_dwi.bval", "0 1000")      // association, not primary
	write(t, root, "derivatives/sub-01/sub-01_T1w.nii.gz", "")  // skipped tree
	write(t, root, ".bidsc/bidsc.db", "")                       // dot dir
	write(t, root, "dataset_description.json", `{"Name": "x"}`) // not a primary

	files, err := NewFSIndex(newTestLogger()).ListFiles(root)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("Expected 2 primaries, got %d: %+v", len(files), files)
	}
	// Path-sorted output.
	if files[0].Path != "sub-01/anat/sub-01_T1w.nii.gz" || files[1].Path != "sub-02/anat/sub-02_T1w.nii.gz" {
		t.Errorf("Unexpected order: %s, %s", files[0].Path, files[1].Path)
	}

	if files[0].Sidecar == nil || files[0].Sidecar["EchoTime"] != 0.03 {
		t.Errorf("Expected decoded sidecar for sub-01, got %v", files[0].Sidecar)
	}
	if files[1].Sidecar != nil {
		t.Errorf("Expected nil sidecar for sub-02, got %v", files[1].Sidecar)
	}
	if files[0].Entities["datatype"] != "anat" || files[0].Entities["suffix"] != "T1w" {
		t.Errorf("Unexpected entities: %v", files[0].Entities)
	}
}

func TestListFilesUnparseableSidecar(t *testing.T) {
	root := t.TempDir()
	write(t, root, "sub-01/anat/sub-01_T1w.nii.gz", "")
	write(t, root, "sub-01/anat/sub-01_T1w.json", "{not json")

	files, err := NewFSIndex(newTestLogger()).ListFiles(root)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected the primary to survive a bad sidecar, got %d files", len(files))
	}
	if files[0].Sidecar != nil {
		t.Errorf("Expected nil sidecar, got %v", files[0].Sidecar)
	}
}

func TestIsPrimary(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"sub-01/anat/sub-01_T1w.nii.gz", true},
		{"sub-01/anat/sub-01_T1w.nii", true},
		{"sub-01/anat/sub-01_T1w.json", false},
		{"sub-01/dwi/sub-01_dwi.bvec", false},
	}
	for _, tt := range tests {
		if got := IsPrimary(tt.path); got != tt.want {
			t.Errorf("IsPrimary(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestSidecarPath(t *testing.T) {
	if got := SidecarPath("sub-01/anat/sub-01_T1w.nii.gz"); got != "sub-01/anat/sub-01_T1w.json" {
		t.Errorf("SidecarPath = %q, want %q", got, "sub-01/anat/sub-01_T1w.json")
	}
	if got := SidecarPath("sub-01/anat/sub-01_T1w.nii"); got != "sub-01/anat/sub-01_T1w.json" {
		t.Errorf("SidecarPath = %q, want %q", got, "sub-01/anat/sub-01_T1w.json")
	}
}

func TestFingerprintChangesWithTree(t *testing.T) {
	root := t.TempDir()
	write(t, root, "sub-01/anat/sub-01_T1w.nii.gz", "data")

	first, err := Fingerprint(root)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	again, err := Fingerprint(root)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if first != again {
		t.Error("Expected stable fingerprint for an unchanged tree")
	}

	// Content changes move the mtime/size and must change the fingerprint.
	time.Sleep(10 * time.Millisecond)
	write(t, root, "sub-01/anat/sub-01_T1w.nii.gz", "changed data")
	second, err := Fingerprint(root)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if second == first {
		t.Error("Expected fingerprint to change after a write")
	}

	// Hidden tool state does not affect the fingerprint.
	write(t, root, ".bidsc/bidsc.db", "cache")
	third, err := Fingerprint(root)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if third != second {
		t.Error("Expected dot-dir writes to leave the fingerprint unchanged")
	}
}
