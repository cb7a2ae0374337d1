// Package index provides the file-index contract the curation core consumes:
// a mapping of every primary scan file in a dataset to its parsed entities
// and sidecar JSON. FSIndex implements it over the local filesystem.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bidsc/internal/entities"
	"bidsc/internal/logging"
)

// ScanFile is one primary scan: its dataset-relative path, parsed filename
// entities (short keys plus suffix/extension/datatype), and decoded sidecar
// JSON (nil when no sidecar exists).
type ScanFile struct {
	Path     string                 `json:"path"`
	Entities map[string]string      `json:"entities"`
	Sidecar  map[string]interface{} `json:"sidecar,omitempty"`
}

// Index lists every primary scan file under a dataset root
type Index interface {
	ListFiles(root string) ([]ScanFile, error)
}

// Directories never walked: tool state, derivatives, and non-imaging trees.
var skippedDirs = map[string]bool{
	"derivatives": true,
	"sourcedata":  true,
	"code":        true,
}

// FSIndex walks a BIDS dataset on the local filesystem
type FSIndex struct {
	logger *logging.Logger
}

// NewFSIndex creates a filesystem-backed index
func NewFSIndex(logger *logging.Logger) *FSIndex {
	return &FSIndex{logger: logger}
}

// ListFiles walks the dataset and returns one ScanFile per NIfTI primary,
// sorted by path. Sidecars that fail to parse are logged and treated as
// absent rather than failing the walk.
func (ix *FSIndex) ListFiles(root string) ([]ScanFile, error) {
	var out []ScanFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsPrimary(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		sf := ScanFile{
			Path:     rel,
			Entities: entities.Parse(rel),
		}
		sidecarPath := SidecarPath(path)
		if data, err := os.ReadFile(sidecarPath); err == nil {
			var sidecar map[string]interface{}
			if jerr := json.Unmarshal(data, &sidecar); jerr != nil {
				ix.logger.Warn("Skipping unparseable sidecar", map[string]interface{}{
					"path":  sidecarPath,
					"error": jerr.Error(),
				})
			} else {
				sf.Sidecar = sidecar
			}
		}

		out = append(out, sf)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk dataset: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// IsPrimary reports whether a path names a primary imaging file
func IsPrimary(path string) bool {
	return strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz")
}

// SidecarPath returns the JSON sidecar path belonging to a primary file
func SidecarPath(path string) string {
	stem := strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ".nii")
	return stem + ".json"
}

// Fingerprint computes a dataset state fingerprint: a hash over every
// non-hidden file's relative path, size, and mtime. The scan cache is keyed
// by it, so any tree change invalidates cached scans.
func Fingerprint(root string) (string, error) {
	var lines []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skippedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		lines = append(lines, fmt.Sprintf("%s|%d|%d", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano()))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint dataset: %w", err)
	}

	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
