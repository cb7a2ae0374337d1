// Package checkpoint provides the durability boundary for dataset mutations.
// The change-set applier batches every filesystem operation of one apply
// invocation into a single script and hands it to a Store, which executes it
// as one revertible commit. The core itself keeps no transaction log.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"bidsc/internal/logging"
	"bidsc/internal/storage"
)

// OpKind discriminates script operations
type OpKind string

const (
	// OpMove renames a file
	OpMove OpKind = "move"
	// OpRemove deletes a file
	OpRemove OpKind = "remove"
	// OpWrite replaces or creates a file's content
	OpWrite OpKind = "write"
)

// Op is one scripted filesystem operation, with dataset-relative paths
type Op struct {
	Kind    OpKind `json:"kind"`
	Path    string `json:"path"`
	NewPath string `json:"newPath,omitempty"`
	Content []byte `json:"content,omitempty"`
}

// Store executes operation scripts as revertible commits
type Store interface {
	// RunAsCommit executes all operations as one commit and returns its id
	RunAsCommit(ops []Op, message string) (string, error)
	// IsClean reports whether no commit is partially applied
	IsClean() (bool, error)
	// RevertLast undoes the most recent completed commit
	RevertLast() error
}

// LocalStore is a filesystem-local Store: commit journal rows live in the
// bidsc sqlite database and a zstd-compressed revert bundle per commit is
// written under .bidsc/checkpoints/.
type LocalStore struct {
	root   string
	db     *storage.DB
	logger *logging.Logger
}

// NewLocalStore creates a local checkpoint store for a dataset root
func NewLocalStore(root string, db *storage.DB, logger *logging.Logger) *LocalStore {
	return &LocalStore{root: root, db: db, logger: logger}
}

// bundleEntry captures one file's state before the commit touched it
type bundleEntry struct {
	Path    string `json:"path"`
	Existed bool   `json:"existed"`
	Content []byte `json:"content,omitempty"`
}

// bundle is the revert payload of one commit
type bundle struct {
	Ops     []Op          `json:"ops"`
	Entries []bundleEntry `json:"entries"`
}

// RunAsCommit snapshots every file the script touches, journals the commit,
// executes all operations in order, and marks the commit complete. An empty
// script is a no-op and produces no commit.
func (s *LocalStore) RunAsCommit(ops []Op, message string) (string, error) {
	if len(ops) == 0 {
		return "", nil
	}

	id := uuid.NewString()
	b := bundle{Ops: ops}
	seen := map[string]bool{}
	for _, op := range ops {
		for _, rel := range []string{op.Path, op.NewPath} {
			if rel == "" || seen[rel] {
				continue
			}
			seen[rel] = true
			entry := bundleEntry{Path: rel}
			if content, err := os.ReadFile(s.abs(rel)); err == nil {
				entry.Existed = true
				entry.Content = content
			}
			b.Entries = append(b.Entries, entry)
		}
	}

	bundlePath, err := s.writeBundle(id, &b)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("failed to encode ops: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO checkpoints (id, message, ops_json, bundle, completed, reverted, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?)
	`, id, message, string(opsJSON), bundlePath, now); err != nil {
		return "", fmt.Errorf("failed to journal checkpoint: %w", err)
	}

	for _, op := range ops {
		if err := s.execute(op); err != nil {
			return "", fmt.Errorf("checkpoint %s failed mid-apply (revert with RevertLast): %w", id, err)
		}
	}

	if _, err := s.db.Exec("UPDATE checkpoints SET completed = 1 WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("failed to complete checkpoint: %w", err)
	}

	s.logger.Info("Checkpoint committed", map[string]interface{}{
		"id":      id,
		"message": message,
		"ops":     len(ops),
	})
	return id, nil
}

// IsClean reports whether no checkpoint was left partially applied
func (s *LocalStore) IsClean() (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE completed = 0").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	return n == 0, nil
}

// RevertLast restores every file touched by the most recent non-reverted
// checkpoint (completed or not) to its pre-commit state.
func (s *LocalStore) RevertLast() error {
	var id, bundlePath string
	err := s.db.QueryRow(`
		SELECT id, bundle FROM checkpoints
		WHERE reverted = 0
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&id, &bundlePath)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no checkpoint to revert")
	}
	if err != nil {
		return fmt.Errorf("failed to query checkpoints: %w", err)
	}

	b, err := s.readBundle(bundlePath)
	if err != nil {
		return err
	}

	// Remove anything the commit created, then restore prior contents.
	for _, op := range b.Ops {
		if op.Kind == OpMove && op.NewPath != "" {
			_ = os.Remove(s.abs(op.NewPath))
		}
	}
	for _, entry := range b.Entries {
		if !entry.Existed {
			_ = os.Remove(s.abs(entry.Path))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(s.abs(entry.Path)), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(s.abs(entry.Path), entry.Content, 0644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", entry.Path, err)
		}
	}

	if _, err := s.db.Exec("UPDATE checkpoints SET reverted = 1, completed = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to mark checkpoint reverted: %w", err)
	}
	s.logger.Info("Checkpoint reverted", map[string]interface{}{"id": id})
	return nil
}

func (s *LocalStore) execute(op Op) error {
	switch op.Kind {
	case OpMove:
		if err := os.MkdirAll(filepath.Dir(s.abs(op.NewPath)), 0755); err != nil {
			return err
		}
		return os.Rename(s.abs(op.Path), s.abs(op.NewPath))
	case OpRemove:
		return os.Remove(s.abs(op.Path))
	case OpWrite:
		if err := os.MkdirAll(filepath.Dir(s.abs(op.Path)), 0755); err != nil {
			return err
		}
		return os.WriteFile(s.abs(op.Path), op.Content, 0644)
	}
	return fmt.Errorf("unknown op kind %q", op.Kind)
}

func (s *LocalStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func (s *LocalStore) writeBundle(id string, b *bundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to encode bundle: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return "", err
	}
	compressed := enc.EncodeAll(data, nil)
	enc.Close()

	dir := filepath.Join(s.root, ".bidsc", "checkpoints")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, id+".json.zst")
	if err := os.WriteFile(path, compressed, 0644); err != nil {
		return "", fmt.Errorf("failed to write bundle: %w", err)
	}
	return path, nil
}

func (s *LocalStore) readBundle(path string) (*bundle, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress bundle: %w", err)
	}

	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt bundle: %w", err)
	}
	return &b, nil
}
