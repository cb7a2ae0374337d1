package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"bidsc/internal/index"
)

// ScanCache persists walker output keyed by the dataset state fingerprint,
// so an unchanged tree is never re-walked. Single writer (the change-set
// applier invalidates after mutation), read-many otherwise.
type ScanCache struct {
	db *DB
}

// NewScanCache creates a scan cache over the given database
func NewScanCache(db *DB) *ScanCache {
	return &ScanCache{db: db}
}

// Get returns the cached scan for root when the stored fingerprint matches,
// or ok=false on a miss or a stale entry. Stale entries are deleted.
func (c *ScanCache) Get(root, fingerprint string) ([]index.ScanFile, bool, error) {
	var storedFp, payload string
	err := c.db.QueryRow(`
		SELECT fingerprint, payload
		FROM scan_cache
		WHERE root = ?
	`, root).Scan(&storedFp, &payload)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan cache lookup failed: %w", err)
	}

	if storedFp != fingerprint {
		_, _ = c.db.Exec("DELETE FROM scan_cache WHERE root = ?", root)
		return nil, false, nil
	}

	var files []index.ScanFile
	if err := json.Unmarshal([]byte(payload), &files); err != nil {
		return nil, false, fmt.Errorf("corrupt scan cache payload: %w", err)
	}
	return files, true, nil
}

// Set stores a scan result for root under the given fingerprint
func (c *ScanCache) Set(root, fingerprint string, files []index.ScanFile) error {
	payload, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("failed to encode scan cache payload: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO scan_cache (root, fingerprint, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, root, fingerprint, string(payload), time.Now().UTC().Format(time.RFC3339))

	if err != nil {
		return fmt.Errorf("failed to set scan cache: %w", err)
	}
	return nil
}

// Invalidate drops any cached scan for root. Called by the change-set
// applier after every mutation.
func (c *ScanCache) Invalidate(root string) error {
	if _, err := c.db.Exec("DELETE FROM scan_cache WHERE root = ?", root); err != nil {
		return fmt.Errorf("failed to invalidate scan cache: %w", err)
	}
	return nil
}
