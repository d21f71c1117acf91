// Package sessionfile handles reading and writing the persisted session
// blob: the platform settings map (cookies, authorization token) plus the
// device identity uuids. The blob is opaque except for the uuids sub-map,
// which the auth flow carries across fallback logins. This is a leaf
// package so both the auth flow and the CLI can use it without cycles.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session file's directory.
const DirPerms = 0o700

// uuidsKey is the settings sub-map holding the device fingerprint.
const uuidsKey = "uuids"

// Load reads a saved session blob from disk. Returns (nil, nil) if the
// file does not exist. Read and decode errors are returned as-is; the
// caller decides whether they are fatal (the auth flow treats them as
// "no session").
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("sessionfile: decoding %s: %w", path, err)
	}

	return settings, nil
}

// Save writes the session blob to disk atomically (write-to-temp + rename)
// with 0600 permissions. Never logs settings values — the blob contains
// live credentials.
func Save(path string, settings map[string]any) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("sessionfile: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a crash between close and
	// rename cannot leave an empty session file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionfile: renaming: %w", err)
	}

	success = true

	return nil
}

// UUIDs extracts the device identity sub-map from a settings blob.
// Returns nil when the blob has no uuids. The result is detached from
// the input map.
func UUIDs(settings map[string]any) map[string]any {
	u, ok := settings[uuidsKey].(map[string]any)
	if !ok || len(u) == 0 {
		return nil
	}

	return maps.Clone(u)
}
