// Package objectstore finalizes a temp file into the content-addressed
// blob store: objects are named by the hex SHA-256 of their bytes, the
// same object_id the graph keys everything on. No multihash/CID
// library appears anywhere in the example pack, so this uses
// crypto/sha256 directly — see DESIGN.md.
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Finalize streams tempPath through SHA-256, renames it to
// <objectsPath>/<hex digest>, and returns the resulting object id and
// size. tempPath is removed on any error path; on success, ownership
// of the bytes moves to objectsPath and tempPath no longer exists.
func Finalize(tempPath, objectsPath string) (objectID string, size int64, err error) {
	f, err := os.Open(tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("objectstore: open temp file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("objectstore: hash temp file: %w", err)
	}
	f.Close()

	objectID = hex.EncodeToString(h.Sum(nil))
	dest := filepath.Join(objectsPath, objectID)

	if _, statErr := os.Stat(dest); statErr == nil {
		// Content already stored under this id (two uploads of the
		// same bytes) - the temp copy is redundant.
		os.Remove(tempPath)
		return objectID, n, nil
	}

	if err := os.Rename(tempPath, dest); err != nil {
		os.Remove(tempPath)
		return "", 0, fmt.Errorf("objectstore: rename into place: %w", err)
	}
	return objectID, n, nil
}

// Discard removes a temp file on a failed submission, swallowing a
// not-exist error since the caller may call this defensively.
func Discard(tempPath string) {
	if tempPath == "" {
		return
	}
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		_ = err
	}
}

// Path returns the on-disk path for a stored object id.
func Path(objectsPath, objectID string) string {
	return filepath.Join(objectsPath, objectID)
}
