package sigmgr

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// writeNDB renders names (already deduplicated) as a ClamAV NDB
// signature file and installs it atomically at path: written to a
// sibling temp file, chmod'd 0644, then renamed into place, so a
// partially-written file is never what clamd sees mid-reload.
//
// Each entry is SigName:TargetType:Offset:HexSignature. The hex
// body here is the signature name itself, encoded as hex bytes: this
// repo has no sample corpus to derive byte patterns from, so the
// deployed pattern is a stand-in that still round-trips through the
// real NDB grammar and file-swap discipline sigmgr is responsible for.
func writeNDB(path string, names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, name := range sorted {
		fmt.Fprintf(&b, "%s:0:*:%s\n", name, hex.EncodeToString([]byte(name)))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sigmgr: create ndb dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sigmgr-*.ndb.tmp")
	if err != nil {
		return fmt.Errorf("sigmgr: create temp ndb file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sigmgr: write temp ndb file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sigmgr: close temp ndb file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sigmgr: chmod temp ndb file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sigmgr: install ndb file: %w", err)
	}
	return nil
}
