package configmirror

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// lkgDocument is the on-disk shape written to the LKG file: { v:1, snapshot }.
type lkgDocument struct {
	V        int             `json:"v"`
	Snapshot *MirrorSnapshot `json:"snapshot"`
}

// writeLKGBestEffort persists the snapshot to disk. Failures are logged by
// the caller and never block the hot refresh path; the write is atomic
// (write to a temp file, then rename) so a crash mid-write never corrupts
// the existing LKG file.
func (m *Mirror) writeLKGBestEffort(snap *MirrorSnapshot) {
	if m.cfg.LKGPath == "" {
		return
	}
	if err := writeLKGFile(m.cfg.LKGPath, snap); err != nil {
		m.logger.Warn("configmirror: failed to write LKG file", "error", err, "path", m.cfg.LKGPath)
	}
}

func writeLKGFile(path string, snap *MirrorSnapshot) error {
	doc := lkgDocument{V: 1, Snapshot: snap}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".lkg-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// loadLKG reads the on-disk fallback and installs it as the current
// snapshot if the network refresh failed at boot.
func (m *Mirror) loadLKG() error {
	snap, err := readLKGFile(m.cfg.LKGPath)
	if err != nil {
		return err
	}
	m.snapshot.Store(snap)
	m.source.Store(sourceLKG)
	return nil
}

func readLKGFile(path string) (*MirrorSnapshot, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc lkgDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if doc.Snapshot == nil || doc.Snapshot.Services == nil {
		return nil, os.ErrInvalid
	}
	return doc.Snapshot, nil
}
