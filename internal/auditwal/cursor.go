package auditwal

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// writeCursorFile persists the cursor atomically via the same
// temp-file-then-rename pattern as internal/configmirror's LKG writer.
func writeCursorFile(path string, cursor Cursor) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "audit.offset.*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
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

func readCursorFile(path string) (Cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cursor{}, err
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, err
	}
	return cursor, nil
}
