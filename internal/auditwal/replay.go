package auditwal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// replay implements crash-recovery path: "On boot, replay
// from cursor: read NDJSON lines forward in batchSize chunks, dispatch,
// advance." Rather than re-implement the dispatch/backoff/advance
// machinery a second time, replay loads the backlog into the ring and then
// drives it through the same Flush loop used at steady state — the two
// share one retry policy instead of drifting apart.
func (w *WAL) replay() error {
	files, err := walFilesSorted(w.cfg.Dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	w.cursorMu.Lock()
	cursor := w.cursor
	w.cursorMu.Unlock()

	startIdx := 0
	startOffset := int64(0)
	if cursor.File != "" {
		for i, f := range files {
			if f == cursor.File {
				startIdx = i
				startOffset = cursor.ByteOffset
				break
			}
		}
	}

	for i := startIdx; i < len(files); i++ {
		offset := int64(0)
		if i == startIdx {
			offset = startOffset
		}
		if err := w.replayFile(filepath.Join(w.cfg.Dir, files[i]), offset); err != nil {
			w.logger.Warn("failed to replay wal file", "file", files[i], "error", err)
		}
	}

	w.Flush(context.Background(), "replay")
	return nil
}

// replayFile reads path forward from offset, pushing each complete line
// into the ring tagged with the exact byte offset it ends at. A reader
// (not a Scanner) is used so the true position after each line is known;
// the Scanner's token boundaries don't expose that. A final line with no
// trailing newline (a write torn by a crash) is left unconsumed: it is
// neither pushed nor counted toward offset, so a subsequent Enqueue can
// still append to it as the tail of a valid file.
func (w *WAL) replayFile(path string, offset int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			return err
		}
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	fileName := filepath.Base(path)
	pos := offset
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if len(line) > 0 && line[len(line)-1] == '\n' {
			pos += int64(len(line))
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				var e AuditEvent
				if uerr := json.Unmarshal(trimmed, &e); uerr != nil {
					w.logger.Warn("skipping malformed wal line during replay", "file", path, "error", uerr)
				} else {
					w.ring.push(e, fileName, pos)
				}
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}

func walFilesSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "audit-") && strings.HasSuffix(e.Name(), ".ndjson") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
