// Package entrylog implements the append-only log of store entries. One JSON object
// per line; line i describes the vector at index position i.
package entrylog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/vecstore/internal/models"
)

const maxLineBytes = 16 << 20

// Log is an entry log backed by a file and mirrored in memory.
type Log struct {
	path    string
	mu      sync.RWMutex
	entries []models.Entry
}

// Open reads the log at path, creating nothing until the first append. A torn final
// line left by an interrupted append is cut off.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open entry log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	var good int64
	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				if e, perr := parseLine(line); perr == nil {
					l.entries = append(l.entries, e)
					good += int64(len(line))
				} else if terr := os.Truncate(path, good); terr != nil {
					return nil, fmt.Errorf("truncate torn entry log tail: %w", terr)
				}
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read entry log: %w", err)
		}
		if len(line) > maxLineBytes {
			return nil, fmt.Errorf("entry log line %d exceeds %d bytes", lineNo, maxLineBytes)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			good += int64(len(line))
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("entry log line %d: %w", lineNo, err)
		}
		l.entries = append(l.entries, e)
		good += int64(len(line))
	}
	return l, nil
}

func parseLine(line []byte) (models.Entry, error) {
	var e models.Entry
	if err := json.Unmarshal(bytes.TrimSpace(line), &e); err != nil {
		return e, err
	}
	if e.ID == "" {
		return e, errors.New("entry without id")
	}
	return e, nil
}

// Count returns the number of entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// At returns the entry at position i.
func (l *Log) At(i int) (models.Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.entries) {
		return models.Entry{}, false
	}
	return l.entries[i], true
}

// Slice returns a copy of entries in [start, end).
func (l *Log) Slice(start, end int) []models.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start = max(start, 0)
	end = min(end, len(l.entries))
	if start >= end {
		return nil
	}
	return append([]models.Entry(nil), l.entries[start:end]...)
}

// ReadAll returns a copy of every entry in log order.
func (l *Log) ReadAll() []models.Entry {
	return l.Slice(0, l.Count())
}

// IndexOf returns the position of the entry with id, or -1.
func (l *Log) IndexOf(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, e := range l.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Append writes entries to the end of the log and syncs the file before returning.
func (l *Log) Append(entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	buf, err := encode(entries)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create entry log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open entry log: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("append entry log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync entry log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close entry log: %w", err)
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// Rewrite replaces the whole log with entries. The new file is written next to the
// old one and renamed over it.
func (l *Log) Rewrite(entries []models.Entry) error {
	buf, err := encode(entries)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create entry log dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".entries-*")
	if err != nil {
		return fmt.Errorf("create entry log: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write entry log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync entry log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close entry log: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace entry log: %w", err)
	}
	l.entries = append([]models.Entry(nil), entries...)
	return nil
}

func encode(entries []models.Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}
