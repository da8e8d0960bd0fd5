package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// JSONLog is an append-only file holding one JSON object per line.
// Lines are never rewritten. Each log owns its own lock.
type JSONLog struct {
	mu   sync.Mutex
	path string
}

// NewJSONLog returns a log backed by path. The file is created on first append.
func NewJSONLog(path string) *JSONLog {
	return &JSONLog{path: path}
}

// Path returns the backing file path.
func (l *JSONLog) Path() string { return l.path }

// Append marshals v and writes it as a single line.
func (l *JSONLog) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", l.path, err)
	}
	return f.Close()
}

// Scan calls fn for every line in order. A missing file yields no lines.
func (l *JSONLog) Scan(fn func(raw json.RawMessage) error) error {
	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", l.path, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return fmt.Errorf("%s:%d: malformed line", l.path, lineNo)
		}
		if err := fn(json.RawMessage(append([]byte(nil), line...))); err != nil {
			return err
		}
	}
	return sc.Err()
}
