package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// JSONLStore stores audit records in a JSONL file with optional size-based
// rotation.
type JSONLStore struct {
	path       string
	maxSize    int64 // bytes, 0 disables rotation
	maxBackups int
	mu         sync.Mutex
}

// NewJSONLStore opens (or creates) the audit file at path.
func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

// NewRotatingJSONLStore returns a JSONLStore that rotates the file when it
// exceeds maxSizeMB, keeping at most maxBackups rotated files.
func NewRotatingJSONLStore(path string, maxSizeMB, maxBackups int) (*JSONLStore, error) {
	s, err := NewJSONLStore(path)
	if err != nil {
		return nil, err
	}
	s.maxSize = int64(maxSizeMB) * 1024 * 1024
	s.maxBackups = maxBackups
	return s, nil
}

// Append writes the record as one JSON line.
func (s *JSONLStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rotateIfNeeded(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(rec)
}

// Query scans the file and returns matching records. Rotated files are not
// searched.
func (s *JSONLStore) Query(_ context.Context, q Query) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if q.matches(r) {
			out = append(out, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *JSONLStore) Close() error { return nil }

func (s *JSONLStore) rotateIfNeeded() error {
	if s.maxSize <= 0 {
		return nil
	}
	info, err := os.Stat(s.path)
	if err != nil || info.Size() < s.maxSize {
		return nil
	}
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	return s.pruneBackups()
}

func (s *JSONLStore) pruneBackups() error {
	if s.maxBackups <= 0 {
		return nil
	}
	matches, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return err
	}
	if len(matches) <= s.maxBackups {
		return nil
	}
	sort.Strings(matches)
	// Timestamped suffixes sort chronologically; drop the oldest.
	for _, old := range matches[:len(matches)-s.maxBackups] {
		if err := os.Remove(old); err != nil {
			return err
		}
	}
	return nil
}
