package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/scrape"
)

// FileStore is the fallback backend used when no database URL is configured.
// Snapshots go to an append-only JSON-lines file; run state lives in a single
// JSON document rewritten atomically on every save.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	snapPath  string
	statePath string
	logger    *zap.Logger
}

// NewFileStore creates dir if needed and returns a file-backed store.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:       dir,
		snapPath:  filepath.Join(dir, "snapshots.jsonl"),
		statePath: filepath.Join(dir, "run_state.json"),
		logger:    logger.Named("file_store"),
	}, nil
}

// SaveSnapshot appends one JSON line to the snapshot log.
func (s *FileStore) SaveSnapshot(_ context.Context, snap scrape.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	f, err := os.OpenFile(s.snapPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open snapshot log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot scans the log for the newest snapshot of the account taken
// before the given time. Returns nil when the account has no history.
func (s *FileStore) LatestSnapshot(_ context.Context, account string, before time.Time) (*scrape.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.snapPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot log: %w", err)
	}
	defer f.Close()

	var latest *scrape.Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var snap scrape.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			s.logger.Warn("Skipping malformed snapshot line", zap.Error(err))
			continue
		}
		if snap.Account != account || !snap.Timestamp.Before(before) {
			continue
		}
		if latest == nil || snap.Timestamp.After(latest.Timestamp) {
			copied := snap
			latest = &copied
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot log: %w", err)
	}
	return latest, nil
}

// LoadRunState returns the stored state when it matches date, nil otherwise.
func (s *FileStore) LoadRunState(_ context.Context, date string) (*RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}
	if state.RunDate != date {
		return nil, nil
	}
	return &state, nil
}

// SaveRunState rewrites the state document via a temp file and rename so a
// crash mid-write never leaves a torn document behind.
func (s *FileStore) SaveRunState(_ context.Context, state RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "run_state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.statePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace run state: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() {}
