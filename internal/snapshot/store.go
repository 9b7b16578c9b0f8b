// Package snapshot persists the published dashboard document and its per-run
// history. Every write goes to a temporary file in the target directory and
// is renamed into place, so readers see either the old or the new document.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"sales-insight/internal/config"
	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
)

const historyPrefix = "analysis_"

type Store struct {
	mu         sync.Mutex
	path       string
	historyDir string
	reportID   string
	maxHistory int
	logger     *slog.Logger

	now    func() time.Time
	rename func(oldpath, newpath string) error
}

func NewStore(cfg config.SnapshotConfig, logger *slog.Logger) *Store {
	return &Store{
		path:       cfg.Path,
		historyDir: cfg.HistoryDir,
		reportID:   cfg.ReportID,
		maxHistory: cfg.MaxHistory,
		logger:     logger.With("component", "snapshot"),
		now:        time.Now,
		rename:     os.Rename,
	}
}

func (s *Store) Path() string { return s.path }

// Read returns the current snapshot, or the default empty snapshot when none
// has been written yet.
func (s *Store) Read() (models.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.DefaultSnapshot(s.reportID), nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.Snapshot{}, &corruptError{path: s.path, err: err}
	}
	return snap, nil
}

type corruptError struct {
	path string
	err  error
}

func (e *corruptError) Error() string { return fmt.Sprintf("decode snapshot %s: %v", e.path, e.err) }
func (e *corruptError) Unwrap() error { return e.err }

// ReadRaw returns the document bytes exactly as persisted.
func (s *Store) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return json.Marshal(models.DefaultSnapshot(s.reportID))
	}
	return data, err
}

// Write overlays u on the current snapshot and persists the result. Writes
// are serialized; on any error the previous document is left untouched.
func (s *Store) Write(u models.SnapshotUpdate) (models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Read()
	var corrupt *corruptError
	switch {
	case errors.As(err, &corrupt):
		s.logger.Warn("current snapshot is unreadable, replacing it", "path", s.path, "error", err)
		current = models.DefaultSnapshot(s.reportID)
	case err != nil:
		return models.Snapshot{}, apperrors.SnapshotWrite(err, "load current snapshot")
	}

	next := current.Apply(u, s.now())
	if next.ReportID == "" {
		next.ReportID = s.reportID
	}

	if err := s.writeJSON(s.path, next); err != nil {
		return models.Snapshot{}, apperrors.SnapshotWrite(err, "persist snapshot")
	}

	s.logger.Info("snapshot updated",
		"path", s.path,
		"last_updated", next.LastUpdated,
		"record_count", next.WindowStats.RecordCount,
	)
	if next.ReportID != "" {
		s.logger.Info("dashboard data ready",
			"report_url", "https://lookerstudio.google.com/reporting/create?c.reportId="+next.ReportID)
	}
	return next, nil
}

// AppendHistory records one successful run as its own document and prunes
// the oldest documents beyond the configured limit.
func (s *Store) AppendHistory(entry models.HistoryEntry) error {
	if s.historyDir == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := fmt.Sprintf("%s%s_%s.json", historyPrefix, entry.Timestamp.UTC().Format("20060102T150405.000Z"), shortID(entry.RunID))
	if err := s.writeJSON(filepath.Join(s.historyDir, name), entry); err != nil {
		return apperrors.SnapshotWrite(err, "persist history entry")
	}
	return s.prune()
}

// History returns up to limit entries, newest first.
func (s *Store) History(limit int) ([]models.HistoryEntry, error) {
	names, err := s.historyFiles()
	if err != nil {
		return nil, err
	}

	slices.Reverse(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	entries := make([]models.HistoryEntry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.historyDir, name))
		if err != nil {
			return nil, fmt.Errorf("read history %s: %w", name, err)
		}
		var e models.HistoryEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", name, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) historyFiles() ([]string, error) {
	if s.historyDir == "" {
		return nil, nil
	}
	dirEntries, err := os.ReadDir(s.historyDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if !de.IsDir() && strings.HasPrefix(de.Name(), historyPrefix) && strings.HasSuffix(de.Name(), ".json") {
			names = append(names, de.Name())
		}
	}
	// ReadDir sorts by name, and names start with a sortable timestamp.
	return names, nil
}

func (s *Store) prune() error {
	if s.maxHistory <= 0 {
		return nil
	}
	names, err := s.historyFiles()
	if err != nil {
		return err
	}
	for len(names) > s.maxHistory {
		if err := os.Remove(filepath.Join(s.historyDir, names[0])); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("prune history: %w", err)
		}
		names = names[1:]
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := s.rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	committed = true
	return nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}
