package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"sales-insight/internal/config"
	apperrors "sales-insight/internal/errors"
	"sales-insight/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(config.SnapshotConfig{
		Path:       filepath.Join(dir, "dashboard_data.json"),
		HistoryDir: filepath.Join(dir, "history"),
		ReportID:   "report-1",
		MaxHistory: 3,
	}, testLogger())
}

func sampleUpdate() models.SnapshotUpdate {
	top := "A"
	window := models.NewTimeWindow(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), 24)
	stats := models.EmptyStatistics(window)
	stats.WindowStats.RecordCount = 3
	stats.WindowStats.TotalRevenue = decimal.NewFromInt(35)
	stats.CategoryBreakdown = models.CategoryBreakdown{
		Data: []models.CategoryRow{
			{Category: "A", SaleCount: 2, Revenue: decimal.NewFromInt(30)},
			{Category: "B", SaleCount: 1, Revenue: decimal.NewFromInt(5)},
		},
		TopCategory:        &top,
		TopCategoryRevenue: decimal.NewFromInt(30),
	}
	return models.SnapshotUpdate{Statistics: stats, Narrative: "Category A led sales."}
}

func TestStore_ReadDefault(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !snap.LastUpdated.Equal(time.Unix(0, 0)) {
		t.Errorf("LastUpdated = %v, want unix epoch", snap.LastUpdated)
	}
	if snap.ReportID != "report-1" {
		t.Errorf("ReportID = %q", snap.ReportID)
	}
	if snap.Narrative != "" || snap.WindowStats.RecordCount != 0 || snap.CategoryBreakdown.TopCategory != nil {
		t.Errorf("default snapshot not empty: %+v", snap)
	}
}

func TestStore_Write(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 2, 0, 0, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	written, err := s.Write(sampleUpdate())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !written.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", written.LastUpdated, now)
	}

	read, err := s.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	opts := cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })
	if diff := cmp.Diff(written, read, opts); diff != "" {
		t.Errorf("read back differs (-written +read):\n%s", diff)
	}
	if read.ReportID != "report-1" {
		t.Errorf("ReportID = %q", read.ReportID)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 3, 2, 0, 0, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.Write(sampleUpdate()); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(s.Path())

	if _, err := s.Write(sampleUpdate()); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(s.Path())

	if !bytes.Equal(first, second) {
		t.Errorf("repeated write changed the document:\n%s\n---\n%s", first, second)
	}
}

func TestStore_WriteFailureLeavesPrevious(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Write(sampleUpdate()); err != nil {
		t.Fatal(err)
	}
	before, _ := os.ReadFile(s.Path())

	s.rename = func(string, string) error { return errors.New("disk full") }

	u := sampleUpdate()
	u.Narrative = "should not appear"
	_, err := s.Write(u)
	if !apperrors.Is(err, apperrors.CodeSnapshotWrite) {
		t.Fatalf("Write() error = %v, want %s", err, apperrors.CodeSnapshotWrite)
	}

	after, _ := os.ReadFile(s.Path())
	if !bytes.Equal(before, after) {
		t.Error("failed write modified the snapshot")
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_WriteReplacesCorruptCurrent(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(); err == nil {
		t.Fatal("Read() should report a corrupt document")
	}

	written, err := s.Write(sampleUpdate())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if written.ReportID != "report-1" {
		t.Errorf("ReportID = %q, want default report id", written.ReportID)
	}

	read, err := s.Read()
	if err != nil {
		t.Fatalf("Read() after recovery error = %v", err)
	}
	if read.Narrative != "Category A led sales." || read.WindowStats.RecordCount != 3 {
		t.Errorf("recovered snapshot = %+v", read)
	}
}

func TestStore_WriteUnreadableCurrent(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(s.Path(), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Write(sampleUpdate()); !apperrors.Is(err, apperrors.CodeSnapshotWrite) {
		t.Fatalf("Write() error = %v, want %s", err, apperrors.CodeSnapshotWrite)
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := sampleUpdate()
			u.Narrative = fmt.Sprintf("run %d", i)
			if _, err := s.Write(u); err != nil {
				t.Errorf("Write() error = %v", err)
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("document is not valid JSON after concurrent writes: %v", err)
	}
}

func TestStore_History(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		entry := models.HistoryEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			RunID:     fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i),
			Narrative: fmt.Sprintf("run %d", i),
		}
		if err := s.AppendHistory(entry); err != nil {
			t.Fatalf("AppendHistory(%d) error = %v", i, err)
		}
	}

	all, err := s.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var got []string
	for _, e := range all {
		got = append(got, e.Narrative)
	}
	want := []string{"run 4", "run 3", "run 2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history after pruning (-want +got):\n%s", diff)
	}

	limited, err := s.History(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Narrative != "run 4" {
		t.Errorf("History(1) = %+v", limited)
	}
}

func TestStore_HistoryEmpty(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("History() = %d entries, want 0", len(entries))
	}
}

func TestWatcher_NotifiesOnWrite(t *testing.T) {
	s := newTestStore(t)
	w, err := NewWatcher(s.Path(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	ch, unsubscribe := w.Subscribe()
	defer unsubscribe()

	if _, err := s.Write(sampleUpdate()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification after write")
	}
}

func TestWatcher_CloseReleasesSubscribers(t *testing.T) {
	s := newTestStore(t)
	w, err := NewWatcher(s.Path(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	ch, unsubscribe := w.Subscribe()
	w.Close()
	unsubscribe()

	select {
	case _, ok := <-ch:
		if ok {
			// a pending notification may precede the close
			if _, ok := <-ch; ok {
				t.Error("subscriber channel still open after Close")
			}
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed")
	}
}

func TestWatcher_CloseAfterFailedStart(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(filepath.Join(file, "dashboard_data.json"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(t.Context()); err == nil {
		t.Fatal("Start() should fail when the snapshot directory is a file")
	}

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked after a failed Start()")
	}
}
