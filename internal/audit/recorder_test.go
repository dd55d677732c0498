package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memRepo is an in-memory Repository.
type memRepo struct {
	mu        sync.Mutex
	entries   []Entry
	pruned    []time.Time
	createErr error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(_ context.Context, _ Filter) (*ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return &ListResult{Entries: out, Total: len(out)}, nil
}

func (m *memRepo) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruned = append(m.pruned, before)
	return 0, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type countingLogger struct {
	mu     sync.Mutex
	warns  int
	errors int
}

func (l *countingLogger) Info(string, ...any) {}
func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}
func (l *countingLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func TestRecorder_WritesAndDrainsOnShutdown(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	for n := 0; n < 10; n++ {
		rec.Record(NewEntry(ActionScanStart, SourceAPI, "", "alice", nil))
	}
	cancel()
	rec.Wait()

	if got := repo.count(); got != 10 {
		t.Errorf("written = %d, want 10", got)
	}

	res, err := rec.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 10 {
		t.Errorf("List() total = %d, want 10", res.Total)
	}
	if res.Entries[0].CreatedAt.IsZero() {
		t.Error("Record should stamp CreatedAt")
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	logger := &countingLogger{}
	rec := NewRecorder(&memRepo{}, 0)
	rec.SetLogger(logger)

	// Not started, so nothing drains the queue.
	for n := 0; n < queueSize+3; n++ {
		rec.Record(NewEntry(ActionConnect, SourceMQTT, "AA:01", "", nil))
	}

	if logger.warns != 3 {
		t.Errorf("dropped warnings = %d, want 3", logger.warns)
	}
}

func TestRecorder_LogsWriteErrors(t *testing.T) {
	logger := &countingLogger{}
	repo := &memRepo{createErr: errors.New("disk full")}
	rec := NewRecorder(repo, 0)
	rec.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)
	rec.Record(NewEntry(ActionDisconnectAll, SourceAPI, "", "alice", nil))
	cancel()
	rec.Wait()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.errors != 1 {
		t.Errorf("logged errors = %d, want 1", logger.errors)
	}
}

func TestRecorder_PrunesOnStart(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)
	cancel()
	rec.Wait()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.pruned) != 1 {
		t.Fatalf("prunes = %d, want 1", len(repo.pruned))
	}
	if age := time.Since(repo.pruned[0]); age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("prune cutoff age = %v, want about 24h", age)
	}
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(NewEntry(ActionConnect, SourceAPI, "AA:01", "", nil))
}
