package audit

import (
	"context"
	"sync"
	"time"
)

const (
	// queueSize bounds entries waiting to be written.
	queueSize = 256

	pruneInterval = time.Hour
	writeTimeout  = 5 * time.Second
)

// Logger is satisfied by logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially on one goroutine.
// Record never blocks; the goroutine launched by Start performs the writes
// and prunes expired entries.
//
// A nil *Recorder records nothing.
type Recorder struct {
	repo      Repository
	retention time.Duration
	entries   chan *Entry
	logger    Logger

	wg sync.WaitGroup
}

// NewRecorder creates a recorder writing to repo. Entries older than
// retention are pruned hourly; zero disables pruning.
func NewRecorder(repo Repository, retention time.Duration) *Recorder {
	return &Recorder{
		repo:      repo,
		retention: retention,
		entries:   make(chan *Entry, queueSize),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Call before Start.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Record enqueues e. When the queue is full e is dropped.
func (r *Recorder) Record(e *Entry) {
	if r == nil || e == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case r.entries <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", e.Action,
			"device_id", e.DeviceID,
		)
	}
}

// List returns stored entries matching filter.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

// Start writes queued entries in the background until ctx is cancelled,
// then drains what is left. Call Wait to block until the drain is done.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	var tick <-chan time.Time
	if r.retention > 0 {
		r.prune()
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case e := <-r.entries:
			r.write(e)
		case <-tick:
			r.prune()
		case <-ctx.Done():
			for {
				select {
				case e := <-r.entries:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until the writer started by Start has exited.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"device_id", e.DeviceID,
			"error", err,
		)
	}
}

func (r *Recorder) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := r.repo.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned audit entries", "count", n, "retention", r.retention.String())
	}
}
