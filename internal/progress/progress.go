package progress

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrStale is returned by the watchdog when the engine stopped progressing.
var ErrStale = errors.New("no progress")

// StaleExitCode is the process exit code used after a stale watchdog trip.
const StaleExitCode = 42

// Reporter holds the last-progress marker.
type Reporter struct {
	clock Clock
	mu    sync.RWMutex
	last  time.Time
}

// NewReporter starts the marker at the current time.
func NewReporter(clock Clock) *Reporter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Reporter{clock: clock, last: clock.Now()}
}

// Note records progress now and returns the recorded time.
func (r *Reporter) Note() time.Time {
	now := r.clock.Now()
	r.mu.Lock()
	r.last = now
	r.mu.Unlock()
	return now
}

// Last returns the time of the latest progress.
func (r *Reporter) Last() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Since returns the time elapsed since the latest progress.
func (r *Reporter) Since() time.Duration {
	return r.clock.Now().Sub(r.Last())
}

// Heartbeat writes the current UTC time to a file at most once per interval.
type Heartbeat struct {
	path     string
	interval time.Duration
	clock    Clock
	l        *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewHeartbeat creates a heartbeat writer. An empty path disables it.
func NewHeartbeat(path string, interval time.Duration, clock Clock, l *zap.Logger) *Heartbeat {
	if clock == nil {
		clock = SystemClock{}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &Heartbeat{path: path, interval: interval, clock: clock, l: l}
}

// Touch writes the heartbeat when forced or when the interval has elapsed.
// It reports whether the file was written; failures are logged only.
func (h *Heartbeat) Touch(force bool) bool {
	if h.path == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	if !force && !h.last.IsZero() && now.Sub(h.last) < h.interval {
		return false
	}

	if err := h.write(now); err != nil {
		h.l.Warn("Heartbeat write failed", zap.String("file", h.path), zap.Error(err))
		return false
	}
	h.last = now
	h.l.Debug("Heartbeat written", zap.String("file", h.path))

	return true
}

func (h *Heartbeat) write(now time.Time) error {
	if dir := filepath.Dir(h.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create heartbeat dir")
		}
	}
	return errors.Wrap(os.WriteFile(h.path, []byte(now.UTC().Format(time.RFC3339Nano)), 0o644), "write heartbeat")
}

// Watchdog fails once the reporter has not progressed within limit.
type Watchdog struct {
	reporter *Reporter
	limit    time.Duration
	every    time.Duration
}

// NewWatchdog creates a watchdog polling every interval.
func NewWatchdog(reporter *Reporter, limit, every time.Duration) *Watchdog {
	if every <= 0 {
		every = time.Second
	}
	return &Watchdog{reporter: reporter, limit: limit, every: every}
}

// Limit returns the staleness limit.
func (w *Watchdog) Limit() time.Duration {
	return w.limit
}

// Check returns the time since the last progress and ErrStale when it exceeds the limit.
func (w *Watchdog) Check() (time.Duration, error) {
	stale := w.reporter.Since()
	if stale > w.limit {
		return stale, errors.Wrapf(ErrStale, "no progress for %s (limit %s)", stale.Round(time.Second), w.limit)
	}
	return stale, nil
}

// Run polls until ctx is done or the engine goes stale.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				return err
			}
		}
	}
}
