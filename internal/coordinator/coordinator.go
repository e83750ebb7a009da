package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome classifies the result of one update attempt.
type Outcome int

const (
	// Success means the update completed and fresh data is available.
	Success Outcome = iota

	// SoftRetry means the update failed in a recoverable way. The
	// coordinator stays running and tries again next interval.
	SoftRetry

	// HardFailure means the update failed in a way that retrying will
	// not fix, such as rejected credentials.
	HardFailure
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SoftRetry:
		return "soft_retry"
	case HardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// Result is what an UpdateFunc reports back after one attempt.
type Result struct {
	// Outcome classifies the attempt.
	Outcome Outcome

	// Err carries the failure when Outcome is not Success.
	Err error
}

// Logger defines the logging interface the coordinator requires.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UpdateFunc performs one data refresh. Implementations report failures
// through the Result rather than panicking; a SoftRetry keeps the
// polling loop alive for the next cycle.
type UpdateFunc func(ctx context.Context) Result

// Options configures a Coordinator.
type Options struct {
	// Logger receives update lifecycle events. May be nil.
	Logger Logger

	// Name identifies the coordinator in logs, e.g. "tile-<uuid>".
	Name string

	// Interval is the polling period. Must be positive.
	Interval time.Duration

	// UpdateFunc performs the refresh. Required.
	UpdateFunc UpdateFunc
}

// Coordinator drives periodic refreshes of one data source.
//
// Each coordinator owns a single goroutine started by Start and stopped
// by Stop. Refresh may also be called directly for an immediate update,
// which is how the initial population pass works before the loops start.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	logger   Logger
	name     string
	interval time.Duration
	update   UpdateFunc

	mu          sync.RWMutex
	lastSuccess bool
	lastErr     error
	lastUpdated time.Time
	listeners   []func()

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex
}

// New creates a coordinator from options. The zero interval is replaced
// with a minute so a misconfigured caller cannot spin the loop.
func New(opts Options) *Coordinator {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Coordinator{
		logger:   opts.Logger,
		name:     opts.Name,
		interval: interval,
		update:   opts.UpdateFunc,
		done:     make(chan struct{}),
	}
}

// Name returns the coordinator's log identifier.
func (c *Coordinator) Name() string {
	return c.name
}

// Refresh performs one update immediately and records the outcome.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - Result: The update outcome, also retained for LastUpdateSuccess
func (c *Coordinator) Refresh(ctx context.Context) Result {
	result := c.update(ctx)

	c.mu.Lock()
	c.lastSuccess = result.Outcome == Success
	c.lastErr = result.Err
	if result.Outcome == Success {
		c.lastUpdated = time.Now()
	}
	listeners := make([]func(), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	switch result.Outcome {
	case Success:
		c.logDebug("update succeeded", "coordinator", c.name)
	case SoftRetry:
		c.logWarn("update failed, will retry", "coordinator", c.name, "error", result.Err)
	case HardFailure:
		c.logError("update failed permanently", "coordinator", c.name, "error", result.Err)
	}

	for _, listener := range listeners {
		listener()
	}

	return result
}

// Start launches the polling loop. Calling Start twice is a no-op.
//
// The loop stops when ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.run(ctx)
}

// Stop terminates the polling loop and waits for it to exit.
// Safe to call multiple times and safe to call before Start.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// LastError returns the error from the most recent refresh, or nil.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// LastUpdated returns when the most recent successful refresh completed.
func (c *Coordinator) LastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdated
}

// AddListener registers a callback invoked after every refresh,
// successful or not. Listeners run on the refreshing goroutine and
// must not block.
func (c *Coordinator) AddListener(listener func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

func (c *Coordinator) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Coordinator) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Coordinator) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}

// RefreshGroup refreshes a set of coordinators with bounded concurrency.
//
// At most limit refreshes run at once. All coordinators are attempted
// even when some fail; per-coordinator outcomes are recorded on the
// coordinators themselves.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - coordinators: Coordinators to refresh
//   - limit: Maximum concurrent refreshes, minimum 1
//
// Returns:
//   - error: Context error if cancelled mid-flight, nil otherwise
func RefreshGroup(ctx context.Context, coordinators []*Coordinator, limit int) error {
	if limit < 1 {
		limit = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, c := range coordinators {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.Refresh(ctx)
			return nil
		})
	}

	return g.Wait()
}
