// Package poller runs the background loops that detect new diary items.
//
// Two loops run concurrently once started:
//   - homework/marks: fetches recent homework, then the period's marks, and
//     delivers each item not yet seen.
//   - messages: lists chat threads, fetches each thread's latest messages
//     (pausing before every fetch) and delivers unseen ones oldest first.
//
// Each loop sleeps a fixed interval after a cycle finishes. Any failure in a
// cycle, including a handler panic, ends that cycle only; the loop carries on.
// The snapshot is saved after every cycle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("poller: already running")

	// ErrNotRunning is returned by Stop on a stopped poller.
	ErrNotRunning = errors.New("poller: not running")

	// ErrNilSource is returned by New without a source.
	ErrNilSource = errors.New("poller: source is nil")
)

// PanicError is a recovered handler or fetch panic.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Source is what the loops read from. *eschool.Client implements it.
type Source interface {
	RecentHomeworks(ctx context.Context) ([]diary.Homework, error)
	Marks(ctx context.Context) ([]diary.Mark, error)
	Chats(ctx context.Context) ([]diary.Thread, error)
	Messages(ctx context.Context, threadID string) ([]diary.Message, error)
	Session() diary.Session
}

// Handlers are the per-kind callbacks. A nil handler disables its kind: the
// kind is not fetched, and without OnMessage the message loop never starts.
type Handlers struct {
	OnHomework func(ctx context.Context, hw diary.Homework) error
	OnMark     func(ctx context.Context, mark diary.Mark) error
	OnMessage  func(ctx context.Context, msg diary.Message) error
}

// Config contains configuration for the Poller.
type Config struct {
	// Interval is the pause between the end of a cycle and the next one.
	Interval time.Duration

	// ThreadThrottle is the pause before each per-thread message fetch.
	// Zero disables it.
	ThreadThrottle time.Duration

	// SaveTimeout bounds each snapshot save.
	SaveTimeout time.Duration

	// Handlers are the item callbacks.
	Handlers Handlers

	// Store persists snapshots after each cycle. Nil disables persistence.
	Store diary.SnapshotStore

	// Registries are the seen-item sets, usually restored from a snapshot.
	// Nil starts with empty, unpopulated registries.
	Registries *diary.Registries

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Interval:       3 * time.Minute,
		ThreadThrottle: 30 * time.Second,
		SaveTimeout:    10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLER
// ══════════════════════════════════════════════════════════════════════════════

// Poller owns the poll loops and the seen-item registries.
type Poller struct {
	source   Source
	config   Config
	handlers Handlers
	regs     *diary.Registries
	logger   *slog.Logger

	// Lifecycle
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	// saveMu serialises snapshot writes from both loops.
	saveMu sync.Mutex

	stats *Stats
}

// New creates a Poller.
func New(source Source, config Config) (*Poller, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.ThreadThrottle < 0 {
		config.ThreadThrottle = 0
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = defaults.SaveTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Registries == nil {
		config.Registries = diary.NewRegistries()
	}

	return &Poller{
		source:   source,
		config:   config,
		handlers: config.Handlers,
		regs:     config.Registries,
		logger:   config.Logger.With(logger.Component("poller")),
		stats:    newStats(),
	}, nil
}

// Registries returns the seen-item registries.
func (p *Poller) Registries() *diary.Registries {
	return p.regs
}

// Stats returns a copy of the loop counters.
func (p *Poller) Stats() StatsSnapshot {
	return p.stats.snapshot()
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start launches the loops and returns immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.startedAt = time.Now()

	p.wg.Add(1)
	go p.loop(loopCtx, "homeworks_marks", p.pollHomeworksAndMarks)

	if p.handlers.OnMessage != nil {
		p.wg.Add(1)
		go p.loop(loopCtx, "messages", p.pollMessages)
	}

	p.logger.Info("poller started",
		"interval", p.config.Interval.String(),
		"thread_throttle", p.config.ThreadThrottle.String(),
		"messages", p.handlers.OnMessage != nil,
	)

	return nil
}

// Stop cancels the loops and waits for them to exit. A cycle in progress is
// interrupted at its next blocking point and its progress is saved.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	p.logger.Info("poller stopped", "uptime", time.Since(p.startedAt).String())
	return nil
}

// IsRunning returns true if the loops are running.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Save writes the current session and registries to the store.
func (p *Poller) Save(ctx context.Context) error {
	if p.config.Store == nil {
		return nil
	}

	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	snap := diary.NewSnapshot(p.source.Session(), p.regs)
	if err := p.config.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOP
// ══════════════════════════════════════════════════════════════════════════════

func (p *Poller) loop(ctx context.Context, name string, cycle func(context.Context) error) {
	defer p.wg.Done()

	for {
		p.runCycle(ctx, name, cycle)

		if !sleep(ctx, p.config.Interval) {
			return
		}
	}
}

// runCycle is the per-cycle error boundary.
func (p *Poller) runCycle(ctx context.Context, name string, cycle func(context.Context) error) {
	cycleID := uuid.NewString()
	log := p.logger.With(logger.CycleID(cycleID), "loop", name)
	started := time.Now()

	err := safeCall(ctx, cycle)
	p.stats.recordCycle(name, err)

	switch {
	case err == nil:
		log.Debug("poll cycle completed", logger.Latency(time.Since(started)))
	case ctx.Err() != nil:
		log.Debug("poll cycle interrupted", logger.Err(err))
	default:
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			log.Error("poll cycle panicked",
				logger.Err(err),
				"at", started.UTC().Format(time.RFC3339),
				"stack", string(panicErr.Stack),
			)
		} else {
			log.Error("poll cycle failed",
				logger.Err(err),
				"at", started.UTC().Format(time.RFC3339),
			)
		}
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.SaveTimeout)
	defer cancel()
	if err := p.Save(saveCtx); err != nil {
		log.Error("snapshot save failed", logger.Err(err))
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// sleep waits for d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
