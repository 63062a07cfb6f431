// Package reload implements the file-watching reload coordinator (C12):
// debounced fsnotify events trigger a parse-then-atomic-swap of the
// engine's rule and policy sets, publishing an Event per settled
// change. Structurally grounded on the teacher's mangle file watcher
// (debounce map drained on a ticker, Start/Stop/run/handleEvent split).
package reload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/rune-authz/rune/internal/authz"
	"github.com/rune-authz/rune/internal/eval"
	"github.com/rune-authz/rune/internal/rerr"
)

// Status is the outcome of one settled reload attempt.
type Status int

const (
	Success Status = iota
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Event is published once per settled file change.
type Event struct {
	Path   string
	Status Status
	Reason string
	Time   time.Time
}

// Target is what a Coordinator swaps on a successful reload: the engine's
// composition engine, generalized behind an interface so this package does
// not need to import the concrete engine wiring.
type Target interface {
	SwapEvaluator(ev *eval.IncrementalEvaluator)
	SwapPolicies(policies []authz.Policy)
	ClearCache()
}

// Options configures a Coordinator.
type Options struct {
	RulesPath        string
	PoliciesPath     string
	DebounceInterval time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	EvalOptions      eval.Options
	RuleParser       RuleParser
	PolicyParser     PolicyParser
}

// Coordinator watches RulesPath and PoliciesPath and atomically swaps new
// rule/policy sets into Target once a change settles.
type Coordinator struct {
	opts    Options
	target  Target
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu          sync.Mutex
	debounceMap map[string]time.Time
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}

	eventsMu sync.Mutex
	events   []Event
	onEvent  func(Event)
}

// New builds a Coordinator. Unset parsers default to ParseRules/
// ParsePolicies.
func New(opts Options, target Target, logger *zap.Logger) (*Coordinator, error) {
	if opts.RuleParser == nil {
		opts.RuleParser = ParseRules
	}
	if opts.PolicyParser == nil {
		opts.PolicyParser = ParsePolicies
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, "creating file watcher", err)
	}

	return &Coordinator{
		opts:        opts,
		target:      target,
		logger:      logger,
		watcher:     w,
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// OnEvent registers a callback invoked (synchronously, from the
// coordinator's goroutine) whenever an Event is published. Intended
// for tests and for wiring into an external event bus.
func (c *Coordinator) OnEvent(fn func(Event)) {
	c.eventsMu.Lock()
	c.onEvent = fn
	c.eventsMu.Unlock()
}

// Events returns every event published so far, in order.
func (c *Coordinator) Events() []Event {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	return append([]Event(nil), c.events...)
}

// Start begins watching both configured paths. Non-blocking.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	for _, path := range []string{c.opts.RulesPath, c.opts.PoliciesPath} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if err := c.watcher.Add(dir); err != nil {
			c.logger.Warn("reload: failed to watch directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	go c.run(ctx)
	return nil
}

// Stop halts the watch loop and releases the underlying fsnotify watcher.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	<-c.doneCh
	_ = c.watcher.Close()
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.opts.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleFSEvent(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("reload: watcher error", zap.Error(err))
		case <-ticker.C:
			c.processSettled(ctx)
		}
	}
}

func (c *Coordinator) handleFSEvent(ev fsnotify.Event) {
	if ev.Name != c.opts.RulesPath && ev.Name != c.opts.PoliciesPath {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	c.mu.Lock()
	c.debounceMap[ev.Name] = time.Now()
	c.mu.Unlock()
}

func (c *Coordinator) processSettled(ctx context.Context) {
	c.mu.Lock()
	now := time.Now()
	var settled []string
	for path, t := range c.debounceMap {
		if now.Sub(t) >= c.opts.DebounceInterval {
			settled = append(settled, path)
			delete(c.debounceMap, path)
		}
	}
	c.mu.Unlock()

	for _, path := range settled {
		c.reload(ctx, path)
	}
}

// ReloadNow triggers an immediate reload of path, bypassing the debounce
// window. Used for startup and by tests.
func (c *Coordinator) ReloadNow(ctx context.Context, path string) {
	c.reload(ctx, path)
}

func (c *Coordinator) reload(ctx context.Context, path string) {
	var lastErr error
	attempts := c.opts.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				c.publish(Event{Path: path, Status: Failed, Reason: ctx.Err().Error(), Time: time.Now()})
				return
			case <-time.After(c.opts.RetryDelay):
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			lastErr = err
			continue
		}

		if path == c.opts.RulesPath {
			rules, err := c.opts.RuleParser(data)
			if err != nil {
				c.publish(Event{Path: path, Status: Failed, Reason: err.Error(), Time: time.Now()})
				return
			}
			ev := eval.NewIncrementalEvaluator(rules, c.opts.EvalOptions)
			c.target.SwapEvaluator(ev)
			c.target.ClearCache()
			c.publish(Event{Path: path, Status: Success, Time: time.Now()})
			return
		}

		if path == c.opts.PoliciesPath {
			policies, err := c.opts.PolicyParser(data)
			if err != nil {
				c.publish(Event{Path: path, Status: Failed, Reason: err.Error(), Time: time.Now()})
				return
			}
			c.target.SwapPolicies(policies)
			c.target.ClearCache()
			c.publish(Event{Path: path, Status: Success, Time: time.Now()})
			return
		}

		c.publish(Event{Path: path, Status: Skipped, Reason: "path not recognized", Time: time.Now()})
		return
	}

	c.publish(Event{Path: path, Status: Failed, Reason: lastErr.Error(), Time: time.Now()})
}

func (c *Coordinator) publish(ev Event) {
	c.eventsMu.Lock()
	c.events = append(c.events, ev)
	cb := c.onEvent
	c.eventsMu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
