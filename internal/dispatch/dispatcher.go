// Package dispatch invokes registered action handlers for matched commands.
//
// Dispatch is fire-and-forget relative to the pipeline: invocations queue to
// a dedicated worker goroutine, so a slow or failing handler can never stall
// transcript flow. Handler failures are contained and reported, never fatal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voxhollow/earshot/internal/match"
)

// ErrClosed is returned by [Dispatcher.Dispatch] after [Dispatcher.Close].
var ErrClosed = errors.New("dispatcher is closed")

// ErrQueueFull is reported through the failure hook when an invocation is
// shed because the worker queue is full.
var ErrQueueFull = errors.New("dispatch queue full")

// Invocation carries a matched command and its triggering transcript to a
// handler.
type Invocation struct {
	Command    match.Command
	Phrase     string
	Text       string
	Confidence float64
	Ratio      float64

	// At is the stream-time start of the triggering transcript.
	At time.Duration
}

// Handler executes one command invocation. Returned errors are reported as
// system events; panics are contained.
type Handler func(ctx context.Context, inv Invocation) error

// Registry maps command identifiers to handlers. Registration happens at
// startup; lookups are concurrent with dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[match.Command]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[match.Command]Handler)}
}

// Register binds a handler to a command. Re-registering a command is an
// error; new commands require an explicit entry, not an overwrite.
func (r *Registry) Register(cmd match.Command, h Handler) error {
	if cmd == "" || h == nil {
		return fmt.Errorf("dispatch: invalid registration for %q", cmd)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[cmd]; dup {
		return fmt.Errorf("dispatch: command %q already registered", cmd)
	}
	r.handlers[cmd] = h
	return nil
}

// Commands returns the registered command identifiers, sorted.
func (r *Registry) Commands() []match.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]match.Command, 0, len(r.handlers))
	for cmd := range r.handlers {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) lookup(cmd match.Command) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[cmd]
	return h, ok
}

// Config holds the dispatcher's tuning knobs.
type Config struct {
	// QueueDepth bounds invocations waiting for the worker. Default: 16.
	QueueDepth int

	// HandlerTimeout bounds a single handler call. Default: 10s.
	HandlerTimeout time.Duration

	// OnFailure, when non-nil, is called for every invocation that could
	// not run or whose handler failed. The pipeline wires this to a system
	// event.
	OnFailure func(inv Invocation, err error)
}

// Dispatcher runs invocations on a single worker goroutine.
type Dispatcher struct {
	cfg Config
	reg *Registry
	log *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan Invocation
	done   chan struct{}
}

// New creates a Dispatcher and starts its worker. Zero-value config fields
// are replaced with defaults.
func New(cfg Config, reg *Registry, log *slog.Logger) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		cfg:   cfg,
		reg:   reg,
		log:   log,
		queue: make(chan Invocation, cfg.QueueDepth),
		done:  make(chan struct{}),
	}
	go d.worker()
	return d
}

// Dispatch enqueues an invocation without blocking. A full queue sheds the
// invocation and reports it through the failure hook.
func (d *Dispatcher) Dispatch(inv Invocation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- inv:
		return nil
	default:
		d.log.Warn("invocation shed, queue full",
			"command", inv.Command,
			"queue_depth", d.cfg.QueueDepth)
		d.fail(inv, ErrQueueFull)
		return nil
	}
}

// Close stops admission and waits for queued invocations to finish, up to
// ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: close: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for inv := range d.queue {
		d.invoke(inv)
	}
}

// invoke runs one handler with panic containment and the per-handler
// timeout, and logs the invocation for auditability.
func (d *Dispatcher) invoke(inv Invocation) {
	h, ok := d.reg.lookup(inv.Command)
	if !ok {
		d.fail(inv, fmt.Errorf("dispatch: no handler for command %q", inv.Command))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HandlerTimeout)
	defer cancel()

	started := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("dispatch: handler panic: %v", r)
			}
		}()
		return h(ctx, inv)
	}()

	if err != nil {
		d.log.Error("command handler failed",
			"command", inv.Command,
			"phrase", inv.Phrase,
			"transcript", inv.Text,
			"error", err)
		d.fail(inv, err)
		return
	}
	d.log.Info("command dispatched",
		"command", inv.Command,
		"phrase", inv.Phrase,
		"transcript", inv.Text,
		"confidence", inv.Confidence,
		"elapsed", time.Since(started))
}

func (d *Dispatcher) fail(inv Invocation, err error) {
	if d.cfg.OnFailure != nil {
		d.cfg.OnFailure(inv, err)
	}
}
