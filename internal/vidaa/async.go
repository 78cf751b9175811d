package vidaa

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Submit when the job queue is at
	// capacity. Callers on a hot path drop the call instead of blocking.
	ErrQueueFull = errors.New("vidaa: job queue full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vidaa: adapter closed")
)

const defaultQueueSize = 16

// Async serializes blocking session calls onto one worker goroutine.
// A Session tolerates only one in-flight blocking call at a time, so
// components that react to events (bridge commands, automation hooks,
// web requests) go through this adapter instead of calling the session
// directly.
type Async struct {
	session *Session
	logger  *slog.Logger
	jobs    chan func()

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the worker. queueSize <= 0 selects the default.
func NewAsync(session *Session, queueSize int, logger *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		session: session,
		logger:  logger.With("component", "async"),
		jobs:    make(chan func(), queueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for job := range a.jobs {
		job()
	}
}

// Session returns the wrapped session for non-blocking reads (state
// snapshot, flags). Blocking calls still belong on the worker.
func (a *Async) Session() *Session { return a.session }

// Submit enqueues a job without waiting for it to run. Fails fast when
// the queue is full rather than blocking the caller. The lock is held
// across the send so Close cannot close the channel under a sender.
func (a *Async) Submit(job func()) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.jobs <- job:
		return nil
	default:
		a.logger.Warn("job dropped, queue full")
		return ErrQueueFull
	}
}

// Call runs a job on the worker and waits for it to finish or for ctx
// to end. The job itself is not cancelled mid-flight; an expired ctx
// only stops the local wait.
func (a *Async) Call(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	err := a.Submit(func() {
		defer close(finished)
		job()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, lets queued jobs drain, and waits for the
// worker to exit.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()
	close(a.jobs)
	<-a.done
}

// Connect runs Session.Connect on the worker.
func (a *Async) Connect(ctx context.Context, timeout time.Duration, autoRefresh, tryFallback bool) (bool, error) {
	var ok bool
	err := a.Call(ctx, func() { ok = a.session.Connect(timeout, autoRefresh, tryFallback) })
	return ok, err
}

// Disconnect runs Session.Disconnect on the worker.
func (a *Async) Disconnect(ctx context.Context) error {
	return a.Call(ctx, func() { a.session.Disconnect() })
}

// SendKey enqueues a key press without waiting.
func (a *Async) SendKey(key string) error {
	return a.Submit(func() { a.session.SendKey(key) })
}

// PowerOn enqueues a guarded power-on.
func (a *Async) PowerOn() error {
	return a.Submit(func() { a.session.PowerOn() })
}

// PowerOff enqueues a guarded power-off.
func (a *Async) PowerOff() error {
	return a.Submit(func() { a.session.PowerOff() })
}

// SetVolume enqueues an absolute volume change.
func (a *Async) SetVolume(level int) error {
	return a.Submit(func() { a.session.SetVolume(level) })
}

// GetVolume runs a volume query on the worker and waits for it.
func (a *Async) GetVolume(ctx context.Context, timeout time.Duration) (int, bool, error) {
	var (
		level int
		ok    bool
	)
	err := a.Call(ctx, func() { level, ok = a.session.GetVolume(timeout) })
	return level, ok, err
}

// GetState runs a state query on the worker and waits for it.
func (a *Async) GetState(ctx context.Context, timeout time.Duration) (map[string]any, error) {
	var state map[string]any
	err := a.Call(ctx, func() { state = a.session.GetState(timeout) })
	return state, err
}

// SetSource enqueues an input switch.
func (a *Async) SetSource(source string) error {
	return a.Submit(func() { a.session.SetSource(source) })
}

// LaunchApp enqueues an app launch. Resolution against the device app
// list happens on the worker.
func (a *Async) LaunchApp(name string) error {
	return a.Submit(func() { a.session.LaunchApp(name) })
}

// StartPairing runs the pairing request on the worker and waits.
func (a *Async) StartPairing(ctx context.Context) (bool, error) {
	var ok bool
	err := a.Call(ctx, func() { ok = a.session.StartPairing() })
	return ok, err
}

// Authenticate runs the PIN exchange on the worker and waits.
func (a *Async) Authenticate(ctx context.Context, pin string, timeout time.Duration) (bool, error) {
	var ok bool
	err := a.Call(ctx, func() { ok = a.session.Authenticate(pin, timeout) })
	return ok, err
}

// RefreshToken runs a token refresh on the worker and waits.
func (a *Async) RefreshToken(ctx context.Context, timeout time.Duration) (bool, error) {
	var ok bool
	err := a.Call(ctx, func() { ok = a.session.RefreshToken(timeout) })
	return ok, err
}
