// Package lifecycle owns resource handles. It runs a per-id
// Absent/Opening/Open/Closing state machine behind a concurrency gate and
// guarantees that every handle it obtains from the backend is disposed
// exactly once and is never published once its close was requested.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/internal/logging"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// ErrNotOpen is returned by playback operations on ids without an open handle.
var ErrNotOpen = errors.New("resource not open")

type handleRef = interfaces.Handle

// Options configures a Controller.
type Options struct {
	// MaxConcurrentOpens bounds non-priority opens in flight. Values < 1 use the default.
	MaxConcurrentOpens int
	// DisposeGrace is waited between close request and backend dispose.
	// Zero uses the default; negative disables the wait.
	DisposeGrace time.Duration
	Logger       logging.Logger
	// OnOpenError is called for every failed backend open.
	OnOpenError func(id string, err error)
	// Wanted is asked when an open lands. A handle whose id is no longer
	// wanted is disposed without being published. Nil wants everything.
	Wanted func(id string) bool
}

// Controller coordinates open/close of resource handles.
type Controller struct {
	backend     interfaces.Backend
	maxOpens    int
	grace       time.Duration
	log         logging.Logger
	onOpenError func(id string, err error)
	wanted      func(id string) bool

	mu        sync.Mutex
	records   map[string]*record
	opening   int
	volume    float64
	closed    bool
	listeners map[int]func()
	nextID    int

	wg sync.WaitGroup
}

// NewController creates a controller over backend.
func NewController(backend interfaces.Backend, opts Options) *Controller {
	if opts.MaxConcurrentOpens < 1 {
		opts.MaxConcurrentOpens = core.DefaultMaxConcurrentOpens
	}
	switch {
	case opts.DisposeGrace == 0:
		opts.DisposeGrace = core.DefaultDisposeGrace
	case opts.DisposeGrace < 0:
		opts.DisposeGrace = 0
	}
	return &Controller{
		backend:     backend,
		maxOpens:    opts.MaxConcurrentOpens,
		grace:       opts.DisposeGrace,
		log:         logging.OrNop(opts.Logger).With("component", "lifecycle"),
		onOpenError: opts.OnOpenError,
		wanted:      opts.Wanted,
		records:     make(map[string]*record),
		volume:      interfaces.VolumeNormal,
		listeners:   make(map[int]func()),
	}
}

// RequestOpen starts opening id unless it is already tracked. Non-priority
// requests are dropped when the gate is full. The returned channel yields at
// most one error and is then closed: nil on success, ErrGateFull on a drop,
// a *core.ResourceError on backend failure. A request for an id that is
// already opening follows the in-flight open. A request for an id that is
// closing is not queued and reports ErrResourceClosing; wait on Released
// before asking again.
func (c *Controller) RequestOpen(ctx context.Context, id, url string, priority bool) <-chan error {
	done := make(chan error, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done <- core.ErrControllerClosed
		close(done)
		return done
	}
	if rec, ok := c.records[id]; ok {
		state := rec.state
		c.mu.Unlock()
		switch state {
		case StateOpening:
			return follow(rec)
		case StateClosing:
			done <- core.ErrResourceClosing
		}
		close(done)
		return done
	}
	if !priority && c.opening >= c.maxOpens {
		c.mu.Unlock()
		c.log.Debug("open dropped, gate full", "id", id, "limit", c.maxOpens)
		done <- core.ErrGateFull
		close(done)
		return done
	}

	rec := &record{
		state:  StateAbsent,
		url:    url,
		ticket: uuid.NewString(),
		opened: make(chan struct{}),
		gone:   make(chan struct{}),
	}
	rec.moveTo(StateOpening)
	c.records[id] = rec
	c.opening++
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug("opening", "id", id, "ticket", rec.ticket, "priority", priority)
	go c.runOpen(context.WithoutCancel(ctx), id, rec, done)
	return done
}

func follow(rec *record) <-chan error {
	done := make(chan error, 1)
	go func() {
		<-rec.opened
		if rec.err != nil {
			done <- rec.err
		}
		close(done)
	}()
	return done
}

func (c *Controller) runOpen(ctx context.Context, id string, rec *record, done chan<- error) {
	defer c.wg.Done()
	defer close(done)

	h, err := c.backend.Open(ctx, rec.url)

	var volume float64
	wanted := true
	if err == nil {
		volume = c.currentVolume()
		if err := h.SetVolume(volume); err != nil {
			c.log.Warn("set volume failed", "id", id, "err", err)
		}
		if c.wanted != nil {
			wanted = c.wanted(id)
		}
	}

	c.mu.Lock()
	c.opening--
	if err != nil {
		rec.moveTo(StateAbsent)
		delete(c.records, id)
		rec.err = core.NewResourceError(id, "open", err)
		close(rec.opened)
		close(rec.gone)
		c.mu.Unlock()

		c.log.Warn("open failed", "id", id, "ticket", rec.ticket, "err", err)
		if c.onOpenError != nil {
			c.onOpenError(id, rec.err)
		}
		done <- rec.err
		return
	}

	rec.handle = h
	if rec.state == StateClosing || !wanted {
		// A close arrived while the open was in flight, or the id fell
		// out of use: the handle is never published and goes straight
		// to dispose.
		if rec.state == StateOpening {
			rec.moveTo(StateClosing)
		}
		close(rec.opened)
		c.mu.Unlock()
		c.log.Debug("discarding handle no longer wanted", "id", id, "ticket", rec.ticket)
		c.dispose(id, rec)
		return
	}

	rec.moveTo(StateOpen)
	close(rec.opened)
	latest := c.volume
	c.mu.Unlock()

	if latest != volume {
		if err := h.SetVolume(latest); err != nil {
			c.log.Warn("set volume failed", "id", id, "err", err)
		}
	}
	c.log.Debug("opened", "id", id, "ticket", rec.ticket)
	c.notify()
}

func (c *Controller) currentVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// RequestClose starts closing id. It is a no-op for ids that are absent or
// already closing. An id that is still opening is marked closing and its
// handle is disposed as soon as the open lands.
func (c *Controller) RequestClose(id string) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || rec.state == StateClosing {
		c.mu.Unlock()
		return
	}
	if rec.state == StateOpening {
		rec.moveTo(StateClosing)
		c.mu.Unlock()
		c.log.Debug("close requested while opening", "id", id, "ticket", rec.ticket)
		return
	}

	rec.moveTo(StateClosing)
	c.wg.Add(1)
	c.mu.Unlock()

	if rec.handle.IsPlaying() {
		if err := rec.handle.Pause(); err != nil {
			c.log.Warn("pause before close failed", "id", id, "err", err)
		}
	}
	c.notify()
	go func() {
		defer c.wg.Done()
		if c.grace > 0 {
			time.Sleep(c.grace)
		}
		c.dispose(id, rec)
	}()
}

// dispose releases rec's handle and drops the record. Close failures are
// logged and the record is still cleared so the id can be opened again.
func (c *Controller) dispose(id string, rec *record) {
	if err := rec.handle.Dispose(context.Background()); err != nil {
		c.log.Error("dispose failed", "id", id, "ticket", rec.ticket, "err", core.NewResourceError(id, "dispose", err))
	}

	c.mu.Lock()
	rec.moveTo(StateAbsent)
	if c.records[id] == rec {
		delete(c.records, id)
	}
	close(rec.gone)
	c.mu.Unlock()

	c.log.Debug("closed", "id", id, "ticket", rec.ticket)
	c.notify()
}

// Clear requests close for every tracked id.
func (c *Controller) Clear() {
	for _, id := range c.ids(func(*record) bool { return true }) {
		c.RequestClose(id)
	}
}

// Close rejects further opens, closes everything and waits until all open
// and close operations have finished or ctx is done.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Clear()

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for resources to close: %w", ctx.Err())
	}
}

// Wait blocks until no open or close operation is in flight.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// State returns the lifecycle state of id.
func (c *Controller) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		return rec.state
	}
	return StateAbsent
}

// Released returns a channel that is closed once id has no record, so a
// closing id can be opened again. It is already closed for absent ids.
func (c *Controller) Released(id string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		return rec.gone
	}
	gone := make(chan struct{})
	close(gone)
	return gone
}

// Handles returns a copy of the published handles: those in state Open.
func (c *Controller) Handles() map[string]interfaces.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]interfaces.Handle, len(c.records))
	for id, rec := range c.records {
		if rec.state == StateOpen {
			out[id] = rec.handle
		}
	}
	return out
}

// Opening returns the number of opens in flight.
func (c *Controller) Opening() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opening
}

// Active returns the sorted ids that are opening or open.
func (c *Controller) Active() []string {
	return c.ids(func(rec *record) bool {
		return rec.state == StateOpening || rec.state == StateOpen
	})
}

func (c *Controller) ids(keep func(*record) bool) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.records))
	for id, rec := range c.records {
		if keep(rec) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Play starts playback of id.
func (c *Controller) Play(id string) error {
	return c.withOpen(id, func(h interfaces.Handle) error { return h.Play() })
}

// Pause pauses playback of id.
func (c *Controller) Pause(id string) error {
	return c.withOpen(id, func(h interfaces.Handle) error { return h.Pause() })
}

// IsPlaying reports whether id has an open handle that is playing.
func (c *Controller) IsPlaying(id string) bool {
	playing := false
	_ = c.withOpen(id, func(h interfaces.Handle) error {
		playing = h.IsPlaying()
		return nil
	})
	return playing
}

// withOpen runs fn on the published handle of id outside the lock.
func (c *Controller) withOpen(id string, fn func(interfaces.Handle) error) error {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || rec.state != StateOpen {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	h := rec.handle
	c.mu.Unlock()

	if err := fn(h); err != nil {
		return core.NewResourceError(id, "playback", err)
	}
	return nil
}

// PauseAll pauses every playing handle and returns the paused ids.
func (c *Controller) PauseAll() []string {
	var paused []string
	for id, h := range c.Handles() {
		if !h.IsPlaying() {
			continue
		}
		if err := h.Pause(); err != nil {
			c.log.Warn("pause failed", "id", id, "err", err)
			continue
		}
		paused = append(paused, id)
	}
	sort.Strings(paused)
	return paused
}

// Resume plays the given ids again, skipping ones that are no longer open.
func (c *Controller) Resume(ids []string) {
	for _, id := range ids {
		if err := c.Play(id); err != nil && !errors.Is(err, ErrNotOpen) {
			c.log.Warn("resume failed", "id", id, "err", err)
		}
	}
}

// SetMuted applies the mute state to every open handle. Handles opened
// later pick the state up when they reach Open.
func (c *Controller) SetMuted(muted bool) {
	volume := interfaces.VolumeNormal
	if muted {
		volume = interfaces.VolumeMuted
	}
	c.mu.Lock()
	c.volume = volume
	c.mu.Unlock()

	for id, h := range c.Handles() {
		if err := h.SetVolume(volume); err != nil {
			c.log.Warn("set volume failed", "id", id, "err", err)
		}
	}
	c.notify()
}

// Muted reports the current mute state.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume == interfaces.VolumeMuted
}

// OnChange registers fn to run after every change to the published handles
// or mute state. The returned func unregisters it.
func (c *Controller) OnChange(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

var _ interfaces.Pausable = (*Controller)(nil)
