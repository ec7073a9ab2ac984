// Package sim provides an in-memory resource backend. It is used by the CLI
// simulator and as the backend double in tests: opens can be delayed, held
// until released, or failed per URL, and every open and dispose is counted.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// ErrDisposed is returned by handle operations after Dispose.
var ErrDisposed = errors.New("handle disposed")

// Option configures a Backend.
type Option func(*Backend)

// WithLatency delays every open by d.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithHeldOpens makes every open block until ReleaseOne or ReleaseAll.
func WithHeldOpens() Option {
	return func(b *Backend) { b.gate = make(chan struct{}) }
}

// WithFailure makes opens of url fail with err.
func WithFailure(url string, err error) Option {
	return func(b *Backend) { b.failures[url] = err }
}

// WithDisposeFailure makes Dispose of handles for url return err.
func WithDisposeFailure(url string, err error) Option {
	return func(b *Backend) { b.disposeFailures[url] = err }
}

// Backend is a simulated interfaces.Backend.
type Backend struct {
	latency         time.Duration
	gate            chan struct{}
	releaseAll      sync.Once
	failures        map[string]error
	disposeFailures map[string]error

	mu       sync.Mutex
	opens    map[string]int
	disposes map[string]int
	handles  []*Handle
	inFlight int
	peak     int
}

var _ interfaces.Backend = (*Backend)(nil)

// New creates a simulated backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		failures:        make(map[string]error),
		disposeFailures: make(map[string]error),
		opens:           make(map[string]int),
		disposes:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open implements interfaces.Backend.
func (b *Backend) Open(ctx context.Context, url string) (interfaces.Handle, error) {
	b.mu.Lock()
	b.opens[url]++
	b.inFlight++
	if b.inFlight > b.peak {
		b.peak = b.inFlight
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight--
		b.mu.Unlock()
	}()

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.latency > 0 {
		timer := time.NewTimer(b.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := b.failures[url]; ok {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	h := &Handle{backend: b, url: url, volume: interfaces.VolumeNormal}
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

// ReleaseOne lets exactly one held open proceed. It blocks until an open
// is waiting.
func (b *Backend) ReleaseOne() {
	if b.gate != nil {
		b.gate <- struct{}{}
	}
}

// ReleaseAll lets every current and future held open proceed.
func (b *Backend) ReleaseAll() {
	if b.gate != nil {
		b.releaseAll.Do(func() { close(b.gate) })
	}
}

// Opens returns how many times url was opened.
func (b *Backend) Opens(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[url]
}

// TotalOpens returns the number of open calls across all URLs.
func (b *Backend) TotalOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.opens {
		total += n
	}
	return total
}

// Disposes returns how many handles for url were disposed.
func (b *Backend) Disposes(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposes[url]
}

// TotalDisposes returns the number of dispose calls across all URLs.
func (b *Backend) TotalDisposes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.disposes {
		total += n
	}
	return total
}

// InFlight returns the number of opens currently in progress.
func (b *Backend) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// PeakInFlight returns the highest number of simultaneous opens observed.
func (b *Backend) PeakInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// Handles returns every handle created so far.
func (b *Backend) Handles() []*Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Handle, len(b.handles))
	copy(out, b.handles)
	return out
}

// LiveHandles returns handles that have not been disposed.
func (b *Backend) LiveHandles() []*Handle {
	var live []*Handle
	for _, h := range b.Handles() {
		if h.DisposeCount() == 0 {
			live = append(live, h)
		}
	}
	return live
}

// Handle is a simulated interfaces.Handle.
type Handle struct {
	backend *Backend
	url     string

	mu       sync.Mutex
	playing  bool
	volume   float64
	plays    int
	disposed int
}

var _ interfaces.Handle = (*Handle)(nil)

// URL returns the URL the handle was opened for.
func (h *Handle) URL() string { return h.url }

func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed > 0 {
		return ErrDisposed
	}
	h.playing = true
	h.plays++
	return nil
}

func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed > 0 {
		return ErrDisposed
	}
	h.playing = false
	return nil
}

func (h *Handle) SetVolume(level float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed > 0 {
		return ErrDisposed
	}
	h.volume = level
	return nil
}

func (h *Handle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *Handle) IsInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed == 0
}

// Dispose records the call; a second call is counted too so tests can
// detect double disposal.
func (h *Handle) Dispose(ctx context.Context) error {
	h.mu.Lock()
	h.disposed++
	h.playing = false
	h.mu.Unlock()

	h.backend.mu.Lock()
	h.backend.disposes[h.url]++
	h.backend.mu.Unlock()

	if err, ok := h.backend.disposeFailures[h.url]; ok {
		return fmt.Errorf("dispose %s: %w", h.url, err)
	}
	return nil
}

// Volume returns the last volume set.
func (h *Handle) Volume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

// PlayCount returns how many times Play succeeded.
func (h *Handle) PlayCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plays
}

// DisposeCount returns how many times Dispose was called.
func (h *Handle) DisposeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}
