// Package window decides which items around the current index keep an open
// resource. It drives a lifecycle.Controller, reconciles item list updates
// and publishes immutable snapshots of the result.
package window

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/internal/lifecycle"
	"github.com/sho7650/media-window/internal/logging"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// forwardPreload is how many items beyond the window edge PreloadNext opens.
const forwardPreload = 2

// Options configures a Manager.
type Options struct {
	Config       core.WindowConfig
	DisposeGrace time.Duration
	Logger       logging.Logger
	OnOpenError  func(id string, err error)
}

// Manager is the sliding window manager. All item list and index mutations
// are serialized through it; handle ownership stays with the controller.
type Manager[T any] struct {
	cfg  core.WindowConfig
	ctrl *lifecycle.Controller
	log  logging.Logger
	pub  *publisher[T]

	mu       sync.Mutex
	items    []interfaces.MediaItem[T]
	current  int
	playing  bool
	expanded bool
	// gen counts SetCurrentIndex calls so a superseded call stops issuing
	// opens.
	gen int
	// wanted holds the ids whose resources should be open. Opens landing
	// for other ids are discarded by the controller.
	wanted map[string]bool
	// retry holds wanted targets whose open was refused by the gate or
	// because the id was still closing.
	retry map[string]target

	unsubscribe func()
}

type target struct {
	index int
	id    string
	url   string
}

// NewManager creates a window over items. The manager starts in the
// initial state (no current index) with no resources open.
func NewManager[T any](backend interfaces.Backend, items []interfaces.MediaItem[T], opts Options) (*Manager[T], error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	log := logging.OrNop(opts.Logger)
	m := &Manager[T]{
		cfg:     opts.Config,
		log:     log.With("component", "window"),
		pub:     newPublisher[T](),
		items:   slices.Clone(items),
		current: -1,
		wanted:  make(map[string]bool),
		retry:   make(map[string]target),
	}
	m.ctrl = lifecycle.NewController(backend, lifecycle.Options{
		MaxConcurrentOpens: opts.Config.MaxConcurrentOpens,
		DisposeGrace:       opts.DisposeGrace,
		Logger:             log,
		OnOpenError:        opts.OnOpenError,
		Wanted:             m.isWanted,
	})
	m.unsubscribe = m.ctrl.OnChange(m.onControllerChange)
	m.publish()
	return m, nil
}

func validateItems[T any](items []interfaces.MediaItem[T]) error {
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
		if _, dup := seen[items[i].ID]; dup {
			return fmt.Errorf("item %d: duplicate id %q", i, items[i].ID)
		}
		seen[items[i].ID] = struct{}{}
	}
	return nil
}

// Controller returns the lifecycle controller owned by the manager.
func (m *Manager[T]) Controller() *lifecycle.Controller {
	return m.ctrl
}

// Config returns the window configuration.
func (m *Manager[T]) Config() core.WindowConfig {
	return m.cfg
}

// SetCurrentIndex moves the window to index. Evictions are issued first,
// then the current item is opened with priority and awaited, then the rest
// of the retain set is requested through the gate. A failed open of the
// current item is returned after the remaining opens have been issued. A
// call overtaken by a later one stops before issuing the rest.
func (m *Manager[T]) SetCurrentIndex(ctx context.Context, index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.items) {
		n := len(m.items)
		m.mu.Unlock()
		return fmt.Errorf("%w: %d (items: %d)", core.ErrIndexOutOfRange, index, n)
	}
	prevID := m.currentIDLocked()
	m.current = index
	m.gen++
	gen := m.gen
	current, rest, keep := m.planLocked(index)
	m.wanted = maps.Clone(keep)
	m.retry = make(map[string]target)
	playing := m.playing
	m.mu.Unlock()

	m.publish()

	if prevID != "" && (current == nil || prevID != current.id) {
		m.pauseQuietly(prevID)
	}
	m.evict(keep)

	var openErr error
	if current != nil {
		if err := m.openCurrent(ctx, *current, gen); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			openErr = fmt.Errorf("open current item %s: %w", current.id, err)
		}
		if openErr == nil && playing && m.isCurrent(current.id) {
			if err := m.ctrl.Play(current.id); err != nil && !errors.Is(err, lifecycle.ErrNotOpen) {
				m.log.Warn("autoplay failed", "id", current.id, "err", err)
			}
		}
	}

	if m.superseded(gen) {
		m.log.Debug("index change superseded", "index", index)
		return openErr
	}
	for _, t := range rest {
		m.request(ctx, t)
	}
	return openErr
}

// openCurrent opens t with priority and waits for the result. An id still
// closing from an earlier eviction is reopened once its handle is released.
func (m *Manager[T]) openCurrent(ctx context.Context, t target, gen int) error {
	for {
		var err error
		select {
		case err = <-m.ctrl.RequestOpen(ctx, t.id, t.url, true):
		case <-ctx.Done():
			return ctx.Err()
		}
		if !errors.Is(err, core.ErrResourceClosing) {
			return err
		}

		m.log.Debug("current item still closing", "id", t.id)
		select {
		case <-m.ctrl.Released(t.id):
		case <-ctx.Done():
			return ctx.Err()
		}
		if m.superseded(gen) {
			return nil
		}
	}
}

// request asks for a non-priority open of t. Refusals that the controller
// reports synchronously are remembered and retried on the next change.
func (m *Manager[T]) request(ctx context.Context, t target) {
	select {
	case err := <-m.ctrl.RequestOpen(ctx, t.id, t.url, false):
		if errors.Is(err, core.ErrGateFull) || errors.Is(err, core.ErrResourceClosing) {
			m.mu.Lock()
			if m.wanted[t.id] {
				m.retry[t.id] = t
			}
			m.mu.Unlock()
		}
	default:
	}
}

// retryRefused re-requests refused targets that are still wanted.
func (m *Manager[T]) retryRefused() {
	m.mu.Lock()
	if len(m.retry) == 0 {
		m.mu.Unlock()
		return
	}
	targets := make([]target, 0, len(m.retry))
	for id, t := range m.retry {
		if m.wanted[id] {
			targets = append(targets, t)
		}
		delete(m.retry, id)
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.request(context.Background(), t)
	}
}

func (m *Manager[T]) onControllerChange() {
	m.publish()
	m.retryRefused()
}

func (m *Manager[T]) isWanted(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wanted[id]
}

func (m *Manager[T]) superseded(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

// restrictLocked drops every wanted or retried id not in keep.
func (m *Manager[T]) restrictLocked(keep map[string]bool) {
	for id := range m.wanted {
		if !keep[id] {
			delete(m.wanted, id)
		}
	}
	for id := range m.retry {
		if !keep[id] {
			delete(m.retry, id)
		}
	}
}

// planLocked computes the open targets for index: the current item (nil if
// its URL is unusable), the other retained items nearest first, and the ids
// to keep.
func (m *Manager[T]) planLocked(index int) (*target, []target, map[string]bool) {
	keep := make(map[string]bool)
	var current *target
	var rest []target

	for _, i := range m.retainLocked(index) {
		item := m.items[i]
		keep[item.ID] = true
		t := target{index: i, id: item.ID, url: item.ResourceURL}
		if i == index {
			current = &t
			continue
		}
		rest = append(rest, t)
	}
	slices.SortStableFunc(rest, func(a, b target) int {
		return distance(a.index, index) - distance(b.index, index)
	})
	return current, rest, keep
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// RetainSet returns the indices whose resources should be open when the
// current index is index.
func (m *Manager[T]) RetainSet(index int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retainLocked(index)
}

func (m *Manager[T]) retainLocked(index int) []int {
	lo, hi, ok := m.cfg.RetainRange(index, len(m.items))
	if !ok {
		return nil
	}
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		if core.ValidResourceURL(m.items[i].ResourceURL) {
			out = append(out, i)
		}
	}
	return out
}

// evict closes every active id not in keep.
func (m *Manager[T]) evict(keep map[string]bool) {
	for _, id := range m.ctrl.Active() {
		if !keep[id] {
			m.log.Debug("evicting", "id", id)
			m.ctrl.RequestClose(id)
		}
	}
}

// DisposeExcept closes every resource outside the retain set of index
// without opening anything.
func (m *Manager[T]) DisposeExcept(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.items) {
		n := len(m.items)
		m.mu.Unlock()
		return fmt.Errorf("%w: %d (items: %d)", core.ErrIndexOutOfRange, index, n)
	}
	_, _, keep := m.planLocked(index)
	m.restrictLocked(keep)
	m.mu.Unlock()

	m.evict(keep)
	return nil
}

// PreloadNext opportunistically opens the items just past the forward edge
// of the window at index. Requests go through the gate and may be dropped.
func (m *Manager[T]) PreloadNext(ctx context.Context, index int) error {
	m.mu.Lock()
	_, hi, ok := m.cfg.RetainRange(index, len(m.items))
	if !ok {
		n := len(m.items)
		m.mu.Unlock()
		return fmt.Errorf("%w: %d (items: %d)", core.ErrIndexOutOfRange, index, n)
	}
	var targets []target
	for i := hi + 1; i <= hi+forwardPreload && i < len(m.items); i++ {
		if core.ValidResourceURL(m.items[i].ResourceURL) {
			targets = append(targets, target{index: i, id: m.items[i].ID, url: m.items[i].ResourceURL})
			m.wanted[m.items[i].ID] = true
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.request(ctx, t)
	}
	return nil
}

// SetPlaying sets the playback intent for the current item and applies it
// if the item is open.
func (m *Manager[T]) SetPlaying(playing bool) error {
	m.mu.Lock()
	m.playing = playing
	id := m.currentIDLocked()
	m.mu.Unlock()

	var err error
	if id != "" {
		if playing {
			err = m.ctrl.Play(id)
		} else {
			err = m.ctrl.Pause(id)
		}
		if errors.Is(err, lifecycle.ErrNotOpen) {
			err = nil
		}
	}
	m.publish()
	return err
}

// ToggleMute flips the mute state of every handle and returns the new state.
func (m *Manager[T]) ToggleMute() bool {
	muted := !m.ctrl.Muted()
	m.ctrl.SetMuted(muted)
	return muted
}

// SetExpanded records the expanded presentation flag.
func (m *Manager[T]) SetExpanded(expanded bool) {
	m.mu.Lock()
	m.expanded = expanded
	m.mu.Unlock()
	m.publish()
}

// Clear closes every open resource. Items and index are kept.
func (m *Manager[T]) Clear() {
	m.forgetWanted()
	m.ctrl.Clear()
}

func (m *Manager[T]) forgetWanted() {
	m.mu.Lock()
	m.wanted = make(map[string]bool)
	m.retry = make(map[string]target)
	m.mu.Unlock()
}

// Close tears the window down: every handle is closed exactly once and
// subscriber channels are closed.
func (m *Manager[T]) Close(ctx context.Context) error {
	m.forgetWanted()
	err := m.ctrl.Close(ctx)
	m.unsubscribe()
	m.publish()
	m.pub.close()
	return err
}

// Snapshot returns the latest published snapshot.
func (m *Manager[T]) Snapshot() Snapshot[T] {
	return m.pub.snapshot()
}

// Subscribe returns a channel receiving the latest snapshot on every change.
// Slow readers only see the newest value. cancel closes the channel.
func (m *Manager[T]) Subscribe() (<-chan Snapshot[T], func()) {
	return m.pub.subscribe()
}

// Items returns a copy of the item list.
func (m *Manager[T]) Items() []interfaces.MediaItem[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items)
}

// Len returns the number of items.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// CurrentIndex returns the current index, or -1 before the first
// SetCurrentIndex or after the list became empty.
func (m *Manager[T]) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager[T]) isCurrent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIDLocked() == id
}

func (m *Manager[T]) currentIDLocked() string {
	if m.current < 0 || m.current >= len(m.items) {
		return ""
	}
	return m.items[m.current].ID
}

func (m *Manager[T]) indexOfLocked(id string) int {
	return slices.IndexFunc(m.items, func(it interfaces.MediaItem[T]) bool { return it.ID == id })
}

func (m *Manager[T]) pauseQuietly(id string) {
	if err := m.ctrl.Pause(id); err != nil && !errors.Is(err, lifecycle.ErrNotOpen) {
		m.log.Warn("pause failed", "id", id, "err", err)
	}
}

// publish builds a snapshot and hands it to subscribers. Lock order is
// publisher, then manager, then controller.
func (m *Manager[T]) publish() {
	m.pub.mu.Lock()
	defer m.pub.mu.Unlock()

	m.mu.Lock()
	snap := Snapshot[T]{
		CurrentIndex:  m.current,
		CurrentItemID: m.currentIDLocked(),
		Items:         slices.Clone(m.items),
		IsPlaying:     m.playing,
		IsExpanded:    m.expanded,
	}
	m.mu.Unlock()

	snap.Handles = m.ctrl.Handles()
	snap.IsMuted = m.ctrl.Muted()
	m.pub.publish(snap)
}
