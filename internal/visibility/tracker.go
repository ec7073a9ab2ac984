// Package visibility activates resources from viewport visibility instead of
// an index. It is meant for feed layouts where several items are mounted at
// once: visible items are opened, the single visible item autoplays, and
// hidden items are closed after a grace delay unless they scroll back in.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/internal/lifecycle"
	"github.com/sho7650/media-window/internal/logging"
)

// Options configures a Tracker.
type Options struct {
	// HideGrace delays the close of a hidden item. Zero uses the default.
	HideGrace time.Duration
	// Threshold is the visible fraction at or above which an item counts
	// as visible. Zero uses the default.
	Threshold float64
	Logger    logging.Logger
}

// deferredClose is a pending close for a hidden item. It is superseded
// when the map entry for the id no longer points at it.
type deferredClose struct {
	timer *time.Timer
}

// Tracker owns the VisibilitySet and drives a lifecycle.Controller.
type Tracker struct {
	ctrl      *lifecycle.Controller
	grace     time.Duration
	threshold float64
	log       logging.Logger

	mu      sync.Mutex
	visible map[string]string // id -> resource url
	playing map[string]bool
	pending map[string]*deferredClose
	dropped map[string]bool
	closed  bool
	wg      sync.WaitGroup

	unsubscribe func()
}

// NewTracker creates a tracker driving ctrl.
func NewTracker(ctrl *lifecycle.Controller, opts Options) *Tracker {
	if opts.HideGrace <= 0 {
		opts.HideGrace = core.DefaultHideGrace
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = core.DefaultVisibleThreshold
	}
	t := &Tracker{
		ctrl:      ctrl,
		grace:     opts.HideGrace,
		threshold: opts.Threshold,
		log:       logging.OrNop(opts.Logger).With("component", "visibility"),
		visible:   make(map[string]string),
		playing:   make(map[string]bool),
		pending:   make(map[string]*deferredClose),
		dropped:   make(map[string]bool),
	}
	t.unsubscribe = ctrl.OnChange(t.retryDropped)
	return t
}

// OnVisibilityChanged maps a visibility report onto OnVisible/OnHidden.
// Reports that do not cross the threshold are ignored.
func (t *Tracker) OnVisibilityChanged(ctx context.Context, id, url string, fraction float64) {
	t.mu.Lock()
	_, wasVisible := t.visible[id]
	t.mu.Unlock()

	nowVisible := fraction >= t.threshold
	switch {
	case nowVisible && !wasVisible:
		t.OnVisible(ctx, id, url)
	case !nowVisible && wasVisible:
		t.OnHidden(id)
	}
}

// OnVisible marks id visible, cancels its pending close and opens it. An id
// whose close already started is opened again once it is released. If it
// is the only visible item, playback starts once the handle is open.
func (t *Tracker) OnVisible(ctx context.Context, id, url string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if dc, ok := t.pending[id]; ok {
		dc.timer.Stop()
		delete(t.pending, id)
		t.log.Debug("deferred close cancelled", "id", id)
	}
	t.visible[id] = url
	t.mu.Unlock()

	t.open(ctx, id, url)
}

func (t *Tracker) open(ctx context.Context, id, url string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.dropped, id)
	t.wg.Add(1)
	t.mu.Unlock()

	done := t.ctrl.RequestOpen(ctx, id, url, false)
	go func() {
		defer t.wg.Done()
		err := <-done
		switch {
		case errors.Is(err, core.ErrGateFull):
			t.mu.Lock()
			if _, ok := t.visible[id]; ok {
				t.dropped[id] = true
			}
			t.mu.Unlock()
			return
		case errors.Is(err, core.ErrResourceClosing):
			t.log.Debug("visible item still closing", "id", id)
			<-t.ctrl.Released(id)
			t.mu.Lock()
			url, visible := t.visible[id]
			t.mu.Unlock()
			if visible {
				t.open(ctx, id, url)
			}
			return
		case err != nil:
			t.log.Warn("open of visible item failed", "id", id, "err", err)
			return
		}
		t.autoplay(id)
	}()
}

// retryDropped re-requests visible items whose open was dropped at the gate.
// It runs after every controller change, when a slot may have freed up.
func (t *Tracker) retryDropped() {
	t.mu.Lock()
	if t.closed || len(t.dropped) == 0 {
		t.mu.Unlock()
		return
	}
	retry := make(map[string]string, len(t.dropped))
	for id := range t.dropped {
		if url, ok := t.visible[id]; ok {
			retry[id] = url
		}
		delete(t.dropped, id)
	}
	t.mu.Unlock()

	for id, url := range retry {
		t.open(context.Background(), id, url)
	}
}

func (t *Tracker) autoplay(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.visible) != 1 || len(t.playing) > 0 {
		return
	}
	if _, ok := t.visible[id]; !ok {
		return
	}
	if err := t.ctrl.Play(id); err != nil {
		t.log.Debug("autoplay skipped", "id", id, "err", err)
		return
	}
	t.playing[id] = true
}

// OnHidden marks id hidden, pauses it and schedules a close after the grace
// delay. The close only happens if id is still hidden when the delay ends.
func (t *Tracker) OnHidden(id string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	delete(t.visible, id)
	delete(t.dropped, id)
	if t.playing[id] || t.ctrl.IsPlaying(id) {
		if err := t.ctrl.Pause(id); err != nil && !errors.Is(err, lifecycle.ErrNotOpen) {
			t.log.Warn("pause of hidden item failed", "id", id, "err", err)
		}
	}
	delete(t.playing, id)

	if dc, ok := t.pending[id]; ok {
		dc.timer.Stop()
	}
	dc := &deferredClose{}
	t.pending[id] = dc
	dc.timer = time.AfterFunc(t.grace, func() { t.fireClose(id, dc) })
	t.mu.Unlock()
}

func (t *Tracker) fireClose(id string, dc *deferredClose) {
	t.mu.Lock()
	if t.pending[id] != dc {
		t.mu.Unlock()
		return
	}
	delete(t.pending, id)
	if _, visible := t.visible[id]; visible {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.log.Debug("closing hidden item", "id", id)
	t.ctrl.RequestClose(id)
}

// TogglePlayPause pauses id if it is playing. Otherwise every other playing
// item is paused first and id is played, so at most one item plays.
func (t *Tracker) TogglePlayPause(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.playing[id] || t.ctrl.IsPlaying(id) {
		delete(t.playing, id)
		return t.ctrl.Pause(id)
	}

	for other := range t.playing {
		if err := t.ctrl.Pause(other); err != nil && !errors.Is(err, lifecycle.ErrNotOpen) {
			t.log.Warn("pause failed", "id", other, "err", err)
		}
		delete(t.playing, other)
	}
	if err := t.ctrl.Play(id); err != nil {
		return fmt.Errorf("play %s: %w", id, err)
	}
	t.playing[id] = true
	return nil
}

// ToggleMute flips the mute state of every open handle and returns it.
func (t *Tracker) ToggleMute() bool {
	muted := !t.ctrl.Muted()
	t.ctrl.SetMuted(muted)
	return muted
}

// Visible returns the sorted visible ids.
func (t *Tracker) Visible() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.visible))
	for id := range t.visible {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Playing returns the sorted ids the tracker started playing.
func (t *Tracker) Playing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.playing))
	for id := range t.playing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops the tracker. Pending deferred closes are executed at once.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	var flush []string
	for id, dc := range t.pending {
		dc.timer.Stop()
		flush = append(flush, id)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	t.unsubscribe()
	for _, id := range flush {
		t.ctrl.RequestClose(id)
	}
	t.wg.Wait()
}
