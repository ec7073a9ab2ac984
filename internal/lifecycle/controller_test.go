package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sho7650/media-window/internal/backend/sim"
	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

func newTestController(backend *sim.Backend, maxOpens int) *Controller {
	return NewController(backend, Options{MaxConcurrentOpens: maxOpens, DisposeGrace: -1})
}

func url(id string) string { return "https://cdn.example.com/" + id + ".mp4" }

func TestCanTransition(t *testing.T) {
	legal := [][2]State{
		{StateAbsent, StateOpening},
		{StateOpening, StateOpen},
		{StateOpening, StateClosing},
		{StateOpening, StateAbsent},
		{StateOpen, StateClosing},
		{StateClosing, StateAbsent},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	illegal := [][2]State{
		{StateAbsent, StateOpen},
		{StateAbsent, StateClosing},
		{StateOpen, StateAbsent},
		{StateOpen, StateOpening},
		{StateClosing, StateOpen},
		{StateClosing, StateOpening},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	rec := &record{state: StateOpen}
	assert.Panics(t, func() { rec.moveTo(StateOpening) })
}

func TestController_OpenAndClose(t *testing.T) {
	ctx := context.Background()
	backend := sim.New()
	ctrl := newTestController(backend, 2)

	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	assert.Equal(t, StateOpen, ctrl.State("a"))
	assert.Contains(t, ctrl.Handles(), "a")
	assert.Equal(t, []string{"a"}, ctrl.Active())

	// Second open of the same id is a no-op.
	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), true))
	assert.Equal(t, 1, backend.Opens(url("a")))

	ctrl.RequestClose("a")
	assert.Equal(t, StateClosing, ctrl.State("a"))
	assert.NotContains(t, ctrl.Handles(), "a")

	ctrl.RequestClose("a")
	ctrl.Wait()

	assert.Equal(t, StateAbsent, ctrl.State("a"))
	assert.Equal(t, 1, backend.Disposes(url("a")))
	assert.Empty(t, ctrl.Active())
}

func TestController_CloseUnknownIsNoop(t *testing.T) {
	backend := sim.New()
	ctrl := newTestController(backend, 1)

	ctrl.RequestClose("ghost")
	ctrl.Wait()
	assert.Equal(t, 0, backend.TotalDisposes())
}

func TestController_ConcurrencyGate(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithHeldOpens())
	ctrl := newTestController(backend, 2)

	results := make([]<-chan error, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("item-%d", i)
		results = append(results, ctrl.RequestOpen(ctx, id, url(id), false))
	}

	assert.Equal(t, 2, ctrl.Opening())
	for _, ch := range results[2:] {
		assert.ErrorIs(t, <-ch, core.ErrGateFull)
	}

	// Priority requests bypass the gate.
	priority := ctrl.RequestOpen(ctx, "current", url("current"), true)
	assert.Equal(t, 3, ctrl.Opening())

	backend.ReleaseAll()
	require.NoError(t, <-priority)
	for _, ch := range results[:2] {
		require.NoError(t, <-ch)
	}
	ctrl.Wait()

	assert.Equal(t, 0, ctrl.Opening())
	assert.Len(t, ctrl.Handles(), 3)
}

func TestController_GateNeverExceeded(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithLatency(5 * time.Millisecond))
	ctrl := newTestController(backend, 3)

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for i := 0; i < 6; i++ {
			id := fmt.Sprintf("r%d-%d", round, i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-ctrl.RequestOpen(ctx, id, url(id), false)
				assert.LessOrEqual(t, ctrl.Opening(), 3)
			}()
		}
	}
	wg.Wait()
	ctrl.Wait()

	assert.LessOrEqual(t, backend.PeakInFlight(), 3)
}

func TestController_CloseWhileOpening(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithHeldOpens())
	ctrl := newTestController(backend, 2)

	var mu sync.Mutex
	var published []string
	ctrl.OnChange(func() {
		mu.Lock()
		defer mu.Unlock()
		for id := range ctrl.Handles() {
			published = append(published, id)
		}
	})

	done := ctrl.RequestOpen(ctx, "y", url("y"), false)
	ctrl.RequestClose("y")
	assert.Equal(t, StateClosing, ctrl.State("y"))

	// Reopening while closing is refused, not queued.
	assert.ErrorIs(t, <-ctrl.RequestOpen(ctx, "y", url("y"), true), core.ErrResourceClosing)

	backend.ReleaseAll()
	assert.NoError(t, <-done)
	ctrl.Wait()

	assert.Equal(t, 1, backend.Opens(url("y")))
	assert.Equal(t, 1, backend.Disposes(url("y")))
	assert.Equal(t, StateAbsent, ctrl.State("y"))

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, published, "y")
}

func TestController_OpenFailure(t *testing.T) {
	ctx := context.Background()
	decodeErr := errors.New("decode failure")
	backend := sim.New(sim.WithFailure(url("bad"), decodeErr))

	var failed []string
	ctrl := NewController(backend, Options{
		MaxConcurrentOpens: 1,
		DisposeGrace:       -1,
		OnOpenError: func(id string, err error) {
			failed = append(failed, id)
		},
	})

	err := <-ctrl.RequestOpen(ctx, "bad", url("bad"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, decodeErr)
	assert.True(t, core.IsResourceError(err))
	assert.Equal(t, StateAbsent, ctrl.State("bad"))
	assert.Equal(t, []string{"bad"}, failed)

	// The slot is released and a sibling still opens.
	require.NoError(t, <-ctrl.RequestOpen(ctx, "good", url("good"), false))
	assert.Equal(t, StateOpen, ctrl.State("good"))

	// No automatic retry, but an explicit one is accepted.
	assert.Error(t, <-ctrl.RequestOpen(ctx, "bad", url("bad"), false))
	assert.Equal(t, 2, backend.Opens(url("bad")))
}

func TestController_OpenFailureWhileClosing(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithHeldOpens(), sim.WithFailure(url("z"), errors.New("network")))
	ctrl := newTestController(backend, 1)

	done := ctrl.RequestOpen(ctx, "z", url("z"), false)
	ctrl.RequestClose("z")
	backend.ReleaseAll()

	assert.Error(t, <-done)
	ctrl.Wait()
	assert.Equal(t, StateAbsent, ctrl.State("z"))
	assert.Equal(t, 0, backend.TotalDisposes())
}

func TestController_DisposeFailureClearsRecord(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithDisposeFailure(url("a"), errors.New("stuck")))
	ctrl := newTestController(backend, 1)

	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	ctrl.RequestClose("a")
	ctrl.Wait()

	assert.Equal(t, StateAbsent, ctrl.State("a"))
	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	assert.Equal(t, StateOpen, ctrl.State("a"))
}

func TestController_FollowInFlightOpen(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithHeldOpens())
	ctrl := newTestController(backend, 1)

	first := ctrl.RequestOpen(ctx, "a", url("a"), false)
	second := ctrl.RequestOpen(ctx, "a", url("a"), true)

	backend.ReleaseOne()
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, StateOpen, ctrl.State("a"))
	assert.Equal(t, 1, backend.Opens(url("a")))
}

func TestController_PlaybackAndMute(t *testing.T) {
	ctx := context.Background()
	backend := sim.New()
	ctrl := newTestController(backend, 2)

	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	assert.ErrorIs(t, ctrl.Play("missing"), ErrNotOpen)

	require.NoError(t, ctrl.Play("a"))
	assert.True(t, ctrl.IsPlaying("a"))

	ctrl.SetMuted(true)
	assert.True(t, ctrl.Muted())
	handles := backend.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, 0.0, handles[0].Volume())

	// Handles opened after the toggle start muted.
	require.NoError(t, <-ctrl.RequestOpen(ctx, "b", url("b"), false))
	for _, h := range backend.Handles() {
		assert.Equal(t, 0.0, h.Volume(), h.URL())
	}

	paused := ctrl.PauseAll()
	assert.Equal(t, []string{"a"}, paused)
	assert.False(t, ctrl.IsPlaying("a"))

	ctrl.Resume(append(paused, "gone"))
	assert.True(t, ctrl.IsPlaying("a"))

	// Closing a playing handle pauses it first.
	ctrl.RequestClose("a")
	ctrl.Wait()
	assert.False(t, handles[0].IsPlaying())
	assert.Equal(t, 1, handles[0].DisposeCount())
}

func TestController_CloseDrainsInFlight(t *testing.T) {
	ctx := context.Background()
	backend := sim.New(sim.WithHeldOpens())
	ctrl := newTestController(backend, 2)

	pending := ctrl.RequestOpen(ctx, "late", url("late"), false)
	ctrl.RequestOpen(ctx, "other", url("other"), true)

	closed := make(chan error, 1)
	go func() { closed <- ctrl.Close(ctx) }()

	backend.ReleaseAll()
	<-pending
	require.NoError(t, <-closed)

	assert.Equal(t, 1, backend.Disposes(url("late")))
	assert.Equal(t, 1, backend.Disposes(url("other")))
	assert.Empty(t, ctrl.Handles())
	assert.Empty(t, backend.LiveHandles())

	assert.ErrorIs(t, <-ctrl.RequestOpen(ctx, "after", url("after"), true), core.ErrControllerClosed)
}

func TestController_CloseTimeout(t *testing.T) {
	backend := sim.New(sim.WithHeldOpens())
	ctrl := newTestController(backend, 1)
	ctrl.RequestOpen(context.Background(), "stuck", url("stuck"), false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ctrl.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	backend.ReleaseAll()
	ctrl.Wait()
	assert.Equal(t, 1, backend.Disposes(url("stuck")))
}

func TestController_DisposeGrace(t *testing.T) {
	ctx := context.Background()
	backend := sim.New()
	ctrl := NewController(backend, Options{DisposeGrace: 40 * time.Millisecond})

	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	ctrl.RequestClose("a")

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, backend.Disposes(url("a")), "dispose must wait for the grace interval")

	ctrl.Wait()
	assert.Equal(t, 1, backend.Disposes(url("a")))
}

func TestController_ReopenAfterRelease(t *testing.T) {
	ctx := context.Background()
	backend := sim.New()
	ctrl := NewController(backend, Options{MaxConcurrentOpens: 1, DisposeGrace: 30 * time.Millisecond})

	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
	ctrl.RequestClose("a")

	assert.ErrorIs(t, <-ctrl.RequestOpen(ctx, "a", url("a"), true), core.ErrResourceClosing)
	released := ctrl.Released("a")
	select {
	case <-released:
		t.Fatal("released before dispose")
	default:
	}

	<-released
	assert.Equal(t, StateAbsent, ctrl.State("a"))
	require.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), true))
	assert.Equal(t, StateOpen, ctrl.State("a"))
	assert.Equal(t, 2, backend.Opens(url("a")))
	assert.Equal(t, 1, backend.Disposes(url("a")))

	// Absent ids are released already.
	<-ctrl.Released("never")
}

func TestController_UnwantedOpenIsDiscarded(t *testing.T) {
	ctx := context.Background()
	backend := sim.New()

	var mu sync.Mutex
	wanted := map[string]bool{"keep": true}
	ctrl := NewController(backend, Options{
		MaxConcurrentOpens: 2,
		DisposeGrace:       -1,
		Wanted: func(id string) bool {
			mu.Lock()
			defer mu.Unlock()
			return wanted[id]
		},
	})

	require.NoError(t, <-ctrl.RequestOpen(ctx, "keep", url("keep"), false))
	require.NoError(t, <-ctrl.RequestOpen(ctx, "stale", url("stale"), false))
	ctrl.Wait()

	assert.Equal(t, []string{"keep"}, ctrl.Active())
	assert.NotContains(t, ctrl.Handles(), "stale")
	assert.Equal(t, 1, backend.Disposes(url("stale")))
	assert.Equal(t, StateAbsent, ctrl.State("stale"))
}

// reentrantBackend hands out handles that query the controller from every
// playback call, as a backend state listener would.
type reentrantBackend struct {
	*sim.Backend
	ctrl *Controller
}

type reentrantHandle struct {
	*sim.Handle
	ctrl *Controller
}

func (b *reentrantBackend) Open(ctx context.Context, u string) (interfaces.Handle, error) {
	h, err := b.Backend.Open(ctx, u)
	if err != nil {
		return nil, err
	}
	return &reentrantHandle{Handle: h.(*sim.Handle), ctrl: b.ctrl}, nil
}

func (h *reentrantHandle) Play() error {
	h.ctrl.Active()
	return h.Handle.Play()
}

func (h *reentrantHandle) Pause() error {
	h.ctrl.Active()
	return h.Handle.Pause()
}

func (h *reentrantHandle) SetVolume(level float64) error {
	h.ctrl.Muted()
	return h.Handle.SetVolume(level)
}

func (h *reentrantHandle) IsPlaying() bool {
	h.ctrl.Opening()
	return h.Handle.IsPlaying()
}

func TestController_HandleCallbacksDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	backend := &reentrantBackend{Backend: sim.New()}
	ctrl := NewController(backend, Options{MaxConcurrentOpens: 1, DisposeGrace: -1})
	backend.ctrl = ctrl

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		assert.NoError(t, <-ctrl.RequestOpen(ctx, "a", url("a"), false))
		assert.NoError(t, ctrl.Play("a"))
		assert.True(t, ctrl.IsPlaying("a"))
		ctrl.SetMuted(true)
		assert.Equal(t, []string{"a"}, ctrl.PauseAll())
		assert.NoError(t, ctrl.Play("a"))
		ctrl.RequestClose("a")
		ctrl.Wait()
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("controller deadlocked on a handle callback")
	}
	assert.Equal(t, 1, backend.Disposes(url("a")))
}
