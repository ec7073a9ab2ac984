// Package pagination extends a window's item list on demand. It watches
// index changes, fetches the next page when the user nears the end of the
// loaded list and feeds the result through the window's reconciler.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sho7650/media-window/internal/core"
	"github.com/sho7650/media-window/internal/logging"
	"github.com/sho7650/media-window/internal/window"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// ErrNotReady is returned when an operation needs an initialized controller.
var ErrNotReady = errors.New("pagination not ready")

// Phase is the pagination state.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseLoading
	PhaseReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Status is the current phase plus the index it was entered with and, for
// PhaseError, the failure message.
type Status struct {
	Phase   Phase
	Index   int
	Message string
}

// Cursor tracks the next page to fetch. Page counts from 0; the initial
// list is page 0.
type Cursor struct {
	Page       int  `json:"page"`
	IsFetching bool `json:"is_fetching"`
	HasMore    bool `json:"has_more"`
}

// CursorStore persists the cursor of a feed.
type CursorStore interface {
	SaveCursor(ctx context.Context, feed string, c Cursor) error
	LoadCursor(ctx context.Context, feed string) (Cursor, bool, error)
}

// Options configures a Controller.
type Options struct {
	// FetchThreshold starts a fetch once at most this many items remain
	// from the current index to the end of the list. Zero uses the default.
	FetchThreshold int
	// Feed names the cursor in Store.
	Feed   string
	Store  CursorStore
	Logger logging.Logger
}

// Controller wraps a window manager with page fetching.
type Controller[T any] struct {
	window    *window.Manager[T]
	source    interfaces.ItemSource[T]
	threshold int
	feed      string
	store     CursorStore
	log       logging.Logger

	mu     sync.Mutex
	status Status
	cursor Cursor
	// gen changes on Init and Refresh so a fetch started before them
	// discards its result.
	gen int
	wg  sync.WaitGroup
}

// New creates a controller over w fetching from source.
func New[T any](w *window.Manager[T], source interfaces.ItemSource[T], opts Options) *Controller[T] {
	if opts.FetchThreshold <= 0 {
		opts.FetchThreshold = core.DefaultFetchThreshold
	}
	return &Controller[T]{
		window:    w,
		source:    source,
		threshold: opts.FetchThreshold,
		feed:      opts.Feed,
		store:     opts.Store,
		log:       logging.OrNop(opts.Logger).With("component", "pagination", "feed", opts.Feed),
		status:    Status{Phase: PhaseInitial, Index: -1},
		cursor:    Cursor{HasMore: true},
	}
}

// Init loads the initial list as page 0 and moves the window to index. The
// saved cursor is not consulted; use Restore to resume a feed.
func (c *Controller[T]) Init(ctx context.Context, initial []interfaces.MediaItem[T], index int) error {
	c.mu.Lock()
	c.gen++
	c.status = Status{Phase: PhaseLoading, Index: index}
	c.cursor = Cursor{Page: 1, HasMore: true}
	c.mu.Unlock()

	if err := c.window.UpdateItems(initial); err != nil {
		c.fail(index, err)
		return fmt.Errorf("init items: %w", err)
	}
	return c.settle(ctx, index)
}

// settle moves the window to index, enters PhaseReady and checks the fetch
// threshold. An empty list is ready with no current index.
func (c *Controller[T]) settle(ctx context.Context, index int) error {
	var openErr error
	if c.window.Len() > 0 {
		err := c.window.SetCurrentIndex(ctx, index)
		switch {
		case errors.Is(err, core.ErrIndexOutOfRange), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.fail(index, err)
			return err
		case err != nil:
			// The current item failed to open; the window is still usable.
			openErr = err
		}
	} else {
		index = -1
	}

	c.mu.Lock()
	c.status = Status{Phase: PhaseReady, Index: index}
	c.mu.Unlock()
	c.saveCursor(ctx)

	if index >= 0 {
		c.maybeFetch(ctx, index)
	}
	return openErr
}

func (c *Controller[T]) fail(index int, err error) {
	c.mu.Lock()
	c.status = Status{Phase: PhaseError, Index: index, Message: err.Error()}
	c.cursor.IsFetching = false
	c.mu.Unlock()
	c.log.Error("pagination failed", "index", index, "err", err)
}

// OnPageChanged moves the window to index and starts a fetch when the end
// of the list is near.
func (c *Controller[T]) OnPageChanged(ctx context.Context, index int) error {
	c.mu.Lock()
	phase := c.status.Phase
	if phase == PhaseReady {
		c.status.Index = index
	}
	c.mu.Unlock()
	if phase == PhaseInitial || phase == PhaseLoading {
		return fmt.Errorf("%w: %s", ErrNotReady, phase)
	}

	err := c.window.SetCurrentIndex(ctx, index)
	if errors.Is(err, core.ErrIndexOutOfRange) {
		return err
	}
	c.maybeFetch(ctx, index)
	return err
}

// maybeFetch starts a fetch of the next page when fewer than threshold
// items remain, more data exists and no fetch is running.
func (c *Controller[T]) maybeFetch(ctx context.Context, index int) {
	remaining := c.window.Len() - index

	c.mu.Lock()
	if c.status.Phase != PhaseReady || remaining > c.threshold || c.cursor.IsFetching || !c.cursor.HasMore {
		c.mu.Unlock()
		return
	}
	c.cursor.IsFetching = true
	page, gen := c.cursor.Page, c.gen
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug("fetching page", "page", page, "remaining", remaining)
	go func() {
		defer c.wg.Done()
		c.fetch(context.WithoutCancel(ctx), page, gen)
	}()
}

func (c *Controller[T]) fetch(ctx context.Context, page, gen int) {
	items, err := c.source.FetchPage(ctx, page)

	// The generation check and the append happen under one lock so a
	// Refresh or Init cannot slip in between them.
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Debug("discarding stale page", "page", page)
		return
	}
	c.cursor.IsFetching = false
	switch {
	case err != nil:
		c.mu.Unlock()
		c.log.Warn("page fetch failed", "page", page, "err", err)
		return
	case len(items) == 0:
		c.cursor.HasMore = false
		c.mu.Unlock()
		c.log.Info("end of feed", "page", page)
	default:
		added := c.window.AppendItems(items)
		c.cursor.Page = page + 1
		c.mu.Unlock()
		c.log.Debug("page appended", "page", page, "added", added)
	}
	c.saveCursor(ctx)
}

// Refresh closes every open resource, fetches page 0 again and restarts
// the window at index 0. A failed fetch leaves the controller in
// PhaseError.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	return c.rebuild(ctx, "refresh", 1, 0, true)
}

// Restore rebuilds the list from the cursor saved for the feed: every page
// before the saved one is fetched again and the window moves to index,
// clamped to the list. Without a saved cursor it behaves like Refresh.
func (c *Controller[T]) Restore(ctx context.Context, index int) error {
	pages, hasMore := 1, true
	if c.store != nil {
		saved, ok, err := c.store.LoadCursor(ctx, c.feed)
		if err != nil {
			c.fail(index, err)
			return fmt.Errorf("restore cursor: %w", err)
		}
		if ok {
			pages, hasMore = max(saved.Page, 1), saved.HasMore
			c.log.Info("restoring feed", "pages", pages, "has_more", hasMore)
		}
	}
	return c.rebuild(ctx, "restore", pages, index, hasMore)
}

// rebuild clears the window, reloads pages [0, pages) and settles at index.
func (c *Controller[T]) rebuild(ctx context.Context, op string, pages, index int, hasMore bool) error {
	c.mu.Lock()
	c.gen++
	c.status = Status{Phase: PhaseLoading, Index: index}
	c.cursor = Cursor{Page: 0, IsFetching: true, HasMore: true}
	c.mu.Unlock()

	c.window.Clear()
	// Closing ids refuse open requests, so let the closes finish before
	// the window is rebuilt.
	c.window.Controller().Wait()

	var items []interfaces.MediaItem[T]
	fetched := 0
	for page := 0; page < pages; page++ {
		batch, err := c.source.FetchPage(ctx, page)
		if err != nil {
			c.fail(index, err)
			return fmt.Errorf("%s: %w", op, err)
		}
		fetched = page + 1
		if len(batch) == 0 {
			hasMore = false
			break
		}
		items = append(items, batch...)
	}

	if err := c.window.UpdateItems(nil); err != nil {
		c.fail(index, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.window.AppendItems(items) == 0 {
		hasMore = false
	}
	index = max(0, min(index, c.window.Len()-1))

	c.mu.Lock()
	c.cursor = Cursor{Page: fetched, HasMore: hasMore}
	c.mu.Unlock()
	return c.settle(ctx, index)
}

func (c *Controller[T]) saveCursor(ctx context.Context) {
	if c.store == nil {
		return
	}
	cur := c.Cursor()
	if err := c.store.SaveCursor(ctx, c.feed, cur); err != nil {
		c.log.Warn("saving cursor failed", "err", err)
	}
}

// Status returns the current state.
func (c *Controller[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Cursor returns the current cursor.
func (c *Controller[T]) Cursor() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Window returns the wrapped window manager.
func (c *Controller[T]) Window() *window.Manager[T] {
	return c.window
}

// Wait blocks until the in-flight fetch, if any, has finished.
func (c *Controller[T]) Wait() {
	c.wg.Wait()
}
