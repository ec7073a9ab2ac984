package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sho7650/media-window/internal/backend/sim"
	"github.com/sho7650/media-window/internal/config"
	"github.com/sho7650/media-window/internal/lifecycle"
	"github.com/sho7650/media-window/internal/logging"
	"github.com/sho7650/media-window/internal/pagination"
	"github.com/sho7650/media-window/internal/registry"
	"github.com/sho7650/media-window/internal/storage"
	"github.com/sho7650/media-window/internal/visibility"
	"github.com/sho7650/media-window/internal/window"
)

type simulateOptions struct {
	steps   int
	mode    string
	latency time.Duration
	seed    int
	resume  bool
}

func newSimulateCmd() *cobra.Command {
	var opts simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Scroll through the feed against a simulated backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSimulate(cmd, cfg, opts)
		},
	}
	cmd.Flags().IntVar(&opts.steps, "steps", 12, "number of scroll steps")
	cmd.Flags().StringVar(&opts.mode, "mode", "index", "index (paged sliding window) or feed (viewport visibility)")
	cmd.Flags().DurationVar(&opts.latency, "latency", 5*time.Millisecond, "simulated open latency")
	cmd.Flags().IntVar(&opts.seed, "seed", 30, "items to generate when the feed is empty")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "reload every page up to the saved cursor (index mode)")
	return cmd
}

func runSimulate(cmd *cobra.Command, cfg *config.Config, opts simulateOptions) error {
	if opts.steps < 1 {
		return fmt.Errorf("--steps must be >= 1, got %d", opts.steps)
	}
	ctx := cmd.Context()
	log := newLogger(cmd.ErrOrStderr(), cfg)

	store := storage.NewSQLiteStorage(cfg.Storage.Path)
	if err := store.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.Count(ctx, cfg.Pagination.Feed)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := seedFeed(cmd, store, cfg.Pagination.Feed, opts.seed); err != nil {
			return err
		}
	}

	backend := sim.New(sim.WithLatency(opts.latency))
	source := storage.NewSource[demoPayload](store, cfg.Pagination.Feed, cfg.Pagination.PageSize)
	pauser := registry.New(log)

	switch opts.mode {
	case "index":
		return simulateIndex(ctx, cmd.OutOrStdout(), cfg, opts, log, backend, source, store, pauser)
	case "feed":
		return simulateFeed(ctx, cmd.OutOrStdout(), cfg, opts, log, backend, source, pauser)
	default:
		return fmt.Errorf("unknown mode %q: use index or feed", opts.mode)
	}
}

func simulateIndex(ctx context.Context, out io.Writer, cfg *config.Config, opts simulateOptions, log logging.Logger,
	backend *sim.Backend, source *storage.Source[demoPayload], store *storage.SQLiteStorage, pauser *registry.Registry) error {

	w, err := window.NewManager[demoPayload](backend, nil, window.Options{
		Config:       cfg.Window.Core(),
		DisposeGrace: cfg.Window.DisposeGraceDuration(),
		Logger:       log,
	})
	if err != nil {
		return err
	}
	unregister, err := pauser.Register("window", w.Controller())
	if err != nil {
		return err
	}
	defer unregister()

	pager := pagination.New[demoPayload](w, source, pagination.Options{
		FetchThreshold: cfg.Pagination.FetchThreshold,
		Feed:           cfg.Pagination.Feed,
		Store:          store,
		Logger:         log,
	})

	if opts.resume {
		if err := pager.Restore(ctx, 0); err != nil {
			if pager.Status().Phase == pagination.PhaseError {
				return err
			}
			log.Warn("restore finished with error", "err", err)
		}
		fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("resumed %d item(s), next page %d", w.Len(), pager.Cursor().Page)))
	} else {
		initial, err := source.FetchPage(ctx, 0)
		if err != nil {
			return err
		}
		if err := pager.Init(ctx, initial, 0); err != nil {
			log.Warn("init finished with error", "err", err)
		}
	}
	if err := w.SetPlaying(true); err != nil {
		log.Debug("nothing to play yet", "err", err)
	}

	span := cfg.Window.KeepBehind + cfg.Window.PreloadAhead + 1
	for step := 0; step < opts.steps; step++ {
		if ctx.Err() != nil {
			break
		}
		index := min(step, w.Len()-1)
		if err := pager.OnPageChanged(ctx, index); err != nil {
			log.Warn("index change failed", "index", index, "err", err)
		}
		pager.Wait()
		w.Controller().Wait()
		fmt.Fprint(out, renderWindow(step, w.Snapshot(), pager.Cursor(), span))
	}

	paused := pauser.PauseAll()
	fmt.Fprintln(out, faintStyle.Render(fmt.Sprintf("navigated away: paused %d item(s)", paused)))
	pauser.ResumeAll()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.Close(closeCtx); err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("opens %d  disposes %d  peak in flight %d",
		backend.TotalOpens(), backend.TotalDisposes(), backend.PeakInFlight())))
	return nil
}

func simulateFeed(ctx context.Context, out io.Writer, cfg *config.Config, opts simulateOptions, log logging.Logger,
	backend *sim.Backend, source *storage.Source[demoPayload], pauser *registry.Registry) error {

	ctrl := lifecycle.NewController(backend, lifecycle.Options{
		MaxConcurrentOpens: cfg.Window.MaxConcurrentOpens,
		DisposeGrace:       cfg.Window.DisposeGraceDuration(),
		Logger:             log,
	})
	tracker := visibility.NewTracker(ctrl, visibility.Options{
		HideGrace: cfg.Visibility.HideGraceDuration(),
		Threshold: cfg.Visibility.VisibleThreshold,
		Logger:    log,
	})
	unregister, err := pauser.Register("feed", ctrl)
	if err != nil {
		return err
	}
	defer unregister()

	items, err := source.FetchPage(ctx, 0)
	if err != nil {
		return err
	}

	// Each step scrolls one item into view; the previous one drops below
	// the threshold.
	for step := 0; step < opts.steps && step < len(items); step++ {
		if ctx.Err() != nil {
			break
		}
		cur := items[step]
		if step > 0 {
			prev := items[step-1]
			tracker.OnVisibilityChanged(ctx, prev.ID, prev.ResourceURL, 0.2)
		}
		tracker.OnVisibilityChanged(ctx, cur.ID, cur.ResourceURL, 1.0)
		ctrl.Wait()
		fmt.Fprint(out, renderFeed(step, tracker.Visible(), tracker.Playing(), ctrl.Active()))
	}

	tracker.Close()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := ctrl.Close(closeCtx); err != nil {
		return err
	}
	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("opens %d  disposes %d  peak in flight %d",
		backend.TotalOpens(), backend.TotalDisposes(), backend.PeakInFlight())))
	return nil
}
