package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sho7650/media-window/internal/storage"
	"github.com/sho7650/media-window/pkg/core/interfaces"
)

// demoPayload is the application data attached to generated items.
type demoPayload struct {
	Title string `json:"title"`
	Likes int    `json:"likes"`
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert generated demo items into the feed catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt("count")

			store := storage.NewSQLiteStorage(cfg.Storage.Path)
			if err := store.Initialize(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := seedFeed(cmd, store, cfg.Pagination.Feed, count)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items into feed %q\n", n, cfg.Pagination.Feed)
			return nil
		},
	}
	cmd.Flags().Int("count", 30, "number of items to generate")
	return cmd
}

// seedFeed appends count generated items to feed.
func seedFeed(cmd *cobra.Command, store storage.Store, feed string, count int) (int, error) {
	if count < 1 {
		return 0, fmt.Errorf("--count must be >= 1, got %d", count)
	}
	existing, err := store.Count(cmd.Context(), feed)
	if err != nil {
		return 0, err
	}

	records := make([]storage.Record, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.NewString()
		r, err := storage.NewRecord(interfaces.MediaItem[demoPayload]{
			ID:           id,
			ResourceURL:  "sim://media/" + id + ".mp4",
			ThumbnailURL: "sim://thumbs/" + id + ".jpg",
			Payload:      demoPayload{Title: fmt.Sprintf("clip %d", existing+i+1), Likes: (existing + i) * 7 % 100},
		})
		if err != nil {
			return 0, err
		}
		records = append(records, r)
	}
	return store.StoreItems(cmd.Context(), feed, records)
}
