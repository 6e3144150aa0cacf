package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/sudoStacks/retreivr/internal/store"
	"github.com/sudoStacks/retreivr/internal/watcher"
)

// PlaylistInfo is the slice of playlist configuration an archive run needs.
type PlaylistInfo struct {
	ID        string
	Name      string
	Source    string
	Mode      string
	MediaType string
}

// NewArchiveRun builds the RunFunc the manager executes per playlist: list
// the playlist's current items, enqueue a download job for each item the
// ledger doesn't already cover, and record the enqueued items as seen. The
// worker engine flips the ledger's downloaded flag when a job completes.
func NewArchiveRun(st *store.Store, lister watcher.RemoteLister, lookup func(playlistID string) (PlaylistInfo, bool), maxAttempts func() int) RunFunc {
	return func(ctx context.Context, playlistID string) error {
		info, ok := lookup(playlistID)
		if !ok {
			return fmt.Errorf("playlist %s is not configured", playlistID)
		}

		items, err := lister.ListItems(ctx, playlistID)
		if err != nil {
			return fmt.Errorf("failed to list playlist %s: %w", playlistID, err)
		}

		enqueued := 0
		for _, itemID := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			known, err := itemKnown(st, info, itemID)
			if err != nil {
				return err
			}
			if known {
				continue
			}

			_, created, err := st.EnqueueJob(store.EnqueueParams{
				Origin:      playlistID,
				OriginID:    itemID,
				MediaType:   info.MediaType,
				MediaIntent: info.Mode,
				Source:      info.Source,
				URL:         itemID,
				MaxAttempts: maxAttempts(),
			})
			if err != nil {
				log.Printf("Run: failed to enqueue item playlist_id=%s item=%s: %v", playlistID, itemID, err)
				continue
			}
			if err := st.MarkItemSeen(playlistID, itemID, false); err != nil {
				log.Printf("Run: failed to mark item seen playlist_id=%s item=%s: %v", playlistID, itemID, err)
			}
			if created {
				enqueued++
			}
		}

		log.Printf("Run: archive run complete playlist_id=%s items=%d enqueued=%d", playlistID, len(items), enqueued)
		return nil
	}
}

// itemKnown reports whether an item needs no job. Subscribe mode skips
// anything ever seen (the baseline included); full mode only skips items
// already archived.
func itemKnown(st *store.Store, info PlaylistInfo, itemID string) (bool, error) {
	if info.Mode == watcher.ModeSubscribe {
		return st.IsItemSeen(info.ID, itemID)
	}
	return st.IsItemDownloaded(itemID)
}
