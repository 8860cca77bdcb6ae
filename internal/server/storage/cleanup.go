package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"
)

// referenceLister is the slice of the document repository the sweeper
// needs: the set of storage names still on record.
type referenceLister interface {
	ListStorageNames(ctx context.Context) (map[string]bool, error)
}

// minOrphanAge keeps the sweeper away from files whose database
// record may still be in flight (the write happens before the
// insert).
const minOrphanAge = time.Hour

// SweepService periodically removes files from the storage root that
// no document record references, covering files stranded by a crash
// between the disk write and the database insert.
type SweepService struct {
	refs     referenceLister
	store    Store
	interval time.Duration
	done     chan struct{}
}

// NewSweepService creates a new sweep service.
func NewSweepService(refs referenceLister, store Store, interval time.Duration) *SweepService {
	return &SweepService{
		refs:     refs,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (ss *SweepService) Start(ctx context.Context) {
	slog.Info("orphan sweep service started", "interval", ss.interval)

	go func() {
		ticker := time.NewTicker(ss.interval)
		defer ticker.Stop()

		// Run once immediately on start
		ss.runSweep(ctx)

		for {
			select {
			case <-ticker.C:
				ss.runSweep(ctx)
			case <-ctx.Done():
				slog.Info("orphan sweep service stopping")
				close(ss.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweep service has fully stopped.
func (ss *SweepService) Wait() {
	<-ss.done
}

func (ss *SweepService) runSweep(ctx context.Context) {
	referenced, err := ss.refs.ListStorageNames(ctx)
	if err != nil {
		slog.Error("sweep: failed to list referenced storage names", "error", err)
		return
	}

	onDisk, err := ss.store.List()
	if err != nil {
		slog.Error("sweep: failed to list storage directory", "error", err)
		return
	}

	var removed, failed int
	for _, name := range onDisk {
		if referenced[name] {
			continue
		}

		path, err := ss.store.Resolve(name)
		if err != nil && !errors.Is(err, ErrFileNotFound) {
			slog.Error("sweep: failed to resolve file", "storage_name", name, "error", err)
			failed++
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue // already gone
		}
		if time.Since(info.ModTime()) < minOrphanAge {
			continue
		}

		if err := ss.store.Delete(name); err != nil {
			slog.Error("sweep: failed to delete orphan file", "storage_name", name, "error", err)
			failed++
			continue
		}
		removed++
		slog.Info("removed orphan file", "storage_name", name)
	}

	if removed > 0 || failed > 0 {
		slog.Info("sweep cycle complete", "removed", removed, "failed", failed)
	}
}
