// Package tasks runs downloads and display decodes off the caller's goroutine.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/upturn/internal/fetcher"
	"github.com/lgulliver/upturn/internal/metrics"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTrackerClosed is returned by Start after Close
	ErrTrackerClosed = errors.New("download tracker closed")
	// ErrDownloadRunning is returned by Forget for a download still in progress
	ErrDownloadRunning = errors.New("download still running")
)

// Fetcher downloads one URL into a blob
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) fetcher.Outcome
}

// Download is a handle on one running or finished fetch
type Download struct {
	ID  string
	URL string

	done    chan struct{}
	outcome fetcher.Outcome
}

// Done is closed once the fetch has finished
func (d *Download) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the fetch finishes or ctx ends
func (d *Download) Wait(ctx context.Context) (fetcher.Outcome, error) {
	select {
	case <-d.done:
		return d.outcome, nil
	case <-ctx.Done():
		return fetcher.Outcome{}, ctx.Err()
	}
}

// Status reports pending until the fetch has finished
func (d *Download) Status() types.DownloadStatus {
	select {
	case <-d.done:
		if d.outcome.OK() {
			return types.DownloadSucceeded
		}
		return types.DownloadFailed
	default:
		return types.DownloadPending
	}
}

// Handle returns the client view of the download
func (d *Download) Handle() types.DownloadHandle {
	handle := types.DownloadHandle{
		ID:        d.ID,
		URL:       d.URL,
		Status:    d.Status(),
		UpdatedAt: time.Now(),
	}
	if handle.Status == types.DownloadPending {
		return handle
	}
	handle.BlobRef = d.outcome.Ref
	if d.outcome.Err != nil {
		handle.FailureKind = string(d.outcome.Err.Kind)
		handle.HTTPStatus = d.outcome.Err.Status
		handle.Error = d.outcome.Err.Error()
	}
	return handle
}

// DownloadTracker runs fetches in the background and tracks their status.
// Concurrent downloads are allowed; Downloading only reports whether any are
// running.
type DownloadTracker struct {
	fetcher  Fetcher
	statuses StatusStore
	metrics  *metrics.Pipeline

	group    errgroup.Group
	mu       sync.Mutex
	closed   bool
	inFlight atomic.Int64
}

// NewDownloadTracker creates a tracker. A nil statuses uses an in-memory store.
func NewDownloadTracker(f Fetcher, statuses StatusStore, m *metrics.Pipeline) *DownloadTracker {
	if statuses == nil {
		statuses = NewMemoryStatusStore(DefaultTrackedHandles)
	}
	return &DownloadTracker{
		fetcher:  f,
		statuses: statuses,
		metrics:  m,
	}
}

// Start begins downloading rawURL. The fetch outlives ctx's cancellation but
// keeps its values.
func (t *DownloadTracker) Start(ctx context.Context, rawURL string) (*Download, error) {
	d := &Download{
		ID:   uuid.New().String(),
		URL:  rawURL,
		done: make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTrackerClosed
	}

	t.inFlight.Add(1)
	t.metrics.DownloadStarted()
	t.put(ctx, d)

	fetchCtx := context.WithoutCancel(ctx)
	t.group.Go(func() error {
		defer func() {
			t.inFlight.Add(-1)
			t.metrics.DownloadFinished()
		}()

		d.outcome = t.fetcher.Fetch(fetchCtx, rawURL)
		close(d.done)
		t.put(fetchCtx, d)
		return nil
	})

	log.Debug().Str("id", d.ID).Str("url", rawURL).Msg("download started")
	return d, nil
}

func (t *DownloadTracker) put(ctx context.Context, d *Download) {
	if err := t.statuses.Put(ctx, d.Handle()); err != nil {
		log.Error().Err(err).Str("id", d.ID).Msg("failed to store download status")
	}
}

// Lookup returns the last stored status of download id
func (t *DownloadTracker) Lookup(ctx context.Context, id string) (types.DownloadHandle, error) {
	return t.statuses.Get(ctx, id)
}

// Forget drops the status of a finished download. A running download cannot
// be forgotten.
func (t *DownloadTracker) Forget(ctx context.Context, id string) error {
	handle, err := t.statuses.Get(ctx, id)
	if err != nil {
		return err
	}
	if handle.Status == types.DownloadPending {
		return fmt.Errorf("%w: %s", ErrDownloadRunning, id)
	}
	if err := t.statuses.Delete(ctx, id); err != nil {
		return err
	}
	log.Debug().Str("id", id).Msg("download status forgotten")
	return nil
}

// Downloading reports whether any download is running. The answer may be
// stale by the time the caller acts on it.
func (t *DownloadTracker) Downloading() bool {
	return t.inFlight.Load() > 0
}

// InFlight returns the number of running downloads
func (t *DownloadTracker) InFlight() int {
	return int(t.inFlight.Load())
}

// Close refuses new downloads and waits for running ones to finish
func (t *DownloadTracker) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	return t.group.Wait()
}
