package tasks

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/lgulliver/upturn/internal/metrics"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// DefaultDecodeWorkers bounds concurrent decodes when no limit is given
const DefaultDecodeWorkers = 2

// ErrSchedulerClosed is returned by Request after Close
var ErrSchedulerClosed = errors.New("display scheduler closed")

// Loader decodes a blob for display
type Loader interface {
	LoadForDisplay(ctx context.Context, ref types.BlobRef, rotate bool, targetWidth int) (*image.RGBA, error)
}

// ApplyFunc receives the result of a decode that is still current. It runs
// while the scheduler holds its lock and must not call back into it.
type ApplyFunc func(raster *image.RGBA, err error)

// Ticket tracks one decode request
type Ticket struct {
	Target     string
	Generation uint64

	cancel  context.CancelFunc
	done    chan struct{}
	applied atomic.Bool
}

// Wait blocks until the decode has finished, applied or not
func (t *Ticket) Wait() {
	<-t.done
}

// Done is closed once the decode has finished
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Applied reports whether the result reached the apply callback
func (t *Ticket) Applied() bool {
	return t.applied.Load()
}

// Cancel abandons the request. Its result will not be applied.
func (t *Ticket) Cancel() {
	t.cancel()
}

type target struct {
	generation uint64
	cancel     context.CancelFunc
}

// DisplayScheduler decodes images for display targets. Each target shows one
// image at a time: a new request supersedes the previous one, and a
// superseded result is dropped instead of applied.
type DisplayScheduler struct {
	loader  Loader
	sem     *semaphore.Weighted
	metrics *metrics.Pipeline

	mu         sync.Mutex
	wg         sync.WaitGroup
	targets    map[string]*target
	generation uint64
	closed     bool
}

// NewDisplayScheduler runs at most workers decodes at once
func NewDisplayScheduler(loader Loader, workers int64, m *metrics.Pipeline) *DisplayScheduler {
	if workers <= 0 {
		workers = DefaultDecodeWorkers
	}
	return &DisplayScheduler{
		loader:  loader,
		sem:     semaphore.NewWeighted(workers),
		metrics: m,
		targets: make(map[string]*target),
	}
}

// Request decodes ref for targetName and passes the result to apply unless a
// newer request for the same target arrives first.
func (s *DisplayScheduler) Request(targetName string, ref types.BlobRef, rotate bool, width int, apply ApplyFunc) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSchedulerClosed
	}

	if prev, ok := s.targets[targetName]; ok {
		prev.cancel()
		log.Debug().Str("target", targetName).Uint64("generation", prev.generation).Msg("display request superseded")
	}

	s.generation++
	ctx, cancel := context.WithCancel(context.Background())
	ticket := &Ticket{
		Target:     targetName,
		Generation: s.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.targets[targetName] = &target{generation: ticket.Generation, cancel: cancel}

	s.wg.Add(1)
	go s.run(ctx, ticket, ref, rotate, width, apply)

	return ticket, nil
}

func (s *DisplayScheduler) run(ctx context.Context, ticket *Ticket, ref types.BlobRef, rotate bool, width int, apply ApplyFunc) {
	defer s.wg.Done()
	defer close(ticket.done)
	defer ticket.cancel()

	var raster *image.RGBA
	err := s.sem.Acquire(ctx, 1)
	if err == nil {
		raster, err = s.loader.LoadForDisplay(ctx, ref, rotate, width)
		s.sem.Release(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.targets[ticket.Target]
	isCurrent := ok && current.generation == ticket.Generation
	if isCurrent {
		delete(s.targets, ticket.Target)
	}
	if !isCurrent || ctx.Err() != nil {
		s.metrics.RecordSuperseded()
		log.Debug().
			Str("target", ticket.Target).
			Str("blob", ref.String()).
			Uint64("generation", ticket.Generation).
			Msg("dropping superseded display result")
		return
	}

	apply(raster, err)
	ticket.applied.Store(true)
}

// Pending returns the number of targets with a decode in progress
func (s *DisplayScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// Close refuses new requests and waits for running decodes to finish
func (s *DisplayScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}
