package tasks

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lgulliver/upturn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedLoader blocks each load until its blob is released
type gatedLoader struct {
	mu      sync.Mutex
	gates   map[types.BlobRef]chan struct{}
	started chan types.BlobRef
	fail    map[types.BlobRef]error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{
		gates:   make(map[types.BlobRef]chan struct{}),
		started: make(chan types.BlobRef, 16),
		fail:    make(map[types.BlobRef]error),
	}
}

func (l *gatedLoader) gate(ref types.BlobRef) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[ref]
	if !ok {
		g = make(chan struct{})
		l.gates[ref] = g
	}
	return g
}

func (l *gatedLoader) release(ref types.BlobRef) {
	close(l.gate(ref))
}

func (l *gatedLoader) LoadForDisplay(_ context.Context, ref types.BlobRef, _ bool, targetWidth int) (*image.RGBA, error) {
	n := l.active.Add(1)
	for {
		peak := l.maxActive.Load()
		if n <= peak || l.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}
	l.started <- ref

	<-l.gate(ref)
	l.active.Add(-1)

	l.mu.Lock()
	err := l.fail[ref]
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, targetWidth, 1)), nil
}

func waitStarted(t *testing.T, l *gatedLoader, want types.BlobRef) {
	t.Helper()
	select {
	case ref := <-l.started:
		require.Equal(t, want, ref)
	case <-time.After(5 * time.Second):
		t.Fatalf("load of %s never started", want)
	}
}

// collector records every applied result
type collector struct {
	mu      sync.Mutex
	widths  []int
	lastErr error
}

func (c *collector) apply(raster *image.RGBA, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	if raster != nil {
		c.widths = append(c.widths, raster.Bounds().Dx())
	}
}

func (c *collector) applied() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.widths...)
}

func TestDisplayScheduler_AppliesCurrentResult(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 2, nil)
	defer scheduler.Close()
	var c collector

	ticket, err := scheduler.Request("view", "1.png", true, 10, c.apply)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduler.Pending())

	waitStarted(t, loader, "1.png")
	loader.release("1.png")
	ticket.Wait()

	assert.True(t, ticket.Applied())
	assert.Equal(t, []int{10}, c.applied())
	assert.NoError(t, c.lastErr)
	assert.Equal(t, 0, scheduler.Pending())
}

func TestDisplayScheduler_DropsSupersededResult(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 2, nil)
	defer scheduler.Close()
	var c collector

	first, err := scheduler.Request("view", "old.png", true, 10, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "old.png")

	second, err := scheduler.Request("view", "new.png", true, 20, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "new.png")
	assert.Greater(t, second.Generation, first.Generation)

	// The superseded load runs to completion but is not applied.
	loader.release("old.png")
	first.Wait()
	assert.False(t, first.Applied())
	assert.Empty(t, c.applied())

	loader.release("new.png")
	second.Wait()
	assert.True(t, second.Applied())
	assert.Equal(t, []int{20}, c.applied())
}

func TestDisplayScheduler_SupersededLateFinisherIsDropped(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 2, nil)
	defer scheduler.Close()
	var c collector

	first, err := scheduler.Request("view", "old.png", false, 10, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "old.png")

	second, err := scheduler.Request("view", "new.png", false, 20, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "new.png")

	loader.release("new.png")
	second.Wait()
	loader.release("old.png")
	first.Wait()

	assert.True(t, second.Applied())
	assert.False(t, first.Applied())
	assert.Equal(t, []int{20}, c.applied())
}

func TestDisplayScheduler_TargetsAreIndependent(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 2, nil)
	defer scheduler.Close()
	var left, right collector

	a, err := scheduler.Request("left", "a.png", false, 3, left.apply)
	require.NoError(t, err)
	b, err := scheduler.Request("right", "b.png", false, 4, right.apply)
	require.NoError(t, err)

	loader.release("a.png")
	loader.release("b.png")
	a.Wait()
	b.Wait()

	assert.True(t, a.Applied())
	assert.True(t, b.Applied())
	assert.Equal(t, []int{3}, left.applied())
	assert.Equal(t, []int{4}, right.applied())
}

func TestDisplayScheduler_BoundsConcurrency(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 1, nil)
	defer scheduler.Close()
	var c collector

	busy, err := scheduler.Request("a", "busy.png", false, 1, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "busy.png")

	// Queued behind the single worker, then superseded before it ever loads.
	queued, err := scheduler.Request("b", "queued.png", false, 2, c.apply)
	require.NoError(t, err)
	latest, err := scheduler.Request("b", "latest.png", false, 3, c.apply)
	require.NoError(t, err)

	queued.Wait()
	assert.False(t, queued.Applied())

	loader.release("busy.png")
	busy.Wait()
	waitStarted(t, loader, "latest.png")
	loader.release("latest.png")
	latest.Wait()

	assert.True(t, latest.Applied())
	assert.ElementsMatch(t, []int{1, 3}, c.applied())
	assert.Equal(t, int32(1), loader.maxActive.Load())
}

func TestDisplayScheduler_PassesLoadErrors(t *testing.T) {
	loader := newGatedLoader()
	loadErr := errors.New("decode failed")
	loader.fail["bad.png"] = loadErr
	scheduler := NewDisplayScheduler(loader, 1, nil)
	defer scheduler.Close()
	var c collector

	ticket, err := scheduler.Request("view", "bad.png", true, 10, c.apply)
	require.NoError(t, err)
	loader.release("bad.png")
	ticket.Wait()

	assert.True(t, ticket.Applied())
	assert.ErrorIs(t, c.lastErr, loadErr)
	assert.Empty(t, c.applied())
}

func TestDisplayScheduler_Cancel(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 1, nil)
	defer scheduler.Close()
	var c collector

	ticket, err := scheduler.Request("view", "1.png", false, 10, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "1.png")

	ticket.Cancel()
	loader.release("1.png")
	ticket.Wait()

	assert.False(t, ticket.Applied())
	assert.Empty(t, c.applied())
	assert.Equal(t, 0, scheduler.Pending())
}

func TestDisplayScheduler_Close(t *testing.T) {
	loader := newGatedLoader()
	scheduler := NewDisplayScheduler(loader, 0, nil)
	var c collector

	ticket, err := scheduler.Request("view", "1.png", false, 10, c.apply)
	require.NoError(t, err)
	waitStarted(t, loader, "1.png")

	closed := make(chan struct{})
	go func() {
		scheduler.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned before the running decode finished")
	case <-time.After(50 * time.Millisecond):
	}

	loader.release("1.png")
	<-closed
	assert.True(t, ticket.Applied())

	_, err = scheduler.Request("view", "2.png", false, 10, c.apply)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}
