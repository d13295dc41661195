package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduplicator_ConcurrentCallersShareOneExecution(t *testing.T) {
	d := NewDeduplicator()
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "result", nil
	}

	const n = 50
	var started, finished sync.WaitGroup
	results := make([]any, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		started.Add(1)
		finished.Add(1)
		go func(i int) {
			defer finished.Done()
			f := d.Dedupe(context.Background(), "goal:g1", fn)
			started.Done()
			results[i], errs[i] = f.Wait(context.Background())
		}(i)
	}
	started.Wait()
	close(release)
	finished.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "result", results[i])
	}
}

func TestDeduplicator_SecondCallTenMillisecondsLaterJoins(t *testing.T) {
	d := NewDeduplicator()
	var calls atomic.Int32

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return calls.Load(), nil
	}

	f1 := d.Dedupe(context.Background(), "k", fn)
	time.Sleep(10 * time.Millisecond)
	f2 := d.Dedupe(context.Background(), "k", fn)

	v1, err := f1.Wait(context.Background())
	require.NoError(t, err)
	v2, err := f2.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, 1, f1.(*Future).Joined())
}

func TestDeduplicator_DifferentKeysRunSeparately(t *testing.T) {
	d := NewDeduplicator()
	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}

	_, err := d.Dedupe(context.Background(), "a", fn).Wait(context.Background())
	require.NoError(t, err)
	_, err = d.Dedupe(context.Background(), "b", fn).Wait(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load())
}

func TestDeduplicator_ErrorIsSharedButNotCached(t *testing.T) {
	d := NewDeduplicator()
	boom := errors.New("provider unavailable")
	release := make(chan struct{})
	var calls atomic.Int32

	failing := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	f1 := d.Dedupe(context.Background(), "k", failing)
	f2 := d.Dedupe(context.Background(), "k", failing)
	close(release)

	_, err1 := f1.Wait(context.Background())
	_, err2 := f2.Wait(context.Background())
	assert.ErrorIs(t, err1, boom)
	assert.ErrorIs(t, err2, boom)
	assert.EqualValues(t, 1, calls.Load())

	// a entrada sai antes de liberar os chamadores
	assert.Equal(t, 0, d.Len())

	v, err := d.Dedupe(context.Background(), "k", func(context.Context) (any, error) {
		calls.Add(1)
		return "recovered", nil
	}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDeduplicator_PanicBecomesError(t *testing.T) {
	d := NewDeduplicator()

	f1 := d.Dedupe(context.Background(), "k", func(context.Context) (any, error) {
		panic("kaboom")
	})
	_, err := f1.Wait(context.Background())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, 0, d.Len())
}

func TestDeduplicator_WaitCancelDoesNotCancelSharedWork(t *testing.T) {
	d := NewDeduplicator()
	release := make(chan struct{})
	workCtxErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	f := d.Dedupe(ctx, "k", func(ctx context.Context) (any, error) {
		<-release
		workCtxErr <- ctx.Err()
		return "done", nil
	})

	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.NoError(t, <-workCtxErr)
}

func TestDeduplicator_SettleGraceKeepsResultBriefly(t *testing.T) {
	d := NewDeduplicator(WithSettleGrace(500 * time.Millisecond))
	var calls atomic.Int32
	fn := func(context.Context) (any, error) {
		return calls.Add(1), nil
	}

	v1, err := d.Dedupe(context.Background(), "k", fn).Wait(context.Background())
	require.NoError(t, err)
	v2, err := d.Dedupe(context.Background(), "k", fn).Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, calls.Load())
	assert.Eventually(t, func() bool { return d.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDeduplicator_OldEntriesAreNotJoined(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(WithDedupeClock(clock.Now), WithSweepEvery(0))
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32

	fn := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, nil
	}

	first := d.Dedupe(context.Background(), "k", fn)
	clock.Advance(31 * time.Second)
	second := d.Dedupe(context.Background(), "k", fn)

	assert.NotSame(t, first, second)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDeduplicator_SweepForgetsStuckEntries(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(WithDedupeClock(clock.Now), WithSweepEvery(0))
	release := make(chan struct{})
	defer close(release)

	stuck := func(context.Context) (any, error) {
		<-release
		return nil, nil
	}

	d.Dedupe(context.Background(), "stuck", stuck)
	clock.Advance(10 * time.Second)
	d.Dedupe(context.Background(), "young", stuck)
	require.Equal(t, 2, d.Len())

	clock.Advance(25 * time.Second)
	assert.Equal(t, 1, d.Sweep())
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicator_LateSettleDoesNotEvictNewerEntry(t *testing.T) {
	clock := newFakeClock()
	d := NewDeduplicator(WithDedupeClock(clock.Now), WithSweepEvery(0), WithSettleGrace(0))
	releaseOld := make(chan struct{})
	releaseNew := make(chan struct{})
	defer close(releaseNew)

	old := d.Dedupe(context.Background(), "k", func(context.Context) (any, error) {
		<-releaseOld
		return nil, errors.New("late failure")
	})
	clock.Advance(31 * time.Second)
	require.Equal(t, 1, d.Sweep())

	d.Dedupe(context.Background(), "k", func(context.Context) (any, error) {
		<-releaseNew
		return nil, nil
	})
	close(releaseOld)
	_, err := old.Wait(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1, d.Len())
}

func TestDedupe_Typed(t *testing.T) {
	d := NewDeduplicator(WithSettleGrace(time.Minute))

	got, err := Dedupe(context.Background(), d, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	_, err = Dedupe(context.Background(), d, "k", func(context.Context) (string, error) { return "x", nil })
	assert.Error(t, err, "joined entry holds an int")
}

func TestDeduplicator_JanitorStartStop(t *testing.T) {
	d := NewDeduplicator(WithSweepEvery(5*time.Millisecond), WithMaxInFlightAge(time.Millisecond))
	release := make(chan struct{})
	defer close(release)

	d.Dedupe(context.Background(), "k", func(context.Context) (any, error) {
		<-release
		return nil, nil
	})
	d.StartJanitor(context.Background())
	assert.Eventually(t, func() bool { return d.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Shutdown())
}
