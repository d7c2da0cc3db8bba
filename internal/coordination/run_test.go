package coordination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/simulator"
	"github.com/banshee-data/traffic.control/internal/timeutil"
)

func waitForTicker(t *testing.T, clock *timeutil.MockClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for clock.TickerCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run loop never created its ticker")
		}
		time.Sleep(time.Millisecond)
	}
}

// tickNotifier signals on done after every completed tick.
type tickNotifier struct {
	recorder
	done chan TickSummary
}

func (n *tickNotifier) TickDone(s TickSummary) { n.done <- s }

func TestRunStepsOnEveryInterval(t *testing.T) {
	n := &tickNotifier{done: make(chan TickSummary, 8)}
	quietLogs(t)
	m := NewManager(testNetwork(t), WithSink(n))
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx, clock, time.Second, simulator.NewDevStatic()) }()
	waitForTicker(t, clock)

	for i := uint64(1); i <= 3; i++ {
		clock.Advance(time.Second)
		select {
		case s := <-n.done:
			assert.Equal(t, i, s.Tick)
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d never completed", i)
		}
	}
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

func TestRunStopsAtTickLimit(t *testing.T) {
	n := &tickNotifier{done: make(chan TickSummary, 8)}
	quietLogs(t)
	m := NewManager(testNetwork(t), WithSink(n), WithTickLimit(2))
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), clock, time.Second, simulator.NewDevStatic()) }()
	waitForTicker(t, clock)

	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		<-n.done
	}
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop at the tick limit")
	}
	assert.Equal(t, uint64(2), m.Tick())
}

func TestRunStopsWhenSourceExhausted(t *testing.T) {
	n := &tickNotifier{done: make(chan TickSummary, 8)}
	quietLogs(t)
	m := NewManager(testNetwork(t), WithSink(n))
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := simulator.NewReplay([]simulator.Frame{{}}, false)

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), clock, time.Second, src) }()
	waitForTicker(t, clock)

	clock.Advance(time.Second)
	<-n.done
	clock.Advance(time.Second)
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on an exhausted source")
	}
	assert.Equal(t, uint64(1), m.Tick())
}

type flakySource struct {
	calls int
}

func (f *flakySource) Fetch(ctx context.Context) (simulator.State, error) {
	f.calls++
	if f.calls == 1 {
		return nil, errors.New("connection refused")
	}
	return simulator.NewDevStatic(), nil
}

func TestRunSkipsFailedFetch(t *testing.T) {
	n := &tickNotifier{done: make(chan TickSummary, 8)}
	quietLogs(t)
	m := NewManager(testNetwork(t), WithSink(n), WithTickLimit(1))
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	src := &flakySource{}

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background(), clock, time.Second, src) }()
	waitForTicker(t, clock)

	// The first interval fails to fetch and produces no tick.
	clock.Advance(time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for {
		clock.Advance(time.Second)
		select {
		case s := <-n.done:
			assert.Equal(t, uint64(1), s.Tick)
			require.NoError(t, <-errc)
			assert.GreaterOrEqual(t, src.calls, 2)
			return
		case <-time.After(10 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("run never recovered from a failed fetch")
		}
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	m := NewManager(nil)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	assert.Error(t, m.Run(context.Background(), clock, 0, simulator.NewDevStatic()))
	assert.Error(t, m.Run(context.Background(), clock, time.Second, nil))
}
