package broadcast

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/monitoring"
	"github.com/banshee-data/traffic.control/internal/timeutil"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 2 * time.Second
	subscriberBuffer      = 16
)

// Bus is a coordination.Sink that fans records out to subscribers without
// blocking the tick, and hands them to publishers on a background worker.
// A slow subscriber or a full publish queue loses records rather than
// stalling the control loop.
type Bus struct {
	clock      timeutil.Clock
	publishers []Publisher
	timeout    time.Duration
	queueSize  int

	subscriberMu sync.Mutex
	subscribers  map[string]chan Event

	// mu serialises sends on queue against Close.
	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithPublisher adds an external publisher.
func WithPublisher(p Publisher) BusOption {
	return func(b *Bus) { b.publishers = append(b.publishers, p) }
}

// WithClock sets the clock used to stamp events.
func WithClock(c timeutil.Clock) BusOption {
	return func(b *Bus) { b.clock = c }
}

// WithPublishTimeout bounds each Publish call.
func WithPublishTimeout(d time.Duration) BusOption {
	return func(b *Bus) { b.timeout = d }
}

// WithQueueSize sets how many events may wait for the publish worker.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) { b.queueSize = n }
}

// NewBus returns a running bus. Call Close to stop the publish worker.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		clock:       timeutil.RealClock{},
		timeout:     defaultPublishTimeout,
		queueSize:   defaultQueueSize,
		subscribers: make(map[string]chan Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.queueSize <= 0 {
		b.queueSize = defaultQueueSize
	}
	if len(b.publishers) > 0 {
		b.queue = make(chan Event, b.queueSize)
		b.wg.Add(1)
		go b.publishLoop()
	}
	return b
}

// randomID generates a subscriber id (8 random bytes, hex encoded).
func randomID() string {
	buf := make([]byte, 8)
	_, _ = crand.Read(buf)
	return hex.EncodeToString(buf)
}

// Subscribe returns an id and a channel receiving every subsequent event.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, subscriberBuffer)
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes the subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Subscribers reports the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.subscriberMu.Lock()
	defer b.subscriberMu.Unlock()
	return len(b.subscribers)
}

// Dropped reports how many events were not queued for publishing because
// the queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Congestion implements coordination.Sink.
func (b *Bus) Congestion(ev coordination.CongestionEvent) error {
	return b.deliver(Event{Kind: KindCongestion, Time: b.clock.Now(), Congestion: &ev})
}

// Outcome implements coordination.Sink.
func (b *Bus) Outcome(o coordination.Outcome) error {
	return b.deliver(Event{Kind: KindOutcome, Time: b.clock.Now(), Outcome: &o})
}

var errBusClosed = errors.New("broadcast bus closed")

func (b *Bus) deliver(e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errBusClosed
	}

	b.subscriberMu.Lock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// skip subscribers that are not keeping up
		}
	}
	b.subscriberMu.Unlock()

	if b.queue == nil {
		return nil
	}
	select {
	case b.queue <- e:
		return nil
	default:
		n := b.dropped.Add(1)
		return fmt.Errorf("publish queue full, dropped %s event for %s (%d dropped so far)", e.Kind, e.Key(), n)
	}
}

func (b *Bus) publishLoop() {
	defer b.wg.Done()
	for e := range b.queue {
		for _, p := range b.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			if err := p.Publish(ctx, e); err != nil {
				monitoring.Tickf(e.Tick(), "broadcast: publish %s %s failed: %v", e.Kind, e.Key(), err)
			}
			cancel()
		}
	}
}

// Close stops accepting events, drains the publish queue, closes every
// publisher and every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()

	var errs []error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	b.subscriberMu.Lock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.subscriberMu.Unlock()
	return errors.Join(errs...)
}

// AttachAdminRoutes adds a server-sent event tail of the bus under /debug/.
func (b *Bus) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("events-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := b.Subscribe()
		defer b.Unsubscribe(id)

		_, _ = w.Write([]byte(": ping\n\n"))
		flusher.Flush()
		for {
			select {
			case e, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
