// Package bus implements the per-room ordered event fan-out. Every event the
// orchestrator produces is assigned a strictly increasing sequence number and
// delivered to each attached subscriber in that order. A subscriber that falls
// behind its bounded buffer is dropped; the transport is expected to reconnect
// and receive a fresh snapshot.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

// Sink receives a copy of every published event. Used to mirror room events to
// out-of-process consumers (the Redis mirror); delivery there is best-effort.
type Sink interface {
	PublishEvent(ctx context.Context, room types.RoomCode, ev types.Event)
}

// Bus is one room's broadcaster. The zero value is not usable; construct with New.
type Bus struct {
	room       types.RoomCode
	bufferSize int
	sink       Sink

	mu     sync.Mutex
	seq    uint64
	subs   map[*subscription]struct{}
	closed bool

	// Mirror publishes happen off the caller goroutine but in publish order.
	mirrorCh chan types.Event
	wg       sync.WaitGroup
}

type subscription struct {
	bus *Bus
	ch  chan types.Event

	once sync.Once
}

// New creates a bus for one room. bufferSize bounds each subscriber's queue.
func New(room types.RoomCode, bufferSize int, sink Sink) *Bus {
	b := &Bus{
		room:       room,
		bufferSize: bufferSize,
		sink:       sink,
		subs:       make(map[*subscription]struct{}),
	}
	if sink != nil {
		b.mirrorCh = make(chan types.Event, bufferSize)
		b.wg.Add(1)
		go b.mirrorLoop()
	}
	return b
}

// Publish assigns the next sequence number and fans the event out. Slow
// subscribers are dropped rather than blocking the caller.
func (b *Bus) Publish(kind types.EventKind, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	ev := types.Event{Seq: b.seq, Kind: kind, Payload: payload}

	var dropped []*subscription
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		delete(b.subs, sub)
	}

	if b.mirrorCh != nil {
		select {
		case b.mirrorCh <- ev:
		default:
			logging.Warn(context.Background(), "Dropping mirror publish - queue full",
				zap.String("room_code", string(b.room)))
		}
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		metrics.BusDrops.Inc()
		logging.Warn(context.Background(), "Dropping slow subscriber",
			zap.String("room_code", string(b.room)), zap.Uint64("seq", ev.Seq))
		sub.closeChan()
	}
	b.updateSubscriberGauge()
}

// Subscribe attaches a new subscriber. The first event on the channel is
// always a synthetic Snapshot. The builder runs while the bus lock is held so
// any state a concurrent publish describes is either in the snapshot or
// delivered on the stream, never lost in between.
func (b *Bus) Subscribe(snapshot func() types.SnapshotPayload) types.Subscription {
	sub := &subscription{bus: b, ch: make(chan types.Event, b.bufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub
	}
	b.seq++
	sub.ch <- types.Event{Seq: b.seq, Kind: types.EventSnapshot, Payload: snapshot()}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.updateSubscriberGauge()
	return sub
}

// Close terminates the bus. All subscriber channels close after any buffered
// events have been drained by their readers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscription]struct{})
	if b.mirrorCh != nil {
		close(b.mirrorCh)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeChan()
	}
	metrics.BusSubscribers.DeleteLabelValues(string(b.room))
	b.wg.Wait()
}

func (b *Bus) mirrorLoop() {
	defer b.wg.Done()
	for ev := range b.mirrorCh {
		b.sink.PublishEvent(context.Background(), b.room, ev)
	}
}

func (b *Bus) updateSubscriberGauge() {
	b.mu.Lock()
	n := len(b.subs)
	closed := b.closed
	b.mu.Unlock()
	if !closed {
		metrics.BusSubscribers.WithLabelValues(string(b.room)).Set(float64(n))
	}
}

// Events returns the subscriber's ordered event channel.
func (s *subscription) Events() <-chan types.Event {
	return s.ch
}

// Close detaches the subscriber. Idempotent; safe to call concurrently with
// bus publishes.
func (s *subscription) Close() {
	s.bus.mu.Lock()
	_, attached := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	if attached {
		s.closeChan()
		s.bus.updateSubscriberGauge()
	}
}

func (s *subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}
