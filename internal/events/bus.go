package events

import (
	"context"
	"sync"
	"time"
)

const defaultCapacity = 512

// Bus stores recent events and wakes waiters when new events arrive.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	sinks    []Sink
}

// NewBus constructs a bounded in-memory event buffer.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	b := &Bus{capacity: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// AddSink wires an additional sink that receives every published event.
func (b *Bus) AddSink(sink Sink) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish assigns a sequence number, buffers evt and forwards it to sinks.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.nextSeq++
	evt.Sequence = b.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(b.buffer) == b.capacity {
		copy(b.buffer, b.buffer[1:])
		b.buffer = b.buffer[:b.capacity-1]
	}
	b.buffer = append(b.buffer, evt)
	sinks := append([]Sink(nil), b.sinks...)
	b.cond.Broadcast()
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
}

// Fetch returns buffered events with sequence greater than since, up to
// limit. When wait is true it blocks until an event arrives or ctx ends.
func (b *Bus) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if b == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}

	stopWake := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.mu.Lock()
				b.cond.Broadcast()
				b.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		events := b.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, b.nextSeq, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, b.nextSeq, err
		}
		b.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, b.nextSeq, err
		}
	}
}

// Tail returns the most recent limit events for jobID, or for all jobs when
// jobID is empty.
func (b *Bus) Tail(jobID string, limit int) []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for i := len(b.buffer) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if jobID == "" || b.buffer[i].JobID == jobID {
			out = append(out, b.buffer[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// LastSequence reports the newest assigned sequence number.
func (b *Bus) LastSequence() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

func (b *Bus) snapshotLocked(since uint64, limit int) []Event {
	start := len(b.buffer)
	for i, evt := range b.buffer {
		if evt.Sequence > since {
			start = i
			break
		}
	}
	end := min(start+limit, len(b.buffer))
	if start >= end {
		return nil
	}
	out := make([]Event, end-start)
	copy(out, b.buffer[start:end])
	return out
}
