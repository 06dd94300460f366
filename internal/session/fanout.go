// Package session implements the Session Controller: the top-level
// orchestrator tying the Scheduler, Streaming Turn Engine, Tool Invoker,
// Transcript Store, Pending Action Store, Compaction Engine, and Hook
// Dispatch into one conversation lifecycle, and fanning out a single
// ordered event stream to any number of subscribers.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/agentcore/nexus/internal/models"
)

// DefaultSubscriberBuffer is the high-priority lane size for a new
// subscriber when Subscribe is called without an explicit buffer size.
const DefaultSubscriberBuffer = 64

// isAdvisory reports whether an event type may be dropped under
// backpressure. Partial content deltas and tool progress are the only
// advisory event kinds; turn_end, tool_result, and every lifecycle event
// are always delivered.
func isAdvisory(t models.AgentEventType) bool {
	switch t {
	case models.EventPartial, models.EventToolProgress:
		return true
	default:
		return false
	}
}

// subscriberSink is a two-lane backpressure channel for one subscriber,
// adapted from BackpressureSink: a bounded high-priority
// lane that blocks (briefly, bounded by the caller's own select on ctx)
// rather than drop, and a bounded low-priority lane that drops the newest
// advisory event once full rather than stall the whole session on a slow
// reader.
type subscriberSink struct {
	highPri chan models.AgentEvent
	lowPri  chan models.AgentEvent
	out     chan models.AgentEvent
	dropped uint64
	closed  uint32
}

func newSubscriberSink(bufferSize int) *subscriberSink {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	s := &subscriberSink{
		highPri: make(chan models.AgentEvent, bufferSize),
		lowPri:  make(chan models.AgentEvent, bufferSize),
		out:     make(chan models.AgentEvent, bufferSize),
	}
	go s.mergeLoop()
	return s
}

func (s *subscriberSink) mergeLoop() {
	defer close(s.out)
	for {
		select {
		case ev, ok := <-s.highPri:
			if !ok {
				for ev := range s.lowPri {
					s.out <- ev
				}
				return
			}
			s.out <- ev
			continue
		default:
		}

		select {
		case ev, ok := <-s.highPri:
			if !ok {
				for ev := range s.lowPri {
					s.out <- ev
				}
				return
			}
			s.out <- ev
		case ev, ok := <-s.lowPri:
			if ok {
				s.out <- ev
			}
		}
	}
}

// push delivers ev to this subscriber, dropping it if it is advisory and
// the low-priority lane is full.
func (s *subscriberSink) push(ev models.AgentEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if isAdvisory(ev.Type) {
		select {
		case s.lowPri <- ev:
		default:
			atomic.AddUint64(&s.dropped, 1)
		}
		return
	}
	select {
	case s.highPri <- ev:
	default:
		// The high-priority lane almost never fills (it only carries
		// lifecycle/turn/tool-result events); when it does, the event is
		// still not silently discarded, it waits for a slot.
		s.highPri <- ev
	}
}

func (s *subscriberSink) close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.highPri)
	close(s.lowPri)
}

// hub owns the set of active subscribers and stamps outgoing events with a
// monotonically increasing per-session Seq before fanning them out.
type hub struct {
	mu          sync.Mutex
	subscribers map[uint64]*subscriberSink
	nextSubID   uint64
	seq         uint64
}

func newHub() *hub {
	return &hub{subscribers: make(map[uint64]*subscriberSink)}
}

// subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe function.
func (h *hub) subscribe(bufferSize int) (<-chan models.AgentEvent, func()) {
	sink := newSubscriberSink(bufferSize)

	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subscribers[id] = sink
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
		sink.close()
	}
	return sink.out, unsubscribe
}

// emit stamps ev.Seq and fans it out to every current subscriber.
func (h *hub) emit(ev models.AgentEvent) models.AgentEvent {
	h.mu.Lock()
	h.seq++
	ev.Seq = h.seq
	sinks := make([]*subscriberSink, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		sinks = append(sinks, s)
	}
	h.mu.Unlock()

	for _, s := range sinks {
		s.push(ev)
	}
	return ev
}

// closeAll shuts down every subscriber, used on session termination.
func (h *hub) closeAll() {
	h.mu.Lock()
	sinks := make([]*subscriberSink, 0, len(h.subscribers))
	for id, s := range h.subscribers {
		sinks = append(sinks, s)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	for _, s := range sinks {
		s.close()
	}
}
