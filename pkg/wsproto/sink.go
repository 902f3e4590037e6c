package wsproto

import (
	"sync"
	"time"

	"github.com/chattyapp/chatty-server/pkg/observability/prometheus"
)

// sink is the bounded FIFO outbound queue of one connection. Enqueue never
// blocks: when the queue is full the oldest droppable frames (data,
// keepalive) are shed to make room and one SLOW_CONSUMER error frame is
// queued per subscription that lost data. Error, complete, and handshake
// frames are never dropped; they may push the queue past capacity.
//
// The mutex is held only for structural queue operations, never across a
// socket write.
type sink struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Frame
	capacity int

	// overflow accounting
	overflows []time.Time
	window    time.Duration
	limit     int

	closed bool
	fatal  bool
}

func newSink(capacity int, window time.Duration, limit int) *sink {
	s := &sink{
		capacity: capacity,
		window:   window,
		limit:    limit,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func droppable(t FrameType) bool {
	return t == FrameData || t == FrameKeepalive
}

// enqueue appends f, shedding on overflow. Capacity bounds only the
// droppable frames, so queued error and complete frames never force data
// drops of their own.
func (s *sink) enqueue(f Frame) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	var affected []string
	if droppable(f.Type) && s.droppableLen() >= s.capacity {
		affected = s.shed()
		s.recordOverflow()
	}
	s.queue = append(s.queue, f)
	for _, id := range affected {
		// no frame bearing an id may follow its complete; a subscription
		// whose complete is already queued gets no slow-consumer report
		if s.completePending(id) {
			continue
		}
		s.queue = append(s.queue, ErrorFrame(id, CodeSlowConsumer, "outbound queue overflow, oldest frames dropped"))
	}
	s.cond.Signal()
	s.mu.Unlock()
}

// completePending reports whether a complete frame for id is still
// queued. Caller holds mu.
func (s *sink) completePending(id string) bool {
	for _, f := range s.queue {
		if f.Type == FrameComplete && f.ID == id {
			return true
		}
	}
	return false
}

// droppableLen counts the pending droppable frames. Caller holds mu.
func (s *sink) droppableLen() int {
	n := 0
	for _, f := range s.queue {
		if droppable(f.Type) {
			n++
		}
	}
	return n
}

// shed drops the oldest droppable frames until one slot is free,
// returning the distinct subscription ids whose data frames were lost, in
// first-loss order. Caller holds mu.
func (s *sink) shed() []string {
	var affected []string
	seen := map[string]bool{}
	remaining := s.droppableLen()
	kept := s.queue[:0]
	dropped := 0
	for _, f := range s.queue {
		if remaining >= s.capacity && droppable(f.Type) {
			remaining--
			dropped++
			if f.Type == FrameData && !seen[f.ID] {
				seen[f.ID] = true
				affected = append(affected, f.ID)
			}
			continue
		}
		kept = append(kept, f)
	}
	s.queue = kept
	if dropped > 0 {
		prometheus.GetMetrics().FramesDropped.Add(float64(dropped))
	}
	return affected
}

// recordOverflow notes one overflow and latches the fatal flag when more
// than limit overflows land inside the window. Caller holds mu.
func (s *sink) recordOverflow() {
	prometheus.GetMetrics().SlowConsumers.Inc()
	now := time.Now()
	cutoff := now.Add(-s.window)
	pruned := s.overflows[:0]
	for _, t := range s.overflows {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	s.overflows = append(pruned, now)
	if len(s.overflows) > s.limit {
		s.fatal = true
	}
}

// drain blocks until frames are pending or the sink is closed, then
// returns the pending batch. The second result reports whether the writer
// should stop after flushing the batch (close or repeated overflow).
func (s *sink) drain() ([]Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed && !s.fatal {
		s.cond.Wait()
	}
	batch := s.queue
	s.queue = nil
	return batch, s.closed || s.fatal
}

// overflowed reports whether the repeated-overflow threshold was crossed.
func (s *sink) overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// close stops accepting frames and wakes the writer. Frames already
// queued are left for the writer to flush best-effort. Idempotent.
func (s *sink) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// pending reports the queue length. Test hook.
func (s *sink) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
