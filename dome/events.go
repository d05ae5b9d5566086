package dome

import (
	"container/heap"
	"time"
)

// EventKind tags a scheduled action.
type EventKind int

const (
	// EndPulse releases the motor at the end of a step.
	EndPulse EventKind = iota
	// StopRecheck compares the encoder with the count recorded a tsafe ago.
	StopRecheck
	// ShutterDone releases the shutter motor; Arg is the output channel.
	ShutterDone
	// RelayTimeout releases a pulsed relay; Arg is the relay index.
	RelayTimeout
)

func (k EventKind) String() string {
	switch k {
	case EndPulse:
		return "EndPulse"
	case StopRecheck:
		return "StopRecheck"
	case ShutterDone:
		return "ShutterDone"
	case RelayTimeout:
		return "RelayTimeout"
	}
	return "Unknown"
}

type event struct {
	At   time.Time
	Kind EventKind
	Arg  int
	seq  uint64
}

type eventHeap []event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// schedule is a queue of one-shot events ordered by fire time. Events with the
// same fire time come out in the order they were added.
type schedule struct {
	h   eventHeap
	seq uint64
}

func (s *schedule) add(at time.Time, kind EventKind, arg int) {
	s.seq++
	heap.Push(&s.h, event{At: at, Kind: kind, Arg: arg, seq: s.seq})
}

// due removes and returns the earliest event if it fires at or before now.
func (s *schedule) due(now time.Time) (event, bool) {
	if len(s.h) == 0 || s.h[0].At.After(now) {
		return event{}, false
	}
	return heap.Pop(&s.h).(event), true
}

// drain removes and returns every event in firing order.
func (s *schedule) drain() []event {
	out := make([]event, 0, len(s.h))
	for len(s.h) > 0 {
		out = append(out, heap.Pop(&s.h).(event))
	}
	return out
}

// cancel drops pending events of kind with the given arg.
func (s *schedule) cancel(kind EventKind, arg int) {
	kept := s.h[:0]
	for _, e := range s.h {
		if e.Kind != kind || e.Arg != arg {
			kept = append(kept, e)
		}
	}
	s.h = kept
	heap.Init(&s.h)
}

func (s *schedule) len() int { return len(s.h) }
