package telemetry

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of samples kept when none is configured.
const DefaultCapacity = 10000

// Sample is one time-stamped line/PID pair. Each recorded frame produces its
// own sample, so usually only one of Line or PID is valid.
type Sample struct {
	Time float64 `json:"t"` // Seconds since the first recorded sample
	Line Reading `json:"l"`
	PID  Reading `json:"o"`
}

// Window is the result of a trailing time-window query.
type Window struct {
	Samples []Sample `json:"samples"`
	TimeMin float64  `json:"timeMin"`
	TimeMax float64  `json:"timeMax"`
}

// Buffer is a fixed-capacity ring of samples with FIFO eviction. Relative
// times are offsets from the first sample ever recorded and are never
// renormalized after eviction.
type Buffer struct {
	mu      sync.Mutex
	samples []Sample // ring storage, len == capacity once full
	head    int      // index of the oldest sample
	count   int
	start   time.Time
	started bool

	now func() time.Time
}

// NewBuffer creates a buffer holding at most capacity samples.
// A non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		samples: make([]Sample, capacity),
		now:     time.Now,
	}
}

// Record appends one sample stamped with the current time, evicting the
// oldest sample when full.
func (b *Buffer) Record(line, pid Reading) {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.start = now
		b.started = true
	}
	rel := now.Sub(b.start).Seconds()
	if rel < 0 {
		rel = 0
	}
	// Samples stay ordered even if the clock source is not monotonic.
	if b.count > 0 {
		if last := b.at(b.count - 1).Time; rel < last {
			rel = last
		}
	}

	s := Sample{Time: rel, Line: line, PID: pid}
	capacity := len(b.samples)
	if b.count < capacity {
		b.samples[(b.head+b.count)%capacity] = s
		b.count++
		return
	}
	b.samples[b.head] = s
	b.head = (b.head + 1) % capacity
}

// Window returns the samples of the trailing window ending at the most
// recent sample. With seconds <= 0 the whole buffer is returned and TimeMin
// is the oldest sample's time. Otherwise TimeMin is exactly
// TimeMax-seconds, even when no samples reach back that far.
// ok is false when the buffer is empty.
func (b *Buffer) Window(seconds float64) (w Window, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Window{}, false
	}

	w.TimeMax = b.at(b.count - 1).Time
	if seconds <= 0 {
		w.TimeMin = b.at(0).Time
		w.Samples = make([]Sample, b.count)
		for i := 0; i < b.count; i++ {
			w.Samples[i] = b.at(i)
		}
		return w, true
	}

	w.TimeMin = w.TimeMax - seconds
	// Times are non-decreasing; find the first sample inside the window.
	lo, hi := 0, b.count
	for lo < hi {
		mid := (lo + hi) / 2
		if b.at(mid).Time < w.TimeMin {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	w.Samples = make([]Sample, b.count-lo)
	for i := lo; i < b.count; i++ {
		w.Samples[i-lo] = b.at(i)
	}
	return w, true
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Capacity returns the maximum number of stored samples.
func (b *Buffer) Capacity() int {
	return len(b.samples)
}

// Clear drops all samples. The time base is kept, so later samples are
// still relative to the first sample ever recorded.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// at returns the i-th oldest sample. Must be called with b.mu held.
func (b *Buffer) at(i int) Sample {
	return b.samples[(b.head+i)%len(b.samples)]
}
