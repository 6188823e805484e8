package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBuffer(capacity int) (*Buffer, *fakeClock) {
	clk := newFakeClock()
	b := NewBuffer(capacity)
	b.now = clk.Now
	return b, clk
}

func lineValues(samples []Sample) []int {
	var out []int
	for _, s := range samples {
		if s.Line.Valid {
			out = append(out, s.Line.Value)
		}
	}
	return out
}

func TestBufferEmptyWindow(t *testing.T) {
	b, _ := newTestBuffer(10)
	_, ok := b.Window(5)
	assert.False(t, ok)
	_, ok = b.Window(0)
	assert.False(t, ok)
}

func TestBufferDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewBuffer(0).Capacity())
	assert.Equal(t, 500, NewBuffer(500).Capacity())
}

func TestBufferFirstSampleAtZero(t *testing.T) {
	b, clk := newTestBuffer(10)
	clk.Advance(time.Hour)
	b.Record(Some(1), Reading{})

	w, ok := b.Window(0)
	require.True(t, ok)
	require.Len(t, w.Samples, 1)
	assert.Equal(t, 0.0, w.Samples[0].Time)
}

func TestBufferTrailingWindow(t *testing.T) {
	b, clk := newTestBuffer(100)
	for i, v := range []int{10, 20, 30, 40, 50, 60} {
		if i > 0 {
			clk.Advance(time.Second)
		}
		b.Record(Some(v), Reading{})
	}

	w, ok := b.Window(2)
	require.True(t, ok)
	assert.Equal(t, []int{40, 50, 60}, lineValues(w.Samples))
	assert.InDelta(t, 3.0, w.TimeMin, 1e-9)
	assert.InDelta(t, 5.0, w.TimeMax, 1e-9)
}

func TestBufferWindowLeftEdgeNotClipped(t *testing.T) {
	b, clk := newTestBuffer(100)
	b.Record(Some(1), Reading{})
	clk.Advance(time.Second)
	b.Record(Some(2), Reading{})

	w, ok := b.Window(10)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, lineValues(w.Samples))
	assert.InDelta(t, -9.0, w.TimeMin, 1e-9)
	assert.InDelta(t, 1.0, w.TimeMax, 1e-9)
}

func TestBufferFullWindow(t *testing.T) {
	b, clk := newTestBuffer(100)
	for i := 0; i < 4; i++ {
		clk.Advance(500 * time.Millisecond)
		b.Record(Reading{}, Some(i))
	}

	w, ok := b.Window(-1)
	require.True(t, ok)
	assert.Len(t, w.Samples, 4)
	assert.Equal(t, 0.0, w.TimeMin)
	assert.InDelta(t, 1.5, w.TimeMax, 1e-9)
}

func TestBufferEvictsOldest(t *testing.T) {
	const n = 5
	b, clk := newTestBuffer(n)
	for i := 0; i <= n; i++ {
		b.Record(Some(i), Reading{})
		clk.Advance(time.Second)
	}

	assert.Equal(t, n, b.Len())
	w, ok := b.Window(0)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, lineValues(w.Samples))
	// Times stay relative to the very first sample, not the oldest survivor.
	assert.InDelta(t, 1.0, w.TimeMin, 1e-9)
	assert.InDelta(t, 5.0, w.TimeMax, 1e-9)
	for i := 1; i < len(w.Samples); i++ {
		assert.GreaterOrEqual(t, w.Samples[i].Time, w.Samples[i-1].Time)
	}
}

func TestBufferEvictionWrapsManyTimes(t *testing.T) {
	b, clk := newTestBuffer(3)
	for i := 0; i < 100; i++ {
		b.Record(Some(i), Reading{})
		clk.Advance(10 * time.Millisecond)
	}
	w, ok := b.Window(0)
	require.True(t, ok)
	assert.Equal(t, []int{97, 98, 99}, lineValues(w.Samples))
}

func TestBufferNoCoalescing(t *testing.T) {
	b, _ := newTestBuffer(10)
	b.Record(Some(5), Reading{})
	b.Record(Reading{}, Some(77))

	w, ok := b.Window(0)
	require.True(t, ok)
	require.Len(t, w.Samples, 2)
	assert.Equal(t, Sample{Time: 0, Line: Some(5)}, w.Samples[0])
	assert.Equal(t, Sample{Time: 0, PID: Some(77)}, w.Samples[1])
}

func TestBufferTimeNeverGoesBackwards(t *testing.T) {
	b, clk := newTestBuffer(10)
	clk.Advance(2 * time.Second)
	b.Record(Some(1), Reading{})
	clk.Advance(time.Second)
	b.Record(Some(2), Reading{})
	clk.Advance(-500 * time.Millisecond)
	b.Record(Some(3), Reading{})

	w, _ := b.Window(0)
	require.Len(t, w.Samples, 3)
	assert.InDelta(t, 1.0, w.Samples[2].Time, 1e-9)
}

func TestBufferClearKeepsTimeBase(t *testing.T) {
	b, clk := newTestBuffer(10)
	b.Record(Some(1), Reading{})
	clk.Advance(2 * time.Second)
	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Window(0)
	assert.False(t, ok)

	clk.Advance(3 * time.Second)
	b.Record(Some(2), Reading{})
	w, ok := b.Window(0)
	require.True(t, ok)
	require.Len(t, w.Samples, 1)
	assert.InDelta(t, 5.0, w.Samples[0].Time, 1e-9)
	assert.InDelta(t, 5.0, w.TimeMin, 1e-9)
}

func TestBufferWindowReturnsCopy(t *testing.T) {
	b, _ := newTestBuffer(10)
	b.Record(Some(1), Reading{})
	w, _ := b.Window(0)
	w.Samples[0].Line = Some(999)

	again, _ := b.Window(0)
	assert.Equal(t, Some(1), again.Samples[0].Line)
}

func TestBufferConcurrentRecordAndWindow(t *testing.T) {
	const (
		writers   = 4
		perWriter = 2000
		readers   = 4
	)
	b := NewBuffer(writers * perWriter)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				w, ok := b.Window(0)
				if !ok {
					continue
				}
				seen := make(map[int]bool, len(w.Samples))
				for i, s := range w.Samples {
					if !assert.True(t, s.Line.Valid) {
						return
					}
					if !assert.False(t, seen[s.Line.Value], "duplicate sample %d", s.Line.Value) {
						return
					}
					seen[s.Line.Value] = true
					if i > 0 && !assert.GreaterOrEqual(t, s.Time, w.Samples[i-1].Time) {
						return
					}
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(base int) {
			defer writersWG.Done()
			for i := 0; i < perWriter; i++ {
				b.Record(Some(base+i), Reading{})
			}
		}(w * perWriter)
	}
	writersWG.Wait()
	close(stop)
	wg.Wait()

	w, ok := b.Window(0)
	require.True(t, ok)
	require.Len(t, w.Samples, writers*perWriter)
	seen := make(map[int]bool)
	for _, s := range w.Samples {
		seen[s.Line.Value] = true
	}
	assert.Len(t, seen, writers*perWriter)
}
