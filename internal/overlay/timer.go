package overlay

import "time"

// timerWindow is the number of frames averaged.
const timerWindow = 64

// FrameTimer keeps a rolling average of frame durations.
type FrameTimer struct {
	samples [timerWindow]time.Duration
	n       int
	next    int
	sum     time.Duration
	last    time.Time
}

// Tick records the time since the previous Tick. The first Tick only
// starts the clock.
func (t *FrameTimer) Tick(now time.Time) {
	if !t.last.IsZero() {
		t.Add(now.Sub(t.last))
	}
	t.last = now
}

// Add records one frame duration.
func (t *FrameTimer) Add(d time.Duration) {
	if t.n == timerWindow {
		t.sum -= t.samples[t.next]
	} else {
		t.n++
	}
	t.samples[t.next] = d
	t.sum += d
	t.next = (t.next + 1) % timerWindow
}

// Average returns the mean of the recorded durations.
func (t *FrameTimer) Average() time.Duration {
	if t.n == 0 {
		return 0
	}
	return t.sum / time.Duration(t.n)
}

// FPS returns the frame rate matching Average.
func (t *FrameTimer) FPS() float64 {
	avg := t.Average()
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}
