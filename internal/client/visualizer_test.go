package client

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.001 }

func TestLevels(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		if got := Levels(pcm(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)); got != (Bars{}) {
			t.Errorf("Levels = %v, want all zero", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := Levels(nil); got != (Bars{}) {
			t.Errorf("Levels = %v, want all zero", got)
		}
	})

	t.Run("full_scale_square_wave", func(t *testing.T) {
		var s []int16
		for i := 0; i < 50; i++ {
			s = append(s, math.MaxInt16, -math.MaxInt16)
		}
		for i, b := range Levels(pcm(s...)) {
			if !near(b, 1) {
				t.Errorf("bar %d = %v, want 1", i, b)
			}
		}
	})

	t.Run("loud_band_only", func(t *testing.T) {
		// Ten samples: band 2 (samples 4,5) is loud, the rest silent.
		bars := Levels(pcm(0, 0, 0, 0, 16384, -16384, 0, 0, 0, 0))
		if !near(bars[2], 0.5) {
			t.Errorf("bar 2 = %v, want 0.5", bars[2])
		}
		if bars[0] != 0 || bars[4] != 0 {
			t.Errorf("quiet bars = %v, %v; want 0", bars[0], bars[4])
		}
	})

	t.Run("fewer_samples_than_bars", func(t *testing.T) {
		bars := Levels(pcm(math.MaxInt16, math.MaxInt16))
		if !near(bars[0], 1) {
			t.Errorf("bar 0 = %v, want 1", bars[0])
		}
		if bars[BarCount-1] != 0 {
			t.Errorf("last bar = %v, want 0", bars[BarCount-1])
		}
	})
}

func TestVisualizer_WindowKeepsRecentAudio(t *testing.T) {
	v := NewVisualizer(func(Bars) {})
	v.Write(make([]byte, levelWindow))
	v.Write([]byte{1, 2, 3, 4})

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.window) != levelWindow {
		t.Fatalf("window holds %d bytes, want %d", len(v.window), levelWindow)
	}
	if got := v.window[levelWindow-4:]; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("window tail = %v", got)
	}
}

func TestVisualizer_StopsRendering(t *testing.T) {
	var mu sync.Mutex
	var frames []Bars
	v := NewVisualizer(func(b Bars) {
		mu.Lock()
		frames = append(frames, b)
		mu.Unlock()
	})
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(frames)
	}

	v.Start()
	v.Start() // already running
	v.Write(pcm(20000, -20000, 20000, -20000, 20000, -20000, 20000, -20000, 20000, -20000))
	waitFor(t, time.Second, "two frames", func() bool { return count() >= 2 })

	v.Stop()
	mu.Lock()
	stopped := len(frames)
	last := frames[stopped-1]
	mu.Unlock()
	if last != (Bars{}) {
		t.Errorf("final frame = %v, want cleared bars", last)
	}

	time.Sleep(50 * time.Millisecond)
	if n := count(); n != stopped {
		t.Errorf("%d frames rendered after Stop", n-stopped)
	}

	v.Stop() // idempotent
}
