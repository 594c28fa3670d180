package client

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

const (
	// BarCount is the number of level bars drawn while capturing.
	BarCount = 5
	// FrameRate is how many times per second bars are redrawn.
	FrameRate = 60

	// levelWindow is how much recent audio (bytes of 16-bit PCM) feeds one frame.
	levelWindow = 2048
)

// Bars holds one frame of levels, each in [0, 1].
type Bars [BarCount]float64

// Visualizer turns the most recent 16-bit little-endian PCM bytes into
// BarCount levels and hands one frame to render per tick. It is an
// io.Writer so it can be a Recorder tap.
type Visualizer struct {
	render   func(Bars)
	interval time.Duration

	mu     sync.Mutex
	window []byte
	stop   chan struct{}
	done   chan struct{}
}

func NewVisualizer(render func(Bars)) *Visualizer {
	return &Visualizer{
		render:   render,
		interval: time.Second / FrameRate,
	}
}

// Write keeps the last levelWindow bytes.
func (v *Visualizer) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.window = append(v.window, p...)
	if over := len(v.window) - levelWindow; over > 0 {
		v.window = append(v.window[:0], v.window[over:]...)
	}
	return len(p), nil
}

// Start begins drawing frames. It does nothing if already running.
func (v *Visualizer) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil {
		return
	}
	v.window = v.window[:0]
	v.stop = make(chan struct{})
	v.done = make(chan struct{})
	go v.loop(v.stop, v.done)
}

// Stop halts drawing and renders one final all-zero frame.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	stop, done := v.stop, v.done
	v.stop, v.done = nil, nil
	v.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	v.render(Bars{})
}

func (v *Visualizer) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v.mu.Lock()
			frame := Levels(v.window)
			v.mu.Unlock()
			v.render(frame)
		}
	}
}

// Levels splits samples (16-bit little-endian PCM) into BarCount equal
// bands and returns each band's RMS relative to full scale.
func Levels(pcm []byte) Bars {
	var bars Bars
	n := len(pcm) / 2
	if n == 0 {
		return bars
	}
	per := n / BarCount
	if per == 0 {
		per = 1
	}
	for b := 0; b < BarCount; b++ {
		start := b * per
		end := start + per
		if b == BarCount-1 {
			end = n
		}
		if start >= n {
			break
		}
		var sum float64
		for i := start; i < end; i++ {
			s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
			sum += s * s
		}
		rms := math.Sqrt(sum/float64(end-start)) / math.MaxInt16
		bars[b] = math.Min(1, rms)
	}
	return bars
}
