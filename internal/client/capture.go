package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ChunkInterval is how often buffered audio is cut into a chunk while
// capturing.
const ChunkInterval = 100 * time.Millisecond

const (
	// DefaultStartGrace is how long a recorder command must stay up after
	// launch before it is treated as capturing.
	DefaultStartGrace = 300 * time.Millisecond

	// stopTimeout bounds how long a stopping recorder gets to flush and exit
	// after SIGINT before it is killed.
	stopTimeout = 2 * time.Second

	stderrTail = 2048
)

var (
	ErrPermissionDenied = errors.New("microphone access denied")
	ErrNotCapturing     = errors.New("not capturing")
)

// Recorder stderr lines that mean the device refused access. Other failures
// (busy device, no such card) are start errors, not denials.
var deniedMarkers = []string{
	"permission denied",
	"access denied",
	"operation not permitted",
	"not allowed",
}

// Source opens a live audio stream. Open returns the stream and the MIME
// type of the bytes it produces. Sources report a refused device with an
// error wrapping ErrPermissionDenied.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, string, error)
}

// CommandSource captures audio from an external recorder that writes to
// stdout, e.g. arecord or ffmpeg. Cancelling the Open context interrupts
// the recorder.
type CommandSource struct {
	Command     []string
	ContentType string
	// StartGrace overrides DefaultStartGrace. A recorder that exits with a
	// failure inside this window fails Open.
	StartGrace time.Duration
}

func (s CommandSource) Open(ctx context.Context) (io.ReadCloser, string, error) {
	if len(s.Command) == 0 {
		return nil, "", fmt.Errorf("no capture command configured")
	}
	name := s.Command[0]

	// An explicit pipe keeps Wait from closing the read end, so the waiter
	// can run while audio is still being drained.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, "", err
	}
	stderr := &tailBuffer{max: stderrTail}
	cmd := exec.CommandContext(ctx, name, s.Command[1:]...)
	cmd.Stdout = pw
	cmd.Stderr = stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopTimeout

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, "", fmt.Errorf("start %s: %w", name, err)
	}
	pw.Close()

	cs := &commandStream{
		name:    name,
		ctx:     ctx,
		r:       pr,
		cmd:     cmd,
		stderr:  stderr,
		exited:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go func() {
		cs.waitErr = cmd.Wait()
		close(cs.exited)
	}()

	grace := s.StartGrace
	if grace <= 0 {
		grace = DefaultStartGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-cs.exited:
		if err := cs.exitErr(); err != nil {
			pr.Close()
			return nil, "", err
		}
	case <-timer.C:
	}
	return cs, s.ContentType, nil
}

// commandStream is the recorder's stdout. Reads past EOF report a failed
// exit; Close interrupts the recorder and waits for its output to drain.
type commandStream struct {
	name   string
	ctx    context.Context
	r      *os.File
	cmd    *exec.Cmd
	stderr *tailBuffer

	exited  chan struct{}
	waitErr error // valid once exited is closed

	drained   chan struct{}
	drainOnce sync.Once
	stopping  atomic.Bool
	closeOnce sync.Once
}

func (c *commandStream) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if errors.Is(err, io.EOF) {
		c.drainOnce.Do(func() { close(c.drained) })
		<-c.exited
		if exitErr := c.exitErr(); exitErr != nil {
			return n, exitErr
		}
	}
	return n, err
}

// Close sends SIGINT so the recorder can finalize its output, then waits
// for the reader to reach EOF before releasing the pipe. A recorder that
// ignores the signal is killed after stopTimeout.
func (c *commandStream) Close() error {
	c.closeOnce.Do(func() {
		c.stopping.Store(true)
		select {
		case <-c.exited:
		default:
			c.cmd.Process.Signal(os.Interrupt)
			t := time.NewTimer(stopTimeout)
			select {
			case <-c.exited:
			case <-t.C:
				c.cmd.Process.Kill()
				<-c.exited
			}
			t.Stop()
		}
		t := time.NewTimer(stopTimeout)
		select {
		case <-c.drained:
		case <-t.C:
		}
		t.Stop()
		c.r.Close()
	})
	return nil
}

// exitErr maps a failed exit to an error. Exits caused by Close or by the
// Open context are not failures.
func (c *commandStream) exitErr() error {
	if c.waitErr == nil || c.stopping.Load() || c.ctx.Err() != nil {
		return nil
	}
	msg := strings.TrimSpace(c.stderr.String())
	if msg == "" {
		msg = c.waitErr.Error()
	}
	lower := strings.ToLower(msg)
	for _, m := range deniedMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
		}
	}
	return fmt.Errorf("%s: %s", c.name, msg)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Source Source
	// Tap receives every byte read from the stream, e.g. a Visualizer.
	Tap io.Writer
	// Interval overrides ChunkInterval.
	Interval time.Duration
	Log      zerolog.Logger
}

// Recorder turns a Source into AudioCaptures. State moves Idle → Capturing
// → Idle; Start while capturing does nothing. A stream that ends before
// Stop also returns the Recorder to Idle, keeping what was recorded for
// the next Stop.
type Recorder struct {
	source   Source
	tap      io.Writer
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	capturing   bool
	ended       bool // stream ended by itself, capture not yet collected
	endErr      error
	stream      io.ReadCloser
	contentType string
	pending     bytes.Buffer
	chunks      [][]byte
	stop        chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

func NewRecorder(opts RecorderOptions) *Recorder {
	interval := opts.Interval
	if interval <= 0 {
		interval = ChunkInterval
	}
	return &Recorder{
		source:   opts.Source,
		tap:      opts.Tap,
		interval: interval,
		log:      opts.Log,
		now:      time.Now,
	}
}

// Capturing reports whether a capture is in progress.
func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// Done is closed when the current capture's stream ends, whether by Stop
// or by itself. It is nil before the first Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Ended reports whether the stream ended before Stop was called, and why.
// A nil error means the source simply ran out.
func (r *Recorder) Ended() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended, r.endErr
}

// Start opens the source and begins buffering. Calling Start while already
// capturing is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capturing {
		r.log.Debug().Msg("start ignored: already capturing")
		return nil
	}
	if r.ended {
		r.log.Debug().Msg("discarding uncollected capture")
		r.stream.Close()
		r.ended, r.endErr, r.stream = false, nil, nil
	}

	stream, contentType, err := r.source.Open(ctx)
	if err != nil {
		return err
	}

	r.capturing = true
	r.stream = stream
	r.contentType = contentType
	r.pending.Reset()
	r.chunks = nil
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	r.wg.Add(2)
	go r.readLoop(stream, r.stop, r.done)
	go r.flushLoop(r.stop)

	r.log.Debug().Str("content_type", contentType).Msg("capture started")
	return nil
}

// Stop ends the capture, releases the source and returns everything
// recorded as one AudioCapture. An empty recording is still returned,
// unless the stream failed before producing any audio; then the failure
// is returned instead.
func (r *Recorder) Stop() (AudioCapture, error) {
	r.mu.Lock()
	if !r.capturing && !r.ended {
		r.mu.Unlock()
		return AudioCapture{}, ErrNotCapturing
	}
	if r.capturing {
		r.capturing = false
		close(r.stop)
	}
	endErr := r.endErr
	r.ended, r.endErr = false, nil
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	// Close lets the source flush its tail; readLoop drains it before
	// wg.Wait returns.
	stream.Close()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()

	var data []byte
	for _, c := range r.chunks {
		data = append(data, c...)
	}
	r.chunks = nil

	if endErr != nil && len(data) == 0 {
		r.log.Debug().Err(endErr).Msg("capture failed before any audio")
		return AudioCapture{}, endErr
	}

	capture := AudioCapture{
		Name:        fmt.Sprintf("recording-%d%s", r.now().UnixMilli(), extensionFor(r.contentType)),
		ContentType: r.contentType,
		Data:        data,
	}
	r.log.Debug().Int("bytes", len(data)).Str("name", capture.Name).Msg("capture stopped")
	return capture, nil
}

func (r *Recorder) readLoop(stream io.Reader, stop chan struct{}, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.pending.Write(buf[:n])
			r.mu.Unlock()
			if r.tap != nil {
				r.tap.Write(buf[:n])
			}
		}
		if err != nil {
			benign := errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, fs.ErrClosed)
			r.mu.Lock()
			if r.capturing && r.stop == stop {
				r.capturing = false
				r.ended = true
				close(stop)
				if benign {
					r.log.Info().Msg("capture source closed before stop")
				} else {
					r.endErr = err
					r.log.Warn().Err(err).Msg("capture source failed")
				}
			} else if !benign {
				r.log.Debug().Err(err).Msg("capture stream ended")
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *Recorder) flushLoop(stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.flushLocked()
			r.mu.Unlock()
		}
	}
}

func (r *Recorder) flushLocked() {
	if r.pending.Len() == 0 {
		return
	}
	chunk := make([]byte, r.pending.Len())
	copy(chunk, r.pending.Bytes())
	r.chunks = append(r.chunks, chunk)
	r.pending.Reset()
}

// extensionFor picks a file extension for a recorded MIME type.
func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".webm"
	}
	switch mt {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	}
	if sub, ok := strings.CutPrefix(mt, "audio/"); ok && sub != "" {
		return "." + sub
	}
	return ".webm"
}
