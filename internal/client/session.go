package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/transcribe"
)

var (
	ErrBusy     = errors.New("a transcription is already in progress")
	ErrNotAudio = errors.New("please select an audio file")
	ErrNoResult = errors.New("no transcription to export")
)

// Status lines shown to the user.
const (
	StatusReady       = "Ready"
	StatusRecording   = "Recording..."
	StatusProcessing  = "Processing audio..."
	StatusDone        = "Transcription complete"
	StatusMicDenied   = "Microphone access denied. You can still upload audio files."
	StatusCleared     = "Cleared"
	StatusSourceEnded = "Recording stopped"
)

// Placeholder is shown when there is no active result.
const Placeholder = "Your transcription will appear here..."

// Transcriber submits one capture to the relay.
type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioCapture) (*transcribe.Result, error)
}

// Clipboard receives copied transcript text.
type Clipboard interface {
	WriteAll(text string) error
}

// View is a snapshot of everything a front end renders.
type View struct {
	Status        string
	Capturing     bool
	RecordEnabled bool
	Processing    bool
	HasResult     bool // copy/download/clear enabled
	Transcript    string
	Confidence    string // rounded percent, "93%"
	Duration      string // one decimal, "3.0s"
	WordCount     int
	Model         string
}

type SessionOptions struct {
	Client     Transcriber
	Recorder   *Recorder   // nil disables recording
	Visualizer *Visualizer // optional
	OnChange   func(View)  // optional, called after every state change
	Log        zerolog.Logger
}

// Session owns one user's client state: the capture, the pending
// submission and the single active result.
type Session struct {
	client   Transcriber
	rec      *Recorder
	vis      *Visualizer
	onChange func(View)
	log      zerolog.Logger
	now      func() time.Time

	// submitMu serializes submissions. Stopping a capture waits for it;
	// file selection fails fast with ErrBusy.
	submitMu sync.Mutex

	mu            sync.Mutex
	status        string
	recordEnabled bool
	processing    bool
	result        *transcribe.Result
}

func NewSession(opts SessionOptions) *Session {
	return &Session{
		client:        opts.Client,
		rec:           opts.Recorder,
		vis:           opts.Visualizer,
		onChange:      opts.OnChange,
		log:           opts.Log,
		now:           time.Now,
		status:        StatusReady,
		recordEnabled: opts.Recorder != nil,
	}
}

// StartCapture begins recording. A refused microphone disables recording
// for the rest of the session; uploads keep working.
func (s *Session) StartCapture(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.recordEnabled
	s.mu.Unlock()
	if !enabled {
		return ErrPermissionDenied
	}

	if s.rec.Capturing() {
		return s.rec.Start(ctx)
	}
	if err := s.rec.Start(ctx); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.log.Warn().Err(err).Msg("recording disabled")
			s.update(func() {
				s.recordEnabled = false
				s.status = StatusMicDenied
			})
			return err
		}
		s.update(func() { s.status = "Could not start recording: " + err.Error() })
		return err
	}
	if s.vis != nil {
		s.vis.Start()
	}
	s.update(func() { s.status = StatusRecording })
	go s.watchCapture(s.rec.Done())
	return nil
}

// watchCapture reports a capture whose source ended before StopCapture.
// The recorded audio stays with the Recorder; the next StopCapture
// submits it.
func (s *Session) watchCapture(done <-chan struct{}) {
	<-done
	ended, err := s.rec.Ended()
	if !ended {
		return
	}
	if s.vis != nil {
		s.vis.Stop()
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		s.log.Warn().Err(err).Msg("recording disabled")
		s.update(func() {
			s.recordEnabled = false
			s.status = StatusMicDenied
		})
	case err != nil:
		s.update(func() { s.status = "Recording stopped: " + err.Error() })
	default:
		s.update(func() { s.status = StatusSourceEnded })
	}
}

// StopCapture ends recording and submits what was captured. It submits
// exactly once, waiting for any in-flight submission to finish first.
func (s *Session) StopCapture(ctx context.Context) (*transcribe.Result, error) {
	if s.rec == nil {
		return nil, ErrNotCapturing
	}
	capture, err := s.rec.Stop()
	if s.vis != nil {
		s.vis.Stop()
	}
	if err != nil {
		return nil, err
	}
	s.submitMu.Lock()
	return s.submitLocked(ctx, capture)
}

// SubmitFile checks that path is audio and submits it.
func (s *Session) SubmitFile(ctx context.Context, path string) (*transcribe.Result, error) {
	contentType, err := DeclaredType(path)
	if err != nil {
		if errors.Is(err, ErrNotAudio) {
			s.update(func() { s.status = "Please select an audio file" })
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Submit(ctx, AudioCapture{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Data:        data,
	})
}

// Submit sends capture to the relay. It returns ErrBusy if another
// submission is still pending.
func (s *Session) Submit(ctx context.Context, capture AudioCapture) (*transcribe.Result, error) {
	if !s.submitMu.TryLock() {
		return nil, ErrBusy
	}
	return s.submitLocked(ctx, capture)
}

// submitLocked must be called with submitMu held; it releases it.
func (s *Session) submitLocked(ctx context.Context, capture AudioCapture) (*transcribe.Result, error) {
	defer s.submitMu.Unlock()

	s.update(func() {
		s.processing = true
		s.status = StatusProcessing
	})

	start := s.now()
	result, err := s.client.Transcribe(ctx, capture)
	if err != nil {
		s.log.Warn().Err(err).Str("name", capture.Name).Msg("transcription failed")
		s.update(func() {
			s.processing = false
			s.status = "Error: " + errorMessage(err)
		})
		return nil, err
	}

	s.log.Debug().
		Str("name", capture.Name).
		Int("bytes", len(capture.Data)).
		Dur("elapsed", s.now().Sub(start)).
		Msg("transcription received")

	s.update(func() {
		s.processing = false
		s.result = result
		s.status = StatusDone
	})
	return result, nil
}

// Result returns the active result, or nil.
func (s *Session) Result() *transcribe.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Copy writes the transcript to cb.
func (s *Session) Copy(cb Clipboard) error {
	s.mu.Lock()
	result := s.result
	s.mu.Unlock()
	if result == nil {
		return ErrNoResult
	}
	if err := cb.WriteAll(result.Transcript); err != nil {
		s.update(func() { s.status = "Failed to copy to clipboard" })
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	s.update(func() { s.status = "Copied to clipboard" })
	return nil
}

// Download writes the transcript and its metadata to
// dir/transcription-<timestamp>.txt and returns the file path.
func (s *Session) Download(dir string) (string, error) {
	s.mu.Lock()
	result := s.result
	s.mu.Unlock()
	if result == nil {
		return "", ErrNoResult
	}

	now := s.now()
	name := fmt.Sprintf("transcription-%s.txt", now.UTC().Format("2006-01-02T15-04-05Z"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatExport(result, now)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	s.update(func() { s.status = "Saved " + name })
	return path, nil
}

// Clear drops the active result.
func (s *Session) Clear() {
	s.update(func() {
		s.result = nil
		s.status = StatusCleared
	})
}

// View returns the current render state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		Status:        s.status,
		Capturing:     s.rec != nil && s.rec.Capturing(),
		RecordEnabled: s.recordEnabled,
		Processing:    s.processing,
		Transcript:    Placeholder,
	}
	if r := s.result; r != nil {
		v.HasResult = true
		v.Transcript = r.Transcript
		v.Confidence = FormatConfidence(r.Confidence)
		v.Duration = FormatDuration(r.Duration)
		v.WordCount = r.WordCount
		v.Model = r.Metadata.Model
	}
	return v
}

func (s *Session) update(fn func()) {
	s.mu.Lock()
	fn()
	v := s.viewLocked()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(v)
	}
}

// FormatConfidence renders a 0-1 confidence as a rounded percentage.
func FormatConfidence(c float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(c*100)))
}

// FormatDuration renders seconds with one decimal place.
func FormatDuration(sec float64) string {
	return fmt.Sprintf("%.1fs", sec)
}

// FormatExport is the plain-text download body.
func FormatExport(r *transcribe.Result, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcription - %s\n\n", at.Format(time.RFC1123))
	b.WriteString(r.Transcript)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Confidence: %s\n", FormatConfidence(r.Confidence))
	fmt.Fprintf(&b, "Duration: %s\n", FormatDuration(r.Duration))
	fmt.Fprintf(&b, "Words: %d\n", r.WordCount)
	fmt.Fprintf(&b, "Model: %s\n", r.Metadata.Model)
	if r.Metadata.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", r.Metadata.Language)
	}
	return b.String()
}

// DeclaredType returns the MIME type a file declares: its extension's
// type, or sniffed content when the extension is unknown. Non-audio files
// return ErrNotAudio.
func DeclaredType(path string) (string, error) {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" || ct == "application/octet-stream" {
		m, err := mimetype.DetectFile(path)
		if err != nil {
			return "", fmt.Errorf("detect type of %s: %w", filepath.Base(path), err)
		}
		ct = m.String()
	}
	audioCT, ok := audioType(ct)
	if !ok {
		return "", fmt.Errorf("%s (%s): %w", filepath.Base(path), ct, ErrNotAudio)
	}
	return audioCT, nil
}

func audioType(ct string) (string, bool) {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", false
	}
	if strings.HasPrefix(mt, "audio/") {
		return mt, true
	}
	// Sniffers and mime tables label webm/ogg containers as video.
	switch mt {
	case "video/webm":
		return "audio/webm", true
	case "video/ogg":
		return "audio/ogg", true
	}
	return "", false
}

func errorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiErr.Code
	}
	return err.Error()
}
