package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/metrics"
	"github.com/snarg/voxrelay/internal/mqttclient"
)

// MaxResultWords caps the timed words returned to the caller. The transcript
// text and word count always cover the full audio.
const MaxResultWords = 10

// Upload is an accepted audio file, validated and held in memory.
type Upload struct {
	RequestID   string
	Filename    string
	ContentType string
	Data        []byte
}

// Result is the normalized transcription returned to clients.
type Result struct {
	Success    bool           `json:"success"`
	Transcript string         `json:"transcript"`
	Confidence float64        `json:"confidence"`
	WordCount  int            `json:"word_count"`
	Duration   float64        `json:"duration"`
	Words      []Word         `json:"words"`
	Metadata   ResultMetadata `json:"metadata"`
}

type ResultMetadata struct {
	Model       string    `json:"model"`
	Language    string    `json:"language"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TempStore is where accepted uploads wait for the provider call.
type TempStore interface {
	Save(data []byte, ext string) (string, error)
	Remove(path string) error
}

// Notifier receives a metadata-only event for every finished provider call.
type Notifier interface {
	PublishTranscription(ev mqttclient.Event)
}

// RelayOptions configures the relay.
type RelayOptions struct {
	Provider Provider
	Store    TempStore
	Language string
	Notifier Notifier // optional
	Log      zerolog.Logger
}

// Relay forwards accepted uploads to the provider and normalizes the result.
// It keeps no per-request state, so one Relay serves all requests.
type Relay struct {
	provider Provider
	store    TempStore
	language string
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewRelay creates a relay.
func NewRelay(opts RelayOptions) *Relay {
	return &Relay{
		provider: opts.Provider,
		store:    opts.Store,
		language: opts.Language,
		notifier: opts.Notifier,
		log:      opts.Log,
		now:      time.Now,
	}
}

// ProviderName returns the configured provider's name.
func (r *Relay) ProviderName() string { return r.provider.Name() }

// ProcessUpload stores the upload in a temp file, calls the provider and
// returns the normalized result. The temp file is removed before returning
// on every path. Provider-reported failures come back as *ProviderError.
func (r *Relay) ProcessUpload(ctx context.Context, up Upload) (*Result, error) {
	start := r.now()
	log := r.log.With().Str("request_id", up.RequestID).Logger()

	path, err := r.store.Save(up.Data, filepath.Ext(up.Filename))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	defer r.cleanup(log, path)

	providerStart := time.Now()
	resp, err := r.provider.Transcribe(ctx, path, DefaultOpts(r.language, up.ContentType))
	metrics.ProviderDuration.WithLabelValues(r.provider.Name()).Observe(time.Since(providerStart).Seconds())

	if err != nil {
		outcome := "error"
		var pe *ProviderError
		if errors.As(err, &pe) {
			outcome = "provider_error"
		}
		metrics.TranscriptionsTotal.WithLabelValues(r.provider.Name(), outcome).Inc()
		r.notify(up.RequestID, outcome, nil, start)
		return nil, fmt.Errorf("%s: %w", r.provider.Name(), err)
	}

	result := r.buildResult(resp)
	metrics.TranscriptionsTotal.WithLabelValues(r.provider.Name(), "ok").Inc()
	r.notify(up.RequestID, "ok", result, start)

	log.Debug().
		Str("filename", up.Filename).
		Int("bytes", len(up.Data)).
		Int("words", result.WordCount).
		Float64("duration", result.Duration).
		Int64("processing_ms", r.now().Sub(start).Milliseconds()).
		Msg("transcription complete")

	return result, nil
}

func (r *Relay) buildResult(resp *Response) *Result {
	words := resp.Words
	if words == nil {
		words = []Word{}
	}
	if len(words) > MaxResultWords {
		words = words[:MaxResultWords]
	}
	lang := resp.Language
	if lang == "" {
		lang = r.language
	}
	return &Result{
		Success:    true,
		Transcript: resp.Text,
		Confidence: resp.Confidence,
		WordCount:  len(strings.Fields(resp.Text)),
		Duration:   resp.Duration,
		Words:      words,
		Metadata: ResultMetadata{
			Model:       r.provider.Model(),
			Language:    lang,
			ProcessedAt: r.now().UTC(),
		},
	}
}

func (r *Relay) cleanup(log zerolog.Logger, path string) {
	if err := r.store.Remove(path); err != nil {
		metrics.TempCleanupFailuresTotal.Inc()
		log.Warn().Err(err).Str("path", path).Msg("temp upload cleanup failed")
	}
}

func (r *Relay) notify(requestID, outcome string, res *Result, start time.Time) {
	if r.notifier == nil {
		return
	}
	ev := mqttclient.Event{
		RequestID:    requestID,
		Provider:     r.provider.Name(),
		Model:        r.provider.Model(),
		Outcome:      outcome,
		ProcessingMs: r.now().Sub(start).Milliseconds(),
		Timestamp:    r.now().UTC(),
	}
	if res != nil {
		ev.WordCount = res.WordCount
		ev.Duration = res.Duration
	}
	r.notifier.PublishTranscription(ev)
}
