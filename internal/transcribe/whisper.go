package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint.
// Implements the Provider interface.
type WhisperClient struct {
	client *openai.Client
	model  string
}

// NewWhisperClient creates a Whisper client. baseURL may be empty for the
// public OpenAI API, or point at any compatible server (speaches, LocalAI).
func NewWhisperClient(baseURL, apiKey, model string, timeout time.Duration) *WhisperClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &WhisperClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Transcribe uploads the audio file with verbose_json and word timestamps.
// Whisper has no formatting/diarization switches; punctuation is always on.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	resp, err := wc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    wc.model,
		FilePath: filepath.Base(audioPath),
		Reader:   f,
		Language: whisperLanguage(opts.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{Provider: "whisper", Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return nil, fmt.Errorf("whisper request: %w", err)
	}

	out := &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
		Words:    make([]Word, 0, len(resp.Words)),
	}
	if out.Language == "" {
		out.Language = opts.Language
	}
	for _, w := range resp.Words {
		out.Words = append(out.Words, Word{Word: w.Word, Start: w.Start, End: w.End})
	}

	// Whisper reports per-segment average log-probabilities rather than a
	// transcript confidence; the mean of exp(avg_logprob) lands in [0,1].
	if n := len(resp.Segments); n > 0 {
		var sum float64
		for _, seg := range resp.Segments {
			sum += math.Exp(seg.AvgLogprob)
		}
		out.Confidence = math.Min(1, sum/float64(n))
	}
	return out, nil
}

// whisperLanguage reduces a BCP-47 tag like "en-US" to the ISO-639-1 code
// Whisper expects.
func whisperLanguage(lang string) string {
	if len(lang) > 2 && (lang[2] == '-' || lang[2] == '_') {
		return lang[:2]
	}
	return lang
}
