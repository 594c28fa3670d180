package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const DeepgramEndpoint = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls Deepgram's pre-recorded /v1/listen API.
// Implements the Provider interface.
type DeepgramClient struct {
	endpoint string
	apiKey   string
	model    string // e.g. "nova-2"
	client   *http.Client
}

// DeepgramResponse is the pre-recorded API response. Every level is optional:
// Deepgram omits channels for silent audio and omits words when the request
// is rejected mid-flight, so nothing here may be assumed present.
type DeepgramResponse struct {
	Metadata *deepgramMetadata `json:"metadata"`
	Results  *deepgramResults  `json:"results"`
}

type deepgramMetadata struct {
	RequestID string   `json:"request_id"`
	Duration  *float64 `json:"duration"`
	Channels  int      `json:"channels"`
}

type deepgramResults struct {
	Channels []deepgramChannel `json:"channels"`
}

type deepgramChannel struct {
	Alternatives     []deepgramAlternative `json:"alternatives"`
	DetectedLanguage *string               `json:"detected_language"`
}

type deepgramAlternative struct {
	Transcript *string        `json:"transcript"`
	Confidence *float64       `json:"confidence"`
	Words      []deepgramWord `json:"words"`
}

type deepgramWord struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word"`
}

// deepgramError is the error body Deepgram returns on non-200 responses.
type deepgramError struct {
	ErrCode   string `json:"err_code"`
	ErrMsg    string `json:"err_msg"`
	RequestID string `json:"request_id"`
}

// NewDeepgramClient creates a new Deepgram client. An empty endpoint uses the
// public API; timeout 0 means no client-side timeout.
func NewDeepgramClient(endpoint, apiKey, model string, timeout time.Duration) *DeepgramClient {
	if endpoint == "" {
		endpoint = DeepgramEndpoint
	}
	return &DeepgramClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (dg *DeepgramClient) Name() string { return "deepgram" }

// Model returns the configured model identifier.
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe reads the audio file fully and posts the raw bytes to Deepgram.
func (dg *DeepgramClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	reqURL, err := dg.listenURL(opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+dg.apiKey)

	resp, err := dg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseDeepgramError(resp.StatusCode, body)
	}

	var result DeepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.Normalize(opts.Language), nil
}

func (dg *DeepgramClient) listenURL(opts TranscribeOpts) (string, error) {
	u, err := url.Parse(dg.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse deepgram endpoint: %w", err)
	}
	q := u.Query()
	if dg.model != "" {
		q.Set("model", dg.model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("smart_format", strconv.FormatBool(opts.SmartFormat))
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("diarize", strconv.FormatBool(opts.Diarize))
	q.Set("utterances", strconv.FormatBool(opts.Utterances))
	q.Set("paragraphs", strconv.FormatBool(opts.Paragraphs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseDeepgramError(status int, body []byte) error {
	var de deepgramError
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &de); err == nil && de.ErrMsg != "" {
		msg = de.ErrMsg
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{Provider: "deepgram", Status: status, Code: de.ErrCode, Message: msg}
}

// Normalize extracts the first channel's first alternative, defaulting any
// missing field: "" transcript, 0 confidence, empty word list, 0 duration.
// fallbackLanguage is reported when Deepgram does not echo a detected language.
func (r *DeepgramResponse) Normalize(fallbackLanguage string) *Response {
	out := &Response{
		Language: fallbackLanguage,
		Words:    []Word{},
	}
	if r == nil {
		return out
	}
	if r.Metadata != nil && r.Metadata.Duration != nil {
		out.Duration = *r.Metadata.Duration
	}
	if r.Results == nil || len(r.Results.Channels) == 0 {
		return out
	}
	ch := r.Results.Channels[0]
	if ch.DetectedLanguage != nil && *ch.DetectedLanguage != "" {
		out.Language = *ch.DetectedLanguage
	}
	if len(ch.Alternatives) == 0 {
		return out
	}
	alt := ch.Alternatives[0]
	if alt.Transcript != nil {
		out.Text = *alt.Transcript
	}
	if alt.Confidence != nil {
		out.Confidence = *alt.Confidence
	}
	for _, w := range alt.Words {
		out.Words = append(out.Words, Word{
			Word:           w.Word,
			Start:          w.Start,
			End:            w.End,
			Confidence:     w.Confidence,
			PunctuatedWord: w.PunctuatedWord,
		})
	}
	return out
}
