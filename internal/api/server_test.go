package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/config"
	"github.com/snarg/voxrelay/internal/storage"
	"github.com/snarg/voxrelay/internal/transcribe"
)

// stubProvider returns a canned response and records whether it was called.
type stubProvider struct {
	calls int
	resp  *transcribe.Response
	err   error
}

func (p *stubProvider) Name() string  { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) Transcribe(ctx context.Context, audioPath string, opts transcribe.TranscribeOpts) (*transcribe.Response, error) {
	p.calls++
	if _, err := os.Stat(audioPath); err != nil {
		return nil, err
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

type testServer struct {
	handler  http.Handler
	provider *stubProvider
	dir      string
}

func newTestServer(t *testing.T, authToken string) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewTempStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	words := make([]transcribe.Word, 12)
	for i := range words {
		words[i] = transcribe.Word{Word: "w", Start: float64(i), End: float64(i) + 0.5, Confidence: 0.9}
	}
	provider := &stubProvider{resp: &transcribe.Response{
		Text:       "one two three four five six seven eight nine ten eleven twelve",
		Confidence: 0.93,
		Language:   "en-US",
		Duration:   3.0,
		Words:      words,
	}}

	relay := transcribe.NewRelay(transcribe.RelayOptions{
		Provider: provider,
		Store:    store,
		Language: "en-US",
		Log:      zerolog.Nop(),
	})

	srv := NewServer(ServerOptions{
		Config:      &config.Config{HTTPAddr: ":0", AuthToken: authToken},
		Relay:       relay,
		Provider:    relay.ProviderName(),
		WebFS:       testWebFS(),
		OpenAPISpec: []byte("openapi: 3.0.3\n"),
		Version:     "test",
		StartTime:   time.Now(),
		Log:         zerolog.Nop(),
	})
	return &testServer{handler: srv.Handler(), provider: provider, dir: dir}
}

func (ts *testServer) assertNoTempFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("upload dir holds %d files, want 0", len(entries))
	}
}

func (ts *testServer) upload(t *testing.T, files ...filePart) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := buildMultipartForm(t, nil, files...)
	req := httptest.NewRequest("POST", "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_TranscribeEndToEnd(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.upload(t, filePart{"audio", "recording.webm", "audio/webm;codecs=opus", []byte("webm-bytes")})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res transcribe.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("success should be true")
	}
	if len(res.Words) != transcribe.MaxResultWords {
		t.Errorf("len(words) = %d, want %d", len(res.Words), transcribe.MaxResultWords)
	}
	if res.WordCount != 12 {
		t.Errorf("word_count = %d, want 12", res.WordCount)
	}
	if res.Metadata.Model != "stub-model" {
		t.Errorf("model = %q", res.Metadata.Model)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	ts.assertNoTempFiles(t)
}

func TestServer_RejectedUploadsNeverReachProvider(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name      string
		file      filePart
		wantError string
	}{
		{"fifteen_megabytes", filePart{"audio", "big.wav", "audio/wav", bytes.Repeat([]byte{7}, 15<<20)}, "File too large"},
		{"text_file", filePart{"audio", "notes.txt", "text/plain", []byte("not audio")}, "Invalid file type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, tt.file)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeError(t, rec).Error; got != tt.wantError {
				t.Errorf("error = %q, want %q", got, tt.wantError)
			}
		})
	}
	if ts.provider.calls != 0 {
		t.Errorf("provider called %d times", ts.provider.calls)
	}
	ts.assertNoTempFiles(t)
}

func TestServer_ProviderFailureCleansUp(t *testing.T) {
	ts := newTestServer(t, "")
	ts.provider.err = &transcribe.ProviderError{Provider: "stub", Status: 401, Message: "Invalid credentials."}

	rec := ts.upload(t, filePart{"audio", "a.mp3", "audio/mpeg", []byte("id3")})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != "Transcription failed" || resp.Message != "Invalid credentials." {
		t.Errorf("unexpected error body %+v", resp)
	}
	ts.assertNoTempFiles(t)
}

func TestServer_AuthToken(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer s3cret", "", http.StatusOK},
		{"query_param", "", "?token=s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := buildMultipartForm(t, nil, filePart{"audio", "a.wav", "audio/wav", []byte("x")})
			req := httptest.NewRequest("POST", "/api/transcribe"+tt.query, body)
			req.Header.Set("Content-Type", ct)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	// Health stays open.
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestServer_Routes(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"GET", "/", http.StatusOK, "voxrelay"},
		{"GET", "/api/health", http.StatusOK, `"status":"OK"`},
		{"GET", "/api/openapi.yaml", http.StatusOK, "openapi"},
		{"GET", "/metrics", http.StatusOK, "voxrelay_http_requests_total"},
		{"GET", "/api/transcribe", http.StatusMethodNotAllowed, ""},
		{"OPTIONS", "/api/transcribe", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body does not contain %q", tt.wantBody)
			}
		})
	}
}
