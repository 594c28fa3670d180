package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientTranscribe(t *testing.T) {
	var gotAuth, gotName, gotType string
	var gotData []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/transcribe" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		f, hdr, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"transcript":"hello there","confidence":0.934,"word_count":2,"duration":3.04,
			"words":[{"word":"hello","start":0.1,"end":0.4,"confidence":0.9}],
			"metadata":{"model":"nova-2","language":"en-US","processed_at":"2026-03-01T12:00:00Z"}}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("s3cret"))
	res, err := c.Transcribe(context.Background(), AudioCapture{
		Name:        "recording-1.webm",
		ContentType: "audio/webm;codecs=opus",
		Data:        []byte("opus-bytes"),
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotName != "recording-1.webm" {
		t.Errorf("filename = %q", gotName)
	}
	if gotType != "audio/webm;codecs=opus" {
		t.Errorf("part Content-Type = %q", gotType)
	}
	if !bytes.Equal(gotData, []byte("opus-bytes")) {
		t.Errorf("part body = %q", gotData)
	}

	if !res.Success || res.Transcript != "hello there" || res.WordCount != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Words) != 1 {
		t.Errorf("got %d words, want 1", len(res.Words))
	}
	if res.Metadata.Model != "nova-2" {
		t.Errorf("model = %q", res.Metadata.Model)
	}
}

func TestClientTranscribe_EmptyCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		if data, _ := io.ReadAll(f); len(data) != 0 {
			t.Errorf("uploaded %d bytes, want 0", len(data))
		}
		io.WriteString(w, `{"success":true,"transcript":"","confidence":0,"word_count":0,"duration":0,"words":[],"metadata":{}}`)
	}))
	defer srv.Close()

	res, err := New(srv.URL).Transcribe(context.Background(), AudioCapture{Name: "recording-2.webm", ContentType: "audio/webm"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Transcript != "" || res.WordCount != 0 {
		t.Errorf("result = %+v, want empty transcript", res)
	}
}

func TestClientTranscribe_APIError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{"envelope", 400, `{"error":"File too large","message":"maximum file size is 10MB"}`, "File too large", "maximum file size is 10MB"},
		{"provider", 500, `{"error":"Transcription failed","message":"Invalid credentials."}`, "Transcription failed", "Invalid credentials."},
		{"plain_text", 502, "bad gateway\n", "Bad Gateway", "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Transcribe(context.Background(), AudioCapture{Name: "a.wav", ContentType: "audio/wav"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("want *APIError, got %v", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
		})
	}
}

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("health sent Authorization %q", auth)
		}
		io.WriteString(w, `{"status":"OK","message":"Speech-to-text relay is running","timestamp":"2026-03-01T12:00:00Z","provider":"deepgram","checks":{"mqtt":"not_configured"}}`)
	}))
	defer srv.Close()

	h, err := New(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "OK" || h.Provider != "deepgram" {
		t.Errorf("health = %+v", h)
	}
	if h.Checks["mqtt"] != "not_configured" {
		t.Errorf("mqtt check = %q", h.Checks["mqtt"])
	}
}

func TestClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Health(context.Background())
	if err == nil {
		t.Fatal("Health against a closed server succeeded")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("transport failure reported as APIError: %v", err)
	}
}
