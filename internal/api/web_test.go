package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testWebFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":    {Data: []byte("<!doctype html><title>voxrelay</title>")},
		"app.js":        {Data: []byte("console.log('ok')")},
		"css/style.css": {Data: []byte("body{}")},
	}
}

func TestWebHandler(t *testing.T) {
	h := WebHandler(testWebFS())

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"root_serves_index", "/", http.StatusOK, "<title>voxrelay</title>"},
		{"script", "/app.js", http.StatusOK, "console.log"},
		{"nested_asset", "/css/style.css", http.StatusOK, "body{}"},
		{"missing", "/nope.js", http.StatusNotFound, ""},
		{"no_directory_listing", "/css/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.URL.Path = tt.path
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("GET %s body = %q, want it to contain %q", tt.path, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestWebHandler_RootNotCached(t *testing.T) {
	rec := httptest.NewRecorder()
	WebHandler(testWebFS()).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
}

func TestOpenAPIHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	OpenAPIHandler([]byte("openapi: 3.0.3\n"))(rec, httptest.NewRequest("GET", "/api/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "openapi: 3.0.3\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
