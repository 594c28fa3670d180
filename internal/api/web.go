package api

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// WebHandler serves the browser client from webFS. "/" serves index.html;
// directory listings are never served.
func WebHandler(webFS fs.FS) http.Handler {
	files := http.FileServerFS(webFS)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "."
		}
		info, err := fs.Stat(webFS, name)
		if err != nil || (info.IsDir() && name != ".") {
			http.NotFound(w, r)
			return
		}
		if name == "." {
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})
}

// OpenAPIHandler serves the embedded API description.
func OpenAPIHandler(spec []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(spec)
	}
}
