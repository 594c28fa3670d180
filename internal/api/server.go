package api

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/config"
	"github.com/snarg/voxrelay/internal/metrics"
)

// ServerOptions holds everything the HTTP server needs.
type ServerOptions struct {
	Config      *config.Config
	Relay       Transcriber
	Provider    string
	WebFS       fs.FS
	OpenAPISpec []byte
	MQTT        MQTTStatus // nil when the notifier is disabled
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	health := NewHealthHandler(opts.MQTT, opts.Provider, opts.Version, opts.StartTime)
	transcribeHandler := NewTranscribeHandler(opts.Relay, opts.Log)

	r.Route("/api", func(r chi.Router) {
		// Health and API description: no auth
		r.Get("/health", health.ServeHTTP)
		if len(opts.OpenAPISpec) > 0 {
			r.Get("/openapi.yaml", OpenAPIHandler(opts.OpenAPISpec))
		}

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			transcribeHandler.Routes(r)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	if opts.WebFS != nil {
		r.Get("/*", WebHandler(opts.WebFS).ServeHTTP)
	}

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
