package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	voxrelay "github.com/snarg/voxrelay"
	"github.com/snarg/voxrelay/internal/api"
	"github.com/snarg/voxrelay/internal/config"
	"github.com/snarg/voxrelay/internal/mqttclient"
	"github.com/snarg/voxrelay/internal/storage"
	"github.com/snarg/voxrelay/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.UploadDir, "upload-dir", "", "temp upload directory (overrides UPLOAD_DIR)")
	flag.StringVar(&overrides.WebDir, "web-dir", "", "serve the web client from disk (overrides WEB_DIR)")
	flag.StringVar(&overrides.Provider, "provider", "", "deepgram or whisper (overrides STT_PROVIDER)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version + "\n")
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("provider", cfg.Provider).Msg("voxrelay starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Temp storage
	store, err := storage.NewTempStore(cfg.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.UploadDir).Msg("failed to create upload directory")
	}
	sweeper := storage.NewOrphanSweeper(cfg.UploadDir, cfg.UploadOrphanAge, log.With().Str("component", "sweeper").Logger())
	sweeper.Start()
	defer sweeper.Stop()

	// Provider
	var provider transcribe.Provider
	switch cfg.Provider {
	case "whisper":
		provider = transcribe.NewWhisperClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model, cfg.ProviderTimeout)
	default:
		provider = transcribe.NewDeepgramClient(cfg.DeepgramURL, cfg.DeepgramAPIKey, cfg.Model, cfg.ProviderTimeout)
	}

	// MQTT (optional)
	var notifier transcribe.Notifier
	var mqttStatus api.MQTTStatus
	if cfg.MQTT.Enabled() {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Topic:     cfg.MQTT.Topic,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		notifier = mqtt
		mqttStatus = mqtt
	}

	relay := transcribe.NewRelay(transcribe.RelayOptions{
		Provider: provider,
		Store:    store,
		Language: cfg.Language,
		Notifier: notifier,
		Log:      log.With().Str("component", "relay").Logger(),
	})

	// Web client: embedded unless WEB_DIR points at a directory on disk
	var webFS fs.FS
	if cfg.WebDir != "" {
		webFS = os.DirFS(cfg.WebDir)
		log.Info().Str("dir", cfg.WebDir).Msg("serving web client from disk")
	} else {
		webFS, err = fs.Sub(voxrelay.WebFiles, "web")
		if err != nil {
			log.Fatal().Err(err).Msg("embedded web client missing")
		}
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		Relay:       relay,
		Provider:    relay.ProviderName(),
		WebFS:       webFS,
		OpenAPISpec: voxrelay.OpenAPISpec,
		MQTT:        mqttStatus,
		Version:     version,
		StartTime:   startTime,
		Log:         httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// In-flight transcriptions can take a while; give them the write timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("voxrelay stopped")
}
