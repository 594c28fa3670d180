package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/client"
)

var version = "dev"

const usage = `voxctl - capture and upload audio to a voxrelay server

Usage:
  voxctl [flags] health
  voxctl [flags] upload <file>
  voxctl [flags] record
  voxctl [flags] watch <dir>

Flags:
`

// systemClipboard adapts atotto/clipboard to client.Clipboard.
type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

type options struct {
	server   string
	token    string
	outDir   string
	copy     bool
	command  string
	recType  string
	logLevel string
}

func main() {
	var opts options
	fs := flag.NewFlagSet("voxctl", flag.ExitOnError)
	fs.StringVar(&opts.server, "server", envOr("VOXRELAY_URL", "http://localhost:3000"), "relay base URL")
	fs.StringVar(&opts.token, "token", os.Getenv("VOXRELAY_TOKEN"), "bearer token for the relay")
	fs.StringVar(&opts.outDir, "out", "", "write transcription-<timestamp>.txt into this directory")
	fs.BoolVar(&opts.copy, "copy", false, "copy the transcript to the system clipboard")
	fs.StringVar(&opts.command, "capture-cmd", "arecord -q -f S16_LE -r 16000 -c 1 -t wav", "recorder command writing audio to stdout")
	fs.StringVar(&opts.recType, "capture-type", "audio/wav", "MIME type produced by -capture-cmd")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	c := client.New(opts.server, client.WithToken(opts.token))

	switch args[0] {
	case "health":
		err = runHealth(ctx, c)
	case "upload":
		if len(args) != 2 {
			fs.Usage()
			os.Exit(2)
		}
		err = runUpload(ctx, c, opts, args[1], log)
	case "record":
		err = runRecord(ctx, c, opts, log)
	case "watch":
		if len(args) != 2 {
			fs.Usage()
			os.Exit(2)
		}
		err = runWatch(ctx, c, opts, args[1], log)
	default:
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, c *client.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (provider %s)\n", h.Status, h.Message, h.Provider)
	for name, status := range h.Checks {
		fmt.Printf("  %-6s %s\n", name, status)
	}
	return nil
}

func newSession(c *client.Client, rec *client.Recorder, vis *client.Visualizer, log zerolog.Logger) *client.Session {
	return client.NewSession(client.SessionOptions{
		Client:     c,
		Recorder:   rec,
		Visualizer: vis,
		OnChange: func(v client.View) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", v.Status)
			if !v.Capturing && !v.Processing {
				fmt.Fprintln(os.Stderr)
			}
		},
		Log: log,
	})
}

func runUpload(ctx context.Context, c *client.Client, opts options, path string, log zerolog.Logger) error {
	s := newSession(c, nil, nil, log)
	if _, err := s.SubmitFile(ctx, path); err != nil {
		return err
	}
	return finish(s, opts)
}

func runRecord(ctx context.Context, c *client.Client, opts options, log zerolog.Logger) error {
	vis := client.NewVisualizer(renderBars)
	rec := client.NewRecorder(client.RecorderOptions{
		Source: client.CommandSource{
			Command:     strings.Fields(opts.command),
			ContentType: opts.recType,
		},
		Tap: vis,
		Log: log,
	})
	s := newSession(c, rec, vis, log)

	if err := s.StartCapture(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "\nrecording, press Enter to stop")

	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	select {
	case <-enter:
	case <-ctx.Done():
	case <-rec.Done():
		// The recorder exited by itself; submit what it captured.
	}

	// Submission must complete even after Ctrl-C.
	if _, err := s.StopCapture(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return finish(s, opts)
}

func runWatch(ctx context.Context, c *client.Client, opts options, dir string, log zerolog.Logger) error {
	s := newSession(c, nil, nil, log)
	dw := client.NewDropWatcher(dir, func(ctx context.Context, path string) error {
		if _, err := s.SubmitFile(ctx, path); err != nil {
			if errors.Is(err, client.ErrNotAudio) {
				return nil
			}
			return err
		}
		if opts.outDir == "" {
			opts.outDir = dir
		}
		return finish(s, opts)
	}, log)
	fmt.Fprintf(os.Stderr, "watching %s, Ctrl-C to stop\n", dir)
	return dw.Run(ctx)
}

// finish prints the active result and runs the requested copy and download
// actions.
func finish(s *client.Session, opts options) error {
	v := s.View()
	if !v.HasResult {
		return nil
	}
	fmt.Println(v.Transcript)
	fmt.Fprintf(os.Stderr, "confidence %s  duration %s  words %d  model %s\n", v.Confidence, v.Duration, v.WordCount, v.Model)

	if opts.copy {
		if err := s.Copy(systemClipboard{}); err != nil {
			return err
		}
	}
	if opts.outDir != "" {
		path, err := s.Download(opts.outDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "saved", path)
	}
	return nil
}

func renderBars(b client.Bars) {
	const width = 8
	var sb strings.Builder
	sb.WriteString("\r\033[K")
	for _, level := range b {
		n := int(level * width)
		sb.WriteString("[")
		sb.WriteString(strings.Repeat("#", n))
		sb.WriteString(strings.Repeat(" ", width-n))
		sb.WriteString("]")
	}
	fmt.Fprint(os.Stderr, sb.String())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
