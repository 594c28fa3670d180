package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/snarg/voxrelay/internal/metrics"
	"github.com/snarg/voxrelay/internal/transcribe"
)

// MaxUploadBytes is the largest audio file the relay accepts.
const MaxUploadBytes = 10 << 20

// formOverhead is extra room for multipart boundaries and headers on top of
// the audio itself.
const formOverhead = 64 << 10

var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".webm": true,
	".flac": true,
}

// Transcriber turns an accepted upload into a result.
type Transcriber interface {
	ProcessUpload(ctx context.Context, up transcribe.Upload) (*transcribe.Result, error)
}

// TranscribeHandler handles POST /api/transcribe.
type TranscribeHandler struct {
	relay Transcriber
	log   zerolog.Logger
}

// NewTranscribeHandler creates a new upload handler.
func NewTranscribeHandler(relay Transcriber, log zerolog.Logger) *TranscribeHandler {
	return &TranscribeHandler{
		relay: relay,
		log:   log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcription endpoint.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Post("/transcribe", h.Transcribe)
}

// uploadError is a validation failure, reported to the caller as a 400.
type uploadError struct {
	reason  string // metrics label
	msg     string
	message string
}

func (e *uploadError) Error() string { return e.msg + ": " + e.message }

var (
	errNoFile = &uploadError{"missing", "No audio file provided",
		`send the audio as multipart/form-data field "audio"`}
	errInvalidType = &uploadError{"invalid_type", "Invalid file type",
		"only audio files are allowed (wav, mp3, m4a, ogg, webm, flac)"}
	errTooLarge = &uploadError{"too_large", "File too large",
		fmt.Sprintf("maximum file size is %dMB", MaxUploadBytes>>20)}
	errMultipleFiles = &uploadError{"multiple", "Too many files",
		`exactly one "audio" file is accepted per request`}
)

// Transcribe validates the upload while streaming it, so a rejected file is
// never written anywhere, then hands the accepted bytes to the relay.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	log := h.log.With().Str("request_id", RequestIDFromContext(r.Context())).Logger()

	up, err := readUpload(w, r)
	if err != nil {
		var ue *uploadError
		if !errors.As(err, &ue) {
			ue = &uploadError{"malformed", "Invalid upload", err.Error()}
		}
		metrics.UploadsRejectedTotal.WithLabelValues(ue.reason).Inc()
		log.Info().Str("reason", ue.reason).Msg("upload rejected")
		WriteError(w, http.StatusBadRequest, ue.msg, ue.message)
		return
	}
	up.RequestID = RequestIDFromContext(r.Context())
	metrics.UploadSizeBytes.Observe(float64(len(up.Data)))

	result, err := h.relay.ProcessUpload(r.Context(), *up)
	if err != nil {
		var pe *transcribe.ProviderError
		if errors.As(err, &pe) {
			log.Warn().Err(err).Str("filename", up.Filename).Msg("provider rejected transcription")
			WriteError(w, http.StatusInternalServerError, "Transcription failed", pe.Message)
			return
		}
		log.Error().Err(err).Str("filename", up.Filename).Msg("transcription failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error", "An unexpected error occurred while transcribing")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

func readUpload(w http.ResponseWriter, r *http.Request) (*transcribe.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+formOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}

	var up *transcribe.Upload
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyReadError(err)
		}
		if part.FormName() != "audio" || part.FileName() == "" {
			part.Close()
			continue
		}
		if up != nil {
			return nil, errMultipleFiles
		}

		contentType := part.Header.Get("Content-Type")
		if !isAllowedAudio(contentType, part.FileName()) {
			return nil, errInvalidType
		}

		data, err := io.ReadAll(io.LimitReader(part, MaxUploadBytes+1))
		if err != nil {
			return nil, classifyReadError(err)
		}
		if len(data) > MaxUploadBytes {
			return nil, errTooLarge
		}
		up = &transcribe.Upload{
			Filename:    filepath.Base(part.FileName()),
			ContentType: contentType,
			Data:        data,
		}
	}

	if up == nil {
		return nil, errNoFile
	}
	return up, nil
}

func classifyReadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errTooLarge
	}
	return fmt.Errorf("read multipart body: %w", err)
}

// isAllowedAudio accepts any audio/* declared type, or a known audio
// extension when the declared type is missing or generic.
func isAllowedAudio(contentType, filename string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "audio/") {
		return true
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}
