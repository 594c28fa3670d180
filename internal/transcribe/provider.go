package transcribe

import (
	"context"
	"fmt"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "deepgram", "whisper"
	Model() string // model identifier reported in result metadata
}

// TranscribeOpts are the per-request options sent to a provider. The relay
// always sends the same values; see DefaultOpts.
type TranscribeOpts struct {
	ContentType string // declared MIME type of the audio
	Language    string

	SmartFormat bool
	Punctuate   bool
	Diarize     bool
	Utterances  bool
	Paragraphs  bool
}

// DefaultOpts returns the fixed options the relay uses for every request.
func DefaultOpts(language, contentType string) TranscribeOpts {
	return TranscribeOpts{
		ContentType: contentType,
		Language:    language,
		SmartFormat: true,
		Punctuate:   true,
		Diarize:     false,
		Utterances:  true,
		Paragraphs:  true,
	}
}

// Response is the common transcription result from any provider, after
// normalization. Missing provider fields are already defaulted.
type Response struct {
	Text       string
	Confidence float64 // 0-1
	Language   string
	Duration   float64 // audio duration in seconds
	Words      []Word  // never nil
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
}

// ProviderError is an error reported by the provider itself (as opposed to a
// transport failure reaching it). Message is safe to show to users.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s API error (status %d, %s): %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Message)
}
