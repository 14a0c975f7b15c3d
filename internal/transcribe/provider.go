package transcribe

import (
	"context"
	"errors"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	// Transcribe converts one audio blob to text. segmentID is passed for
	// provider-side tracing only.
	Transcribe(ctx context.Context, audioData []byte, segmentID string) (*Result, error)
	Name() string
	Model() string
}

// Result is the common transcription result from any provider.
type Result struct {
	Utterance  string
	Confidence float64
	StartMs    int
	EndMs      int
}

// TransientError marks a failure worth retrying (timeout, 5xx, 429).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether a transcription error should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
