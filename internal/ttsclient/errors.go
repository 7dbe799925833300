package ttsclient

import "errors"

// ErrUnavailable is returned when the TTS service never became ready
// within the configured startup timeout.
var ErrUnavailable = errors.New("tts service unavailable")

// ErrSynthesis is returned when a chunk fails to synthesize after all
// retry attempts are exhausted.
var ErrSynthesis = errors.New("tts synthesis failed")
