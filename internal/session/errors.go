package session

import (
	"errors"

	"github.com/user/voice-console/internal/audio"
	"github.com/user/voice-console/internal/playback"
)

// Failures the controller surfaces beyond what the engines already define.
var (
	ErrNetwork         = errors.New("backend call failed")
	ErrEmptyTranscript = errors.New("transcription returned no usable text")
	ErrVoiceDisabled   = errors.New("voice interaction is disabled")
	ErrBusy            = errors.New("another voice session is active")
)

// userMessage maps the error taxonomy onto the single inline message shown
// next to the voice control.
func userMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access is required to use voice chat."
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "No microphone was found on this device."
	case errors.Is(err, audio.ErrAlreadyRecording), errors.Is(err, ErrBusy):
		return "A voice session is already in progress."
	case errors.Is(err, audio.ErrDeviceError):
		return "The microphone stopped working. Please try again."
	case errors.Is(err, playback.ErrNothingLoaded):
		return "There is no audio to play."
	case errors.Is(err, playback.ErrDecode):
		return "The voice response could not be played."
	case errors.Is(err, ErrNetwork):
		return "Could not reach the voice service. Please try again."
	case errors.Is(err, ErrVoiceDisabled):
		return "Voice interaction is turned off in settings."
	default:
		return "Something went wrong with voice chat. Please try again."
	}
}
