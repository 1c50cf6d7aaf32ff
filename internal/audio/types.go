package audio

import (
	"errors"
	"time"
)

const (
	// CaptureRate is the hardware capture rate. Clips handed to the backend
	// are downsampled to TransportRate mono before upload.
	CaptureRate   = 44100
	TransportRate = 16000
	Channels      = 1
	BlockFrames   = 1024 // frames per read from the input stream
)

var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no audio input device available")
	ErrAlreadyRecording  = errors.New("capture already in progress")
	ErrDeviceError       = errors.New("audio device error")
)

// Clip is a finalized capture: 16 kHz mono PCM ready for upload.
type Clip struct {
	PCM        []int16
	SampleRate int
	Duration   time.Duration
}

// VAD interface for Voice Activity Detection
type VAD interface {
	IsSpeech(pcm []int16, sampleRate int) bool
	Close() error
}

// Recorder is the capture surface the session controller drives.
type Recorder interface {
	RequestPermission() error
	Start() error
	Stop() (*Clip, error)
	Level() float64
	Silence() time.Duration
	Recording() bool
	Close() error
}
