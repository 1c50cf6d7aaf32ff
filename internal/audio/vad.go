package audio

import (
	"math"

	"github.com/maxhawkins/go-webrtcvad"
)

// WebRTCVAD pairs the webrtc detector with an RMS gate used when the
// detector cannot run. Both are tuned from the configured noise suppression
// level: more suppression means a more aggressive detector and a higher
// gate.
type WebRTCVAD struct {
	vad          *webrtcvad.VAD
	rmsThreshold float64
}

// NewWebRTCVAD builds a detector tuned by the noise suppression level (0-1,
// clamped).
func NewWebRTCVAD(suppression float64) (*WebRTCVAD, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	vad.SetMode(suppressionMode(suppression))

	return &WebRTCVAD{
		vad:          vad,
		rmsThreshold: suppressionThreshold(suppression),
	}, nil
}

// suppressionMode maps the suppression level onto webrtcvad aggressiveness
// (0-3). The default 0.5 lands on 2, which keeps breathing and keyboard
// noise out without clipping quiet speakers.
func suppressionMode(level float64) int {
	return int(clampUnit(level)*3 + 0.5)
}

// suppressionThreshold maps the suppression level onto the fallback RMS
// gate.
func suppressionThreshold(level float64) float64 {
	return 200 + clampUnit(level)*1200
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (v *WebRTCVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	bytes := int16SliceToBytes(pcm)

	// WebRTC VAD wants exact 10/20/30ms frames at 8/16/32/48 kHz. Anything
	// else falls back to the RMS gate.
	if len(bytes) < 320 {
		return v.rmsIsSpeech(pcm)
	}

	isSpeech, err := v.vad.Process(sampleRate, bytes)
	if err != nil {
		return v.rmsIsSpeech(pcm)
	}
	return isSpeech
}

func (v *WebRTCVAD) rmsIsSpeech(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}

	var sum float64
	for _, sample := range pcm {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(pcm)))
	return rms > v.rmsThreshold
}

func (v *WebRTCVAD) Close() error {
	if v.vad != nil {
		v.vad.Close()
	}
	return nil
}

func int16SliceToBytes(samples []int16) []byte {
	bytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		bytes[i*2] = byte(sample)
		bytes[i*2+1] = byte(sample >> 8)
	}
	return bytes
}
