package playback

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"
)

var (
	ErrNothingLoaded = errors.New("no audio payload loaded")
	ErrDecode        = errors.New("undecodable audio payload")
)

const speakerBuffer = 100 * time.Millisecond

// Player decodes an audio payload (synthesized reply or replayed capture)
// and drives the output device. The speaker and the processing chain are
// built lazily on the first Play, so Bins returns nothing until a payload
// has actually started; that absence is expected, not an error.
type Player struct {
	mu sync.Mutex

	streamer beep.StreamSeekCloser
	format   beep.Format
	tap      *tapStreamer
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	speed    *beep.Resampler

	spectrum *Spectrum

	speakerRate beep.SampleRate
	playing     bool
	paused      bool
	generation  uint64

	volumePct int
	muted     bool
	rate      float64

	onEnded func()
}

func NewPlayer() *Player {
	return &Player{
		volumePct: 80,
		rate:      1.0,
	}
}

// OnEnded registers the callback fired when a payload plays to completion.
func (p *Player) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

// Load replaces the current payload with raw WAV or MP3 bytes. A payload
// playing at the time is stopped and released first; there is never more
// than one active playback.
func (p *Player) Load(data []byte) error {
	streamer, format, err := decode(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseLocked()

	p.streamer = streamer
	p.format = format
	p.tap = nil
	p.ctrl = nil
	p.generation++

	log.Debug().
		Int("bytes", len(data)).
		Int("rate", int(format.SampleRate)).
		Msg("Payload loaded")

	return nil
}

// LoadBase64 decodes a base64 payload, the shape synthesized replies arrive
// in, and loads it.
func (p *Player) LoadBase64(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p.Load(data)
}

// Play starts or resumes playback. Returns ErrNothingLoaded when no payload
// is loaded.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return ErrNothingLoaded
	}

	if p.playing {
		if p.paused {
			speaker.Lock()
			p.ctrl.Paused = false
			speaker.Unlock()
			p.paused = false
		}
		return nil
	}

	if err := p.ensureSpeakerLocked(); err != nil {
		return err
	}
	p.buildChainLocked()

	seq := beep.Seq(p.speed, beep.Callback(p.endedCallback(p.generation)))

	speaker.Play(seq)
	p.playing = true
	p.paused = false

	return nil
}

// Pause halts output without losing position. Pausing an already-paused
// player has no additional effect.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing || p.paused || p.ctrl == nil {
		return
	}

	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
	p.paused = true
}

// Stop halts playback and resets the position to zero. The payload stays
// loaded for a later Play.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return
	}

	speaker.Clear()
	p.playing = false
	p.paused = false
	p.generation++

	if p.streamer != nil {
		if err := p.streamer.Seek(0); err != nil {
			log.Warn().Err(err).Msg("Rewind after stop failed")
		}
	}
}

// Seek moves the playhead, clamped to [0, duration].
func (p *Player) Seek(to time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return ErrNothingLoaded
	}

	if to < 0 {
		to = 0
	}
	if max := p.format.SampleRate.D(p.streamer.Len()); to > max {
		to = max
	}

	pos := p.format.SampleRate.N(to)
	if p.playing {
		speaker.Lock()
		err := p.streamer.Seek(pos)
		speaker.Unlock()
		return err
	}
	return p.streamer.Seek(pos)
}

// SetVolume accepts 0-100 and applies it immediately, including to a
// payload already playing.
func (p *Player) SetVolume(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volumePct = pct
	p.applyVolumeLocked()
}

func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.muted = muted
	p.applyVolumeLocked()
}

// SetRate accepts any positive playback rate. The UI restricts itself to a
// small set; the engine does not.
func (p *Player) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("playback rate must be positive, got %v", rate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.rate = rate
	if p.speed != nil {
		speaker.Lock()
		p.speed.SetRatio(p.chainRatio())
		speaker.Unlock()
	}
	return nil
}

// Position returns the current playhead.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return 0
	}
	if p.playing {
		speaker.Lock()
		defer speaker.Unlock()
	}
	return p.format.SampleRate.D(p.streamer.Position())
}

// Duration returns the loaded payload's length, zero when nothing is loaded.
func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.streamer == nil {
		return 0
	}
	return p.format.SampleRate.D(p.streamer.Len())
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Bins returns the live frequency spectrum, nil before the processing chain
// has been built by the first Play.
func (p *Player) Bins() []uint8 {
	p.mu.Lock()
	spectrum := p.spectrum
	p.mu.Unlock()

	if spectrum == nil {
		return nil
	}
	return spectrum.Bins(BinCount)
}

// Unload stops playback and releases the payload and its decoder.
func (p *Player) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
}

func (p *Player) Close() error {
	p.Unload()
	return nil
}

// releaseLocked stops output and closes the decoder so nothing dangles when
// the payload goes away. Callers hold p.mu.
func (p *Player) releaseLocked() {
	if p.playing {
		speaker.Clear()
		p.playing = false
		p.paused = false
	}
	if p.streamer != nil {
		if err := p.streamer.Close(); err != nil {
			log.Warn().Err(err).Msg("Payload release failed")
		}
		p.streamer = nil
	}
	p.tap = nil
	p.ctrl = nil
	p.volume = nil
	p.speed = nil
	p.generation++
}

// ensureSpeakerLocked initializes the output device lazily, on the first
// Play. The speaker can only be initialized once per process, so the first
// payload's rate becomes the device rate for good; later payloads at other
// rates go through the chain's resampler instead.
func (p *Player) ensureSpeakerLocked() error {
	if p.speakerRate != 0 {
		return nil
	}
	if err := speaker.Init(p.format.SampleRate, p.format.SampleRate.N(speakerBuffer)); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}
	p.speakerRate = p.format.SampleRate
	if p.spectrum == nil {
		p.spectrum = NewSpectrum(analysisWindow)
	}
	return nil
}

// buildChainLocked wires tap -> ctrl -> volume -> speed around the decoded
// streamer.
func (p *Player) buildChainLocked() {
	p.tap = &tapStreamer{inner: p.streamer, spectrum: p.spectrum}
	p.ctrl = &beep.Ctrl{Streamer: p.tap}
	p.volume = &effects.Volume{Streamer: p.ctrl, Base: 2}
	p.speed = beep.ResampleRatio(4, p.chainRatio(), p.volume)
	p.applyVolumeLocked()
}

// chainRatio folds the payload-to-device rate conversion and the user's
// playback rate into the single resampler the chain carries.
func (p *Player) chainRatio() float64 {
	ratio := p.rate
	if p.speakerRate != 0 && p.format.SampleRate != p.speakerRate {
		ratio *= float64(p.format.SampleRate) / float64(p.speakerRate)
	}
	return ratio
}

func (p *Player) applyVolumeLocked() {
	if p.volume == nil {
		return
	}

	silent := p.muted || p.volumePct == 0
	vol := volumeToLog(p.volumePct)

	if p.playing {
		speaker.Lock()
		p.volume.Silent = silent
		p.volume.Volume = vol
		speaker.Unlock()
		return
	}
	p.volume.Silent = silent
	p.volume.Volume = vol
}

// endedCallback returns the completion hook handed to the speaker. It fires
// on the audio goroutine while the speaker lock is held, so the cleanup must
// run on its own goroutine: taking p.mu under the speaker lock would
// deadlock against any caller holding p.mu on its way into speaker.Lock.
func (p *Player) endedCallback(gen uint64) func() {
	return func() {
		go p.finished(gen)
	}
}

func (p *Player) finished(gen uint64) {
	p.mu.Lock()
	if gen != p.generation || !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.paused = false
	if p.streamer != nil {
		if err := p.streamer.Seek(0); err != nil {
			log.Warn().Err(err).Msg("Rewind after end failed")
		}
	}
	ended := p.onEnded
	p.mu.Unlock()

	if ended != nil {
		ended()
	}
}

// volumeToLog maps a 0-100 slider onto the log scale effects.Volume wants
// with Base 2. 100 is unity gain, 50 is half amplitude.
func volumeToLog(pct int) float64 {
	if pct <= 0 {
		return 0
	}
	gain := float64(pct) / 100.0
	return math.Log2(gain)
}

// tapStreamer copies samples into the spectrum ring on their way to the
// speaker.
type tapStreamer struct {
	inner    beep.StreamSeeker
	spectrum *Spectrum
}

func (t *tapStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.inner.Stream(samples)
	if n > 0 && t.spectrum != nil {
		t.spectrum.Push(samples[:n])
	}
	return n, ok
}

func (t *tapStreamer) Err() error {
	return t.inner.Err()
}

// decode sniffs the container format and returns a seekable streamer.
// Synthesized replies are MP3; replayed captures are WAV.
func decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	switch sniff(data) {
	case "wav":
		s, format, err := wav.Decode(newPayloadReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return s, format, nil
	case "mp3":
		s, format, err := mp3.Decode(newPayloadReader(data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return s, format, nil
	default:
		return nil, beep.Format{}, ErrDecode
	}
}

func sniff(data []byte) string {
	if len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return "wav"
	}
	if len(data) >= 3 && string(data[:3]) == "ID3" {
		return "mp3"
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return "mp3"
	}
	return ""
}

// payloadReader adapts an in-memory payload to the ReadSeekCloser the
// decoders want.
type payloadReader struct {
	*bytes.Reader
}

func newPayloadReader(data []byte) *payloadReader {
	return &payloadReader{bytes.NewReader(data)}
}

func (*payloadReader) Close() error { return nil }
