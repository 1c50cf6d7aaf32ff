package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

// Capture records microphone audio into an in-memory buffer. The hardware
// stream is opened at CaptureRate and the finalized clip is downsampled to
// TransportRate mono. The live level is pull-based: the renderer samples
// Level() at its own cadence, the capture loop only publishes the latest
// block's RMS.
type Capture struct {
	mutex      sync.Mutex
	granted    bool
	recording  bool
	stream     *portaudio.Stream
	block      []int16
	pcm        []int16
	startedAt  time.Time
	done       chan struct{}
	loopDone   chan struct{}
	vad        VAD
	vadEnabled bool

	levelMux   sync.RWMutex
	level      float64
	lastSpeech time.Time
}

func NewCapture(vad VAD, vadEnabled bool) *Capture {
	return &Capture{
		block:      make([]int16, BlockFrames),
		vad:        vad,
		vadEnabled: vadEnabled,
	}
}

// RequestPermission initializes the audio host and verifies an input device
// exists. A positive result is cached for the lifetime of the Capture; a
// negative one is not, so a later explicit attempt probes the host again.
func (c *Capture) RequestPermission() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.granted {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil {
		portaudio.Terminate()
		return ErrDeviceUnavailable
	}

	c.granted = true
	log.Debug().Str("device", dev.Name).Msg("Microphone access granted")
	return nil
}

// Start opens the input stream and begins buffering samples.
func (c *Capture) Start() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.granted {
		return ErrPermissionDenied
	}
	if c.recording {
		return ErrAlreadyRecording
	}

	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(CaptureRate), BlockFrames, c.block)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceError, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: %v", ErrDeviceError, err)
	}

	c.stream = stream
	c.pcm = c.pcm[:0]
	c.recording = true
	c.startedAt = time.Now()
	c.done = make(chan struct{})
	c.loopDone = make(chan struct{})

	c.levelMux.Lock()
	c.level = 0
	c.lastSpeech = c.startedAt
	c.levelMux.Unlock()

	go c.readLoop(stream, c.done, c.loopDone)

	log.Info().Int("rate", CaptureRate).Msg("Capture started")
	return nil
}

func (c *Capture) readLoop(stream *portaudio.Stream, done <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	for {
		select {
		case <-done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-done:
				// Expected once Stop tears the stream down.
			default:
				log.Warn().Err(err).Msg("Capture read failed")
			}
			return
		}

		c.mutex.Lock()
		if !c.recording {
			c.mutex.Unlock()
			return
		}
		c.pcm = append(c.pcm, c.block...)
		c.mutex.Unlock()

		c.publishBlock(c.block)
	}
}

// publishBlock updates the live level and, when VAD is enabled, the trailing
// silence clock.
func (c *Capture) publishBlock(block []int16) {
	rms := blockRMS(block)

	speech := false
	if c.vadEnabled && c.vad != nil {
		ds := Downsample(block, CaptureRate, TransportRate)
		// 20ms at 16kHz; shorter blocks fall through to the RMS gate inside
		// the VAD itself.
		if len(ds) > 320 {
			ds = ds[:320]
		}
		speech = c.vad.IsSpeech(ds, TransportRate)
	}

	c.levelMux.Lock()
	c.level = rms
	if speech {
		c.lastSpeech = time.Now()
	}
	c.levelMux.Unlock()
}

// Stop finalizes the buffer and releases the hardware stream. Releasing the
// stream before returning is a correctness requirement: the OS mic-in-use
// indicator must clear immediately. Returns nil when no capture is active.
func (c *Capture) Stop() (*Clip, error) {
	c.mutex.Lock()

	if !c.recording {
		c.mutex.Unlock()
		return nil, nil
	}

	c.recording = false
	close(c.done)
	stream := c.stream
	c.stream = nil
	elapsed := time.Since(c.startedAt)
	loopDone := c.loopDone
	c.mutex.Unlock()

	// Abort unblocks a read in flight; Stop/Close release the device.
	stream.Abort()
	stream.Close()
	<-loopDone

	c.mutex.Lock()
	captured := make([]int16, len(c.pcm))
	copy(captured, c.pcm)
	c.pcm = c.pcm[:0]
	c.mutex.Unlock()

	// A stop within milliseconds of start still yields a valid, possibly
	// near-silent clip. Downstream transcription owns the "nothing said"
	// case, not the capture layer.
	ds := Downsample(captured, CaptureRate, TransportRate)

	clip := &Clip{
		PCM:        ds,
		SampleRate: TransportRate,
		Duration:   elapsed,
	}

	log.Info().
		Dur("duration", elapsed).
		Int("samples", len(ds)).
		Msg("Capture stopped")

	return clip, nil
}

// Level returns the normalized RMS (0-1) of the most recent block.
func (c *Capture) Level() float64 {
	c.levelMux.RLock()
	defer c.levelMux.RUnlock()
	return c.level
}

// Silence returns how long the VAD has reported no speech. Zero when VAD is
// disabled or no capture is active.
func (c *Capture) Silence() time.Duration {
	c.mutex.Lock()
	rec := c.recording
	c.mutex.Unlock()
	if !rec || !c.vadEnabled {
		return 0
	}

	c.levelMux.RLock()
	defer c.levelMux.RUnlock()
	return time.Since(c.lastSpeech)
}

func (c *Capture) Recording() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.recording
}

// Close releases the audio host. Any active capture is stopped first.
func (c *Capture) Close() error {
	if c.Recording() {
		if _, err := c.Stop(); err != nil {
			return err
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.granted {
		c.granted = false
		return portaudio.Terminate()
	}
	return nil
}

func blockRMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
