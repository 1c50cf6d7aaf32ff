// Package session owns the voice interaction state machine: capture on one
// side, playback on the other, the backend in between.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/user/voice-console/internal/audio"
	"github.com/user/voice-console/internal/backend"
)

// State is the controller's position in one capture-to-playback cycle.
type State int

const (
	Idle State = iota
	RequestingPermission
	Recording
	Processing
	Playing
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingPermission:
		return "requesting_permission"
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	case Playing:
		return "playing"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// Player is the playback surface the controller drives.
type Player interface {
	Load(data []byte) error
	LoadBase64(encoded string) error
	Play() error
	Stop()
	SetVolume(pct int)
	OnEnded(fn func())
	Unload()
}

// Transport is the backend surface the controller calls.
type Transport interface {
	Transcribe(ctx context.Context, wavData []byte, filename string) (*backend.TranscribeResponse, error)
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error)
	SaveRecording(ctx context.Context, req backend.SaveRecordingRequest) (*backend.RecordingResponse, error)
}

// Exchange is one completed voice turn, handed to the history hook. Audio
// carries the captured clip as WAV for local persistence and is excluded
// from the JSONL history.
type Exchange struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Confidence float64   `json:"confidence,omitempty"`
	Agent      string    `json:"agent"`
	Reply      string    `json:"reply"`
	Duration   float64   `json:"duration_seconds"`
	CreatedAt  time.Time `json:"created_at"`
	Audio      []byte    `json:"-"`
}

// Controller enforces the session invariant: at most one capture-to-playback
// cycle is active at a time. Long operations never block the caller; state
// moves to Processing or RequestingPermission while they run, and a
// generation token discards any result that arrives after the session has
// moved on.
type Controller struct {
	mu sync.Mutex

	state      State
	generation uint64
	sessionID  string
	startedAt  time.Time
	transcript string
	confidence float64
	errMsg     string

	conversationID string
	currentAgent   string
	userID         string

	settings Settings

	recorder audio.Recorder
	player   Player
	backend  Transport

	onExchange func(Exchange)

	silenceHold time.Duration
	watchCancel context.CancelFunc
}

func NewController(recorder audio.Recorder, player Player, transport Transport, settings Settings, userID string) *Controller {
	settings.clamp()

	c := &Controller{
		state:       Idle,
		recorder:    recorder,
		player:      player,
		backend:     transport,
		settings:    settings,
		userID:      userID,
		silenceHold: 1500 * time.Millisecond,
	}

	player.OnEnded(c.playbackEnded)
	player.SetVolume(settings.PlaybackVolume)

	return c
}

// SetSilenceHold overrides how much sustained VAD silence ends a
// continuous-mode capture.
func (c *Controller) SetSilenceHold(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.silenceHold = d
	}
}

// OnExchange registers the hook invoked after each completed turn, used for
// local history. Must be set before the first session.
func (c *Controller) OnExchange(fn func(Exchange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExchange = fn
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ErrorMessage returns the current user-facing error, empty outside the
// Errored state.
func (c *Controller) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (c *Controller) CurrentAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentAgent
}

// Settings returns a copy; mutation goes through UpdateSettings only.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings applies fn to a copy of the settings, clamps the result,
// and installs it. A volume change reaches an active playback immediately
// without restarting it.
func (c *Controller) UpdateSettings(fn func(*Settings)) {
	c.mu.Lock()
	prev := c.settings
	next := prev
	fn(&next)
	next.clamp()
	c.settings = next
	c.mu.Unlock()

	if next.PlaybackVolume != prev.PlaybackVolume {
		c.player.SetVolume(next.PlaybackVolume)
	}
}

// PressTalk begins a capture session: the push-to-talk press or the
// continuous-mode toggle-on. From Errored it only clears the error back to
// Idle; the user re-initiates, nothing is retried automatically.
func (c *Controller) PressTalk() error {
	c.mu.Lock()

	if c.state == Errored {
		c.errMsg = ""
		c.state = Idle
		c.mu.Unlock()
		return nil
	}
	if c.settings.InteractionMode == Disabled {
		c.mu.Unlock()
		return ErrVoiceDisabled
	}
	if c.state != Idle {
		c.mu.Unlock()
		return ErrBusy
	}

	c.state = RequestingPermission
	c.mu.Unlock()

	if err := c.recorder.RequestPermission(); err != nil {
		c.fail(err)
		return err
	}

	if err := c.recorder.Start(); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.generation++
	c.sessionID = uuid.New().String()
	c.startedAt = time.Now()
	c.transcript = ""
	c.confidence = 0
	c.errMsg = ""
	c.state = Recording

	continuous := c.settings.InteractionMode == Continuous
	vadEnabled := c.settings.VADEnabled
	c.mu.Unlock()

	log.Info().Str("session_id", c.sessionID).Msg("Voice session started")

	if continuous && vadEnabled {
		c.startSilenceWatch()
	}

	return nil
}

// ReleaseTalk ends the capture and kicks off processing: the push-to-talk
// release (or pointer-leave) or the continuous-mode toggle-off. Calling it
// outside Recording is a no-op, so a release racing a pointer-leave is
// harmless.
func (c *Controller) ReleaseTalk() error {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return nil
	}

	// Claim the stop before dropping the lock: a concurrent release (the
	// user gesture racing the silence watch) must see the session already
	// out of Recording and back off, not reset it mid-flight.
	c.state = Processing
	c.stopSilenceWatchLocked()
	gen := c.generation
	elapsed := time.Since(c.startedAt)
	c.mu.Unlock()

	// Stop releases the hardware stream before returning; the mic-in-use
	// indicator must clear here even if everything after fails.
	clip, err := c.recorder.Stop()
	if err != nil {
		c.fail(err)
		return err
	}
	if clip == nil {
		c.toIdle(gen)
		return nil
	}
	if c.stale(gen) {
		return nil
	}

	go c.process(gen, clip, elapsed)
	return nil
}

// ToggleTalk flips between start and stop for continuous mode.
func (c *Controller) ToggleTalk() error {
	if c.State() == Recording {
		return c.ReleaseTalk()
	}
	return c.PressTalk()
}

// process runs the transcription and agent turn. It owns the session from
// here: a caller that has moved on (new generation) invalidates every await
// below, and the late result is discarded rather than applied.
func (c *Controller) process(gen uint64, clip *audio.Clip, elapsed time.Duration) {
	ctx := context.Background()

	wavData := audio.EncodeWAV(clip.PCM, clip.SampleRate)

	tr, err := c.backend.Transcribe(ctx, wavData, "capture.wav")
	if err != nil {
		c.failIfCurrent(gen, fmt.Errorf("%w: %v", ErrNetwork, err))
		return
	}
	if c.stale(gen) {
		log.Debug().Uint64("generation", gen).Msg("Discarding stale transcription result")
		return
	}

	transcript := strings.TrimSpace(tr.Transcript)
	if transcript == "" {
		// Released without saying anything; not an error, no chat turn.
		log.Debug().Str("session_id", c.sessionID).Msg("Empty transcript, returning to idle")
		c.toIdle(gen)
		return
	}

	c.mu.Lock()
	c.transcript = transcript
	c.confidence = tr.Confidence
	chatReq := backend.ChatRequest{
		ConversationID: c.conversationID,
		Message:        transcript,
		EnableVoice:    true,
		UserID:         c.userID,
	}
	settings := c.settings
	sessionID := c.sessionID
	c.mu.Unlock()

	resp, err := c.backend.Chat(ctx, chatReq)
	if err != nil {
		c.failIfCurrent(gen, fmt.Errorf("%w: %v", ErrNetwork, err))
		return
	}
	if c.stale(gen) {
		log.Debug().Uint64("generation", gen).Msg("Discarding stale chat result")
		return
	}

	reply, audioB64 := lastMessage(resp)

	c.mu.Lock()
	c.conversationID = resp.ConversationID
	c.currentAgent = resp.CurrentAgent
	exchange := Exchange{
		SessionID:  sessionID,
		Transcript: transcript,
		Confidence: tr.Confidence,
		Agent:      resp.CurrentAgent,
		Reply:      reply,
		Duration:   elapsed.Seconds(),
		CreatedAt:  time.Now(),
		Audio:      wavData,
	}
	hook := c.onExchange
	c.mu.Unlock()

	if hook != nil {
		hook(exchange)
	}

	// Persistence rides alongside the primary flow; its failure is logged
	// and never blocks or fails the turn.
	if settings.PersistRecordings {
		go c.persist(ctx, wavData, exchange)
	}

	if audioB64 == "" || !settings.AutoPlayResponses {
		c.toIdle(gen)
		return
	}

	if err := c.player.LoadBase64(audioB64); err != nil {
		c.failIfCurrent(gen, err)
		return
	}
	c.player.SetVolume(settings.PlaybackVolume)
	if err := c.player.Play(); err != nil {
		c.failIfCurrent(gen, err)
		return
	}

	c.mu.Lock()
	if gen == c.generation && c.state == Processing {
		c.state = Playing
		c.errMsg = ""
	}
	c.mu.Unlock()
}

func (c *Controller) persist(ctx context.Context, wavData []byte, exchange Exchange) {
	_, err := c.backend.SaveRecording(ctx, backend.SaveRecordingRequest{
		Audio:           wavData,
		Filename:        exchange.SessionID + ".wav",
		ConversationID:  c.ConversationID(),
		UserID:          c.userID,
		Transcript:      exchange.Transcript,
		AgentResponse:   exchange.Reply,
		Duration:        exchange.Duration,
		ConfidenceScore: exchange.Confidence,
		Language:        "en-US",
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", exchange.SessionID).Msg("Recording persistence failed")
	}
}

// PlayRecording replays a fetched recording through the playback engine.
func (c *Controller) PlayRecording(data []byte) error {
	c.mu.Lock()
	if c.state != Idle && c.state != Errored {
		c.mu.Unlock()
		return ErrBusy
	}
	c.generation++
	gen := c.generation
	c.state = Playing
	c.errMsg = ""
	volume := c.settings.PlaybackVolume
	c.mu.Unlock()

	if err := c.player.Load(data); err != nil {
		c.failIfCurrent(gen, err)
		return err
	}
	c.player.SetVolume(volume)
	if err := c.player.Play(); err != nil {
		c.failIfCurrent(gen, err)
		return err
	}
	return nil
}

// StopPlayback explicitly ends the Playing state.
func (c *Controller) StopPlayback() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.mu.Unlock()

	c.player.Stop()
	c.toIdle(gen)
}

// Close tears the session down: any capture is stopped and the payload
// released.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.stopSilenceWatchLocked()
	recording := c.state == Recording
	c.mu.Unlock()

	if recording {
		if _, err := c.recorder.Stop(); err != nil {
			log.Warn().Err(err).Msg("Capture stop during shutdown failed")
		}
	}
	c.player.Unload()

	c.mu.Lock()
	c.generation++
	c.state = Idle
	c.mu.Unlock()
	return nil
}

func (c *Controller) playbackEnded() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.state = Idle
	c.errMsg = ""
	sessionID := c.sessionID
	c.mu.Unlock()

	log.Debug().Str("session_id", sessionID).Msg("Playback ended, session idle")
}

// startSilenceWatch stops a continuous capture once the VAD has reported
// sustained silence.
func (c *Controller) startSilenceWatch() {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.watchCancel = cancel
	hold := c.silenceHold
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.recorder.Silence() >= hold {
					log.Debug().Msg("VAD silence hold reached, stopping capture")
					if err := c.ReleaseTalk(); err != nil {
						log.Warn().Err(err).Msg("Silence-triggered stop failed")
					}
					return
				}
			}
		}
	}()
}

func (c *Controller) stopSilenceWatchLocked() {
	if c.watchCancel != nil {
		c.watchCancel()
		c.watchCancel = nil
	}
}

// stale reports whether gen no longer identifies the current session.
func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation
}

// toIdle returns the session to Idle if it still owns the state.
func (c *Controller) toIdle(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.state = Idle
	c.errMsg = ""
}

// fail moves to Errored with a user-facing message. The hardware stream is
// released on every error path so the mic-busy indicator never outlives the
// session.
func (c *Controller) fail(err error) {
	if c.recorder.Recording() {
		if _, stopErr := c.recorder.Stop(); stopErr != nil {
			log.Warn().Err(stopErr).Msg("Capture release on error path failed")
		}
	}

	c.mu.Lock()
	c.stopSilenceWatchLocked()
	c.state = Errored
	c.errMsg = userMessage(err)
	c.mu.Unlock()

	log.Error().Err(err).Msg("Voice session failed")
}

// failIfCurrent applies fail only when gen still owns the session; a stale
// failure is discarded like any other late result.
func (c *Controller) failIfCurrent(gen uint64, err error) {
	if c.stale(gen) {
		log.Debug().Uint64("generation", gen).Err(err).Msg("Discarding stale failure")
		return
	}
	c.fail(err)
}

// lastMessage pulls the reply text and any synthesized audio out of a chat
// turn. The backend may return several messages; the last one carries the
// final agent response.
func lastMessage(resp *backend.ChatResponse) (reply, audioB64 string) {
	for _, msg := range resp.Messages {
		reply = msg.Content
		if msg.AudioBase64 != "" {
			audioB64 = msg.AudioBase64
		}
	}
	return reply, audioB64
}
