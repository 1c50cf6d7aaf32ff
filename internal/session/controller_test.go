package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/voice-console/internal/audio"
	"github.com/user/voice-console/internal/backend"
)

type fakeRecorder struct {
	mu sync.Mutex

	permissionErr error
	startErr      error
	stopErr       error
	clip          *audio.Clip
	silence       time.Duration
	stopGate      chan struct{} // when set, Stop blocks until it closes

	recording    bool
	startCalls   int
	stopCalls    int
	permRequests int
}

func (r *fakeRecorder) RequestPermission() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permRequests++
	return r.permissionErr
}

func (r *fakeRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startCalls++
	if r.startErr != nil {
		return r.startErr
	}
	r.recording = true
	return nil
}

func (r *fakeRecorder) Stop() (*audio.Clip, error) {
	if r.stopGate != nil {
		<-r.stopGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	r.recording = false
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	return r.clip, nil
}

func (r *fakeRecorder) Level() float64 { return 0 }

func (r *fakeRecorder) Silence() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.silence
}

func (r *fakeRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *fakeRecorder) Close() error { return nil }

type fakePlayer struct {
	mu sync.Mutex

	loadErr error
	playErr error

	loads     int
	b64Loads  int
	plays     int
	stops     int
	unloads   int
	volume    int
	lastBytes []byte
	onEnded   func()
}

func (p *fakePlayer) Load(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	p.lastBytes = data
	return p.loadErr
}

func (p *fakePlayer) LoadBase64(string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.b64Loads++
	return p.loadErr
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playErr != nil {
		return p.playErr
	}
	p.plays++
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) SetVolume(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = pct
}

func (p *fakePlayer) OnEnded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

func (p *fakePlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloads++
}

func (p *fakePlayer) ended() {
	p.mu.Lock()
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeTransport struct {
	mu sync.Mutex

	transcribeFn func(context.Context, []byte, string) (*backend.TranscribeResponse, error)
	chatFn       func(context.Context, backend.ChatRequest) (*backend.ChatResponse, error)

	chatCalls int
	saveCalls int
}

func (t *fakeTransport) Transcribe(ctx context.Context, wav []byte, name string) (*backend.TranscribeResponse, error) {
	if t.transcribeFn != nil {
		return t.transcribeFn(ctx, wav, name)
	}
	return &backend.TranscribeResponse{Transcript: "hello", Confidence: 0.9, Success: true}, nil
}

func (t *fakeTransport) Chat(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	t.mu.Lock()
	t.chatCalls++
	t.mu.Unlock()
	if t.chatFn != nil {
		return t.chatFn(ctx, req)
	}
	return &backend.ChatResponse{
		ConversationID: "conv-1",
		CurrentAgent:   "Housing Agent",
		Messages: []backend.MessageResponse{
			{Content: "reply text", Agent: "Housing Agent", AudioBase64: "UklGRg=="},
		},
	}, nil
}

func (t *fakeTransport) SaveRecording(context.Context, backend.SaveRecordingRequest) (*backend.RecordingResponse, error) {
	t.mu.Lock()
	t.saveCalls++
	t.mu.Unlock()
	return &backend.RecordingResponse{RecordingID: "rec-1", Status: "success"}, nil
}

func (t *fakeTransport) chatCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatCalls
}

func (t *fakeTransport) saveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveCalls
}

func testClip() *audio.Clip {
	return &audio.Clip{
		PCM:        make([]int16, audio.TransportRate),
		SampleRate: audio.TransportRate,
		Duration:   time.Second,
	}
}

func newTestController(rec *fakeRecorder, pl *fakePlayer, tr *fakeTransport, mutate func(*Settings)) *Controller {
	settings := DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	return NewController(rec, pl, tr, settings, "user-1")
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, never reached %v", c.State(), want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFullTurnLifecycle(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	if err := c.PressTalk(); err != nil {
		t.Fatalf("PressTalk: %v", err)
	}
	if c.State() != Recording {
		t.Fatalf("state after press = %v, want Recording", c.State())
	}
	if !rec.Recording() {
		t.Error("recorder not started")
	}

	if err := c.ReleaseTalk(); err != nil {
		t.Fatalf("ReleaseTalk: %v", err)
	}
	if rec.Recording() {
		t.Error("hardware stream not released on ReleaseTalk")
	}

	waitForState(t, c, Playing)
	if tr.chatCount() != 1 {
		t.Errorf("chat calls = %d, want 1", tr.chatCount())
	}
	if c.ConversationID() != "conv-1" || c.CurrentAgent() != "Housing Agent" {
		t.Errorf("conversation state: id=%q agent=%q", c.ConversationID(), c.CurrentAgent())
	}

	pl.ended()
	waitForState(t, c, Idle)
}

func TestExchangeHook(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	var mu sync.Mutex
	var got []Exchange
	c.OnExchange(func(e Exchange) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Playing)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("exchanges = %d, want 1", len(got))
	}
	if got[0].Transcript != "hello" || got[0].Reply != "reply text" {
		t.Errorf("exchange = %+v", got[0])
	}
	if got[0].Agent != "Housing Agent" {
		t.Errorf("agent = %q", got[0].Agent)
	}
	if len(got[0].Audio) < 44 || string(got[0].Audio[:4]) != "RIFF" {
		t.Errorf("exchange audio is not the captured WAV (%d bytes)", len(got[0].Audio))
	}
}

func TestConcurrentReleaseKeepsSessionOwnership(t *testing.T) {
	// A user release racing the silence watchdog: the loser must back off,
	// not reset the session while the winner's clip is still in flight.
	gate := make(chan struct{})
	rec := &fakeRecorder{clip: testClip(), stopGate: gate}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	if err := c.PressTalk(); err != nil {
		t.Fatalf("PressTalk: %v", err)
	}

	released := make(chan struct{})
	go func() {
		c.ReleaseTalk()
		close(released)
	}()
	waitForState(t, c, Processing)

	// The losing release is a no-op: no second hardware stop, no state
	// reset.
	if err := c.ReleaseTalk(); err != nil {
		t.Fatalf("second release = %v", err)
	}
	if c.State() != Processing {
		t.Fatalf("state = %v after racing release, session was reset", c.State())
	}

	// And no new session can start over the in-flight one.
	if err := c.PressTalk(); !errors.Is(err, ErrBusy) {
		t.Fatalf("press during in-flight turn = %v, want ErrBusy", err)
	}

	close(gate)
	<-released
	waitForState(t, c, Playing)

	rec.mu.Lock()
	stops := rec.stopCalls
	rec.mu.Unlock()
	if stops != 1 {
		t.Errorf("hardware stops = %d, want 1", stops)
	}
	if tr.chatCount() != 1 {
		t.Errorf("chat calls = %d, the turn was dropped or doubled", tr.chatCount())
	}
}

func TestPermissionDenied(t *testing.T) {
	rec := &fakeRecorder{permissionErr: audio.ErrPermissionDenied}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	err := c.PressTalk()
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("PressTalk = %v, want permission denied", err)
	}
	if c.State() != Errored {
		t.Errorf("state = %v, want Errored", c.State())
	}
	if !strings.Contains(c.ErrorMessage(), "Microphone access") {
		t.Errorf("error message = %q", c.ErrorMessage())
	}
	if rec.startCalls != 0 {
		t.Error("capture started despite denied permission")
	}
}

func TestErroredGestureClearsToIdle(t *testing.T) {
	rec := &fakeRecorder{permissionErr: audio.ErrPermissionDenied}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	if c.State() != Errored {
		t.Fatalf("setup: state = %v", c.State())
	}

	// The next gesture only clears the error; nothing is retried.
	if err := c.PressTalk(); err != nil {
		t.Fatalf("clearing press = %v", err)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle", c.State())
	}
	if c.ErrorMessage() != "" {
		t.Errorf("error message %q not cleared", c.ErrorMessage())
	}
	if rec.permRequests != 1 {
		t.Errorf("permission requested %d times, clearing press must not retry", rec.permRequests)
	}
}

func TestPressWhileRecordingIsBusy(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	if err := c.PressTalk(); !errors.Is(err, ErrBusy) {
		t.Errorf("second press = %v, want ErrBusy", err)
	}
}

func TestDisabledModeRejectsPress(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, func(s *Settings) {
		s.InteractionMode = Disabled
	})

	if err := c.PressTalk(); !errors.Is(err, ErrVoiceDisabled) {
		t.Errorf("press in disabled mode = %v, want ErrVoiceDisabled", err)
	}
	if c.State() != Idle {
		t.Errorf("state = %v, want Idle", c.State())
	}
}

func TestReleaseOutsideRecordingIsNoop(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	if err := c.ReleaseTalk(); err != nil {
		t.Errorf("release while idle = %v, want nil", err)
	}
	if rec.stopCalls != 0 {
		t.Error("recorder stopped without a session")
	}
}

func TestEmptyTranscriptReturnsToIdle(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{
		transcribeFn: func(context.Context, []byte, string) (*backend.TranscribeResponse, error) {
			return &backend.TranscribeResponse{Transcript: "   ", Success: true}, nil
		},
	}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Idle)

	if tr.chatCount() != 0 {
		t.Errorf("chat calls = %d for an empty transcript, want 0", tr.chatCount())
	}
	if c.ErrorMessage() != "" {
		t.Errorf("empty transcript surfaced error %q", c.ErrorMessage())
	}
}

func TestTranscribeFailureIsErrored(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{
		transcribeFn: func(context.Context, []byte, string) (*backend.TranscribeResponse, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Errored)

	if !strings.Contains(c.ErrorMessage(), "voice service") {
		t.Errorf("error message = %q, want network wording", c.ErrorMessage())
	}
}

func TestChatFailureIsErrored(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{
		chatFn: func(context.Context, backend.ChatRequest) (*backend.ChatResponse, error) {
			return nil, errors.New("status 502")
		},
	}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Errored)
}

func TestStaleResultDiscarded(t *testing.T) {
	gate := make(chan struct{})
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{
		transcribeFn: func(context.Context, []byte, string) (*backend.TranscribeResponse, error) {
			<-gate
			return &backend.TranscribeResponse{Transcript: "late result", Success: true}, nil
		},
	}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	c.ReleaseTalk()
	if c.State() != Processing {
		t.Fatalf("state = %v, want Processing", c.State())
	}

	// Tear the session down while transcription is in flight, then let the
	// late result arrive.
	c.Close()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	if c.State() != Idle {
		t.Errorf("state = %v after stale result, want Idle", c.State())
	}
	if tr.chatCount() != 0 {
		t.Errorf("stale transcript still triggered %d chat calls", tr.chatCount())
	}
}

func TestNoAutoplayReturnsToIdle(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, func(s *Settings) {
		s.AutoPlayResponses = false
	})

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Idle)

	pl.mu.Lock()
	plays := pl.plays
	pl.mu.Unlock()
	if plays != 0 {
		t.Errorf("plays = %d with autoplay off, want 0", plays)
	}
}

func TestVolumeChangeReachesPlayer(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.UpdateSettings(func(s *Settings) {
		s.PlaybackVolume = 35
	})

	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.volume != 35 {
		t.Errorf("player volume = %d, want 35", pl.volume)
	}
}

func TestUpdateSettingsClamps(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.UpdateSettings(func(s *Settings) {
		s.PlaybackVolume = 250
		s.NoiseSuppression = -3
		s.InteractionMode = "banana"
	})

	got := c.Settings()
	if got.PlaybackVolume != 100 {
		t.Errorf("volume = %d, want 100", got.PlaybackVolume)
	}
	if got.NoiseSuppression != 0 {
		t.Errorf("noise suppression = %v, want 0", got.NoiseSuppression)
	}
	if got.InteractionMode != PushToTalk {
		t.Errorf("mode = %q, want push_to_talk", got.InteractionMode)
	}
}

func TestPersistRecordingsUploads(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, func(s *Settings) {
		s.PersistRecordings = true
	})

	c.PressTalk()
	c.ReleaseTalk()
	waitForState(t, c, Playing)

	waitFor(t, "recording upload", func() bool { return tr.saveCount() == 1 })
}

func TestPlayRecording(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	data := []byte("RIFFwav")
	if err := c.PlayRecording(data); err != nil {
		t.Fatalf("PlayRecording: %v", err)
	}
	if c.State() != Playing {
		t.Errorf("state = %v, want Playing", c.State())
	}

	pl.mu.Lock()
	if string(pl.lastBytes) != string(data) {
		t.Errorf("player got %q", pl.lastBytes)
	}
	pl.mu.Unlock()

	pl.ended()
	waitForState(t, c, Idle)
}

func TestPlayRecordingWhileBusy(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	if err := c.PlayRecording([]byte("x")); !errors.Is(err, ErrBusy) {
		t.Errorf("PlayRecording while recording = %v, want ErrBusy", err)
	}
}

func TestStopPlayback(t *testing.T) {
	rec := &fakeRecorder{}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.PlayRecording([]byte("RIFFwav"))
	c.StopPlayback()

	if c.State() != Idle {
		t.Errorf("state = %v after StopPlayback, want Idle", c.State())
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.stops != 1 {
		t.Errorf("player stops = %d, want 1", pl.stops)
	}
}

func TestSilenceWatchStopsContinuousCapture(t *testing.T) {
	rec := &fakeRecorder{clip: testClip(), silence: 10 * time.Second}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, func(s *Settings) {
		s.InteractionMode = Continuous
	})
	c.SetSilenceHold(100 * time.Millisecond)

	if err := c.PressTalk(); err != nil {
		t.Fatalf("PressTalk: %v", err)
	}

	// The watch polls Silence() and releases once the hold is exceeded.
	waitFor(t, "silence-triggered stop", func() bool { return !rec.Recording() })
	waitForState(t, c, Playing)
}

func TestCloseReleasesEverything(t *testing.T) {
	rec := &fakeRecorder{clip: testClip()}
	pl := &fakePlayer{}
	tr := &fakeTransport{}
	c := newTestController(rec, pl, tr, nil)

	c.PressTalk()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if rec.Recording() {
		t.Error("capture still running after Close")
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.unloads != 1 {
		t.Errorf("player unloads = %d, want 1", pl.unloads)
	}
	if c.State() != Idle {
		t.Errorf("state = %v after Close, want Idle", c.State())
	}
}
