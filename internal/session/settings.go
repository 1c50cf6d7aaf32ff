package session

// InteractionMode selects how the talk control behaves.
type InteractionMode string

const (
	PushToTalk InteractionMode = "push_to_talk"
	Continuous InteractionMode = "continuous"
	Disabled   InteractionMode = "disabled"
)

// Settings is the session-lifetime voice configuration. Engines never
// mutate it; every change goes through Controller.UpdateSettings, which is
// the single write path shared by all UI surfaces.
type Settings struct {
	InteractionMode   InteractionMode
	PlaybackVolume    int // 0-100
	VADEnabled        bool
	VoiceIdentity     string
	AutoPlayResponses bool
	NoiseSuppression  float64 // 0.0-1.0
	PersistRecordings bool
}

func DefaultSettings() Settings {
	return Settings{
		InteractionMode:   PushToTalk,
		PlaybackVolume:    80,
		VADEnabled:        true,
		VoiceIdentity:     "Triage Agent",
		AutoPlayResponses: true,
		NoiseSuppression:  0.5,
		PersistRecordings: false,
	}
}

// clamp keeps mutated settings inside their documented ranges.
func (s *Settings) clamp() {
	if s.PlaybackVolume < 0 {
		s.PlaybackVolume = 0
	}
	if s.PlaybackVolume > 100 {
		s.PlaybackVolume = 100
	}
	if s.NoiseSuppression < 0 {
		s.NoiseSuppression = 0
	}
	if s.NoiseSuppression > 1 {
		s.NoiseSuppression = 1
	}
	switch s.InteractionMode {
	case PushToTalk, Continuous, Disabled:
	default:
		s.InteractionMode = PushToTalk
	}
}
