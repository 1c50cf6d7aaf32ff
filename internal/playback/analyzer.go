package playback

import (
	"math"
	"sync"
)

const (
	// BinCount matches the fixed-size frame the visualization consumes.
	BinCount = 128

	// analysisWindow is the number of recent samples the spectrum is
	// computed over.
	analysisWindow = 1024
)

// Spectrum keeps a ring of the most recent mono-mixed samples and computes
// coarse frequency magnitudes on demand. It is written from the speaker
// goroutine through the tap and read from the render loop; reads are
// snapshots, there is no phase alignment guarantee with the audio clock.
type Spectrum struct {
	mu   sync.Mutex
	ring []float64
	pos  int
	full bool
}

func NewSpectrum(window int) *Spectrum {
	return &Spectrum{ring: make([]float64, window)}
}

// Push mixes stereo samples down to mono and appends them to the ring.
func (s *Spectrum) Push(samples [][2]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, smp := range samples {
		s.ring[s.pos] = (smp[0] + smp[1]) / 2
		s.pos++
		if s.pos == len(s.ring) {
			s.pos = 0
			s.full = true
		}
	}
}

// Bins returns n magnitudes spread over the analysis band, scaled to 0-255.
// Before any audio has flowed through, all bins are zero.
func (s *Spectrum) Bins(n int) []uint8 {
	window := s.snapshot()
	out := make([]uint8, n)
	if window == nil {
		return out
	}

	N := len(window)
	for i := 0; i < n; i++ {
		// Spread bins across the lower half of the spectrum; speech and
		// synthesized voices carry almost no energy near Nyquist.
		k := 1 + i*(N/4)/n
		mag := goertzel(window, k)

		// A full-scale sine yields N/2; scale with headroom so normal
		// speech still moves the bars.
		v := mag / (float64(N) / 8)
		if v > 1 {
			v = 1
		}
		out[i] = uint8(v * 255)
	}
	return out
}

// snapshot returns the ring contents in chronological order, or nil when no
// samples have arrived yet.
func (s *Spectrum) snapshot() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full && s.pos == 0 {
		return nil
	}

	out := make([]float64, len(s.ring))
	if s.full {
		n := copy(out, s.ring[s.pos:])
		copy(out[n:], s.ring[:s.pos])
	} else {
		copy(out, s.ring[:s.pos])
		out = out[:s.pos]
	}
	return out
}

// goertzel computes the DFT magnitude of window at bin k.
func goertzel(window []float64, k int) float64 {
	N := float64(len(window))
	w := 2 * math.Pi * float64(k) / N
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range window {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power)
}
