// Package viz renders a live amplitude or frequency signal as one of four
// visual modes. Rendering is a pure function of the current frame; the only
// state the renderer carries is the jitter source for the decorative
// linear-bars fallback.
package viz

import (
	"image/color"
	"math/rand"
)

type Mode int

const (
	PulsingOrb Mode = iota
	RadialBars
	LinearBars
	WaveformLine
)

func (m Mode) String() string {
	switch m {
	case PulsingOrb:
		return "orb"
	case RadialBars:
		return "radial"
	case LinearBars:
		return "bars"
	case WaveformLine:
		return "wave"
	default:
		return "unknown"
	}
}

// Frame is the per-tick snapshot pulled from whichever engine is active.
// Bins is nil until the audio graph exists; Amplitude is the fallback
// signal.
type Frame struct {
	Amplitude float64
	Bins      []uint8
}

// Style is the size class and color for one rendering surface.
type Style struct {
	Width      int
	Height     int
	BarCount   int
	BaseRadius float64
	Scale      float64
	Color      color.RGBA
}

// DefaultStyle is the widget-sized surface the console uses.
func DefaultStyle() Style {
	return Style{
		Width:      160,
		Height:     160,
		BarCount:   32,
		BaseRadius: 24,
		Scale:      40,
		Color:      color.RGBA{R: 0x3b, G: 0x82, B: 0xf6, A: 0xff},
	}
}

// BinIndex maps bar/point index i onto a frequency bin when the bin count
// differs from the target count. floor(i*binCount/targetCount), always in
// [0, binCount) for i in [0, targetCount).
func BinIndex(i, binCount, targetCount int) int {
	if targetCount <= 0 || binCount <= 0 {
		return 0
	}
	return i * binCount / targetCount
}

// OrbRadius computes the pulsing orb's disc radius. Monotonic in amplitude
// and never below the base radius.
func OrbRadius(base, scale, amplitude float64) float64 {
	if amplitude < 0 {
		amplitude = 0
	}
	if amplitude > 1 {
		amplitude = 1
	}
	return base + amplitude*scale
}

// Renderer draws frames onto an RGBA surface.
type Renderer struct {
	rng *rand.Rand
}

func NewRenderer(seed int64) *Renderer {
	return &Renderer{rng: rand.New(rand.NewSource(seed))}
}
