package viz

import (
	"context"
	"time"
)

// Source is whichever engine currently feeds the visualization. The
// animator pulls; engines never push frames.
type Source interface {
	Active() bool
	Frame() Frame
}

// Animator drives a draw callback at a fixed cadence while its source is
// active. When the source goes inactive it draws one final static frame and
// halts; no timer keeps burning afterwards.
type Animator struct {
	Interval time.Duration
	Source   Source
	Draw     func(Frame)
}

// Run blocks until the source goes inactive or ctx is cancelled.
func (a *Animator) Run(ctx context.Context) {
	interval := a.Interval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.Source.Active() {
				a.Draw(a.Source.Frame())
				return
			}
			a.Draw(a.Source.Frame())
		}
	}
}

// ASCIIBars renders a linear-bars frame as a one-line terminal meter, the
// console stand-in for the widget surface.
func ASCIIBars(frame Frame, width int) string {
	if width <= 0 {
		return ""
	}

	ramp := []rune(" ▁▂▃▄▅▆▇█")
	out := make([]rune, width)

	for i := 0; i < width; i++ {
		var v float64
		if len(frame.Bins) > 0 {
			v = float64(frame.Bins[BinIndex(i, len(frame.Bins), width)]) / 255
		} else {
			v = frame.Amplitude
		}

		idx := int(v * float64(len(ramp)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(ramp) {
			idx = len(ramp) - 1
		}
		out[i] = ramp[idx]
	}

	return string(out)
}
