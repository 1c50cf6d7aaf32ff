package viz

import (
	"image"
	"image/color"
	"math"
)

// Render clears the surface and draws one frame in the given mode.
func (r *Renderer) Render(img *image.RGBA, mode Mode, frame Frame, style Style) {
	clearSurface(img)

	switch mode {
	case PulsingOrb:
		r.drawOrb(img, frame, style)
	case RadialBars:
		r.drawRadialBars(img, frame, style)
	case LinearBars:
		r.drawLinearBars(img, frame, style)
	case WaveformLine:
		r.drawWaveform(img, frame, style)
	}
}

func clearSurface(img *image.RGBA) {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}

// drawOrb: soft halo at twice the disc radius, solid disc, and a small
// offset highlight for depth.
func (r *Renderer) drawOrb(img *image.RGBA, frame Frame, style Style) {
	cx := float64(style.Width) / 2
	cy := float64(style.Height) / 2
	radius := OrbRadius(style.BaseRadius, style.Scale, frame.Amplitude)

	fillRadialGradient(img, cx, cy, radius*2, style.Color, 0.35)
	fillCircle(img, cx, cy, radius, style.Color)

	highlight := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	fillRadialGradient(img, cx-radius/3, cy-radius/3, radius/3, highlight, 0.5)
}

// drawRadialBars: BarCount bars evenly around a circle, each driven by its
// mapped frequency bin, or uniformly by amplitude when no bins exist.
func (r *Renderer) drawRadialBars(img *image.RGBA, frame Frame, style Style) {
	cx := float64(style.Width) / 2
	cy := float64(style.Height) / 2
	inner := style.BaseRadius
	maxLen := style.Scale

	for i := 0; i < style.BarCount; i++ {
		var v float64
		if len(frame.Bins) > 0 {
			v = float64(frame.Bins[BinIndex(i, len(frame.Bins), style.BarCount)]) / 255
		} else {
			v = frame.Amplitude
		}

		angle := 2 * math.Pi * float64(i) / float64(style.BarCount)
		length := 2 + v*maxLen

		x0 := cx + inner*math.Cos(angle)
		y0 := cy + inner*math.Sin(angle)
		x1 := cx + (inner+length)*math.Cos(angle)
		y1 := cy + (inner+length)*math.Sin(angle)

		strokeLine(img, x0, y0, x1, y1, style.Color)
	}
}

// drawLinearBars: BarCount vertical bars across the width. Without bin data
// the heights are amplitude-scaled jitter; decorative, not signal.
func (r *Renderer) drawLinearBars(img *image.RGBA, frame Frame, style Style) {
	if style.BarCount <= 0 {
		return
	}

	barWidth := style.Width / style.BarCount
	if barWidth < 1 {
		barWidth = 1
	}

	for i := 0; i < style.BarCount; i++ {
		var v float64
		if len(frame.Bins) > 0 {
			v = float64(frame.Bins[BinIndex(i, len(frame.Bins), style.BarCount)]) / 255
		} else {
			v = frame.Amplitude * r.rng.Float64()
		}

		h := int(v * float64(style.Height-2))
		if h < 1 {
			h = 1
		}

		x0 := i * barWidth
		fillRect(img, x0, style.Height-h, x0+barWidth-1, style.Height, style.Color)
	}
}

// drawWaveform: BarCount sample points connected as a path. Without bin
// data the path is an amplitude-scaled sine; decorative fallback.
func (r *Renderer) drawWaveform(img *image.RGBA, frame Frame, style Style) {
	points := style.BarCount
	if points < 2 {
		return
	}

	mid := float64(style.Height) / 2
	span := float64(style.Height) / 2.5

	prevX, prevY := 0.0, mid
	for i := 0; i < points; i++ {
		x := float64(i) * float64(style.Width) / float64(points-1)

		var v float64
		if len(frame.Bins) > 0 {
			v = float64(frame.Bins[BinIndex(i, len(frame.Bins), points)])/127.5 - 1
		} else {
			v = math.Sin(float64(i)*2*math.Pi/float64(points-1)*2) * frame.Amplitude
		}

		y := mid - v*span
		if i > 0 {
			strokeLine(img, prevX, prevY, x, y, style.Color)
		}
		prevX, prevY = x, y
	}
}

// --- raster primitives ---

func fillCircle(img *image.RGBA, cx, cy, radius float64, c color.RGBA) {
	r2 := radius * radius
	minX, maxX := int(cx-radius)-1, int(cx+radius)+1
	minY, maxY := int(cy-radius)-1, int(cy+radius)+1

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			if dx*dx+dy*dy <= r2 {
				setPixel(img, x, y, c)
			}
		}
	}
}

// fillRadialGradient blends c toward transparent from the center out to
// radius, at the given peak opacity.
func fillRadialGradient(img *image.RGBA, cx, cy, radius float64, c color.RGBA, opacity float64) {
	minX, maxX := int(cx-radius)-1, int(cx+radius)+1
	minY, maxY := int(cy-radius)-1, int(cy+radius)+1

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) - cx
			dy := float64(y) - cy
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist > radius {
				continue
			}
			alpha := opacity * (1 - dist/radius)
			blendPixel(img, x, y, c, alpha)
		}
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			setPixel(img, x, y, c)
		}
	}
}

// strokeLine draws a 1px Bresenham line.
func strokeLine(img *image.RGBA, x0, y0, x1, y1 float64, c color.RGBA) {
	ix0, iy0 := int(math.Round(x0)), int(math.Round(y0))
	ix1, iy1 := int(math.Round(x1)), int(math.Round(y1))

	dx := abs(ix1 - ix0)
	dy := -abs(iy1 - iy0)
	sx, sy := 1, 1
	if ix0 > ix1 {
		sx = -1
	}
	if iy0 > iy1 {
		sy = -1
	}
	errAcc := dx + dy

	for {
		setPixel(img, ix0, iy0, c)
		if ix0 == ix1 && iy0 == iy1 {
			return
		}
		e2 := 2 * errAcc
		if e2 >= dy {
			errAcc += dy
			ix0 += sx
		}
		if e2 <= dx {
			errAcc += dx
			iy0 += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(img.Rect) {
		return
	}
	img.SetRGBA(x, y, c)
}

func blendPixel(img *image.RGBA, x, y int, c color.RGBA, alpha float64) {
	if !(image.Point{X: x, Y: y}).In(img.Rect) {
		return
	}
	old := img.RGBAAt(x, y)
	blend := func(a, b uint8) uint8 {
		return uint8(float64(a)*(1-alpha) + float64(b)*alpha)
	}
	img.SetRGBA(x, y, color.RGBA{
		R: blend(old.R, c.R),
		G: blend(old.G, c.G),
		B: blend(old.B, c.B),
		A: 0xff,
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
