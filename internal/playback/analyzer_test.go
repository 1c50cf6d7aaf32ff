package playback

import (
	"math"
	"testing"
)

func TestBinsBeforeAnyAudio(t *testing.T) {
	s := NewSpectrum(analysisWindow)
	bins := s.Bins(BinCount)

	if len(bins) != BinCount {
		t.Fatalf("bin count = %d, want %d", len(bins), BinCount)
	}
	for i, b := range bins {
		if b != 0 {
			t.Errorf("bin[%d] = %d before any audio, want 0", i, b)
		}
	}
}

func TestBinsSilence(t *testing.T) {
	s := NewSpectrum(analysisWindow)
	silence := make([][2]float64, analysisWindow)
	s.Push(silence)

	for i, b := range s.Bins(BinCount) {
		if b != 0 {
			t.Errorf("bin[%d] = %d for silence, want 0", i, b)
		}
	}
}

func TestBinsRespondToTone(t *testing.T) {
	s := NewSpectrum(analysisWindow)

	// Pure tone at DFT bin 33 of the analysis window, one of the bins the
	// 128-bar spread samples exactly.
	samples := make([][2]float64, analysisWindow)
	for i := range samples {
		v := 0.8 * math.Sin(2*math.Pi*33*float64(i)/float64(analysisWindow))
		samples[i] = [2]float64{v, v}
	}
	s.Push(samples)

	bins := s.Bins(BinCount)
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	if sum == 0 {
		t.Fatal("tone produced an all-zero spectrum")
	}

	// The hottest bin should clearly beat the median.
	max := 0
	for _, b := range bins {
		if int(b) > max {
			max = int(b)
		}
	}
	if max < 32 {
		t.Errorf("peak magnitude %d too weak for a full-scale tone", max)
	}
}

func TestSpectrumRingWraps(t *testing.T) {
	s := NewSpectrum(16)

	// Push more than the window; must not panic and must keep only the
	// newest samples.
	for i := 0; i < 5; i++ {
		batch := make([][2]float64, 10)
		for j := range batch {
			batch[j] = [2]float64{0.5, 0.5}
		}
		s.Push(batch)
	}

	window := s.snapshot()
	if len(window) != 16 {
		t.Errorf("snapshot length = %d, want 16", len(window))
	}
	for i, v := range window {
		if v != 0.5 {
			t.Errorf("window[%d] = %v, want 0.5", i, v)
		}
	}
}

func TestGoertzelMatchesDFT(t *testing.T) {
	// Tone exactly on bin k has magnitude ~N/2 * amplitude.
	const N = 256
	window := make([]float64, N)
	for i := range window {
		window[i] = math.Sin(2 * math.Pi * 8 * float64(i) / N)
	}

	mag := goertzel(window, 8)
	want := float64(N) / 2
	if math.Abs(mag-want) > 1 {
		t.Errorf("goertzel on-bin magnitude = %v, want ~%v", mag, want)
	}

	off := goertzel(window, 40)
	if off > mag/10 {
		t.Errorf("off-bin magnitude %v not well below on-bin %v", off, mag)
	}
}
