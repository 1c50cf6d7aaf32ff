package audio

// Downsample converts mono PCM from one sample rate to a lower one using
// linear interpolation. Good enough for speech headed to a transcription
// endpoint; not intended for music.
func Downsample(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(pcm) == 0 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(pcm)) / ratio)
	out := make([]int16, outLen)

	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := float64(pcm[idx])
		s1 := s0
		if idx+1 < len(pcm) {
			s1 = float64(pcm[idx+1])
		}
		out[i] = int16(s0 + (s1-s0)*frac)
	}

	return out
}
