package audio

import "encoding/binary"

// synthStream implements io.Reader for Ebitengine audio: each Read renders
// samples from the synthesizer and converts them to interleaved 16-bit
// stereo.
type synthStream struct {
	ctx *Context
}

// Read renders audio from the synthesizer. 16-bit stereo means 4 bytes per
// sample frame.
func (s *synthStream) Read(p []byte) (int, error) {
	samples := len(p) / 4
	if samples == 0 {
		return 0, nil
	}

	left := make([]float32, samples)
	right := make([]float32, samples)
	s.ctx.render(left, right)

	for i := 0; i < samples; i++ {
		l := int16(clamp(left[i], -1, 1) * 32767)
		r := int16(clamp(right[i], -1, 1) * 32767)
		binary.LittleEndian.PutUint16(p[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(p[i*4+2:], uint16(r))
	}
	return samples * 4, nil
}

// clamp restricts a value to the range [min, max].
func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
