package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// pitchFrequency converts a MIDI note number to its equal-temperament
// frequency in Hz (A4 = note 69 = 440 Hz).
func pitchFrequency(pitch uint8) float64 {
	return 440.0 * math.Pow(2, (float64(pitch)-69.0)/12.0)
}

// tonePCM synthesizes a sine beep as interleaved 16-bit stereo PCM with a
// short linear attack and release so the tone does not click.
func tonePCM(freq float64, dur time.Duration, volume float64) []byte {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}

	samples := int(dur.Seconds() * SampleRate)
	if samples <= 0 {
		return nil
	}
	ramp := samples / 8
	if ramp < 1 {
		ramp = 1
	}

	pcm := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / SampleRate) * volume
		if i < ramp {
			v *= float64(i) / float64(ramp)
		}
		if tail := samples - i; tail < ramp {
			v *= float64(tail) / float64(ramp)
		}
		s := int16(v * 32767)
		binary.LittleEndian.PutUint16(pcm[i*4:], uint16(s))
		binary.LittleEndian.PutUint16(pcm[i*4+2:], uint16(s))
	}
	return pcm
}
