package smf

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: a variable-length quantity round trips through encode and
// decode for the full 28-bit range the format allows.
func TestVarLenRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("encode then read returns the original value", prop.ForAll(
		func(v int) bool {
			tp := &trackParser{data: encodeVarLen(v)}
			got, err := tp.readVarLen()
			return err == nil && got == v && tp.pos == len(tp.data)
		},
		gen.IntRange(0, 0x0FFFFFFF),
	))

	properties.TestingRun(t)
}

// Property: decoding a generated well-formed track recovers every written
// note, in non-decreasing time order, each with positive duration.
func TestDecodeRecoversAllNotesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Each seed expands to one note: pitch, velocity, delta gap and length
	// in ticks. Notes are written strictly sequentially so on/off pairs
	// never interleave.
	properties.Property("every note survives a decode round trip", prop.ForAll(
		func(seeds []int64) bool {
			var track bytes.Buffer
			type expected struct {
				pitch    uint8
				velocity uint8
			}
			var want []expected
			for _, seed := range seeds {
				pitch := uint8(seed % 128)
				velocity := uint8((seed>>7)%127) + 1
				gap := int((seed >> 14) % 2000)
				length := int((seed>>25)%2000) + 1

				track.Write(encodeVarLen(gap))
				track.Write([]byte{0x90, pitch, velocity})
				track.Write(encodeVarLen(length))
				track.Write([]byte{0x80, pitch, 0})
				want = append(want, expected{pitch, velocity})
			}
			track.Write(endOfTrack())

			f, err := Decode(buildFile(480, track.Bytes()))
			if err != nil {
				return false
			}
			if f.TotalNotes != len(want) {
				return false
			}

			decoded := f.Tracks[0].Notes
			lastTime := -1.0
			for _, n := range decoded {
				if n.Time < lastTime || n.Duration <= 0 {
					return false
				}
				lastTime = n.Time
			}
			counts := make(map[expected]int)
			for _, w := range want {
				counts[w]++
			}
			for _, n := range decoded {
				counts[expected{n.Pitch, n.Velocity}]--
			}
			for _, c := range counts {
				if c != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 1<<40)),
	))

	properties.TestingRun(t)
}
