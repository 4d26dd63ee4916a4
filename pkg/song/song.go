// Package song defines the immutable song data model shared by the decoder,
// the judgement engine and the background scheduler. A Song describes a piece
// of music as ordered note lists per difficulty tier; the engines never
// mutate it, they derive their own per-session state from it.
package song

import (
	"fmt"
	"sort"
)

// Difficulty selects one of the charts a Song carries.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// NoChannel indicates that no single channel has been selected and the whole
// chart should be used as-is.
const NoChannel = -1

// Note is a single scheduled note. Times and durations are in seconds,
// resolved against the tempo map at decode time. Within a chart, notes are
// sorted ascending by Time and Duration is always positive.
type Note struct {
	// Time is the note-on time in seconds from the start of the piece.
	Time float64 `json:"time"`
	// Pitch is the MIDI note number (0-127).
	Pitch uint8 `json:"pitch"`
	// Duration is the sounding length in seconds. Always > 0.
	Duration float64 `json:"duration"`
	// Velocity is the MIDI velocity (0-127).
	Velocity uint8 `json:"velocity"`
	// Channel is the MIDI channel (0-15).
	Channel uint8 `json:"channel"`
}

// TempoChange records a tempo meta-event. Used for duration and display; the
// engines operate on absolute note times and never consult it directly.
type TempoChange struct {
	// Time is the position of the change in seconds.
	Time float64 `json:"time"`
	// MicrosPerQuarter is the new tempo in microseconds per quarter note
	// (500000 = 120 BPM).
	MicrosPerQuarter int `json:"microsPerQuarter"`
}

// BPM returns the tempo in beats per minute.
func (tc TempoChange) BPM() float64 {
	if tc.MicrosPerQuarter <= 0 {
		return 0
	}
	return 60000000.0 / float64(tc.MicrosPerQuarter)
}

// TimeSignature records a time-signature meta-event.
type TimeSignature struct {
	Time        float64 `json:"time"`
	Numerator   int     `json:"numerator"`
	Denominator int     `json:"denominator"`
}

// Song is an immutable description of a piece. MIDI-derived songs publish the
// same decoded note list under every difficulty tier; hand-authored songs may
// carry distinct charts per tier.
type Song struct {
	Title  string
	Artist string
	BPM    float64

	// Charts maps each difficulty tier to its ordered note list.
	Charts map[Difficulty][]Note

	// MultiChannel reports whether the piece spreads notes across more than
	// one MIDI channel, which enables channel selection and background
	// instruments.
	MultiChannel bool

	TempoChanges   []TempoChange
	TimeSignatures []TimeSignature
}

// Chart returns the note list for the given difficulty, optionally filtered
// to a single channel. Pass NoChannel to keep every channel. The returned
// slice is freshly allocated when filtering; callers own it.
func (s *Song) Chart(d Difficulty, channel int) ([]Note, error) {
	notes, ok := s.Charts[d]
	if !ok {
		return nil, fmt.Errorf("song %q has no %s chart", s.Title, d)
	}
	if channel == NoChannel || !s.MultiChannel {
		return notes, nil
	}
	return NotesForChannel(notes, uint8(channel)), nil
}

// Duration returns the end time of the latest note across all charts.
func (s *Song) Duration() float64 {
	var end float64
	for _, notes := range s.Charts {
		for _, n := range notes {
			if t := n.Time + n.Duration; t > end {
				end = t
			}
		}
	}
	return end
}

// NotesInTimeRange returns the notes whose Time lies in [from, to).
// Notes must be sorted by Time, which every decoded chart guarantees.
func NotesInTimeRange(notes []Note, from, to float64) []Note {
	lo := sort.Search(len(notes), func(i int) bool { return notes[i].Time >= from })
	hi := sort.Search(len(notes), func(i int) bool { return notes[i].Time >= to })
	out := make([]Note, hi-lo)
	copy(out, notes[lo:hi])
	return out
}

// NotesInPitchRange returns the notes whose Pitch lies in [low, high],
// preserving time order.
func NotesInPitchRange(notes []Note, low, high uint8) []Note {
	var out []Note
	for _, n := range notes {
		if n.Pitch >= low && n.Pitch <= high {
			out = append(out, n)
		}
	}
	return out
}

// NotesForChannel returns the notes on a single channel, preserving order.
func NotesForChannel(notes []Note, channel uint8) []Note {
	var out []Note
	for _, n := range notes {
		if n.Channel == channel {
			out = append(out, n)
		}
	}
	return out
}

// GroupByChannel splits notes into per-channel lists, skipping the excluded
// channel. Pass NoChannel to keep everything. Each list keeps its time order
// because the input is scanned in order.
func GroupByChannel(notes []Note, exclude int) map[uint8][]Note {
	groups := make(map[uint8][]Note)
	for _, n := range notes {
		if exclude != NoChannel && int(n.Channel) == exclude {
			continue
		}
		groups[n.Channel] = append(groups[n.Channel], n)
	}
	return groups
}

// Channels returns the sorted list of channels used by the notes.
func Channels(notes []Note) []uint8 {
	seen := make(map[uint8]bool)
	for _, n := range notes {
		seen[n.Channel] = true
	}
	out := make([]uint8, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
