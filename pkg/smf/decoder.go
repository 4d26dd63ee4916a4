// Package smf decodes Standard MIDI Files into the song data model.
//
// The decoder is a pure function over a byte buffer: it reconstructs tracks,
// channel program assignments, tempo and time-signature changes, and discrete
// notes with absolute times in seconds. It never returns a partially decoded
// file; any structural problem surfaces as ErrFormat or ErrTruncated.
package smf

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/notefall/notefall/pkg/song"
)

const (
	headerMagic = "MThd"
	trackMagic  = "MTrk"

	// defaultMicrosPerQuarter is assumed until the first tempo meta-event
	// (500000 us per quarter = 120 BPM).
	defaultMicrosPerQuarter = 500000

	// DefaultOpenNoteDuration closes notes left open at end of track. The
	// musical meaning of such notes is undefined, so this is a policy value;
	// override it via DecodeOptions.
	DefaultOpenNoteDuration = 0.1
)

// DecodeOptions tunes decoding policy.
type DecodeOptions struct {
	// OpenNoteDuration is the synthetic duration, in seconds, assigned to a
	// note whose Note-Off never arrives before end of track. Zero selects
	// DefaultOpenNoteDuration.
	OpenNoteDuration float64
}

// File is the decoded form of a Standard MIDI File.
type File struct {
	// Format is the SMF format (0, 1 or 2).
	Format int
	// TrackCount is the track count declared by the header.
	TrackCount int
	// TicksPerQuarter is the timing resolution from the header division
	// field. SMPTE divisions are rejected as unsupported.
	TicksPerQuarter int

	Tracks         []Track
	TempoChanges   []song.TempoChange
	TimeSignatures []song.TimeSignature

	// Programs maps channel to the last Program-Change value seen for it.
	Programs map[uint8]uint8

	// TotalNotes counts notes across all tracks.
	TotalNotes int
	// TotalDuration is the end time of the last note in seconds.
	TotalDuration float64
}

// Track holds the decoded notes of one MTrk chunk.
type Track struct {
	// Name is the track-name meta-event text, if present. Decoded as UTF-8
	// with a Shift-JIS fallback for files authored on Japanese sequencers.
	Name  string
	Notes []song.Note
}

// Song converts the decoded file to a Song. All tracks are merged into one
// time-sorted note list published under every difficulty tier; chart
// selection and channel filtering happen at session setup.
func (f *File) Song(title, artist string) *song.Song {
	var notes []song.Note
	for _, t := range f.Tracks {
		notes = append(notes, t.Notes...)
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Time < notes[j].Time })

	bpm := song.TempoChange{MicrosPerQuarter: defaultMicrosPerQuarter}.BPM()
	if len(f.TempoChanges) > 0 {
		bpm = f.TempoChanges[0].BPM()
	}

	return &song.Song{
		Title:          title,
		Artist:         artist,
		BPM:            bpm,
		Charts:         map[song.Difficulty][]song.Note{song.DifficultyEasy: notes, song.DifficultyMedium: notes, song.DifficultyHard: notes},
		MultiChannel:   len(song.Channels(notes)) > 1,
		TempoChanges:   f.TempoChanges,
		TimeSignatures: f.TimeSignatures,
	}
}

// Decode parses a Standard MIDI File with default options.
func Decode(data []byte) (*File, error) {
	return DecodeWithOptions(data, DecodeOptions{})
}

// tempoEvent is a tempo change positioned in ticks, before conversion to
// seconds.
type tempoEvent struct {
	tick   int
	micros int
}

// tickEvent is any decoded event still positioned in ticks.
type tickEvent struct {
	tick int
	note song.Note // Time/Duration filled later; tick fields below are live
	// offTick is the Note-Off tick, or -1 for notes closed synthetically at
	// end of track.
	offTick int
}

type timeSigEvent struct {
	tick        int
	numerator   int
	denominator int
}

// DecodeWithOptions parses a Standard MIDI File.
func DecodeWithOptions(data []byte, opts DecodeOptions) (*File, error) {
	if opts.OpenNoteDuration <= 0 {
		opts.OpenNoteDuration = DefaultOpenNoteDuration
	}

	if len(data) < 14 {
		return nil, fmt.Errorf("%w: header needs 14 bytes, have %d", ErrTruncated, len(data))
	}
	if string(data[0:4]) != headerMagic {
		return nil, fmt.Errorf("%w: bad header magic %q", ErrFormat, data[0:4])
	}
	headerLen := be32(data[4:8])
	if headerLen < 6 {
		return nil, fmt.Errorf("%w: header chunk length %d", ErrFormat, headerLen)
	}
	format := be16(data[8:10])
	trackCount := be16(data[10:12])
	division := be16(data[12:14])
	if division&0x8000 != 0 {
		return nil, fmt.Errorf("%w: SMPTE time division 0x%04x not supported", ErrFormat, division)
	}
	if division == 0 {
		return nil, fmt.Errorf("%w: zero ticks per quarter note", ErrFormat)
	}

	f := &File{
		Format:          format,
		TrackCount:      trackCount,
		TicksPerQuarter: division,
		Programs:        make(map[uint8]uint8),
	}

	// First pass over all tracks collects tick-positioned events; absolute
	// times are resolved against the merged tempo map afterwards, so a
	// format-1 tempo track applies to every other track.
	var tempos []tempoEvent
	var timeSigs []timeSigEvent
	type rawTrack struct {
		name   string
		events []tickEvent
	}
	var raws []rawTrack

	pos := 8 + headerLen
	for i := 0; i < trackCount; i++ {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("%w: track %d header past end of buffer", ErrTruncated, i)
		}
		if string(data[pos:pos+4]) != trackMagic {
			return nil, fmt.Errorf("%w: bad track magic %q at offset %d", ErrFormat, data[pos:pos+4], pos)
		}
		trackLen := be32(data[pos+4 : pos+8])
		body := pos + 8
		if body+trackLen > len(data) {
			return nil, fmt.Errorf("%w: track %d declares %d bytes, only %d remain", ErrTruncated, i, trackLen, len(data)-body)
		}

		tp := &trackParser{data: data[body : body+trackLen], track: i}
		if err := tp.run(); err != nil {
			return nil, err
		}
		tempos = append(tempos, tp.tempos...)
		timeSigs = append(timeSigs, tp.timeSigs...)
		// Program changes are channel-global regardless of which track
		// carried them, matching how a multitimbral synth applies them.
		for ch, prog := range tp.programs {
			f.Programs[ch] = prog
		}
		raws = append(raws, rawTrack{name: tp.name, events: tp.events})

		pos = body + trackLen
	}

	sort.SliceStable(tempos, func(a, b int) bool { return tempos[a].tick < tempos[b].tick })
	if len(tempos) == 0 || tempos[0].tick > 0 {
		tempos = append([]tempoEvent{{tick: 0, micros: defaultMicrosPerQuarter}}, tempos...)
	}
	tm := newTempoMap(division, tempos)

	for ti := range tempos {
		f.TempoChanges = append(f.TempoChanges, song.TempoChange{
			Time:             tm.seconds(tempos[ti].tick),
			MicrosPerQuarter: tempos[ti].micros,
		})
	}
	sort.SliceStable(timeSigs, func(a, b int) bool { return timeSigs[a].tick < timeSigs[b].tick })
	for _, ts := range timeSigs {
		f.TimeSignatures = append(f.TimeSignatures, song.TimeSignature{
			Time:        tm.seconds(ts.tick),
			Numerator:   ts.numerator,
			Denominator: ts.denominator,
		})
	}

	for _, rt := range raws {
		track := Track{Name: rt.name}
		for _, ev := range rt.events {
			n := ev.note
			n.Time = tm.seconds(ev.tick)
			if ev.offTick >= 0 {
				n.Duration = tm.seconds(ev.offTick) - n.Time
			}
			if n.Duration <= 0 {
				n.Duration = opts.OpenNoteDuration
			}
			track.Notes = append(track.Notes, n)
		}
		sort.SliceStable(track.Notes, func(a, b int) bool { return track.Notes[a].Time < track.Notes[b].Time })
		f.TotalNotes += len(track.Notes)
		for _, n := range track.Notes {
			if end := n.Time + n.Duration; end > f.TotalDuration {
				f.TotalDuration = end
			}
		}
		f.Tracks = append(f.Tracks, track)
	}

	return f, nil
}

// trackParser consumes one MTrk body, applying running status and matching
// Note-On to Note-Off per (pitch, channel) with a most-recent-open-note rule.
type trackParser struct {
	data  []byte
	track int

	pos        int
	tick       int
	lastStatus byte

	name     string
	events   []tickEvent
	tempos   []tempoEvent
	timeSigs []timeSigEvent
	programs map[uint8]uint8

	// open maps (pitch, channel) to indices into events of notes awaiting
	// their Note-Off, most recent last.
	open map[[2]uint8][]int
}

func (tp *trackParser) run() error {
	tp.open = make(map[[2]uint8][]int)
	tp.programs = make(map[uint8]uint8)

	for tp.pos < len(tp.data) {
		delta, err := tp.readVarLen()
		if err != nil {
			return err
		}
		tp.tick += delta

		status, err := tp.readStatus()
		if err != nil {
			return err
		}

		switch {
		case status == 0xFF:
			if err := tp.metaEvent(); err != nil {
				return err
			}
		case status == 0xF0 || status == 0xF7:
			// SysEx: skip by declared length, never interpreted.
			length, err := tp.readVarLen()
			if err != nil {
				return err
			}
			if err := tp.skip(length); err != nil {
				return err
			}
		default:
			if err := tp.channelEvent(status); err != nil {
				return err
			}
		}
	}

	tp.closeOpenNotes()
	return nil
}

// readStatus returns the status byte for the next event, reusing the running
// status when the next byte is a data byte (high bit clear).
func (tp *trackParser) readStatus() (byte, error) {
	if tp.pos >= len(tp.data) {
		return 0, fmt.Errorf("%w: track %d ends after delta time", ErrTruncated, tp.track)
	}
	b := tp.data[tp.pos]
	if b < 0x80 {
		if tp.lastStatus == 0 {
			return 0, fmt.Errorf("%w: data byte 0x%02x with no running status in track %d", ErrFormat, b, tp.track)
		}
		return tp.lastStatus, nil
	}
	tp.pos++
	if b < 0xF0 {
		tp.lastStatus = b
	}
	return b, nil
}

func (tp *trackParser) channelEvent(status byte) error {
	kind := status & 0xF0
	channel := status & 0x0F

	switch kind {
	case 0x80, 0x90: // Note-Off, Note-On
		pitch, err := tp.readByte()
		if err != nil {
			return err
		}
		velocity, err := tp.readByte()
		if err != nil {
			return err
		}
		// Note-On with velocity 0 is a Note-Off by convention.
		if kind == 0x90 && velocity > 0 {
			tp.noteOn(pitch&0x7F, velocity&0x7F, channel)
		} else {
			tp.noteOff(pitch&0x7F, channel)
		}
	case 0xC0: // Program Change
		prog, err := tp.readByte()
		if err != nil {
			return err
		}
		tp.programs[channel] = prog & 0x7F
	case 0xD0: // Channel Pressure: one data byte
		if err := tp.skip(1); err != nil {
			return err
		}
	default: // remaining channel messages carry two data bytes
		if err := tp.skip(2); err != nil {
			return err
		}
	}
	return nil
}

func (tp *trackParser) metaEvent() error {
	metaType, err := tp.readByte()
	if err != nil {
		return err
	}
	length, err := tp.readVarLen()
	if err != nil {
		return err
	}
	if tp.pos+length > len(tp.data) {
		return fmt.Errorf("%w: meta event 0x%02x declares %d bytes, only %d remain in track %d",
			ErrTruncated, metaType, length, len(tp.data)-tp.pos, tp.track)
	}
	payload := tp.data[tp.pos : tp.pos+length]
	tp.pos += length

	switch metaType {
	case 0x03: // track name
		tp.name = decodeMetaText(payload)
	case 0x51: // tempo
		if length == 3 {
			micros := int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
			tp.tempos = append(tp.tempos, tempoEvent{tick: tp.tick, micros: micros})
		}
	case 0x58: // time signature
		if length >= 2 {
			tp.timeSigs = append(tp.timeSigs, timeSigEvent{
				tick:        tp.tick,
				numerator:   int(payload[0]),
				denominator: 1 << payload[1],
			})
		}
	}
	return nil
}

func (tp *trackParser) noteOn(pitch, velocity, channel uint8) {
	key := [2]uint8{pitch, channel}
	// A second Note-On for an already-open pitch implicitly closes the prior
	// note at this tick.
	if stack := tp.open[key]; len(stack) > 0 {
		tp.closeAt(stack[len(stack)-1], tp.tick)
		tp.open[key] = stack[:len(stack)-1]
	}
	tp.events = append(tp.events, tickEvent{
		tick:    tp.tick,
		offTick: -1,
		note:    song.Note{Pitch: pitch, Velocity: velocity, Channel: channel},
	})
	tp.open[key] = append(tp.open[key], len(tp.events)-1)
}

func (tp *trackParser) noteOff(pitch, channel uint8) {
	key := [2]uint8{pitch, channel}
	stack := tp.open[key]
	if len(stack) == 0 {
		// Orphan Note-Off: nothing to close, ignore.
		return
	}
	tp.closeAt(stack[len(stack)-1], tp.tick)
	tp.open[key] = stack[:len(stack)-1]
}

func (tp *trackParser) closeAt(idx, offTick int) {
	tp.events[idx].offTick = offTick
}

// closeOpenNotes leaves unterminated notes with offTick -1; the caller
// assigns them the synthetic default duration after tick conversion.
func (tp *trackParser) closeOpenNotes() {
	tp.open = nil
}

func (tp *trackParser) readByte() (byte, error) {
	if tp.pos >= len(tp.data) {
		return 0, fmt.Errorf("%w: unexpected end of track %d", ErrTruncated, tp.track)
	}
	b := tp.data[tp.pos]
	tp.pos++
	return b, nil
}

func (tp *trackParser) skip(n int) error {
	if tp.pos+n > len(tp.data) {
		return fmt.Errorf("%w: event payload runs past end of track %d", ErrTruncated, tp.track)
	}
	tp.pos += n
	return nil
}

// readVarLen reads a variable-length quantity: 7 bits per byte, MSB set on
// every byte except the last, at most 4 bytes.
func (tp *trackParser) readVarLen() (int, error) {
	value := 0
	for i := 0; i < 4; i++ {
		if tp.pos >= len(tp.data) {
			return 0, fmt.Errorf("%w: variable-length quantity cut off in track %d", ErrTruncated, tp.track)
		}
		b := tp.data[tp.pos]
		tp.pos++
		value = value<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%w: variable-length quantity longer than 4 bytes in track %d", ErrFormat, tp.track)
}

// tempoMap converts absolute ticks to seconds, linear between tempo changes.
type tempoMap struct {
	ppq       int
	events    []tempoEvent
	secondsAt []float64
}

func newTempoMap(ppq int, events []tempoEvent) *tempoMap {
	tm := &tempoMap{ppq: ppq, events: events, secondsAt: make([]float64, len(events))}
	for i := 1; i < len(events); i++ {
		ticks := events[i].tick - events[i-1].tick
		secPerTick := float64(events[i-1].micros) / float64(ppq) / 1e6
		tm.secondsAt[i] = tm.secondsAt[i-1] + float64(ticks)*secPerTick
	}
	return tm
}

func (tm *tempoMap) seconds(tick int) float64 {
	idx := 0
	for i := len(tm.events) - 1; i >= 0; i-- {
		if tick >= tm.events[i].tick {
			idx = i
			break
		}
	}
	secPerTick := float64(tm.events[idx].micros) / float64(tm.ppq) / 1e6
	return tm.secondsAt[idx] + float64(tick-tm.events[idx].tick)*secPerTick
}

// decodeMetaText interprets meta-event text as UTF-8, falling back to
// Shift-JIS for files authored on Japanese sequencers.
func decodeMetaText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), payload)
	if err != nil {
		return string(payload)
	}
	return string(decoded)
}

func be16(b []byte) int { return int(b[0])<<8 | int(b[1]) }

func be32(b []byte) int {
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
}
