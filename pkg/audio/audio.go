// Package audio implements the playback backend behind the engine's
// playback callback: a SoundFont software synthesizer streamed through
// Ebitengine audio, plus the minimal synthesized tones used for playback
// fallback and the calibration metronome.
//
// The Context is an explicitly constructed object owned by the session and
// passed by reference, never ambient state, so the judgement engine and the
// background scheduler stay independently testable.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	ebitenaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/sinshu/go-meltysynth/meltysynth"
)

// SampleRate is the audio sample rate used for synthesis.
const SampleRate = 44100

// ErrNoSoundFont is returned when no SoundFont file is provided.
var ErrNoSoundFont = errors.New("SoundFont file is required for note playback")

// ErrSoundFontNotFound is returned when the SoundFont file cannot be found.
var ErrSoundFontNotFound = errors.New("SoundFont file not found")

// Context owns the audio output for one session: an Ebitengine audio context
// and a meltysynth synthesizer rendered through a live stream. A nil-synth
// Context (see NewSilentContext) is valid and reports playback failure,
// which is how headless runs stay silent.
type Context struct {
	mu sync.Mutex

	audioCtx *ebitenaudio.Context
	synth    *meltysynth.Synthesizer
	stream   *synthStream
	player   *ebitenaudio.Player

	// releases tracks pending NoteOff timers so Close can cancel them.
	releases map[*time.Timer]struct{}

	log    *slog.Logger
	closed bool
}

// NewContext loads the SoundFont, builds the synthesizer and starts the
// output stream. audioCtx may be nil, in which case one is created.
func NewContext(soundFontPath string, audioCtx *ebitenaudio.Context, log *slog.Logger) (*Context, error) {
	if log == nil {
		log = slog.Default()
	}
	if soundFontPath == "" {
		return nil, ErrNoSoundFont
	}

	sf2Data, err := os.ReadFile(soundFontPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, soundFontPath)
		}
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}

	soundFont, err := meltysynth.NewSoundFont(bytes.NewReader(sf2Data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont: %w", err)
	}

	if audioCtx == nil {
		audioCtx = ebitenaudio.NewContext(SampleRate)
	}

	settings := meltysynth.NewSynthesizerSettings(SampleRate)
	synth, err := meltysynth.NewSynthesizer(soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	c := &Context{
		audioCtx: audioCtx,
		synth:    synth,
		releases: make(map[*time.Timer]struct{}),
		log:      log,
	}
	c.stream = &synthStream{ctx: c}

	player, err := audioCtx.NewPlayer(c.stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio player: %w", err)
	}
	c.player = player
	player.Play()

	return c, nil
}

// NewSilentContext returns a Context with no audio backend. PlayNote always
// reports false and the tone helpers are no-ops, which exercises the
// engine's fallback paths in headless runs and tests.
func NewSilentContext(log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{
		releases: make(map[*time.Timer]struct{}),
		log:      log,
	}
}

// NewBeepContext returns a Context without a synthesizer but with tone
// output, enough for the calibration metronome. audioCtx may be nil, in
// which case one is created.
func NewBeepContext(audioCtx *ebitenaudio.Context, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	if audioCtx == nil {
		audioCtx = ebitenaudio.NewContext(SampleRate)
	}
	return &Context{
		audioCtx: audioCtx,
		releases: make(map[*time.Timer]struct{}),
		log:      log,
	}
}

// ApplyPrograms routes each channel to its decoded instrument program so the
// background channels sound multitimbral.
func (c *Context) ApplyPrograms(programs map[uint8]uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.synth == nil {
		return
	}
	for ch, prog := range programs {
		c.synth.ProcessMidiMessage(int32(ch), 0xC0, int32(prog), 0)
	}
}

// PlayNote triggers one note and schedules its release after duration
// seconds. It implements the engine's playback callback contract and is safe
// to call concurrently from the judgement engine and the background
// scheduler. Returns false when no synthesizer is available.
func (c *Context) PlayNote(pitch, velocity uint8, duration float64, channel uint8) bool {
	c.mu.Lock()
	if c.synth == nil || c.closed {
		c.mu.Unlock()
		return false
	}
	c.synth.NoteOn(int32(channel), int32(pitch), int32(velocity))

	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(duration*float64(time.Second)), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.releases, timer)
		if c.synth != nil && !c.closed {
			c.synth.NoteOff(int32(channel), int32(pitch))
		}
	})
	c.releases[timer] = struct{}{}
	c.mu.Unlock()
	return true
}

// render fills the stereo buffers from the synthesizer. Called from the
// audio stream's Read.
func (c *Context) render(left, right []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.synth == nil || c.closed {
		return
	}
	c.synth.Render(left, right)
}

// FeedbackTone plays a short synthesized beep at the note's pitch. It is the
// fallback for failed playback and degrades to silence when no audio output
// exists; it never fails.
func (c *Context) FeedbackTone(pitch uint8) {
	c.playBeep(pitchFrequency(pitch), 80*time.Millisecond, 0.25)
}

// MetronomeTick plays the calibration metronome click.
func (c *Context) MetronomeTick() {
	c.playBeep(880, 40*time.Millisecond, 0.4)
}

func (c *Context) playBeep(freq float64, dur time.Duration, volume float64) {
	c.mu.Lock()
	audioCtx := c.audioCtx
	closed := c.closed
	c.mu.Unlock()

	if audioCtx == nil || closed {
		return
	}
	player := audioCtx.NewPlayerFromBytes(tonePCM(freq, dur, volume))
	player.Play()
}

// Close stops the output stream and cancels pending note releases.
// Idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for timer := range c.releases {
		timer.Stop()
	}
	c.releases = make(map[*time.Timer]struct{})
	player := c.player
	c.player = nil
	c.mu.Unlock()

	if player != nil {
		if err := player.Close(); err != nil {
			c.log.Warn("closing audio player", "error", err)
		}
	}
}
