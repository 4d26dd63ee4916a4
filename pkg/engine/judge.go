// Package engine implements the real-time rhythm core: the judgement engine
// that matches player input against scheduled notes, the background
// instrument scheduler that replays the non-judged channels, and the audio
// offset calibrator.
//
// All three convert between a monotonic frame clock and the decoded score's
// absolute note times; none of them share mutable state with each other, the
// only common input is the immutable song.
package engine

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/notefall/notefall/pkg/song"
)

// State is the judgement engine lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Tier is an accuracy classification for one judged note.
type Tier string

const (
	TierPerfect Tier = "perfect"
	TierGreat   Tier = "great"
	TierGood    Tier = "good"
	TierMiss    Tier = "miss"
)

// Points awarded per tier before the combo multiplier.
const (
	pointsPerfect = 300
	pointsGreat   = 150
	pointsGood    = 50

	// maxComboMultiplier caps the stepped combo multiplier.
	maxComboMultiplier = 4
)

// AnyPitch disables the pitch filter in HandleInput so any pending note is
// eligible, which is how single-lane input devices play.
const AnyPitch = -1

// PlayNoteFunc triggers playback of one note through the external audio
// backend. It reports whether playback was actually triggered. All arguments
// are value data, so the callback is safe to invoke concurrently from the
// judgement engine and the background scheduler.
type PlayNoteFunc func(pitch, velocity uint8, duration float64, channel uint8) bool

// FeedbackFunc produces a minimal synthesized feedback tone when the
// playback callback fails. Implementations must not panic; the engine
// recovers and degrades to silence regardless.
type FeedbackFunc func(pitch uint8)

// GameNote is a scheduled note plus its mutable judgement state. Lifecycle
// is Pending, then exactly one of Hit or Missed; terminal states never
// transition further.
type GameNote struct {
	song.Note

	Hit    bool
	Missed bool
	// TimeToHit is the signed time in seconds until the note should be hit,
	// recomputed on every Update. Negative once the note time has passed.
	TimeToHit float64
}

// Pending reports whether the note has not been judged yet.
func (n *GameNote) Pending() bool { return !n.Hit && !n.Missed }

// JudgeConfig configures a judgement engine for one session.
type JudgeConfig struct {
	// OverallDifficulty scales the hit windows, range [1, 10], default 5.
	OverallDifficulty float64
	// AudioOffsetMS is the signed latency correction in milliseconds applied
	// to every note time (positive shifts notes later).
	AudioOffsetMS float64
	// Play is the external playback callback. May be nil in silent sessions.
	Play PlayNoteFunc
	// Feedback is the fallback tone for failed playback. May be nil.
	Feedback FeedbackFunc
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Stats is a snapshot of the engine's scoring state.
type Stats struct {
	Score    int
	Combo    int
	MaxCombo int

	Perfect int
	Great   int
	Good    int
	Miss    int

	// Accuracy is the weighted tier percentage over judged notes, 0-100.
	Accuracy float64
	// Judged counts notes that reached a terminal state.
	Judged int
	// Total counts all notes in the session.
	Total int
}

// Judge matches player input to scheduled notes under adaptive timing
// windows and keeps score, combo and accuracy. It exclusively owns its
// GameNote set; the notes are created once per session and only marked,
// never removed.
type Judge struct {
	mu sync.Mutex

	notes   []*GameNote
	pending int
	state   State

	origin      time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	windows     TimingWindows
	audioOffset float64 // seconds

	stats   Stats
	history []float64 // signed offsets in ms, positive = late

	play     PlayNoteFunc
	feedback FeedbackFunc
	log      *slog.Logger
}

// NewJudge creates a judgement engine over the given chart. The notes are
// copied into fresh GameNote state; the input slice is not retained.
func NewJudge(notes []song.Note, cfg JudgeConfig) *Judge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	j := &Judge{
		state:       StateIdle,
		windows:     Windows(cfg.OverallDifficulty),
		audioOffset: cfg.AudioOffsetMS / 1000.0,
		play:        cfg.Play,
		feedback:    cfg.Feedback,
		log:         cfg.Logger,
	}
	j.notes = make([]*GameNote, len(notes))
	for i, n := range notes {
		j.notes[i] = &GameNote{Note: n, TimeToHit: n.Time}
	}
	j.pending = len(notes)
	j.stats.Total = len(notes)
	return j
}

// Start records the monotonic origin timestamp and transitions to Running.
// Starting an already started engine is a no-op.
func (j *Judge) Start(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateIdle {
		return
	}
	j.origin = now
	j.state = StateRunning
}

// Pause freezes game time. Only valid while Running.
func (j *Judge) Pause(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateRunning {
		return
	}
	j.pausedAt = now
	j.state = StatePaused
}

// Resume continues a paused session; the paused span is excluded from game
// time so note timings are unaffected.
func (j *Judge) Resume(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StatePaused {
		return
	}
	j.pausedTotal += now.Sub(j.pausedAt)
	j.state = StateRunning
}

// gameTime converts a frame timestamp to seconds of game time.
// Caller must hold j.mu.
func (j *Judge) gameTime(now time.Time) float64 {
	return (now.Sub(j.origin) - j.pausedTotal).Seconds()
}

// Update recomputes TimeToHit for every pending note and marks notes missed
// once they fall beyond the miss guard. Missing a note resets the combo and
// counts a miss; it never alters score already earned. The engine becomes
// Complete when no pending notes remain.
func (j *Judge) Update(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != StateRunning {
		return
	}

	gt := j.gameTime(now)
	for _, n := range j.notes {
		if !n.Pending() {
			continue
		}
		n.TimeToHit = (n.Time + j.audioOffset) - gt
		if n.TimeToHit < -missWindowMS/1000.0 {
			n.Missed = true
			j.pending--
			j.stats.Miss++
			j.stats.Combo = 0
			j.stats.Judged++
			j.recomputeAccuracy()
		}
	}

	if j.pending == 0 {
		j.state = StateComplete
	}
}

// HandleInput judges one player input. targetPitch restricts matching to a
// single pitch; pass AnyPitch to consider every pending note. The closest
// pending note within the good window is judged, ties broken by earliest
// note time. Input with no eligible note is a ghost tap and has no effect.
// Returns the tier and true when a note was judged.
func (j *Judge) HandleInput(now time.Time, targetPitch int) (Tier, bool) {
	j.mu.Lock()

	if j.state != StateRunning {
		j.mu.Unlock()
		return TierMiss, false
	}

	gt := j.gameTime(now)
	goodSec := j.windows.GoodMS / 1000.0

	// Single linear scan: closestDistance strictly decreases on improvement,
	// so the first of two equidistant notes (earlier time, ascending order)
	// wins.
	var best *GameNote
	closest := math.Inf(1)
	for _, n := range j.notes {
		if !n.Pending() {
			continue
		}
		if targetPitch != AnyPitch && int(n.Pitch) != targetPitch {
			continue
		}
		dist := math.Abs(gt - (n.Time + j.audioOffset))
		if dist <= goodSec && dist < closest {
			closest = dist
			best = n
		}
	}
	if best == nil {
		j.mu.Unlock()
		return TierMiss, false
	}

	best.Hit = true
	j.pending--

	offsetMS := (gt - (best.Time + j.audioOffset)) * 1000.0
	j.history = append(j.history, offsetMS)

	tier := j.windows.Classify(math.Abs(offsetMS))
	points := 0
	switch tier {
	case TierPerfect:
		j.stats.Perfect++
		points = pointsPerfect
	case TierGreat:
		j.stats.Great++
		points = pointsGreat
	case TierGood:
		j.stats.Good++
		points = pointsGood
	}

	j.stats.Combo++
	if j.stats.Combo > j.stats.MaxCombo {
		j.stats.MaxCombo = j.stats.Combo
	}
	multiplier := j.stats.Combo/10 + 1
	if multiplier > maxComboMultiplier {
		multiplier = maxComboMultiplier
	}
	j.stats.Score += points * multiplier
	j.stats.Judged++
	j.recomputeAccuracy()

	if j.pending == 0 {
		j.state = StateComplete
	}

	pitch, velocity, duration, channel := best.Pitch, best.Velocity, best.Duration, best.Channel
	j.mu.Unlock()

	j.playNote(pitch, velocity, duration, channel)
	return tier, true
}

// playNote fires the playback callback and degrades to the fallback tone
// when it reports failure. Never returns an error to the caller; the worst
// case is silence plus a log line.
func (j *Judge) playNote(pitch, velocity uint8, duration float64, channel uint8) {
	defer func() {
		if r := recover(); r != nil {
			j.log.Warn("note playback panicked, degrading to silence", "pitch", pitch, "panic", r)
		}
	}()

	if j.play != nil && j.play(pitch, velocity, duration, channel) {
		return
	}
	j.log.Warn("playback callback failed, using fallback tone", "pitch", pitch, "channel", channel)
	if j.feedback != nil {
		j.feedback(pitch)
	}
}

// recomputeAccuracy derives accuracy from the tier counts rather than
// averaging incrementally, avoiding floating drift over long sessions.
// Caller must hold j.mu.
func (j *Judge) recomputeAccuracy() {
	if j.stats.Judged == 0 {
		j.stats.Accuracy = 0
		return
	}
	weighted := j.stats.Perfect*100 + j.stats.Great*80 + j.stats.Good*50
	j.stats.Accuracy = float64(weighted) / float64(j.stats.Judged*100) * 100.0
}

// GetState returns the current engine state.
func (j *Judge) GetState() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// GetStats returns a snapshot of the scoring state.
func (j *Judge) GetStats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// GetWindows returns the active timing windows.
func (j *Judge) GetWindows() TimingWindows {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.windows
}

// TimingHistory returns a copy of the signed hit offsets in milliseconds,
// positive meaning the player was late.
func (j *Judge) TimingHistory() []float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]float64, len(j.history))
	copy(out, j.history)
	return out
}

// Notes returns the engine's game notes. The slice is shared; callers must
// treat it as read-only and accept judgement state changing between frames.
func (j *Judge) Notes() []*GameNote {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.notes
}
