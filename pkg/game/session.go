// Package game wires a playable session together: the judgement engine, the
// background scheduler and the audio backend, driven by the Ebitengine frame
// loop. Presentation proper is out of scope; Draw only prints the session
// state so the loop stays observable during development.
package game

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/notefall/notefall/pkg/audio"
	"github.com/notefall/notefall/pkg/cli"
	"github.com/notefall/notefall/pkg/engine"
	"github.com/notefall/notefall/pkg/song"
)

const (
	screenWidth  = 640
	screenHeight = 480
)

// keyPitches maps the home row to one octave of white keys around middle C,
// the usual virtual-piano layout. Space is a pitch-agnostic tap for
// single-lane play.
var keyPitches = map[ebiten.Key]int{
	ebiten.KeyA: 60, // C4
	ebiten.KeyS: 62,
	ebiten.KeyD: 64,
	ebiten.KeyF: 65,
	ebiten.KeyG: 67,
	ebiten.KeyH: 69,
	ebiten.KeyJ: 71,
	ebiten.KeyK: 72, // C5
}

// Session is one interactive play-through of a song. It implements
// ebiten.Game.
type Session struct {
	judge     *engine.Judge
	scheduler *engine.Scheduler
	audio     *audio.Context
	songTitle string

	started  bool
	deadline time.Time
	timeout  time.Duration

	log *slog.Logger
}

// NewSession builds a session from the configuration and a decoded song.
// The audio context is owned by the caller.
func NewSession(cfg cli.Config, s *song.Song, programs map[uint8]uint8, audioCtx *audio.Context, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	chart, err := s.Chart(cfg.Difficulty, song.NoChannel)
	if err != nil {
		return nil, err
	}

	playerNotes := chart
	var backgroundNotes []song.Note
	if cfg.Channel != song.NoChannel && s.MultiChannel {
		playerNotes = song.NotesForChannel(chart, uint8(cfg.Channel))
		backgroundNotes = chart
	}
	if len(playerNotes) == 0 {
		return nil, fmt.Errorf("no notes to judge on channel %d", cfg.Channel)
	}

	audioCtx.ApplyPrograms(programs)

	judge := engine.NewJudge(playerNotes, engine.JudgeConfig{
		OverallDifficulty: cfg.OverallDifficulty,
		AudioOffsetMS:     cfg.AudioOffsetMS,
		Play:              audioCtx.PlayNote,
		Feedback:          audioCtx.FeedbackTone,
		Logger:            log,
	})
	scheduler := engine.NewScheduler(backgroundNotes, cfg.Channel, audioCtx.PlayNote, log)

	return &Session{
		judge:     judge,
		scheduler: scheduler,
		audio:     audioCtx,
		songTitle: s.Title,
		timeout:   cfg.Timeout,
		log:       log,
	}, nil
}

// Update advances the session one frame: it starts the clocks on the first
// frame, forwards key presses into the judge and handles pause toggling.
func (s *Session) Update() error {
	now := time.Now()

	if !s.started {
		s.started = true
		if s.timeout > 0 {
			s.deadline = now.Add(s.timeout)
		}
		s.judge.Start(now)
		s.scheduler.Start(now)
		s.log.Info("session started", "song", s.songTitle)
	}

	if s.timeout > 0 && now.After(s.deadline) {
		s.scheduler.Stop()
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		switch s.judge.GetState() {
		case engine.StateRunning:
			s.judge.Pause(now)
			s.scheduler.Pause()
		case engine.StatePaused:
			s.judge.Resume(time.Now())
			s.scheduler.Resume()
		}
	}

	s.judge.Update(now)

	for key, pitch := range keyPitches {
		if inpututil.IsKeyJustPressed(key) {
			s.judge.HandleInput(time.Now(), pitch)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		s.judge.HandleInput(time.Now(), engine.AnyPitch)
	}

	if s.judge.GetState() == engine.StateComplete {
		s.scheduler.Stop()
		stats := s.judge.GetStats()
		s.log.Info("session complete",
			"score", stats.Score, "maxCombo", stats.MaxCombo, "accuracy", stats.Accuracy)
		return ebiten.Termination
	}
	return nil
}

// Draw prints the live session state. The real UI is an external
// collaborator.
func (s *Session) Draw(screen *ebiten.Image) {
	stats := s.judge.GetStats()
	ebitenutil.DebugPrint(screen, fmt.Sprintf(
		"%s  [%s]\nscore %d  combo %d (max %d)\naccuracy %.2f%%  judged %d/%d\nperfect %d  great %d  good %d  miss %d",
		s.songTitle, s.judge.GetState(),
		stats.Score, stats.Combo, stats.MaxCombo,
		stats.Accuracy, stats.Judged, stats.Total,
		stats.Perfect, stats.Great, stats.Good, stats.Miss))
}

// Layout implements ebiten.Game.
func (s *Session) Layout(_, _ int) (int, int) {
	return screenWidth, screenHeight
}

// Run drives the session with the Ebitengine game loop until completion.
func (s *Session) Run() error {
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("notefall - " + s.songTitle)
	if err := ebiten.RunGame(s); err != nil && err != ebiten.Termination {
		return err
	}
	return nil
}

// RunHeadless drives the session without a window at roughly frame rate,
// judging nothing but letting misses and the background arrangement play
// out. Used by automated runs.
func (s *Session) RunHeadless() error {
	now := time.Now()
	s.started = true
	if s.timeout > 0 {
		s.deadline = now.Add(s.timeout)
	}
	s.judge.Start(now)
	s.scheduler.Start(now)
	defer s.scheduler.Stop()

	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	for t := range ticker.C {
		s.judge.Update(t)
		if s.judge.GetState() == engine.StateComplete {
			return nil
		}
		if s.timeout > 0 && t.After(s.deadline) {
			return nil
		}
	}
	return nil
}
