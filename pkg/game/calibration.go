package game

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/notefall/notefall/pkg/audio"
	"github.com/notefall/notefall/pkg/engine"
)

// CalibrationScreen runs the audio-offset calibration flow: a metronome
// clicks, the player taps Space along with it, and the measured mean offset
// is reported when enough taps land. It implements ebiten.Game.
type CalibrationScreen struct {
	calibrator *engine.Calibrator
	audio      *audio.Context

	started bool
	result  float64
	done    bool

	log *slog.Logger
}

// NewCalibrationScreen builds the calibration flow at the given metronome
// tempo. Pass 0 for the default tempo.
func NewCalibrationScreen(bpm float64, audioCtx *audio.Context, log *slog.Logger) *CalibrationScreen {
	if log == nil {
		log = slog.Default()
	}
	cs := &CalibrationScreen{audio: audioCtx, log: log}
	cs.calibrator = engine.NewCalibrator(engine.CalibratorConfig{
		BPM:    bpm,
		OnTick: func(int) { audioCtx.MetronomeTick() },
		OnComplete: func(meanMS float64) {
			cs.result = meanMS
			cs.done = true
			log.Info("calibration complete", "meanOffsetMS", meanMS)
		},
		Logger: log,
	})
	return cs
}

// Update starts the metronome on the first frame and records Space taps.
func (cs *CalibrationScreen) Update() error {
	if !cs.started {
		cs.started = true
		cs.calibrator.Start(time.Now())
	}
	if cs.done {
		cs.calibrator.Stop()
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		cs.calibrator.Stop()
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		if hit, ok := cs.calibrator.Tap(time.Now()); ok {
			cs.log.Debug("calibration tap", "beat", hit.Beat, "offsetMS", hit.OffsetMS)
		}
	}
	return nil
}

func (cs *CalibrationScreen) Draw(screen *ebiten.Image) {
	hits := cs.calibrator.Hits()
	msg := fmt.Sprintf("tap Space on the click\nhits %d\nmean offset %.1f ms",
		len(hits), cs.calibrator.MeanOffsetMS())
	if cs.done {
		msg = fmt.Sprintf("done: mean offset %.1f ms\npass --audio-offset=%.0f next time", cs.result, cs.result)
	}
	ebitenutil.DebugPrint(screen, msg)
}

func (cs *CalibrationScreen) Layout(_, _ int) (int, int) {
	return screenWidth, screenHeight
}

// Result reports the measured mean offset in milliseconds and whether
// calibration finished.
func (cs *CalibrationScreen) Result() (float64, bool) {
	return cs.result, cs.done
}

// Run drives the calibration flow in its own window.
func (cs *CalibrationScreen) Run() error {
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("notefall - calibration")
	if err := ebiten.RunGame(cs); err != nil && err != ebiten.Termination {
		return err
	}
	return nil
}
