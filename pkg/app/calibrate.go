package app

import (
	"fmt"

	ebitenaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/spf13/cobra"

	"github.com/notefall/notefall/pkg/audio"
	"github.com/notefall/notefall/pkg/game"
	"github.com/notefall/notefall/pkg/logger"
)

func init() {
	calibrateCmd.Flags().Float64Var(&cfg.BPM, "bpm", cfg.BPM, "metronome tempo")
	rootCmd.AddCommand(calibrateCmd)
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "measure your audio offset with a metronome",
	Long: `calibrate plays a steady metronome click. Tap Space along with it;
after enough taps the mean offset is printed. Pass that value to
--audio-offset when playing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return calibrate()
	},
}

func calibrate() error {
	log := logger.L()

	var audioCtx *audio.Context
	if cfg.Headless {
		audioCtx = audio.NewSilentContext(log)
	} else {
		ebCtx := ebitenaudio.CurrentContext()
		if ebCtx == nil {
			ebCtx = ebitenaudio.NewContext(audio.SampleRate)
		}
		audioCtx = audio.NewBeepContext(ebCtx, log)
	}
	defer audioCtx.Close()

	screen := game.NewCalibrationScreen(cfg.BPM, audioCtx, log)
	if err := screen.Run(); err != nil {
		return err
	}
	if mean, ok := screen.Result(); ok {
		fmt.Printf("mean audio offset: %.1f ms\n", mean)
	}
	return nil
}
