// Package app is the command surface of notefall. Each subcommand wires the
// shared configuration into the packages that do the actual work.
package app

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/notefall/notefall/pkg/cli"
	"github.com/notefall/notefall/pkg/logger"
)

var cfg = cli.Default()

var rootCmd = &cobra.Command{
	Use:   "notefall",
	Short: "play MIDI files as a rhythm game",
	Long:  `notefall decodes Standard MIDI Files and turns them into playable rhythm-game charts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg.ApplyEnv()
		if err := logger.Init(cfg.LogLevel, os.Stderr); err != nil {
			return err
		}
		return cfg.Validate()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.Float64Var(&cfg.AudioOffsetMS, "audio-offset", cfg.AudioOffsetMS, "audio offset in milliseconds, from calibration")
	pf.Float64Var(&cfg.OverallDifficulty, "od", cfg.OverallDifficulty, "overall difficulty 1..10, scales timing windows")
	pf.StringVar((*string)(&cfg.Difficulty), "difficulty", string(cfg.Difficulty), "chart difficulty (easy, medium, hard)")
	pf.IntVar(&cfg.Channel, "channel", cfg.Channel, "MIDI channel to judge, -1 for all")
	pf.StringVar(&cfg.SoundFontPath, "soundfont", cfg.SoundFontPath, "path to an SF2 SoundFont")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "stop the session after this duration, 0 for none")
	pf.BoolVar(&cfg.Headless, "headless", cfg.Headless, "run without a window or audio")
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
