package app

import (
	"log/slog"

	ebitenaudio "github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/spf13/cobra"

	"github.com/notefall/notefall/pkg/audio"
	"github.com/notefall/notefall/pkg/game"
	"github.com/notefall/notefall/pkg/logger"
)

func init() {
	rootCmd.AddCommand(playCmd)
}

var playCmd = &cobra.Command{
	Use:   "play <file.mid>",
	Short: "play a MIDI file as a rhythm game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.MIDIPath = args[0]
		return play()
	},
}

func play() error {
	log := logger.L()

	f, s, err := loadSong(cfg.MIDIPath)
	if err != nil {
		return err
	}
	log.Info("song loaded",
		"title", s.Title, "notes", f.TotalNotes, "tracks", f.TrackCount,
		"bpm", s.BPM, "multiChannel", s.MultiChannel)

	audioCtx, err := openAudio(log)
	if err != nil {
		return err
	}
	defer audioCtx.Close()

	session, err := game.NewSession(cfg, s, f.Programs, audioCtx, log)
	if err != nil {
		return err
	}
	if cfg.Headless {
		return session.RunHeadless()
	}
	return session.Run()
}

// openAudio builds the audio backend, falling back to silence when headless
// or when no SoundFont can be found.
func openAudio(log *slog.Logger) (*audio.Context, error) {
	if cfg.Headless {
		return audio.NewSilentContext(log), nil
	}
	sfPath := findSoundFont(cfg.SoundFontPath, cfg.MIDIPath)
	if sfPath == "" {
		log.Warn("no SoundFont found, playing silent")
		return audio.NewSilentContext(log), nil
	}
	ebCtx := ebitenaudio.CurrentContext()
	if ebCtx == nil {
		ebCtx = ebitenaudio.NewContext(audio.SampleRate)
	}
	return audio.NewContext(sfPath, ebCtx, log)
}
