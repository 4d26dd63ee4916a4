package app

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/notefall/notefall/pkg/song"
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectNotes, "notes", false, "include the full note list")
	rootCmd.AddCommand(inspectCmd)
}

var inspectNotes bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.mid>",
	Short: "print a summary of a MIDI file as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.MIDIPath = args[0]
		return inspect()
	},
}

type inspection struct {
	Title           string               `json:"title"`
	Format          int                  `json:"format"`
	Tracks          int                  `json:"tracks"`
	TicksPerQuarter int                  `json:"ticksPerQuarter"`
	BPM             float64              `json:"bpm"`
	TotalNotes      int                  `json:"totalNotes"`
	Duration        float64              `json:"duration"`
	MultiChannel    bool                 `json:"multiChannel"`
	Channels        []uint8              `json:"channels"`
	Programs        map[uint8]uint8      `json:"programs"`
	TempoChanges    []song.TempoChange   `json:"tempoChanges,omitempty"`
	TimeSignatures  []song.TimeSignature `json:"timeSignatures,omitempty"`
	Notes           []song.Note          `json:"notes,omitempty"`
}

func inspect() error {
	f, s, err := loadSong(cfg.MIDIPath)
	if err != nil {
		return err
	}
	notes, err := s.Chart(cfg.Difficulty, cfg.Channel)
	if err != nil {
		return err
	}

	out := inspection{
		Title:           s.Title,
		Format:          f.Format,
		Tracks:          f.TrackCount,
		TicksPerQuarter: f.TicksPerQuarter,
		BPM:             s.BPM,
		TotalNotes:      f.TotalNotes,
		Duration:        f.TotalDuration,
		MultiChannel:    s.MultiChannel,
		Channels:        song.Channels(notes),
		Programs:        f.Programs,
		TempoChanges:    s.TempoChanges,
		TimeSignatures:  s.TimeSignatures,
	}
	if inspectNotes {
		out.Notes = notes
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
