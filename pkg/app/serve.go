package app

import (
	"github.com/spf13/cobra"

	"github.com/notefall/notefall/pkg/logger"
	"github.com/notefall/notefall/pkg/server"
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve <file.mid>",
	Short: "serve a MIDI file for inspection over HTTP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.MIDIPath = args[0]
		f, s, err := loadSong(cfg.MIDIPath)
		if err != nil {
			return err
		}
		return server.New(f, s, logger.L()).Serve(serveAddr)
	},
}
