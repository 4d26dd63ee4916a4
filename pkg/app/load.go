package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/notefall/notefall/pkg/smf"
	"github.com/notefall/notefall/pkg/song"
)

// DefaultSoundFontName is the SoundFont filename to search for when none is
// configured.
const DefaultSoundFontName = "GeneralUser-GS.sf2"

// loadSong reads and decodes a Standard MIDI File and derives the playable
// song from it.
func loadSong(path string) (*smf.File, *song.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	f, err := smf.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	title := filepath.Base(path)
	s := f.Song(title, "")
	return f, s, nil
}

// findSoundFont resolves a SoundFont path in the following order:
// 1. The configured path (flag or SOUNDFONT env var)
// 2. The default name in the current directory
// 3. The default name next to the MIDI file
//
// Returns "" when nothing is found; the caller decides whether silent
// playback is acceptable.
func findSoundFont(configured, midiPath string) string {
	if configured != "" {
		return configured
	}
	if _, err := os.Stat(DefaultSoundFontName); err == nil {
		return DefaultSoundFontName
	}
	if midiPath != "" {
		candidate := filepath.Join(filepath.Dir(midiPath), DefaultSoundFontName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
