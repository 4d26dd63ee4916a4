// Package cli holds the session configuration shared by the commands, with
// environment-variable fallbacks and validation.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/notefall/notefall/pkg/song"
)

// Config is the configuration consumed by a play or calibrate session.
type Config struct {
	// MIDIPath is the song file to load.
	MIDIPath string
	// SoundFontPath is the .sf2 file for the synthesizer. Empty selects the
	// silent backend.
	SoundFontPath string

	// Channel is the MIDI channel the player judges, or song.NoChannel for
	// single-channel pieces.
	Channel int
	// Difficulty selects the chart tier.
	Difficulty song.Difficulty
	// OverallDifficulty scales the hit windows, range [1, 10].
	OverallDifficulty float64
	// AudioOffsetMS is the signed latency correction in milliseconds.
	AudioOffsetMS float64

	// BPM is the calibration metronome tempo.
	BPM float64

	LogLevel string
	Headless bool
	// Timeout ends the session after the given duration; zero means
	// unlimited.
	Timeout time.Duration
}

// Default returns the configuration defaults before flags and environment
// are applied.
func Default() Config {
	return Config{
		Channel:           song.NoChannel,
		Difficulty:        song.DifficultyMedium,
		OverallDifficulty: 5,
		BPM:               120,
		LogLevel:          "info",
	}
}

// ApplyEnv fills in settings from the environment for values still at their
// defaults. Flags take precedence because they are applied first.
func (c *Config) ApplyEnv() {
	if !c.Headless {
		if v := os.Getenv("HEADLESS"); v != "" {
			c.Headless = v == "1" || strings.EqualFold(v, "true")
		}
	}
	if c.LogLevel == "info" {
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			c.LogLevel = strings.ToLower(v)
		}
	}
	if c.Timeout == 0 {
		if v := os.Getenv("TIMEOUT"); v != "" {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				c.Timeout = time.Duration(sec) * time.Second
			}
		}
	}
	if c.SoundFontPath == "" {
		c.SoundFontPath = os.Getenv("SOUNDFONT")
	}
}

// Validate checks ranges and enum values.
func (c *Config) Validate() error {
	if c.Channel != song.NoChannel && (c.Channel < 0 || c.Channel > 15) {
		return fmt.Errorf("channel must be 0-15 or %d for none, got %d", song.NoChannel, c.Channel)
	}
	switch c.Difficulty {
	case song.DifficultyEasy, song.DifficultyMedium, song.DifficultyHard:
	default:
		return fmt.Errorf("invalid difficulty: %s (must be easy, medium, or hard)", c.Difficulty)
	}
	if c.OverallDifficulty < 1 || c.OverallDifficulty > 10 {
		return fmt.Errorf("overall difficulty must be in [1, 10], got %g", c.OverallDifficulty)
	}
	if c.BPM <= 0 {
		return fmt.Errorf("bpm must be positive, got %g", c.BPM)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", c.Timeout)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLogLevel(level string) (string, error) {
	switch level {
	case "debug", "info", "warn", "error":
		return level, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}
