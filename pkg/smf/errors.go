package smf

import "errors"

// ErrFormat is returned when a chunk signature does not match the expected
// 4-byte magic for a file or track header. Decoding stops and no partial
// file is returned.
var ErrFormat = errors.New("invalid MIDI file format")

// ErrTruncated is returned when the buffer is exhausted mid-parse, for
// example a track whose declared length runs past the end of the data.
// Decoding stops and no partial file is returned.
var ErrTruncated = errors.New("truncated MIDI data")
