// Package server exposes a decoded song over HTTP for inspection: summary,
// note queries by time and pitch range, and per-channel listings. It is a
// read-only debugging surface, not part of the play loop.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/notefall/notefall/pkg/smf"
	"github.com/notefall/notefall/pkg/song"
)

// Server serves inspection endpoints for one decoded file.
type Server struct {
	file      *smf.File
	song      *song.Song
	notes     []song.Note
	sessionID string
	log       *slog.Logger
}

// Summary is the response body of GET /song.
type Summary struct {
	SessionID       string          `json:"sessionId"`
	Title           string          `json:"title"`
	Format          int             `json:"format"`
	Tracks          int             `json:"tracks"`
	TicksPerQuarter int             `json:"ticksPerQuarter"`
	BPM             float64         `json:"bpm"`
	TotalNotes      int             `json:"totalNotes"`
	Duration        float64         `json:"duration"`
	MultiChannel    bool            `json:"multiChannel"`
	Channels        []uint8         `json:"channels"`
	Programs        map[uint8]uint8 `json:"programs"`
}

// ChannelInfo is one entry of GET /channels.
type ChannelInfo struct {
	Channel   uint8 `json:"channel"`
	NoteCount int   `json:"noteCount"`
}

// New builds a server around a decoded file and its derived song.
func New(f *smf.File, s *song.Song, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	notes, _ := s.Chart(song.DifficultyMedium, song.NoChannel)
	return &Server{
		file:      f,
		song:      s,
		notes:     notes,
		sessionID: uuid.New().String(),
		log:       log,
	}
}

// Handler returns the routed handler with CORS applied, so tests can drive
// it without a listener.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/song", s.handleSummary).Methods("GET")
	router.HandleFunc("/notes", s.handleNotes).Methods("GET")
	router.HandleFunc("/channels", s.handleChannels).Methods("GET")
	router.HandleFunc("/channels/{channel}", s.handleChannel).Methods("GET")
	return cors.Default().Handler(router)
}

// Serve blocks listening on addr.
func (s *Server) Serve(addr string) error {
	s.log.Info("inspection server listening", "addr", addr, "session", s.sessionID)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Summary{
		SessionID:       s.sessionID,
		Title:           s.song.Title,
		Format:          s.file.Format,
		Tracks:          s.file.TrackCount,
		TicksPerQuarter: s.file.TicksPerQuarter,
		BPM:             s.song.BPM,
		TotalNotes:      s.file.TotalNotes,
		Duration:        s.file.TotalDuration,
		MultiChannel:    s.song.MultiChannel,
		Channels:        song.Channels(s.notes),
		Programs:        s.file.Programs,
	})
}

// handleNotes filters by time range (from/to, seconds) and optionally by
// pitch range (low/high, MIDI numbers). Missing bounds are open.
func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	from, err := queryFloat(r, "from", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := queryFloat(r, "to", s.song.Duration())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	low, err := queryInt(r, "low", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	high, err := queryInt(r, "high", 127)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if low < 0 || high > 127 || low > high {
		http.Error(w, "pitch range must satisfy 0 <= low <= high <= 127", http.StatusBadRequest)
		return
	}

	notes := song.NotesInTimeRange(s.notes, from, to)
	notes = song.NotesInPitchRange(notes, uint8(low), uint8(high))
	writeJSON(w, notes)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	grouped := song.GroupByChannel(s.notes, song.NoChannel)
	infos := make([]ChannelInfo, 0, len(grouped))
	for _, ch := range song.Channels(s.notes) {
		infos = append(infos, ChannelInfo{Channel: ch, NoteCount: len(grouped[ch])})
	}
	writeJSON(w, infos)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["channel"]
	ch, err := strconv.Atoi(raw)
	if err != nil || ch < 0 || ch > 15 {
		http.Error(w, "channel must be 0..15", http.StatusBadRequest)
		return
	}
	notes := song.NotesForChannel(s.notes, uint8(ch))
	if len(notes) == 0 {
		http.Error(w, fmt.Sprintf("no notes on channel %d", ch), http.StatusNotFound)
		return
	}
	writeJSON(w, notes)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}
