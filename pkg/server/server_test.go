package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/notefall/notefall/pkg/smf"
	"github.com/notefall/notefall/pkg/song"
)

func testServer() *Server {
	notes := []song.Note{
		{Time: 0.0, Pitch: 60, Duration: 0.5, Velocity: 100, Channel: 0},
		{Time: 1.0, Pitch: 64, Duration: 0.5, Velocity: 100, Channel: 1},
		{Time: 2.0, Pitch: 72, Duration: 0.5, Velocity: 100, Channel: 0},
	}
	f := &smf.File{
		Format:          1,
		TrackCount:      1,
		TicksPerQuarter: 480,
		Tracks:          []smf.Track{{Name: "test", Notes: notes}},
		Programs:        map[uint8]uint8{1: 25},
		TotalNotes:      3,
		TotalDuration:   2.5,
	}
	return New(f, f.Song("test song", ""), nil)
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSummaryEndpoint(t *testing.T) {
	h := testServer().Handler()
	rec := get(t, h, "/song")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var s Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if s.Title != "test song" || s.TotalNotes != 3 || !s.MultiChannel {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Channels) != 2 {
		t.Errorf("channels = %v, want two", s.Channels)
	}
	if s.SessionID == "" {
		t.Error("session id missing")
	}
	if s.Programs[1] != 25 {
		t.Errorf("programs = %v, want channel 1 -> 25", s.Programs)
	}
}

func TestNotesEndpoint(t *testing.T) {
	h := testServer().Handler()

	t.Run("time range", func(t *testing.T) {
		rec := get(t, h, "/notes?from=0.5&to=1.5")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var notes []song.Note
		if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if len(notes) != 1 || notes[0].Pitch != 64 {
			t.Errorf("notes = %+v, want the single note at 1.0", notes)
		}
	})
	t.Run("pitch range", func(t *testing.T) {
		rec := get(t, h, "/notes?low=70&high=127")
		var notes []song.Note
		if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if len(notes) != 1 || notes[0].Pitch != 72 {
			t.Errorf("notes = %+v, want the pitch-72 note", notes)
		}
	})
	t.Run("no bounds returns everything", func(t *testing.T) {
		rec := get(t, h, "/notes")
		var notes []song.Note
		if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if len(notes) != 3 {
			t.Errorf("notes = %d, want 3", len(notes))
		}
	})
	t.Run("bad query values", func(t *testing.T) {
		for _, url := range []string{
			"/notes?from=yesterday",
			"/notes?low=abc",
			"/notes?low=90&high=10",
			"/notes?high=200",
		} {
			if rec := get(t, h, url); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: status = %d, want 400", url, rec.Code)
			}
		}
	})
}

func TestChannelEndpoints(t *testing.T) {
	h := testServer().Handler()

	t.Run("channel list", func(t *testing.T) {
		rec := get(t, h, "/channels")
		var infos []ChannelInfo
		if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("channel infos = %+v, want 2", infos)
		}
		if infos[0].Channel != 0 || infos[0].NoteCount != 2 {
			t.Errorf("first info = %+v, want channel 0 with 2 notes", infos[0])
		}
	})
	t.Run("single channel", func(t *testing.T) {
		rec := get(t, h, "/channels/1")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var notes []song.Note
		if err := json.Unmarshal(rec.Body.Bytes(), &notes); err != nil {
			t.Fatalf("bad JSON: %v", err)
		}
		if len(notes) != 1 || notes[0].Channel != 1 {
			t.Errorf("notes = %+v, want the channel-1 note", notes)
		}
	})
	t.Run("empty channel is 404", func(t *testing.T) {
		if rec := get(t, h, "/channels/9"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
	t.Run("invalid channel is 400", func(t *testing.T) {
		if rec := get(t, h, "/channels/99"); rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
