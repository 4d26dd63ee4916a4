package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/notefall/notefall/pkg/song"
)

// playRecorder captures playback calls concurrently.
type playRecorder struct {
	mu    sync.Mutex
	calls []playCall
}

type playCall struct {
	pitch    uint8
	velocity uint8
	channel  uint8
}

func (r *playRecorder) play(pitch, velocity uint8, duration float64, channel uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, playCall{pitch, velocity, channel})
	return true
}

func (r *playRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *playRecorder) snapshot() []playCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]playCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func backgroundNotes() []song.Note {
	return []song.Note{
		{Time: 0.02, Pitch: 40, Duration: 0.1, Velocity: 100, Channel: 1},
		{Time: 0.04, Pitch: 50, Duration: 0.1, Velocity: 100, Channel: 2},
		{Time: 0.06, Pitch: 41, Duration: 0.1, Velocity: 100, Channel: 1},
	}
}

func TestSchedulerPlaysEveryNoteOnce(t *testing.T) {
	rec := &playRecorder{}
	s := NewScheduler(backgroundNotes(), song.NoChannel, rec.play, nil)

	s.Start(time.Now())
	waitFor(t, func() bool { return rec.count() == 3 })
	waitFor(t, func() bool { return s.PendingCount() == 0 })

	// Nothing fires twice.
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 3 {
		t.Errorf("play calls = %d, want exactly 3", rec.count())
	}
	s.Stop()
}

func TestSchedulerExcludesPlayerChannel(t *testing.T) {
	rec := &playRecorder{}
	s := NewScheduler(backgroundNotes(), 1, rec.play, nil)

	s.Start(time.Now())
	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(50 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 || calls[0].channel != 2 {
		t.Errorf("calls = %+v, want only channel 2", calls)
	}
	s.Stop()
}

func TestSchedulerChannelOrderPreserved(t *testing.T) {
	rec := &playRecorder{}
	notes := []song.Note{
		{Time: 0.01, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 3},
		{Time: 0.02, Pitch: 61, Duration: 0.1, Velocity: 100, Channel: 3},
		{Time: 0.03, Pitch: 62, Duration: 0.1, Velocity: 100, Channel: 3},
	}
	s := NewScheduler(notes, song.NoChannel, rec.play, nil)
	s.Start(time.Now())
	waitFor(t, func() bool { return rec.count() == 3 })
	s.Stop()

	calls := rec.snapshot()
	for i, want := range []uint8{60, 61, 62} {
		if calls[i].pitch != want {
			t.Fatalf("call %d pitch = %d, want %d (order violated)", i, calls[i].pitch, want)
		}
	}
}

func TestSchedulerPauseCancelsPendingCalls(t *testing.T) {
	rec := &playRecorder{}
	notes := []song.Note{
		{Time: 5.0, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 1},
	}
	s := NewScheduler(notes, song.NoChannel, rec.play, nil)

	s.Start(time.Now())
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d, want 1", s.PendingCount())
	}
	s.Pause()
	if !s.IsPaused() {
		t.Fatal("scheduler should report paused")
	}

	// The deferred call was cancelled synchronously; nothing fires while
	// paused.
	time.Sleep(30 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("notes fired while paused: %d", rec.count())
	}
	s.Stop()
}

func TestSchedulerPauseResumeReplaysFutureNotesOnce(t *testing.T) {
	rec := &playRecorder{}
	notes := []song.Note{
		{Time: 0.08, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 1},
	}
	s := NewScheduler(notes, song.NoChannel, rec.play, nil)

	// Pause almost immediately, long before the note's time, then resume.
	// The note is still in the future, so it plays exactly once.
	s.Start(time.Now())
	time.Sleep(10 * time.Millisecond)
	s.Pause()
	time.Sleep(50 * time.Millisecond)
	s.Resume()

	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(120 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("play calls after pause/resume = %d, want exactly 1", rec.count())
	}
	s.Stop()
}

func TestSchedulerResumeSkipsElapsedNotes(t *testing.T) {
	rec := &playRecorder{}
	notes := []song.Note{
		{Time: 0.02, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 1},
		{Time: 5.0, Pitch: 61, Duration: 0.1, Velocity: 100, Channel: 1},
	}
	s := NewScheduler(notes, song.NoChannel, rec.play, nil)

	s.Start(time.Now())
	waitFor(t, func() bool { return rec.count() == 1 })
	s.Pause()
	s.Resume()

	// Only the note at 5.0 remains; the played note must not repeat.
	if s.PendingCount() != 1 {
		t.Errorf("pending after resume = %d, want 1", s.PendingCount())
	}
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("elapsed note replayed: calls = %d", rec.count())
	}
	s.Stop()
}

func TestSchedulerStopIdempotent(t *testing.T) {
	rec := &playRecorder{}
	notes := []song.Note{
		{Time: 5.0, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 1},
	}
	s := NewScheduler(notes, song.NoChannel, rec.play, nil)

	s.Start(time.Now())
	s.Stop()
	s.Stop()

	if s.IsRunning() {
		t.Error("scheduler reports running after Stop")
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending after Stop = %d, want 0", s.PendingCount())
	}
	t.Run("stop while paused", func(t *testing.T) {
		s2 := NewScheduler(notes, song.NoChannel, rec.play, nil)
		s2.Start(time.Now())
		s2.Pause()
		s2.Stop()
		s2.Stop()
		if s2.PendingCount() != 0 {
			t.Errorf("pending = %d, want 0", s2.PendingCount())
		}
	})
}

func TestSchedulerInstrumentControls(t *testing.T) {
	notes := []song.Note{
		{Time: 0.02, Pitch: 60, Duration: 0.1, Velocity: 100, Channel: 1},
		{Time: 0.02, Pitch: 70, Duration: 0.1, Velocity: 100, Channel: 2},
	}

	t.Run("muted channel is skipped", func(t *testing.T) {
		rec := &playRecorder{}
		s := NewScheduler(notes, song.NoChannel, rec.play, nil)
		s.SetMuted(1, true)
		s.Start(time.Now())
		waitFor(t, func() bool { return rec.count() == 1 })
		time.Sleep(40 * time.Millisecond)
		calls := rec.snapshot()
		if len(calls) != 1 || calls[0].channel != 2 {
			t.Errorf("calls = %+v, want only channel 2", calls)
		}
		s.Stop()
	})

	t.Run("disabled channel is skipped", func(t *testing.T) {
		rec := &playRecorder{}
		s := NewScheduler(notes, song.NoChannel, rec.play, nil)
		s.SetEnabled(2, false)
		s.Start(time.Now())
		waitFor(t, func() bool { return rec.count() == 1 })
		time.Sleep(40 * time.Millisecond)
		calls := rec.snapshot()
		if len(calls) != 1 || calls[0].channel != 1 {
			t.Errorf("calls = %+v, want only channel 1", calls)
		}
		s.Stop()
	})

	t.Run("volume scales velocity", func(t *testing.T) {
		rec := &playRecorder{}
		s := NewScheduler(notes, song.NoChannel, rec.play, nil)
		s.SetVolume(1, 0.5)
		s.Start(time.Now())
		waitFor(t, func() bool { return rec.count() == 2 })
		s.Stop()
		for _, c := range rec.snapshot() {
			if c.channel == 1 && c.velocity != 50 {
				t.Errorf("channel 1 velocity = %d, want 50", c.velocity)
			}
			if c.channel == 2 && c.velocity != 100 {
				t.Errorf("channel 2 velocity = %d, want 100", c.velocity)
			}
		}
	})

	t.Run("volume clamps to range", func(t *testing.T) {
		s := NewScheduler(notes, song.NoChannel, (&playRecorder{}).play, nil)
		s.SetVolume(1, 7)
		if v := s.Instruments()[1].Volume; v != 1 {
			t.Errorf("volume = %v, want clamp to 1", v)
		}
		s.SetVolume(1, -2)
		if v := s.Instruments()[1].Volume; v != 0 {
			t.Errorf("volume = %v, want clamp to 0", v)
		}
	})
}

// waitFor polls until cond holds, failing the test after a generous
// deadline.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
