package engine

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/notefall/notefall/pkg/song"
)

// Instrument is one non-judged channel of the arrangement. UI toggles mutate
// Enabled, Muted and Volume between sessions or while paused; the note list
// itself is immutable.
type Instrument struct {
	Channel uint8
	Notes   []song.Note
	Enabled bool
	Muted   bool
	// Volume scales note velocity, range [0, 1].
	Volume float64
}

// scheduledNote is one pending deferred playback call.
type scheduledNote struct {
	fireAt  time.Time
	note    song.Note
	volume  float64
	channel uint8
}

// noteQueue is a min-heap of scheduled notes ordered by fire time. Per
// channel, notes are pushed in ascending time order, so equal-time entries
// keep their channel-local ordering via the push index.
type noteQueue struct {
	entries []scheduledNote
	seq     []int
	nextSeq int
}

func (q *noteQueue) Len() int { return len(q.entries) }

func (q *noteQueue) Less(i, j int) bool {
	if q.entries[i].fireAt.Equal(q.entries[j].fireAt) {
		return q.seq[i] < q.seq[j]
	}
	return q.entries[i].fireAt.Before(q.entries[j].fireAt)
}

func (q *noteQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.seq[i], q.seq[j] = q.seq[j], q.seq[i]
}

func (q *noteQueue) Push(x any) {
	q.entries = append(q.entries, x.(scheduledNote))
	q.seq = append(q.seq, q.nextSeq)
	q.nextSeq++
}

func (q *noteQueue) Pop() any {
	n := len(q.entries) - 1
	e := q.entries[n]
	q.entries = q.entries[:n]
	q.seq = q.seq[:n]
	return e
}

// Scheduler replays every channel except the one the player is judging, so
// the full arrangement stays audible. Deferred playback calls live in a
// delay queue drained by one goroutine; Pause and Stop cancel every pending
// call synchronously before returning, so no note can fire into a paused or
// stopped session.
type Scheduler struct {
	mu sync.Mutex

	instruments map[uint8]*Instrument
	play        PlayNoteFunc
	log         *slog.Logger

	running bool
	paused  bool

	origin time.Time
	// pausedGameTime is the game time in seconds recorded when Pause was
	// called; Resume reschedules only notes still in the future relative to
	// it.
	pausedGameTime float64

	queue  *noteQueue
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler builds the background instruments by grouping the chart's
// notes per channel, excluding the player's channel. Pass song.NoChannel to
// keep every channel (pure backing-track mode). All instruments start
// enabled, unmuted, at full volume.
func NewScheduler(notes []song.Note, playerChannel int, play PlayNoteFunc, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}

	instruments := make(map[uint8]*Instrument)
	for ch, chNotes := range song.GroupByChannel(notes, playerChannel) {
		instruments[ch] = &Instrument{
			Channel: ch,
			Notes:   chNotes,
			Enabled: true,
			Volume:  1.0,
		}
	}

	return &Scheduler{
		instruments: instruments,
		play:        play,
		log:         log,
	}
}

// Start schedules one deferred playback call per note of every enabled,
// unmuted instrument, at note time after origin. Starting a running
// scheduler is a no-op.
func (s *Scheduler) Start(origin time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.origin = origin
	s.paused = false
	s.enqueueFrom(0)
	s.startLocked()
}

// enqueueFrom fills the queue with every schedulable note whose time is
// strictly after the given game time. Caller must hold s.mu.
func (s *Scheduler) enqueueFrom(afterGameTime float64) {
	s.queue = &noteQueue{}
	heap.Init(s.queue)
	for _, inst := range s.instruments {
		if !inst.Enabled || inst.Muted {
			continue
		}
		for _, n := range inst.Notes {
			if afterGameTime > 0 && n.Time <= afterGameTime {
				continue
			}
			heap.Push(s.queue, scheduledNote{
				fireAt:  s.origin.Add(time.Duration(n.Time * float64(time.Second))),
				note:    n,
				volume:  inst.Volume,
				channel: inst.Channel,
			})
		}
	}
}

// startLocked launches the drain goroutine. Caller must hold s.mu.
func (s *Scheduler) startLocked() {
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.queue, s.stopCh, s.doneCh)
}

// run drains the delay queue until it is empty or the stop channel closes.
// Queue access is guarded by s.mu so PendingCount stays consistent; the
// playback callback itself is invoked outside the lock.
func (s *Scheduler) run(queue *noteQueue, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		s.mu.Lock()
		if queue.Len() == 0 {
			s.mu.Unlock()
			return
		}
		next := queue.entries[0].fireAt
		s.mu.Unlock()

		timer.Reset(time.Until(next))
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}

		// Collect every entry due at this instant; delivery order across
		// channels at the same tick is unspecified beyond heap order.
		now := time.Now()
		var due []scheduledNote
		s.mu.Lock()
		for queue.Len() > 0 && !queue.entries[0].fireAt.After(now) {
			due = append(due, heap.Pop(queue).(scheduledNote))
		}
		s.mu.Unlock()

		for _, entry := range due {
			select {
			case <-stopCh:
				return
			default:
			}
			s.trigger(entry)
		}
	}
}

// trigger fires one deferred playback call with velocity scaled by the
// instrument volume.
func (s *Scheduler) trigger(entry scheduledNote) {
	velocity := float64(entry.note.Velocity) * entry.volume
	if velocity > 127 {
		velocity = 127
	}
	if velocity <= 0 {
		return
	}
	if !s.play(entry.note.Pitch, uint8(velocity), entry.note.Duration, entry.channel) {
		s.log.Debug("background note playback failed", "channel", entry.channel, "pitch", entry.note.Pitch)
	}
}

// Pause cancels all pending deferred calls synchronously and records the
// game time so Resume can pick up where playback left off. The instrument
// note lists are untouched.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if !s.running || s.paused {
		s.mu.Unlock()
		return
	}
	s.pausedGameTime = time.Since(s.origin).Seconds()
	s.paused = true
	s.mu.Unlock()

	s.haltWorker()
}

// Resume reschedules only the notes still in the future relative to the game
// time recorded at pause. Notes whose time passed while paused are treated
// as already performed, not replayed.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || !s.paused {
		return
	}
	// Shift the origin so game time continues from where it stopped.
	s.origin = time.Now().Add(-time.Duration(s.pausedGameTime * float64(time.Second)))
	s.enqueueFrom(s.pausedGameTime)
	s.paused = false
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.queue, s.stopCh, s.doneCh)
}

// Stop cancels all pending deferred calls synchronously and clears the
// queue. Idempotent: stopping a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	paused := s.paused
	s.paused = false
	s.mu.Unlock()

	if !paused {
		s.haltWorker()
	}

	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// haltWorker signals the drain goroutine and waits for it to exit. The wait
// happens outside the lock so the goroutine can finish a trigger in flight.
func (s *Scheduler) haltWorker() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
}

// PendingCount returns the number of deferred calls still queued.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsPaused reports whether the scheduler is paused.
func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Instruments returns the background instruments keyed by channel.
func (s *Scheduler) Instruments() map[uint8]*Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instruments
}

// SetVolume adjusts one channel's volume, clamped to [0, 1]. Takes effect on
// the next Start or Resume.
func (s *Scheduler) SetVolume(channel uint8, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instruments[channel]
	if !ok {
		return
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	inst.Volume = volume
}

// SetMuted toggles one channel's mute flag. Takes effect on the next Start
// or Resume.
func (s *Scheduler) SetMuted(channel uint8, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instruments[channel]; ok {
		inst.Muted = muted
	}
}

// SetEnabled toggles one channel on or off. Takes effect on the next Start
// or Resume.
func (s *Scheduler) SetEnabled(channel uint8, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instruments[channel]; ok {
		inst.Enabled = enabled
	}
}
