package engine

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Calibration defaults.
const (
	// DefaultCalibrationBPM is the metronome tempo used when the config
	// leaves it unset.
	DefaultCalibrationBPM = 120.0

	// calibrationHitWindowMS is the tolerance around a beat inside which a
	// tap is accepted.
	calibrationHitWindowMS = 200.0

	// calibrationTargetHits ends the procedure once this many beats have
	// been claimed.
	calibrationTargetHits = 16
)

// CalibrationHit records one accepted tap. Hits are appended and never
// mutated; the running list is the sole input to the offset statistics.
type CalibrationHit struct {
	// Beat is the metronome beat the tap was matched to (never 0).
	Beat int
	// ExpectedTime is the beat's nominal time in seconds from start.
	ExpectedTime float64
	// ActualTime is the tap's time in seconds from start.
	ActualTime float64
	// OffsetMS is ActualTime - ExpectedTime in milliseconds, positive = late.
	OffsetMS float64
}

// CalibratorConfig configures a calibration session.
type CalibratorConfig struct {
	// BPM is the metronome tempo; zero selects DefaultCalibrationBPM.
	BPM float64
	// OnTick fires on every metronome beat with the advancing beat counter.
	// Used by the caller to sound the tick and update the display. May be
	// nil.
	OnTick func(beat int)
	// OnComplete receives the final mean offset in milliseconds once the
	// target hit count is reached. May be nil.
	OnComplete func(offsetMS float64)
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Calibrator measures a player's systematic input/output latency from
// metronome taps. A fixed-tempo metronome ticks from Start; each tap is
// matched to its nearest beat and the running mean of accepted offsets is
// the candidate audio offset. The session auto-terminates after 16 accepted
// hits.
type Calibrator struct {
	mu sync.Mutex

	bpm     float64
	beatLen float64 // seconds per beat

	onTick     func(beat int)
	onComplete func(offsetMS float64)
	log        *slog.Logger

	running bool
	start   time.Time
	beat    int

	hits    []CalibrationHit
	claimed map[int]bool

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCalibrator creates a calibration session.
func NewCalibrator(cfg CalibratorConfig) *Calibrator {
	if cfg.BPM <= 0 {
		cfg.BPM = DefaultCalibrationBPM
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Calibrator{
		bpm:        cfg.BPM,
		beatLen:    60.0 / cfg.BPM,
		onTick:     cfg.OnTick,
		onComplete: cfg.OnComplete,
		log:        cfg.Logger,
		claimed:    make(map[int]bool),
	}
}

// Start begins the metronome at the given origin timestamp. Starting a
// running calibrator is a no-op.
func (c *Calibrator) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.start = now
	c.beat = 0
	c.hits = c.hits[:0]
	c.claimed = make(map[int]bool)

	c.ticker = time.NewTicker(time.Duration(c.beatLen * float64(time.Second)))
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(c.ticker, c.stopCh, c.doneCh)
}

// run advances the visible beat counter on every metronome tick.
func (c *Calibrator) run(ticker *time.Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.beat++
			beat := c.beat
			onTick := c.onTick
			c.mu.Unlock()

			if onTick != nil {
				onTick(beat)
			}
		}
	}
}

// Tap registers a player tap at the given timestamp. The tap is matched to
// the nearest beat and accepted only when it is within the hit window, the
// beat is not beat zero, and the beat has not been claimed by an earlier
// tap. Out-of-tolerance taps are normal player misses, not errors, and are
// silently ignored. Returns the hit and true when accepted.
func (c *Calibrator) Tap(now time.Time) (CalibrationHit, bool) {
	c.mu.Lock()

	if !c.running {
		c.mu.Unlock()
		return CalibrationHit{}, false
	}

	elapsed := now.Sub(c.start).Seconds()
	nearest := int(math.Round(elapsed / c.beatLen))
	expected := float64(nearest) * c.beatLen
	offsetMS := (elapsed - expected) * 1000.0

	if nearest == 0 || math.Abs(offsetMS) > calibrationHitWindowMS || c.claimed[nearest] {
		c.mu.Unlock()
		return CalibrationHit{}, false
	}

	hit := CalibrationHit{
		Beat:         nearest,
		ExpectedTime: expected,
		ActualTime:   elapsed,
		OffsetMS:     offsetMS,
	}
	c.claimed[nearest] = true
	c.hits = append(c.hits, hit)

	done := len(c.hits) >= calibrationTargetHits
	mean := c.meanLocked()
	onComplete := c.onComplete
	c.mu.Unlock()

	if done {
		c.log.Info("calibration complete", "hits", calibrationTargetHits, "offsetMS", mean)
		c.Stop()
		if onComplete != nil {
			onComplete(mean)
		}
	}
	return hit, true
}

// meanLocked computes the arithmetic mean of accepted offsets in
// milliseconds. Caller must hold c.mu.
func (c *Calibrator) meanLocked() float64 {
	if len(c.hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range c.hits {
		sum += h.OffsetMS
	}
	return sum / float64(len(c.hits))
}

// MeanOffsetMS returns the running mean of accepted offsets, the candidate
// calibration value continuously displayed to the player.
func (c *Calibrator) MeanOffsetMS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meanLocked()
}

// Hits returns a copy of the accepted hits so far.
func (c *Calibrator) Hits() []CalibrationHit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CalibrationHit, len(c.hits))
	copy(out, c.hits)
	return out
}

// Beat returns the current visible beat counter.
func (c *Calibrator) Beat() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beat
}

// IsRunning reports whether the metronome is ticking.
func (c *Calibrator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stop halts the metronome, waiting for the tick goroutine to exit.
// Idempotent.
func (c *Calibrator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	ticker, stopCh, doneCh := c.ticker, c.stopCh, c.doneCh
	c.ticker, c.stopCh, c.doneCh = nil, nil, nil
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
	if ticker != nil {
		ticker.Stop()
	}
}
