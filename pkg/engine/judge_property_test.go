package engine

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/notefall/notefall/pkg/song"
)

// Property: a tap at a note's exact time is always judged perfect, at every
// overall difficulty.
func TestExactHitAlwaysPerfectProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("exact hit is perfect for any difficulty", prop.ForAll(
		func(od float64, noteTime float64) bool {
			origin := time.Now()
			j := NewJudge([]song.Note{{Time: noteTime, Pitch: 60, Duration: 0.5, Velocity: 100}},
				JudgeConfig{OverallDifficulty: od})
			j.Start(origin)

			tier, ok := j.HandleInput(at(origin, noteTime), 60)
			return ok && tier == TierPerfect
		},
		gen.Float64Range(1, 10),
		gen.Float64Range(0.1, 300),
	))

	properties.TestingRun(t)
}

// Property: a larger timing distance never yields a better tier.
func TestTierMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	rank := map[Tier]int{TierPerfect: 0, TierGreat: 1, TierGood: 2, TierMiss: 3}

	properties.Property("classification is monotonic in distance", prop.ForAll(
		func(od float64, a float64, b float64) bool {
			w := Windows(od)
			if a > b {
				a, b = b, a
			}
			return rank[w.Classify(a)] <= rank[w.Classify(b)]
		},
		gen.Float64Range(1, 10),
		gen.Float64Range(0, 1200),
		gen.Float64Range(0, 1200),
	))

	properties.TestingRun(t)
}

// Property: judging n notes in order, all within their windows, yields
// judged == n, zero misses, and a max combo of n.
func TestAllHitsKeepComboProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("hitting every note keeps the combo unbroken", prop.ForAll(
		func(n int) bool {
			origin := time.Now()
			var notes []song.Note
			for i := 0; i < n; i++ {
				notes = append(notes, song.Note{Time: float64(i + 1), Pitch: 60, Duration: 0.5, Velocity: 100})
			}
			j := NewJudge(notes, JudgeConfig{})
			j.Start(origin)

			for i := 0; i < n; i++ {
				if _, ok := j.HandleInput(at(origin, float64(i+1)), 60); !ok {
					return false
				}
			}
			stats := j.GetStats()
			return stats.Judged == n && stats.Miss == 0 && stats.MaxCombo == n &&
				j.GetState() == StateComplete
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
