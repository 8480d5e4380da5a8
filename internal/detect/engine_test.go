package detect

import (
	"image"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/inspec/internal/timeutil"
)

func TestEngine_StepReportsEventsAndChanges(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	e := NewEngine(clock, baseParams())

	r := e.Step(Metric{Variance: 1})
	assert.Empty(t, r.Events)
	assert.Empty(t, r.Changed)

	clock.Advance(1001 * time.Millisecond)
	r = e.Step(Metric{Variance: 50})
	assert.True(t, r.Motion)
	assert.Equal(t, 1, r.REM)
	assert.Equal(t, 0, r.NREM)
	if diff := cmp.Diff([]Kind{KindMotion}, r.Events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Kind{KindMotion, KindREM}, r.Changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}

	r = e.Step(Metric{Variance: 1})
	assert.False(t, r.Motion)
	assert.Equal(t, []Kind{KindMotion}, r.Changed)
	assert.Equal(t, 0, r.Level(KindMotion))
	assert.Equal(t, 1, r.Level(KindREM))
}

func TestEngine_SleepEventAtSaturation(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	e := NewEngine(clock, baseParams())

	var r Result
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second + time.Millisecond)
		r = e.Step(Metric{Variance: 5})
	}
	require.Equal(t, MaxSleepLevel, r.NREM)
	assert.Contains(t, r.Events, KindNREM)
	assert.NotContains(t, r.Events, KindQuality)
}

func TestEngine_SetParamsKeepsLevels(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	e := NewEngine(clock, baseParams())

	clock.Advance(1001 * time.Millisecond)
	e.Step(Metric{Variance: 50})

	p := baseParams()
	p.TriggerThreshold = 100
	e.SetParams(p)

	clock.Advance(1001 * time.Millisecond)
	r := e.Step(Metric{Variance: 50})
	assert.False(t, r.Motion)
	assert.Equal(t, 1, r.REM)
}

// randomMetric mixes still frames, sub-threshold twitches, triggering movement
// and whole-frame tosses.
func randomMetric(rng *rand.Rand, p Params) Metric {
	m := Metric{Presence: rng.Intn(4) != 0}
	switch rng.Intn(5) {
	case 0:
	case 1:
		m.Variance = rng.Float64() * p.TriggerThreshold
	case 2:
		m.Variance = p.TriggerThreshold + rng.Float64()*p.TossThreshold
	case 3:
		m.Variance = p.TriggerThreshold + rng.Float64()*100
		m.GlobalVariance = m.Variance * (0.5 + rng.Float64()*2)
	default:
		m.Variance = p.TossThreshold + rng.Float64()*p.TossThreshold
		m.GlobalVariance = p.TossThreshold + rng.Float64()*p.TossThreshold
	}
	return m
}

func TestEngine_LevelsStayInBounds(t *testing.T) {
	for _, filter := range []float64{0, 0.3, 0.5, 1} {
		for seed := int64(1); seed <= 5; seed++ {
			rng := rand.New(rand.NewSource(seed))
			clock := timeutil.NewMockClock(epoch)
			p := baseParams()
			p.ArtifactFilter = filter
			p.TrackPresence = seed%2 == 0
			p.TossCooldown = 5 * time.Second
			e := NewEngine(clock, p)

			for i := 0; i < 5000; i++ {
				clock.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
				r := e.Step(randomMetric(rng, p))
				require.True(t, r.REM >= 0 && r.REM <= MaxSleepLevel, "filter %v seed %d step %d: rem %d", filter, seed, i, r.REM)
				require.True(t, r.NREM >= 0 && r.NREM <= MaxSleepLevel, "filter %v seed %d step %d: nrem %d", filter, seed, i, r.NREM)
				require.True(t, r.Quality >= 0 && r.Quality <= MaxQuality, "filter %v seed %d step %d: quality %d", filter, seed, i, r.Quality)
			}
		}
	}
}

func TestEngine_QualityNeverFallsWithoutToss(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	clock := timeutil.NewMockClock(epoch)
	p := baseParams()
	e := NewEngine(clock, p)

	prev := 0
	for i := 0; i < 20000; i++ {
		clock.Advance(time.Duration(rng.Intn(90)) * time.Second)
		m := Metric{
			Variance:       rng.Float64() * (p.TossThreshold - 1),
			GlobalVariance: rng.Float64() * (p.TossThreshold - 1),
			Presence:       rng.Intn(2) == 0,
		}
		r := e.Step(m)
		require.GreaterOrEqual(t, r.Quality, prev, "step %d", i)
		require.LessOrEqual(t, r.Quality, MaxQuality)
		prev = r.Quality
	}
	assert.Equal(t, MaxQuality, prev)
}

func grayFrame(w, h int, fill uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = fill
	}
	return g
}

func TestFrameDiff_Variance(t *testing.T) {
	f := FrameDiff{PixelThreshold: 5}
	roi := image.Rect(0, 0, 2, 2)

	prev := grayFrame(4, 4, 10)
	v, gv := f.Variance(prev, nil, roi)
	assert.Zero(t, v)
	assert.Zero(t, gv)

	cur := grayFrame(4, 4, 10)
	cur.Pix[0] = 30  // inside roi, diff 20
	cur.Pix[15] = 13 // outside roi, below pixel threshold
	v, gv = f.Variance(cur, prev, roi)
	assert.InDelta(t, 400.0/4, v, 1e-9)
	assert.InDelta(t, 400.0/16, gv, 1e-9)

	v, gv = f.Variance(cur, cur, roi)
	assert.Zero(t, v)
	assert.Zero(t, gv)
}

func TestFrameDiff_EmptyROIUsesWholeFrame(t *testing.T) {
	f := FrameDiff{}
	v, gv := f.Variance(grayFrame(2, 2, 10), grayFrame(2, 2, 0), image.Rectangle{})
	assert.InDelta(t, 100.0, v, 1e-9)
	assert.InDelta(t, 100.0, gv, 1e-9)
}

func TestFrameDiff_MismatchedBounds(t *testing.T) {
	f := FrameDiff{}
	v, gv := f.Variance(grayFrame(4, 4, 200), grayFrame(2, 2, 0), image.Rectangle{})
	assert.Zero(t, v)
	assert.Zero(t, gv)
}

func TestFrameDiff_ColourFrames(t *testing.T) {
	prev := image.NewRGBA(image.Rect(0, 0, 1, 1))
	cur := image.NewRGBA(image.Rect(0, 0, 1, 1))
	cur.Pix[0], cur.Pix[1], cur.Pix[2], cur.Pix[3] = 255, 255, 255, 255
	prev.Pix[3] = 255

	v, _ := FrameDiff{}.Variance(cur, prev, image.Rectangle{})
	assert.InDelta(t, 255.0*255.0, v, 1e-9)
}
