package detect

import (
	"time"

	"github.com/banshee-data/inspec/internal/timeutil"
)

const (
	// remDecayAfter is the idle time after which the level starts to fall.
	remDecayAfter = 60 * time.Second
	// remDecayRewind places the anchor so the next decay lands 2s later.
	remDecayRewind = 58 * time.Second
	// remIncrementSpacing is the minimum time between increments.
	remIncrementSpacing = time.Second
)

// REMDetector counts bursts of small in-region movement that are not
// explained by whole-frame movement. The rules form a strict priority chain
// evaluated in order; the first one that returns ends the update:
//
//  1. toss: global variance at or above the toss threshold zeroes the level
//     and pushes the anchor tossCooldown into the future
//  2. decay: idle longer than 60s drops one level and rewinds the anchor to
//     now-58s, so decay accelerates once it has started (falls through)
//  3. presence gate: with presence tracking on and nobody in view, hold
//  4. threshold gate: variance below the trigger threshold, hold
//  5. artifact filter: whole-frame change larger than the artifact-scaled
//     region variance skips the increment, and resets at filter >= 0.5
//  6. increment: at most once per second, saturating at MaxSleepLevel
type REMDetector struct {
	clock  timeutil.Clock
	params Params

	level     int
	lastEvent time.Time
}

func NewREMDetector(clock timeutil.Clock, p Params) *REMDetector {
	return &REMDetector{
		clock:     clock,
		params:    p,
		lastEvent: clock.Now(),
	}
}

// SetParams replaces the detector's tunables without touching its state.
func (d *REMDetector) SetParams(p Params) { d.params = p }

// Level returns the current level.
func (d *REMDetector) Level() int { return d.level }

func (d *REMDetector) Update(m Metric) int {
	now := d.clock.Now()

	if m.GlobalVariance >= d.params.TossThreshold {
		d.level = 0
		d.lastEvent = now.Add(d.params.TossCooldown)
		return d.level
	}

	if now.Sub(d.lastEvent) > remDecayAfter && d.level > 0 {
		d.level--
		d.lastEvent = now.Add(-remDecayRewind)
	}

	if d.params.TrackPresence && !m.Presence {
		return d.level
	}

	if m.Variance < d.params.TriggerThreshold {
		return d.level
	}

	if d.params.ArtifactFilter != 0 {
		artifactVariance := m.Variance + m.Variance*(1-d.params.ArtifactFilter)
		if m.GlobalVariance > artifactVariance {
			if d.params.ArtifactFilter >= 0.5 {
				d.level = 0
			}
			return d.level
		}
	}

	if now.Sub(d.lastEvent) > remIncrementSpacing {
		d.lastEvent = now
		d.level = clamp(d.level+1, 0, MaxSleepLevel)
	}
	return d.level
}
