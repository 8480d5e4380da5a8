package detect

import (
	"time"

	"github.com/banshee-data/inspec/internal/timeutil"
)

// NREMDetector climbs one level per NREM1Delay/8 of uninterrupted stillness
// and drops to zero on any movement above the trigger threshold.
type NREMDetector struct {
	clock  timeutil.Clock
	params Params

	level        int
	lastMovement time.Time
}

func NewNREMDetector(clock timeutil.Clock, p Params) *NREMDetector {
	return &NREMDetector{
		clock:        clock,
		params:       p,
		lastMovement: clock.Now(),
	}
}

func (d *NREMDetector) SetParams(p Params) { d.params = p }

func (d *NREMDetector) Level() int { return d.level }

func (d *NREMDetector) Update(m Metric) int {
	now := d.clock.Now()

	if m.Variance >= d.params.TriggerThreshold {
		d.level = 0
		d.lastMovement = now
		return d.level
	}

	step := d.params.NREM1Delay / MaxSleepLevel
	if step <= 0 {
		return d.level
	}
	if now.Sub(d.lastMovement) > step {
		d.level = clamp(d.level+1, 0, MaxSleepLevel)
		d.lastMovement = d.lastMovement.Add(step)
	}
	return d.level
}
