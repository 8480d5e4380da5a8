package detect

import (
	"time"

	"github.com/banshee-data/inspec/internal/timeutil"
)

const (
	qualityDipSpacing = 10 * time.Second
	qualityRiseAfter  = 60 * time.Second
)

// QualityMonitor tracks a 0..100 indicator that rises one point per quiet
// minute and dips one point per toss-level movement (at most one dip per 10s).
// The dip is evaluated before the rise and the two are exclusive per cycle.
type QualityMonitor struct {
	clock  timeutil.Clock
	params Params

	indicator    int
	lastMovement time.Time
}

func NewQualityMonitor(clock timeutil.Clock, p Params) *QualityMonitor {
	return &QualityMonitor{
		clock:        clock,
		params:       p,
		lastMovement: clock.Now(),
	}
}

func (q *QualityMonitor) SetParams(p Params) { q.params = p }

func (q *QualityMonitor) Indicator() int { return q.indicator }

func (q *QualityMonitor) Update(m Metric) int {
	now := q.clock.Now()
	idle := now.Sub(q.lastMovement)

	switch {
	case m.Variance >= q.params.TossThreshold && idle > qualityDipSpacing:
		q.indicator = clamp(q.indicator-1, 0, MaxQuality)
		q.lastMovement = now
	case idle > qualityRiseAfter:
		q.indicator = clamp(q.indicator+1, 0, MaxQuality)
		q.lastMovement = now
	}
	return q.indicator
}
