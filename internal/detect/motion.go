package detect

// MotionDetector reports Triggered on every cycle whose variance exceeds the
// trigger threshold. It does no debouncing; that is the trigger
// coordinator's job.
type MotionDetector struct {
	threshold float64
	triggered bool
}

func NewMotionDetector(p Params) *MotionDetector {
	return &MotionDetector{threshold: p.TriggerThreshold}
}

// SetParams updates the trigger threshold.
func (d *MotionDetector) SetParams(p Params) { d.threshold = p.TriggerThreshold }

// Update returns 1 while triggered and 0 while idle.
func (d *MotionDetector) Update(m Metric) int {
	d.triggered = m.Variance > d.threshold
	if d.triggered {
		return 1
	}
	return 0
}

// Triggered reports the state set by the last Update.
func (d *MotionDetector) Triggered() bool { return d.triggered }
