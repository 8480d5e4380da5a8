// Package detect turns the per-cycle frame metric into bounded detector
// levels: motion, two sleep-movement proxies (REM and NREM1) and a slowly
// evolving quality indicator.
//
// Each detector is a small struct owning its own state and exposing a single
// Update(Metric) int. Detectors share nothing; the Engine dispatches over a
// tagged list of them once per cycle.
package detect

import (
	"time"
)

// Metric is the per-cycle measurement read by every detector.
type Metric struct {
	// Variance is frame-to-frame change inside the region of interest.
	Variance float64
	// GlobalVariance is frame-to-frame change across the whole frame.
	GlobalVariance float64
	// Presence reports whether the presence detector saw the subject.
	Presence bool
}

// Params holds the tunables shared by the detectors. The engine copies it into
// each detector whenever settings change.
type Params struct {
	TriggerThreshold float64
	TossThreshold    float64
	ArtifactFilter   float64
	TossCooldown     time.Duration
	NREM1Delay       time.Duration
	// TrackPresence enables the REM presence gate.
	TrackPresence bool
}

// Level bounds.
const (
	MaxSleepLevel = 8
	MaxQuality    = 100
)

// Detector is the one operation every detector exposes.
type Detector interface {
	Update(m Metric) int
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
