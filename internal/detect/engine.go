package detect

import (
	"github.com/banshee-data/inspec/internal/timeutil"
)

// Kind names a detector. The string form is what goes on the wire in
// trigger and level events.
type Kind string

const (
	KindMotion  Kind = "motion"
	KindREM     Kind = "rem"
	KindNREM    Kind = "nrem1"
	KindQuality Kind = "quality"
)

// entry is one slot in the engine's detector list. eventLevel is the level at
// or above which the detector signals an event; zero means never.
type entry struct {
	kind       Kind
	det        Detector
	eventLevel int
	level      int
}

// Result is the outcome of one engine step.
type Result struct {
	Motion  bool
	REM     int
	NREM    int
	Quality int
	// Events lists detectors whose event condition holds this cycle, in
	// engine order.
	Events []Kind
	// Changed lists detectors whose level differs from the previous step.
	Changed []Kind
}

// Level returns the level reported for k.
func (r Result) Level(k Kind) int {
	switch k {
	case KindMotion:
		if r.Motion {
			return 1
		}
		return 0
	case KindREM:
		return r.REM
	case KindNREM:
		return r.NREM
	case KindQuality:
		return r.Quality
	}
	return 0
}

// Engine runs every detector once per cycle.
type Engine struct {
	motion  *MotionDetector
	rem     *REMDetector
	nrem    *NREMDetector
	quality *QualityMonitor

	entries []*entry
}

func NewEngine(clock timeutil.Clock, p Params) *Engine {
	e := &Engine{
		motion:  NewMotionDetector(p),
		rem:     NewREMDetector(clock, p),
		nrem:    NewNREMDetector(clock, p),
		quality: NewQualityMonitor(clock, p),
	}
	e.entries = []*entry{
		{kind: KindMotion, det: e.motion, eventLevel: 1},
		{kind: KindREM, det: e.rem, eventLevel: MaxSleepLevel},
		{kind: KindNREM, det: e.nrem, eventLevel: MaxSleepLevel},
		{kind: KindQuality, det: e.quality},
	}
	return e
}

// SetParams pushes new tunables into every detector. Levels are kept.
func (e *Engine) SetParams(p Params) {
	e.motion.SetParams(p)
	e.rem.SetParams(p)
	e.nrem.SetParams(p)
	e.quality.SetParams(p)
}

// Step feeds m to every detector in order.
func (e *Engine) Step(m Metric) Result {
	var r Result
	for _, en := range e.entries {
		lvl := en.det.Update(m)
		if lvl != en.level {
			r.Changed = append(r.Changed, en.kind)
		}
		en.level = lvl
		if en.eventLevel > 0 && lvl >= en.eventLevel {
			r.Events = append(r.Events, en.kind)
		}
	}
	r.Motion = e.motion.Triggered()
	r.REM = e.rem.Level()
	r.NREM = e.nrem.Level()
	r.Quality = e.quality.Indicator()
	return r
}
