// Package trigger debounces detector events into at most one trigger per
// interval, optionally delayed, and fans each fired trigger out to the
// indicator, the telemetry channel and, when nobody is watching the media
// stream, an explicit image push.
package trigger

import (
	"time"

	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/detect"
	"github.com/banshee-data/inspec/internal/timeutil"
)

// Outputs receives the side effects of a fired trigger.
type Outputs interface {
	Alert()
	SendEvent(name, value string)
	MediaViewerConnected() bool
	PushImage()
}

// Event is a fired trigger.
type Event struct {
	Source detect.Kind
	Value  string
	At     time.Time
}

// Config controls spacing and which detectors may schedule a trigger.
type Config struct {
	Interval  time.Duration
	Delay     time.Duration
	Algorithm string
}

// ConfigFromSettings extracts the coordinator's view of s.
func ConfigFromSettings(s config.Settings) Config {
	return Config{
		Interval:  s.TriggerIntervalDuration(),
		Delay:     s.TriggerDelayDuration(),
		Algorithm: s.Algorithm,
	}
}

// Sources returns the detectors an algorithm setting lets through. Unknown
// names fall back to motion.
func Sources(algorithm string) []detect.Kind {
	switch algorithm {
	case config.AlgorithmREM:
		return []detect.Kind{detect.KindREM}
	case config.AlgorithmNREM:
		return []detect.Kind{detect.KindNREM}
	case config.AlgorithmAll:
		return []detect.Kind{detect.KindMotion, detect.KindREM, detect.KindNREM}
	default:
		return []detect.Kind{detect.KindMotion}
	}
}

// Coordinator is driven from the device loop and is not safe for concurrent
// use.
type Coordinator struct {
	clock timeutil.Clock
	out   Outputs

	cfg     Config
	sources map[detect.Kind]bool

	lastTrigger time.Time
	pending     bool
	deadline    time.Time
	source      detect.Kind
}

func NewCoordinator(clock timeutil.Clock, out Outputs, cfg Config) *Coordinator {
	c := &Coordinator{clock: clock, out: out}
	c.SetConfig(cfg)
	return c
}

// SetConfig applies new spacing and source rules. A pending trigger keeps
// its deadline.
func (c *Coordinator) SetConfig(cfg Config) {
	c.cfg = cfg
	c.sources = make(map[detect.Kind]bool)
	for _, k := range Sources(cfg.Algorithm) {
		c.sources[k] = true
	}
}

// Observe considers the detector events of one cycle. The first enabled
// source schedules a trigger when the interval since the previous one has
// elapsed. It reports whether a trigger was scheduled.
func (c *Coordinator) Observe(events []detect.Kind) bool {
	for _, k := range events {
		if !c.sources[k] {
			continue
		}
		now := c.clock.Now()
		if !c.lastTrigger.IsZero() && now.Sub(c.lastTrigger) < c.cfg.Interval {
			return false
		}
		c.lastTrigger = now
		c.deadline = now.Add(c.cfg.Delay)
		c.pending = true
		c.source = k
		return true
	}
	return false
}

// Pending reports whether a scheduled trigger has not fired yet.
func (c *Coordinator) Pending() bool { return c.pending }

// Poll fires the pending trigger once its deadline has passed.
func (c *Coordinator) Poll() (Event, bool) {
	if !c.pending {
		return Event{}, false
	}
	now := c.clock.Now()
	if now.Before(c.deadline) {
		return Event{}, false
	}
	c.pending = false
	ev := Event{Source: c.source, Value: string(c.source), At: now}

	c.out.Alert()
	c.out.SendEvent("trigger", ev.Value)
	if !c.out.MediaViewerConnected() {
		c.out.PushImage()
	}
	return ev, true
}
