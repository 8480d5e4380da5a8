package device

import (
	"time"

	"github.com/banshee-data/inspec/internal/detect"
	"github.com/banshee-data/inspec/internal/netstream"
	"github.com/banshee-data/inspec/internal/shortrange"
	"github.com/banshee-data/inspec/internal/version"
)

// LinkStatus is the short-range link as seen by the last cycle.
type LinkStatus struct {
	Connected bool             `json:"connected"`
	Busy      bool             `json:"busy"`
	Stats     shortrange.Stats `json:"stats"`
}

// Status is a snapshot taken at the end of every cycle.
type Status struct {
	Version        string                     `json:"version"`
	Cycles         uint64                     `json:"cycles"`
	LastCycle      time.Time                  `json:"last_cycle"`
	Variance       float64                    `json:"variance"`
	GlobalVariance float64                    `json:"global_variance"`
	Face           bool                       `json:"face"`
	Motion         bool                       `json:"motion"`
	REM            int                        `json:"rem"`
	NREM           int                        `json:"nrem"`
	Quality        int                        `json:"quality"`
	TriggerPending bool                       `json:"trigger_pending"`
	LastTrigger    *time.Time                 `json:"last_trigger,omitempty"`
	TriggerSource  string                     `json:"trigger_source,omitempty"`
	Link           LinkStatus                 `json:"link"`
	Streams        []netstream.EndpointStatus `json:"streams"`
	Session        string                     `json:"session,omitempty"`
	Errors         []string                   `json:"errors"`
}

// Status returns the most recent snapshot. Safe for concurrent use.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Device) snapshot(m detect.Metric, r detect.Result) {
	st := Status{
		Version:        version.String(),
		Cycles:         d.cycles,
		LastCycle:      d.clock.Now(),
		Variance:       m.Variance,
		GlobalVariance: m.GlobalVariance,
		Face:           d.face,
		Motion:         r.Motion,
		REM:            r.REM,
		NREM:           r.NREM,
		Quality:        r.Quality,
		TriggerPending: d.coord.Pending(),
		Link: LinkStatus{
			Connected: d.link.Connected(),
			Busy:      d.link.Busy(),
			Stats:     d.link.Stats(),
		},
		Streams: d.stream.Status(),
		Errors:  d.errs.Recent(),
	}
	if !d.lastTrigger.At.IsZero() {
		at := d.lastTrigger.At
		st.LastTrigger = &at
		st.TriggerSource = string(d.lastTrigger.Source)
	}
	if d.logger != nil {
		if sess, ok := d.logger.Session(); ok {
			st.Session = sess.ID
		}
	}

	d.mu.Lock()
	d.status = st
	d.mu.Unlock()
}
