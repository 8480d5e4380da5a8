package device

import (
	"fmt"

	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/detect"
	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/trigger"
)

// Settings returns the persisted settings. Safe for concurrent use.
func (d *Device) Settings() config.Settings { return d.cfg.Settings() }

// UpdateSetting validates, stores and persists one setting. The loop picks
// the change up at the start of its next cycle. Safe for concurrent use.
func (d *Device) UpdateSetting(name, value string) error {
	sensor, err := d.cfg.Set(name, value)
	if err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	monitoring.Logf("device: setting %s=%q", name, value)
	for {
		select {
		case d.reload <- sensor:
			return nil
		case prev := <-d.reload:
			sensor = sensor || prev
		}
	}
}

// drainReload applies a pending settings change, if any.
func (d *Device) drainReload() {
	select {
	case sensor := <-d.reload:
		d.applySettings(d.cfg.Settings(), sensor)
	default:
	}
}

func (d *Device) params(s config.Settings) detect.Params {
	return detect.Params{
		TriggerThreshold: s.TriggerThreshold,
		TossThreshold:    s.TossThreshold,
		ArtifactFilter:   s.ArtifactFilter,
		TossCooldown:     s.TossCooldownDuration(),
		NREM1Delay:       s.NREM1DelayDuration(),
		TrackPresence:    s.TrackFace == 1 && d.presence != nil,
	}
}

// applySettings pushes s into every component the loop owns. Detector levels
// and the trigger schedule survive.
func (d *Device) applySettings(s config.Settings, sensor bool) {
	prevLogs := d.settings.CreateLogs
	d.settings = s

	d.engine.SetParams(d.params(s))
	d.coord.SetConfig(trigger.ConfigFromSettings(s))
	d.stream.SetQuality(s.StreamQuality)
	d.stream.SetAPIEnabled(s.APIEnabled == 1)
	if fd, ok := d.metric.(*detect.FrameDiff); ok {
		fd.PixelThreshold = s.PixelThreshold
	}
	if s.TrackFace != 1 {
		d.face = false
	}

	if sensor && d.sensor != nil {
		if err := d.sensor.Reconfigure(s); err != nil {
			d.reportErr(fmt.Errorf("reconfigure sensor: %w", err))
		}
	}
	if prevLogs != s.CreateLogs {
		d.syncSession()
	}
}

// syncSession starts or stops session logging to match CreateLogs.
func (d *Device) syncSession() {
	if d.logger == nil {
		return
	}
	switch {
	case d.settings.CreateLogs == 1 && !d.logger.Active():
		sess, err := d.logger.Start(d.settings.Researcher)
		if err != nil {
			d.reportErr(fmt.Errorf("start session: %w", err))
			return
		}
		monitoring.Logf("device: session %s started for %q", sess.ID, sess.Researcher)
	case d.settings.CreateLogs != 1 && d.logger.Active():
		d.stopSession()
	}
}

func (d *Device) stopSession() {
	if d.logger == nil || !d.logger.Active() {
		return
	}
	sess, _ := d.logger.Session()
	if err := d.logger.Stop(); err != nil {
		d.reportErr(fmt.Errorf("stop session: %w", err))
		return
	}
	monitoring.Logf("device: session %s stopped", sess.ID)
}
