// Package device runs the sensor's cooperative main loop. Each cycle captures
// a frame, derives the metric, steps the detection engine and the trigger
// coordinator, emits telemetry and then gives both transports one poll.
// Everything the loop touches is owned by the loop goroutine; the only
// cross-goroutine surfaces are Status, Settings and UpdateSetting, which the
// admin API calls.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/detect"
	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/netstream"
	"github.com/banshee-data/inspec/internal/session"
	"github.com/banshee-data/inspec/internal/shortrange"
	"github.com/banshee-data/inspec/internal/timeutil"
	"github.com/banshee-data/inspec/internal/trigger"
)

// DefaultCycle is the loop period.
const DefaultCycle = 128 * time.Millisecond

var (
	// ErrRestart ends Run after a restart command.
	ErrRestart = errors.New("restart requested")
	// ErrStop may be returned by a Camera to end Run cleanly.
	ErrStop = errors.New("device stopped")
)

// Camera captures frames. Each call must return a fresh image; the device
// keeps the previous one for differencing.
type Camera interface {
	Capture() (image.Image, error)
}

// SensorConfigurer applies sensor-affecting settings to the camera.
type SensorConfigurer interface {
	Reconfigure(s config.Settings) error
}

// Streamer is the local-network side of the device, implemented by
// *netstream.Server.
type Streamer interface {
	Poll()
	SendFrame(img image.Image) error
	SendEvent(name, value string)
	SendVariance(v float64)
	MediaViewerConnected() bool
	SetQuality(q int)
	SetAPIEnabled(enabled bool)
	Status() []netstream.EndpointStatus
}

// EventSink receives a copy of every broadcast event line.
type EventSink interface {
	Publish(name, value string)
}

// Options wires a Device. Camera, Metric, Config, Link and Stream are
// required.
type Options struct {
	Clock     timeutil.Clock
	Camera    Camera
	Metric    detect.MetricSource
	Presence  detect.PresenceDetector
	Sensor    SensorConfigurer
	Indicator Indicator
	Config    *config.Store
	Link      *shortrange.Link
	Stream    Streamer
	Sessions  *session.Store
	Sink      EventSink
	Errors    *monitoring.ErrorReporter
	// IP is reported in answer to request.ip. Empty means look it up.
	IP    string
	Cycle time.Duration
}

// Device is the main loop.
type Device struct {
	clock     timeutil.Clock
	camera    Camera
	metric    detect.MetricSource
	presence  detect.PresenceDetector
	sensor    SensorConfigurer
	indicator Indicator
	cfg       *config.Store
	link      *shortrange.Link
	stream    Streamer
	sessions  *session.Store
	logger    *session.Logger
	sink      EventSink
	errs      *monitoring.ErrorReporter
	ip        string
	cycle     time.Duration

	engine   *detect.Engine
	coord    *trigger.Coordinator
	settings config.Settings

	frame       image.Image
	prev        image.Image
	face        bool
	lastTrigger trigger.Event
	// last is the most recent detection result, kept across failed captures.
	last        detect.Result
	cycles      uint64
	restart     bool

	// reload carries settings changes made outside the loop.
	reload chan bool

	mu     sync.Mutex
	status Status
}

// New validates opts and builds a Device with the current stored settings
// applied.
func New(opts Options) (*Device, error) {
	switch {
	case opts.Camera == nil:
		return nil, errors.New("device: camera is required")
	case opts.Metric == nil:
		return nil, errors.New("device: metric source is required")
	case opts.Config == nil:
		return nil, errors.New("device: config store is required")
	case opts.Link == nil:
		return nil, errors.New("device: short-range link is required")
	case opts.Stream == nil:
		return nil, errors.New("device: stream server is required")
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Indicator == nil {
		opts.Indicator = LogIndicator{}
	}
	if opts.Errors == nil {
		opts.Errors = monitoring.NewErrorReporter()
	}
	if opts.Cycle <= 0 {
		opts.Cycle = DefaultCycle
	}

	d := &Device{
		clock:     opts.Clock,
		camera:    opts.Camera,
		metric:    opts.Metric,
		presence:  opts.Presence,
		sensor:    opts.Sensor,
		indicator: opts.Indicator,
		cfg:       opts.Config,
		link:      opts.Link,
		stream:    opts.Stream,
		sessions:  opts.Sessions,
		sink:      opts.Sink,
		errs:      opts.Errors,
		ip:        opts.IP,
		cycle:     opts.Cycle,
		reload:    make(chan bool, 1),
	}
	if d.sessions != nil {
		d.logger = session.NewLogger(d.sessions, d.clock)
	}

	d.settings = d.cfg.Settings()
	d.engine = detect.NewEngine(d.clock, d.params(d.settings))
	d.coord = trigger.NewCoordinator(d.clock, outputs{d}, trigger.ConfigFromSettings(d.settings))
	d.applySettings(d.settings, true)
	d.registerCommands()
	return d, nil
}

// Run steps the loop once per cycle until ctx is done, a restart is
// requested or the camera reports ErrStop.
func (d *Device) Run(ctx context.Context) error {
	d.syncSession()
	defer d.stopSession()

	ticker := d.clock.NewTicker(d.cycle)
	defer ticker.Stop()

	monitoring.Logf("device: running, cycle %v", d.cycle)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if err := d.Step(); err != nil {
				monitoring.Logf("device: loop stopped: %v", err)
				return err
			}
		}
	}
}

// Step runs one cycle. A panic inside the cycle is reported as an error
// event and the loop carries on.
func (d *Device) Step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.reportErr(fmt.Errorf("cycle panic: %v", r))
			d.snapshotHeld()
			err = d.stopCondition()
		}
	}()

	d.drainReload()
	d.cycles++

	frame, err := d.camera.Capture()
	switch {
	case errors.Is(err, ErrStop):
		return ErrStop
	case err != nil:
		d.reportErr(fmt.Errorf("capture: %w", err))
		d.pollTransports()
		d.snapshotHeld()
		return d.stopCondition()
	}
	d.frame = frame

	m := d.measure(frame)
	res := d.engine.Step(m)

	for _, k := range res.Changed {
		if k == detect.KindMotion {
			continue
		}
		d.emit(string(k), strconv.Itoa(res.Level(k)))
	}

	d.coord.Observe(res.Events)
	if ev, ok := d.coord.Poll(); ok {
		d.lastTrigger = ev
		monitoring.Logf("device: trigger fired by %s", ev.Source)
	}

	d.link.NotifyTelemetry(Telemetry(m.Variance, res.REM, d.face, res.Quality))
	d.stream.SendVariance(m.Variance)
	d.pollTransports()
	if err := d.stream.SendFrame(frame); err != nil {
		d.reportErr(fmt.Errorf("stream frame: %w", err))
	}

	if d.logger != nil && d.logger.Active() {
		err := d.logger.Record(session.Sample{
			Variance: m.Variance,
			REM:      res.REM,
			NREM:     res.NREM,
			Quality:  res.Quality,
		})
		if err != nil {
			d.reportErr(fmt.Errorf("session log: %w", err))
		}
	}

	d.prev = frame
	d.last = res
	d.snapshot(m, res)
	return d.stopCondition()
}

// snapshotHeld publishes status for a cycle that produced no detection result.
// The last good levels are kept.
func (d *Device) snapshotHeld() {
	held := d.last
	held.Motion = false
	d.snapshot(detect.Metric{}, held)
}

func (d *Device) stopCondition() error {
	if d.restart {
		return ErrRestart
	}
	return nil
}

// measure runs presence detection and the metric source on frame.
func (d *Device) measure(frame image.Image) detect.Metric {
	roi := frame.Bounds()
	if d.presence != nil && d.settings.TrackFace == 1 {
		r, ok := d.presence.Detect(frame)
		if ok != d.face {
			d.face = ok
			d.emit("face", flag(ok))
		}
		if ok {
			roi = r
		}
	}
	v, g := d.metric.Variance(frame, d.prev, roi)
	return detect.Metric{Variance: v, GlobalVariance: g, Presence: d.face}
}

func (d *Device) pollTransports() {
	d.stream.Poll()
	if err := d.link.Poll(); err != nil {
		d.reportErr(err)
	}
}

// Telemetry formats the periodic short-range status line.
func Telemetry(peak float64, rem int, face bool, quality int) string {
	return fmt.Sprintf("%.2f;%d;%s;%d", peak, rem, flag(face), quality)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// emit broadcasts an event line to every consumer.
func (d *Device) emit(name, value string) {
	d.link.Event(name, value)
	d.stream.SendEvent(name, value)
	if d.sink != nil {
		d.sink.Publish(name, value)
	}
	if d.logger != nil && d.logger.Active() {
		if err := d.logger.Event(name, value); err != nil {
			monitoring.Logf("device: session event %s: %v", name, err)
		}
	}
}

// reportErr surfaces err once as an error event.
func (d *Device) reportErr(err error) {
	if d.errs.Report(err) {
		d.emit("error", err.Error())
	}
}

// outputs adapts the device to the coordinator's side effects.
type outputs struct{ d *Device }

func (o outputs) Alert()                       { o.d.indicator.Flash(PatternFromSettings(o.d.settings)) }
func (o outputs) SendEvent(name, value string) { o.d.emit(name, value) }
func (o outputs) MediaViewerConnected() bool   { return o.d.stream.MediaViewerConnected() }

func (o outputs) PushImage() {
	err := o.d.pushImage()
	if err != nil && !errors.Is(err, shortrange.ErrNotConnected) {
		monitoring.Logf("device: trigger image push: %v", err)
	}
}

// pushImage sends the current frame as a bulk image.
func (d *Device) pushImage() error {
	if d.frame == nil {
		return errors.New("no frame captured yet")
	}
	data, err := EncodeJPEG(d.frame, d.settings.ImageQuality)
	if err != nil {
		return err
	}
	return d.link.SendBulk(shortrange.BulkImage, data)
}
