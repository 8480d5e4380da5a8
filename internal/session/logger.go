package session

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/inspec/internal/timeutil"
)

// ErrNoSession is returned when recording without an active session.
var ErrNoSession = errors.New("no active session")

// Sample is one cycle's view of the detectors.
type Sample struct {
	Variance float64
	REM      int
	NREM     int
	Quality  int
}

// Logger buffers the samples of the current minute and writes one aggregate
// row whenever a minute boundary is crossed. It is driven from the device loop
// and is not safe for concurrent use.
type Logger struct {
	store *Store
	clock timeutil.Clock

	session Session
	active  bool

	minute  int
	samples []float64
	maxREM  int
	maxNREM int
	quality int
}

func NewLogger(store *Store, clock timeutil.Clock) *Logger {
	return &Logger{store: store, clock: clock}
}

// Start opens a new session. An active session is stopped first.
func (l *Logger) Start(researcher string) (Session, error) {
	if l.active {
		if err := l.Stop(); err != nil {
			return Session{}, err
		}
	}
	sess, err := l.store.StartSession(researcher, l.clock.Now())
	if err != nil {
		return Session{}, err
	}
	l.session = sess
	l.active = true
	l.resetMinute(0)
	return sess, nil
}

// Active reports whether a session is open.
func (l *Logger) Active() bool { return l.active }

// Session returns the open session.
func (l *Logger) Session() (Session, bool) { return l.session, l.active }

// Record adds one sample, flushing the previous minute when the clock has
// moved past it.
func (l *Logger) Record(s Sample) error {
	if !l.active {
		return ErrNoSession
	}
	idx := int(l.clock.Now().Sub(l.session.StartedAt) / time.Minute)
	if idx < 0 {
		idx = 0
	}
	var err error
	if idx != l.minute {
		err = l.flush()
		l.resetMinute(idx)
	}

	l.samples = append(l.samples, s.Variance)
	l.maxREM = max(l.maxREM, s.REM)
	l.maxNREM = max(l.maxNREM, s.NREM)
	l.quality = s.Quality
	return err
}

// Event stores an event line against the open session.
func (l *Logger) Event(name, value string) error {
	if !l.active {
		return ErrNoSession
	}
	return l.store.RecordEvent(l.session.ID, Event{At: l.clock.Now(), Name: name, Value: value})
}

// Stop flushes the partial minute and closes the session.
func (l *Logger) Stop() error {
	if !l.active {
		return nil
	}
	l.active = false
	flushErr := l.flush()
	endErr := l.store.EndSession(l.session.ID, l.clock.Now())
	return errors.Join(flushErr, endErr)
}

func (l *Logger) resetMinute(idx int) {
	l.minute = idx
	l.samples = l.samples[:0]
	l.maxREM = 0
	l.maxNREM = 0
}

func (l *Logger) flush() error {
	if len(l.samples) == 0 {
		return nil
	}
	m := Aggregate(l.minute, l.samples)
	m.MaxREM = l.maxREM
	m.MaxNREM = l.maxNREM
	m.Quality = l.quality
	if err := l.store.RecordMinute(l.session.ID, m); err != nil {
		return fmt.Errorf("session %s: %w", l.session.ID, err)
	}
	return nil
}

// Aggregate summarises one minute of variance samples. The sample slice is
// copied.
func Aggregate(minute int, samples []float64) Minute {
	m := Minute{Minute: minute, SampleCount: len(samples)}
	if len(samples) == 0 {
		return m
	}
	m.Samples = append([]float64(nil), samples...)
	m.PeakVariance = floats.Max(samples)
	if len(samples) == 1 {
		m.MeanVariance = samples[0]
		return m
	}
	m.MeanVariance, m.StdDevVariance = stat.MeanStdDev(samples, nil)
	return m
}
