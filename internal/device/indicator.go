package device

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/banshee-data/inspec/internal/config"
	"github.com/banshee-data/inspec/internal/monitoring"
	"github.com/banshee-data/inspec/internal/timeutil"
)

// FlashPattern describes one LED flash sequence.
type FlashPattern struct {
	// LEDs selects colours by letter: any of "R", "G", "B".
	LEDs     string
	Flashes  int
	Interval time.Duration
}

// PatternFromSettings reads the LED settings.
func PatternFromSettings(s config.Settings) FlashPattern {
	return FlashPattern{LEDs: s.LEDs, Flashes: s.LEDFlashes, Interval: s.LEDIntervalDuration()}
}

// Empty reports whether the pattern lights nothing.
func (p FlashPattern) Empty() bool {
	return p.Flashes <= 0 || !strings.ContainsAny(p.LEDs, "RGB")
}

// Indicator is the device's visible output. Flash must not block the loop.
type Indicator interface {
	Flash(p FlashPattern)
}

// LEDSetter switches one LED, named by its colour letter.
type LEDSetter func(led rune, on bool)

// Blink runs p to completion: each flash turns the selected LEDs on for one
// interval and off for one interval.
func Blink(clock timeutil.Clock, set LEDSetter, p FlashPattern) {
	if p.Empty() {
		return
	}
	var leds []rune
	for _, c := range "RGB" {
		if strings.ContainsRune(p.LEDs, c) {
			leds = append(leds, c)
		}
	}
	for range p.Flashes {
		for _, c := range leds {
			set(c, true)
		}
		clock.Sleep(p.Interval)
		for _, c := range leds {
			set(c, false)
		}
		clock.Sleep(p.Interval)
	}
}

// LEDIndicator blinks hardware LEDs on a helper goroutine. A flash requested
// while one is running is ignored.
type LEDIndicator struct {
	clock timeutil.Clock
	set   LEDSetter
	busy  atomic.Bool
	done  chan struct{}
}

func NewLEDIndicator(clock timeutil.Clock, set LEDSetter) *LEDIndicator {
	return &LEDIndicator{clock: clock, set: set}
}

func (l *LEDIndicator) Flash(p FlashPattern) {
	if p.Empty() || !l.busy.CompareAndSwap(false, true) {
		return
	}
	done := make(chan struct{})
	l.done = done
	go func() {
		defer close(done)
		defer l.busy.Store(false)
		Blink(l.clock, l.set, p)
	}()
}

// Wait blocks until the running flash, if any, has finished.
func (l *LEDIndicator) Wait() {
	if l.done != nil {
		<-l.done
	}
}

// LogIndicator stands in for LEDs in dev mode.
type LogIndicator struct{}

func (LogIndicator) Flash(p FlashPattern) {
	if p.Empty() {
		return
	}
	monitoring.Logf("indicator: flash %s x%d every %v", p.LEDs, p.Flashes, p.Interval)
}
