package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnknownSetting is returned when a setting name is not in the table.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidValue is returned when a value cannot be coerced to the
	// setting's type or falls outside its bounds.
	ErrInvalidValue = errors.New("invalid setting value")
)

// Settings is the device configuration persisted to config.txt. JSON keys are
// the names accepted by update.setting.<Name>:<value>.
type Settings struct {
	// Detection
	Algorithm        string  `json:"Algorithm"`
	TriggerThreshold float64 `json:"TriggerThreshold"`
	TossThreshold    float64 `json:"TossThreshold"`
	ArtifactFilter   float64 `json:"ArtifactFilter"`
	TossCooldown     int     `json:"TossCooldown"`    // seconds
	TriggerInterval  int     `json:"TriggerInterval"` // milliseconds
	TriggerDelay     int     `json:"TriggerDelay"`    // milliseconds
	NREM1Delay       int     `json:"NREM1Delay"`      // milliseconds
	TrackFace        int     `json:"TrackFace"`
	FaceFeatures     int     `json:"FaceFeatures"`

	// Sensor
	PixelFormat    string `json:"PixelFormat"`
	FrameSize      string `json:"FrameSize"`
	PixelThreshold int    `json:"PixelThreshold"`
	PixelRange     int    `json:"PixelRange"`
	Brightness     int    `json:"Brightness"`
	Contrast       int    `json:"Contrast"`
	Saturation     int    `json:"Saturation"`
	AutoGain       int    `json:"AutoGain"`
	AutoExposure   int    `json:"AutoExposure"`

	// Media
	ImageQuality  int `json:"ImageQuality"`
	StreamQuality int `json:"StreamQuality"`

	// Network
	AccessPoint         int    `json:"AccessPoint"`
	AccessPointName     string `json:"AccessPointName"`
	AccessPointPassword string `json:"AccessPointPassword"`
	WiFi                int    `json:"WiFi"`
	WiFiNetworkName     string `json:"WiFiNetworkName"`
	WiFiKey             string `json:"WiFiKey"`
	APIEnabled          int    `json:"APIEnabled"`

	// Indicator
	LEDs        string `json:"LEDs"`
	LEDFlashes  int    `json:"LEDFlashes"`
	LEDInterval int    `json:"LEDInterval"` // milliseconds

	// Session
	CreateLogs int    `json:"CreateLogs"`
	Researcher string `json:"Researcher"`
}

// Algorithm names selecting which detectors may schedule triggers.
const (
	AlgorithmMotion = "Motion Detection"
	AlgorithmREM    = "REM Detection"
	AlgorithmNREM   = "NREM Detection"
	AlgorithmAll    = "All"
)

// Defaults returns the factory configuration.
func Defaults() Settings {
	return Settings{
		Algorithm:        AlgorithmMotion,
		TriggerThreshold: 20,
		TossThreshold:    8000,
		ArtifactFilter:   0,
		TossCooldown:     300,
		TriggerInterval:  60000,
		TriggerDelay:     0,
		NREM1Delay:       480000,
		TrackFace:        0,
		FaceFeatures:     12,

		PixelFormat:    "Grayscale",
		FrameSize:      "QVGA",
		PixelThreshold: 32,
		PixelRange:     8,

		ImageQuality:  60,
		StreamQuality: 35,

		AccessPointName:     "INSPEC",
		AccessPointPassword: "1234567890",
		WiFiNetworkName:     "INSPEC",
		WiFiKey:             "1234567890",

		LEDs:        "R",
		LEDFlashes:  3,
		LEDInterval: 100,

		CreateLogs: 1,
		Researcher: "Researcher",
	}
}

// Kind is the value family of a setting.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	default:
		return "unknown"
	}
}

// field describes one setting. Exactly one accessor is set, matching kind.
// Bounds apply to numeric kinds when max > min.
type field struct {
	name   string
	kind   Kind
	sensor bool
	min    float64
	max    float64
	oneOf  []string
	str    func(*Settings) *string
	flt    func(*Settings) *float64
	num    func(*Settings) *int
}

func (f field) bounded() bool { return f.max > f.min }

var fields = []field{
	{name: "Algorithm", kind: KindString, oneOf: []string{AlgorithmMotion, AlgorithmREM, AlgorithmNREM, AlgorithmAll}, str: func(s *Settings) *string { return &s.Algorithm }},
	{name: "TriggerThreshold", kind: KindFloat, sensor: true, min: 0, max: 1e9, flt: func(s *Settings) *float64 { return &s.TriggerThreshold }},
	{name: "TossThreshold", kind: KindFloat, sensor: true, min: 0, max: 1e9, flt: func(s *Settings) *float64 { return &s.TossThreshold }},
	{name: "ArtifactFilter", kind: KindFloat, min: 0, max: 1, flt: func(s *Settings) *float64 { return &s.ArtifactFilter }},
	{name: "TossCooldown", kind: KindInt, min: 0, max: 3600, num: func(s *Settings) *int { return &s.TossCooldown }},
	{name: "TriggerInterval", kind: KindInt, min: 0, max: 86400000, num: func(s *Settings) *int { return &s.TriggerInterval }},
	{name: "TriggerDelay", kind: KindInt, min: 0, max: 600000, num: func(s *Settings) *int { return &s.TriggerDelay }},
	{name: "NREM1Delay", kind: KindInt, min: 8, max: 86400000, num: func(s *Settings) *int { return &s.NREM1Delay }},
	{name: "TrackFace", kind: KindInt, min: 0, max: 1, num: func(s *Settings) *int { return &s.TrackFace }},
	{name: "FaceFeatures", kind: KindInt, min: 1, max: 25, num: func(s *Settings) *int { return &s.FaceFeatures }},

	{name: "PixelFormat", kind: KindString, sensor: true, oneOf: []string{"Grayscale", "RGB565"}, str: func(s *Settings) *string { return &s.PixelFormat }},
	{name: "FrameSize", kind: KindString, sensor: true, oneOf: []string{"QQVGA", "QVGA", "VGA"}, str: func(s *Settings) *string { return &s.FrameSize }},
	{name: "PixelThreshold", kind: KindInt, sensor: true, min: 0, max: 255, num: func(s *Settings) *int { return &s.PixelThreshold }},
	{name: "PixelRange", kind: KindInt, sensor: true, min: 0, max: 255, num: func(s *Settings) *int { return &s.PixelRange }},
	{name: "Brightness", kind: KindInt, sensor: true, min: -3, max: 3, num: func(s *Settings) *int { return &s.Brightness }},
	{name: "Contrast", kind: KindInt, sensor: true, min: -3, max: 3, num: func(s *Settings) *int { return &s.Contrast }},
	{name: "Saturation", kind: KindInt, sensor: true, min: -3, max: 3, num: func(s *Settings) *int { return &s.Saturation }},
	{name: "AutoGain", kind: KindInt, sensor: true, min: 0, max: 1, num: func(s *Settings) *int { return &s.AutoGain }},
	{name: "AutoExposure", kind: KindInt, sensor: true, min: 0, max: 1, num: func(s *Settings) *int { return &s.AutoExposure }},

	{name: "ImageQuality", kind: KindInt, min: 1, max: 100, num: func(s *Settings) *int { return &s.ImageQuality }},
	{name: "StreamQuality", kind: KindInt, min: 1, max: 100, num: func(s *Settings) *int { return &s.StreamQuality }},

	{name: "AccessPoint", kind: KindInt, min: 0, max: 1, num: func(s *Settings) *int { return &s.AccessPoint }},
	{name: "AccessPointName", kind: KindString, str: func(s *Settings) *string { return &s.AccessPointName }},
	{name: "AccessPointPassword", kind: KindString, str: func(s *Settings) *string { return &s.AccessPointPassword }},
	{name: "WiFi", kind: KindInt, min: 0, max: 1, num: func(s *Settings) *int { return &s.WiFi }},
	{name: "WiFiNetworkName", kind: KindString, str: func(s *Settings) *string { return &s.WiFiNetworkName }},
	{name: "WiFiKey", kind: KindString, str: func(s *Settings) *string { return &s.WiFiKey }},
	{name: "APIEnabled", kind: KindInt, min: 0, max: 1, num: func(s *Settings) *int { return &s.APIEnabled }},

	{name: "LEDs", kind: KindString, str: func(s *Settings) *string { return &s.LEDs }},
	{name: "LEDFlashes", kind: KindInt, min: 0, max: 20, num: func(s *Settings) *int { return &s.LEDFlashes }},
	{name: "LEDInterval", kind: KindInt, min: 10, max: 2000, num: func(s *Settings) *int { return &s.LEDInterval }},

	{name: "CreateLogs", kind: KindInt, min: 0, max: 1, num: func(s *Settings) *int { return &s.CreateLogs }},
	{name: "Researcher", kind: KindString, str: func(s *Settings) *string { return &s.Researcher }},
}

var fieldIndex = func() map[string]field {
	idx := make(map[string]field, len(fields))
	for _, f := range fields {
		idx[f.name] = f
	}
	return idx
}()

// maxStringLen caps string settings; values arrive over a 200-byte radio frame.
const maxStringLen = 64

// Names returns every setting name in sorted order.
func Names() []string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}

// KindOf reports the value family of the named setting.
func KindOf(name string) (Kind, error) {
	f, ok := fieldIndex[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	return f.kind, nil
}

// IsSensorSetting reports whether changing name requires the camera to be
// reconfigured.
func IsSensorSetting(name string) bool {
	return fieldIndex[name].sensor
}

// Set parses value according to the setting's kind and applies it. Integers
// accept integral floats ("1.0") and booleans; anything else that does not
// parse, or that falls outside the declared bounds, is rejected and leaves s
// unchanged.
func (s *Settings) Set(name, value string) error {
	f, ok := fieldIndex[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	value = strings.TrimSpace(value)

	switch f.kind {
	case KindString:
		if err := f.checkString(value); err != nil {
			return err
		}
		*f.str(s) = value

	case KindFloat:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidValue, name, value)
		}
		if err := f.checkBounds(v); err != nil {
			return err
		}
		*f.flt(s) = v

	case KindInt:
		v, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, name, value)
		}
		if err := f.checkBounds(float64(v)); err != nil {
			return err
		}
		*f.num(s) = v
	}
	return nil
}

// Get returns the named setting formatted as it would be sent over the wire.
func (s *Settings) Get(name string) (string, error) {
	f, ok := fieldIndex[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	switch f.kind {
	case KindString:
		return *f.str(s), nil
	case KindFloat:
		return strconv.FormatFloat(*f.flt(s), 'f', -1, 64), nil
	default:
		return strconv.Itoa(*f.num(s)), nil
	}
}

// Validate checks every field against its declared type constraints and
// returns the names of the fields that violate them.
func (s *Settings) Validate() []string {
	var bad []string
	for _, f := range fields {
		var err error
		switch f.kind {
		case KindString:
			err = f.checkString(*f.str(s))
		case KindFloat:
			v := *f.flt(s)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err = ErrInvalidValue
			} else {
				err = f.checkBounds(v)
			}
		case KindInt:
			err = f.checkBounds(float64(*f.num(s)))
		}
		if err != nil {
			bad = append(bad, f.name)
		}
	}
	return bad
}

func (f field) checkString(v string) error {
	if len(v) > maxStringLen {
		return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidValue, f.name, maxStringLen)
	}
	if len(f.oneOf) == 0 {
		return nil
	}
	for _, allowed := range f.oneOf {
		if v == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s=%q, expected one of %q", ErrInvalidValue, f.name, v, f.oneOf)
}

func (f field) checkBounds(v float64) error {
	if f.bounded() && (v < f.min || v > f.max) {
		return fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrInvalidValue, f.name, v, f.min, f.max)
	}
	return nil
}

func parseInt(value string) (int, error) {
	if v, err := strconv.Atoi(value); err == nil {
		return v, nil
	}
	if b, err := strconv.ParseBool(value); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, ErrInvalidValue
	}
	return int(f), nil
}

// TossCooldownDuration returns TossCooldown as a duration.
func (s Settings) TossCooldownDuration() time.Duration {
	return time.Duration(s.TossCooldown) * time.Second
}

// TriggerIntervalDuration returns TriggerInterval as a duration.
func (s Settings) TriggerIntervalDuration() time.Duration {
	return time.Duration(s.TriggerInterval) * time.Millisecond
}

// TriggerDelayDuration returns TriggerDelay as a duration.
func (s Settings) TriggerDelayDuration() time.Duration {
	return time.Duration(s.TriggerDelay) * time.Millisecond
}

// NREM1DelayDuration returns NREM1Delay as a duration.
func (s Settings) NREM1DelayDuration() time.Duration {
	return time.Duration(s.NREM1Delay) * time.Millisecond
}

// LEDIntervalDuration returns LEDInterval as a duration.
func (s Settings) LEDIntervalDuration() time.Duration {
	return time.Duration(s.LEDInterval) * time.Millisecond
}
