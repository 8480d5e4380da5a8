package monitoring

import (
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
}

func TestNewLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	for _, debug := range []bool{false, true} {
		l, err := NewLogger(debug)
		if err != nil {
			t.Fatalf("NewLogger(%v): %v", debug, err)
		}
		if got := l.Core().Enabled(-1); got != debug {
			t.Errorf("NewLogger(%v) debug enabled = %v", debug, got)
		}
		UseZap(l)
		Logf("routed through zap: %d", 1)
	}

	UseZap(nil)
	Logf("muted")
}
