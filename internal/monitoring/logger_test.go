package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRedirects(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })
	Logf("iteration %d", 10)
	if got != "iteration 10" {
		t.Errorf("custom logger not called, got %q", got)
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	defer SetLogger(nil)

	called := false
	SetLogger(func(string, ...interface{}) { called = true })
	SetLogger(nil)
	Logf("dropped")
	if called {
		t.Error("nil logger should mute output")
	}
}
