package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerRoutesOutput(t *testing.T) {
	var lines []string
	prev := SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer SetLogger(prev)

	Logf("decoder: discarded packet %d", 7)
	if len(lines) != 1 || lines[0] != "decoder: discarded packet 7" {
		t.Errorf("lines = %q", lines)
	}
}

func TestSetLoggerNilDiscards(t *testing.T) {
	called := false
	prev := SetLogger(func(string, ...interface{}) { called = true })
	defer SetLogger(prev)

	capture := SetLogger(nil)
	Logf("dropped")
	if called {
		t.Error("nil logger should not reach the previous logger")
	}

	// The returned logger is the one that was replaced.
	capture("direct")
	if !called {
		t.Error("SetLogger did not return the previous logger")
	}
}

func TestDefaultLogger(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf must default to a usable logger")
	}
}
