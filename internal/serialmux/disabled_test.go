package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// expectClosed fails unless ch is closed within a second.
func expectClosed(t *testing.T, name string, ch chan []byte) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Errorf("%s delivered data, want closed", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for %s to close", name)
	}
}

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux("replay")
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	expectClosed(t, "subscriber", ch)

	// Unknown ids are ignored.
	d.Unsubscribe(id)
	d.Unsubscribe("missing")
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux("replay")
	_, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	expectClosed(t, "ch1", ch1)
	expectClosed(t, "ch2", ch2)

	_, late := d.Subscribe()
	expectClosed(t, "late subscriber", late)

	if err := d.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestDisabledSerialMux_RefusesCommands(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"replaying capture.bin.gz", "(replaying capture.bin.gz)"},
		{"", `dropped "AT+FPS=5"`},
	}
	for _, tt := range tests {
		err := NewDisabledSerialMux(tt.reason).SendCommand("AT+FPS=5")
		if !errors.Is(err, ErrDisabled) {
			t.Fatalf("SendCommand error = %v, want ErrDisabled", err)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("SendCommand error %q missing %q", err, tt.want)
		}
	}
}

func TestDisabledSerialMux_MonitorAndAdmin(t *testing.T) {
	d := NewDisabledSerialMux("replaying capture.bin")
	d.AddProcessor(ProcessorFunc(func([]byte) { t.Error("disabled mux must not produce data") }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Monitor returned %v, want deadline exceeded", err)
	}

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if w.Code != http.StatusOK || w.Body.String() != "serial disabled: replaying capture.bin" {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)
var _ SerialMuxInterface = (*SerialMux[*TestableSerialPort])(nil)
