package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrDisabled is returned when a command is sent while no camera is attached.
var ErrDisabled = errors.New("serialmux: no camera attached")

// DisabledSerialMux stands in for the camera when frames come from somewhere
// else, such as a capture file. It never produces bytes and refuses commands.
// Subscribers are tracked so their channels are closed on Unsubscribe or
// Close.
type DisabledSerialMux struct {
	reason string

	mu          sync.Mutex
	subscribers map[string]chan []byte
	closing     bool
}

// NewDisabledSerialMux returns a mux that explains itself with reason on the
// debug page and in command errors.
func NewDisabledSerialMux(reason string) *DisabledSerialMux {
	return &DisabledSerialMux{
		reason:      reason,
		subscribers: make(map[string]chan []byte),
	}
}

func (d *DisabledSerialMux) AddProcessor(ChunkProcessor) {}

func (d *DisabledSerialMux) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendCommand(command string) error {
	if d.reason == "" {
		return fmt.Errorf("%w: dropped %q", ErrDisabled, command)
	}
	return fmt.Errorf("%w (%s): dropped %q", ErrDisabled, d.reason, command)
}

// Monitor blocks until ctx is done.
func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		msg := "serial disabled"
		if d.reason != "" {
			msg += ": " + d.reason
		}
		_, _ = w.Write([]byte(msg))
	})
}
