// Serialmux provides an abstraction over the camera's serial port: one read
// loop feeds the raw byte stream to registered processors and debug taps,
// while commands from any goroutine are written to the same port.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthcam/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// CommandTerminator ends every AT command written to the port.
const CommandTerminator = "\r"

// ReadBufferSize is the largest chunk handed to processors in one call.
const ReadBufferSize = 4096

// tapBuffer is the number of chunks a slow tap may fall behind before chunks
// are dropped for it.
const tapBuffer = 64

// ChunkProcessor consumes the raw byte stream in arbitrary chunks. The slice
// is only valid for the duration of the call.
type ChunkProcessor interface {
	Process(p []byte)
}

// ProcessorFunc adapts a function to ChunkProcessor.
type ProcessorFunc func(p []byte)

func (fn ProcessorFunc) Process(p []byte) { fn(p) }

// SerialMux is a generic serial port multiplexer that feeds the bytes read
// from a single serial port to processors and subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	processors   []ChunkProcessor
	processorMu  sync.Mutex
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// AddProcessor registers p to receive every chunk read from the port, in
	// order, on the monitor goroutine.
	AddProcessor(p ChunkProcessor)
	// Subscribe creates a channel receiving copies of the chunks read from the
	// port. Chunks are dropped for subscribers that fall behind.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads from the serial port until ctx is done or the port fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) AddProcessor(p ChunkProcessor) {
	s.processorMu.Lock()
	defer s.processorMu.Unlock()
	s.processors = append(s.processors, p)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, tapBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand writes command to the serial port, appending the carriage
// return the camera expects if it is missing.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, CommandTerminator) {
		command += CommandTerminator
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads the serial port and hands each chunk to the processors, then
// to the subscribers. It returns nil when the port reaches EOF or the mux is
// closed, and ctx.Err() on cancellation.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// The blocking Read runs on its own goroutine so the loop below can still
	// observe ctx cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, ReadBufferSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErrChan <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunkChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if s.isClosing() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}
			s.dispatch(chunk)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) dispatch(chunk []byte) {
	s.processorMu.Lock()
	processors := make([]ChunkProcessor, len(s.processors))
	copy(processors, s.processors)
	s.processorMu.Unlock()

	for _, p := range processors {
		p.Process(chunk)
	}

	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- chunk:
		default:
			// if the channel is full skip so as not to block the read loop
		}
	}
	s.subscriberMu.Unlock()
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes serves a command console and a hex tail of the raw byte
// stream under /debug/.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// subscriber is the subset of SerialMuxInterface the admin routes use.
type subscriber interface {
	Subscribe() (string, chan []byte)
	Unsubscribe(string)
	SendCommand(string) error
}

func attachAdminRoutes(mux *http.ServeMux, s subscriber) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send an AT command to the camera", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, sendCommandPage)
	})

	// API endpoint to write command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			monitoring.Logf("serialmux: send-command-api %q: %v", command, err)
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events with one hex-encoded chunk per event.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(chunk)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

const sendCommandPage = `<!DOCTYPE html>
<html>
<head><title>depthcam serial console</title></head>
<body>
<h1>Send AT command</h1>
<form id="send">
  <input name="command" placeholder="AT+FPS=10" size="32" autofocus>
  <button type="submit">Send</button>
</form>
<pre id="status"></pre>
<h2>Raw stream (hex)</h2>
<pre id="tail" style="height:24em;overflow:auto"></pre>
<script>
document.getElementById("send").addEventListener("submit", async (e) => {
  e.preventDefault();
  const body = new URLSearchParams(new FormData(e.target));
  const res = await fetch("send-command-api", {method: "POST", body});
  document.getElementById("status").textContent = await res.text();
});
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => {
  tail.textContent += e.data + "\n";
  if (tail.textContent.length > 65536) tail.textContent = tail.textContent.slice(-32768);
  tail.scrollTop = tail.scrollHeight;
};
</script>
</body>
</html>
`
