// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/depthcam/internal/frame"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// LocalHostRequest creates an httptest request that appears to come from
// localhost, which tsweb.AllowDebugAccess requires for /debug/ routes.
func LocalHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// DecodeJSON unmarshals a recorded response body into v.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// Frame builds a rows x cols frame whose pixel at (i, j) is pixel(i, j).
func Frame(t testing.TB, rows, cols int, id uint16, pixel func(i, j int) byte) *frame.Frame {
	t.Helper()
	pixels := make([]byte, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			pixels[i*cols+j] = pixel(i, j)
		}
	}
	f, err := frame.New(rows, cols, pixels, frame.Metadata{FrameID: id, ExposureMicros: 1000, SensorTemp: 30, DriverTemp: 32})
	if err != nil {
		t.Fatalf("frame.New(%d, %d): %v", rows, cols, err)
	}
	return f
}

// Uniform returns a pixel function that yields v everywhere.
func Uniform(v byte) func(i, j int) byte {
	return func(int, int) byte { return v }
}
