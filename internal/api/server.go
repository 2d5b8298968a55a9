// Package api serves the depth camera's HTTP interface: service status, the
// latest frame and its point cloud, a heatmap view, camera commands and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/depthcam/internal/calibration"
	"github.com/banshee-data/depthcam/internal/camera"
	"github.com/banshee-data/depthcam/internal/db"
	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/httputil"
	"github.com/banshee-data/depthcam/internal/protocol"
	"github.com/banshee-data/depthcam/internal/timeutil"
	"github.com/banshee-data/depthcam/internal/units"
	"github.com/banshee-data/depthcam/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DecoderStats exposes decoder counters. *protocol.Decoder satisfies it.
type DecoderStats interface {
	Stats() protocol.Stats
}

// QueueStatus exposes delivery queue state. *queue.Queue satisfies it.
type QueueStatus interface {
	Len() int
	Listeners() int
	Running() bool
}

// Camera sends validated commands and tracks the display outputs.
// *camera.Device satisfies it.
type Camera interface {
	Send(c camera.Command) error
	Display() camera.Display
	UpdateDisplay(change func(camera.Display) camera.Display) error
}

// History lists audit records. *db.DB satisfies it.
type History interface {
	Commands(limit int) ([]db.CommandRecord, error)
	Sessions(limit int) ([]db.Session, error)
}

// ByteCounter reports recorded bytes. *recorder.Recorder satisfies it.
type ByteCounter interface {
	Bytes() int64
}

// Options wires a Server. Latest, Decoder, Queue and Calibration are
// required; the rest may be nil.
type Options struct {
	Latest      *LatestFrame
	Decoder     DecoderStats
	Queue       QueueStatus
	Calibration *calibration.Calibration

	Device   Camera      // nil when no camera is attached
	History  History     // nil without a database
	Recorder ByteCounter // nil when not recording
	Gatherer prometheus.Gatherer

	// Source names the frame source: live, replay or mock.
	Source string
	Clock  timeutil.Clock
}

type Server struct {
	opts    Options
	clock   timeutil.Clock
	started time.Time
}

func NewServer(opts Options) *Server {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{opts: opts, clock: clock, started: clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes registers the API routes on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/frames/latest", s.showLatestFrame)
	mux.HandleFunc("/api/frames/latest/points", s.showLatestPoints)
	mux.HandleFunc("/api/frames/latest/heatmap", s.showLatestHeatmap)
	mux.HandleFunc("/api/calibration", s.calibrationHandler)
	mux.HandleFunc("/api/display", s.displayHandler)
	mux.HandleFunc("/api/commands", s.commandsHandler)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
}

type queueStatus struct {
	Depth     int  `json:"depth"`
	Listeners int  `json:"listeners"`
	Running   bool `json:"running"`
}

type statusResponse struct {
	Version          string         `json:"version"`
	Source           string         `json:"source"`
	UptimeSeconds    float64        `json:"uptime_seconds"`
	FramesDelivered  uint64         `json:"frames_delivered"`
	LastFrameAt      *time.Time     `json:"last_frame_at,omitempty"`
	Decoder          protocol.Stats `json:"decoder"`
	Queue            queueStatus    `json:"queue"`
	QuantizationUnit int            `json:"quantization_unit"`
	RecordedBytes    int64          `json:"recorded_bytes,omitempty"`
	Recorded         string         `json:"recorded,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Version:         version.String(),
		Source:          s.opts.Source,
		UptimeSeconds:   s.clock.Since(s.started).Seconds(),
		FramesDelivered: s.opts.Latest.Count(),
		Decoder:         s.opts.Decoder.Stats(),
		Queue: queueStatus{
			Depth:     s.opts.Queue.Len(),
			Listeners: s.opts.Queue.Listeners(),
			Running:   s.opts.Queue.Running(),
		},
		QuantizationUnit: s.opts.Calibration.QuantizationUnit(),
	}
	if f, at := s.opts.Latest.Frame(); f != nil {
		resp.LastFrameAt = &at
	}
	if s.opts.Recorder != nil {
		n := s.opts.Recorder.Bytes()
		resp.RecordedBytes = n
		resp.Recorded = humanize.Bytes(uint64(n))
	}
	httputil.WriteJSONOK(w, resp)
}

type frameResponse struct {
	FrameID           uint16           `json:"frame_id"`
	Rows              int              `json:"rows"`
	Cols              int              `json:"cols"`
	ExposureMicros    uint32           `json:"exposure_us"`
	SensorTemperature int8             `json:"sensor_temp_c"`
	DriverTemperature int8             `json:"driver_temp_c"`
	ErrorCode         uint8            `json:"error_code"`
	Command           uint8            `json:"command"`
	OutputMode        uint8            `json:"output_mode"`
	ISPVersion        uint8            `json:"isp_version"`
	ReceivedAt        time.Time        `json:"received_at"`
	Stats             frame.PixelStats `json:"stats"`
	Pixels            []int            `json:"pixels,omitempty"`
}

func (s *Server) showLatestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, at := s.opts.Latest.Frame()
	if f == nil {
		httputil.ServiceUnavailable(w, "no frame received yet")
		return
	}

	meta := f.Metadata()
	resp := frameResponse{
		FrameID:           meta.FrameID,
		Rows:              f.Rows(),
		Cols:              f.Cols(),
		ExposureMicros:    meta.ExposureMicros,
		SensorTemperature: meta.SensorTemp,
		DriverTemperature: meta.DriverTemp,
		ErrorCode:         meta.ErrorCode,
		Command:           meta.Command,
		OutputMode:        meta.OutputMode,
		ISPVersion:        meta.ISPVersion,
		ReceivedAt:        at,
		Stats:             f.Stats(),
	}
	if include, _ := strconv.ParseBool(r.URL.Query().Get("pixels")); include {
		pixels := f.Pixels()
		resp.Pixels = make([]int, len(pixels))
		for i, p := range pixels {
			resp.Pixels[i] = int(p)
		}
	}
	httputil.WriteJSONOK(w, resp)
}

type pointsResponse struct {
	FrameID          uint16       `json:"frame_id"`
	QuantizationUnit int          `json:"quantization_unit"`
	Units            string       `json:"units"`
	Count            int          `json:"count"`
	Points           [][3]float64 `json:"points"`
}

// nativeUnits labels depths decoded with a non-zero quantization unit, which
// the sensor reports in its own scale.
const nativeUnits = "native"

func (s *Server) showLatestPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	target := units.Meters
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w, fmt.Sprintf("invalid units %q, expected one of: %s", u, units.GetValidUnitsString()))
			return
		}
		target = u
	}

	f, _ := s.opts.Latest.Frame()
	if f == nil {
		httputil.ServiceUnavailable(w, "no frame received yet")
		return
	}

	unit := s.opts.Calibration.QuantizationUnit()
	cloud := s.opts.Calibration.PointCloud(f)
	resp := pointsResponse{
		FrameID:          f.ID(),
		QuantizationUnit: unit,
		Units:            target,
		Count:            len(cloud),
		Points:           make([][3]float64, len(cloud)),
	}
	if unit != 0 {
		resp.Units = nativeUnits
	}
	for i, p := range cloud {
		if unit == 0 {
			resp.Points[i] = [3]float64{
				units.ConvertDistance(p.X, target),
				units.ConvertDistance(p.Y, target),
				units.ConvertDistance(p.Z, target),
			}
		} else {
			resp.Points[i] = [3]float64{p.X, p.Y, p.Z}
		}
	}
	httputil.WriteJSONOK(w, resp)
}

type calibrationRequest struct {
	QuantizationUnit *int `json:"quantization_unit"`
}

type calibrationResponse struct {
	QuantizationUnit int     `json:"quantization_unit"`
	FOVHorizontalDeg float64 `json:"fov_horizontal_deg"`
	FOVVerticalDeg   float64 `json:"fov_vertical_deg"`
}

func (s *Server) calibrationHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut, http.MethodPost:
		var req calibrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuantizationUnit == nil {
			httputil.BadRequest(w, "expected JSON body with quantization_unit")
			return
		}
		if u := *req.QuantizationUnit; u < calibration.MinUnit || u > calibration.MaxUnit {
			httputil.BadRequest(w, fmt.Sprintf("quantization_unit must be in [%d,%d]", calibration.MinUnit, calibration.MaxUnit))
			return
		}
		u := *req.QuantizationUnit
		// The camera must agree on the unit before frames are decoded with it.
		if s.opts.Device != nil {
			if err := s.opts.Device.Send(camera.Unit(u)); err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("Failed to set camera unit: %v", err))
				return
			}
		}
		s.opts.Calibration.SetQuantizationUnit(u)
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	httputil.WriteJSONOK(w, calibrationResponse{
		QuantizationUnit: s.opts.Calibration.QuantizationUnit(),
		FOVHorizontalDeg: calibration.FOVHorizontal * 180 / math.Pi,
		FOVVerticalDeg:   calibration.FOVVertical * 180 / math.Pi,
	})
}

type displayRequest struct {
	LCD  *bool `json:"lcd"`
	USB  *bool `json:"usb"`
	UART *bool `json:"uart"`
}

type displayResponse struct {
	LCD  bool  `json:"lcd"`
	USB  bool  `json:"usb"`
	UART bool  `json:"uart"`
	Mask uint8 `json:"mask"`
}

// displayHandler reads or toggles the camera's output sinks. Fields left out
// of a PUT keep their current value.
func (s *Server) displayHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPut {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.Device == nil {
		httputil.ServiceUnavailable(w, "no camera attached")
		return
	}

	if r.Method == http.MethodPut {
		var req displayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
		if req.LCD == nil && req.USB == nil && req.UART == nil {
			httputil.BadRequest(w, "expected at least one of lcd, usb, uart")
			return
		}
		err := s.opts.Device.UpdateDisplay(func(d camera.Display) camera.Display {
			if req.LCD != nil {
				d = d.WithLCD(*req.LCD)
			}
			if req.USB != nil {
				d = d.WithUSB(*req.USB)
			}
			if req.UART != nil {
				d = d.WithUART(*req.UART)
			}
			return d
		})
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to update display: %v", err))
			return
		}
	}

	d := s.opts.Device.Display()
	httputil.WriteJSONOK(w, displayResponse{LCD: d.LCD(), USB: d.USB(), UART: d.UART(), Mask: d.Mask()})
}

type commandRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (s *Server) commandsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listCommands(w, r)
	case http.MethodPost:
		s.sendCommand(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if s.opts.Device == nil {
		httputil.ServiceUnavailable(w, "no camera attached")
		return
	}

	var req commandRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
			return
		}
	} else {
		req.Name = r.FormValue("name")
		req.Value = r.FormValue("value")
	}

	cmd, err := camera.Parse(req.Name, req.Value)
	if err != nil {
		if errors.Is(err, camera.ErrUnknownCommand) {
			httputil.BadRequest(w, fmt.Sprintf("%v; known commands: %s", err, strings.Join(camera.Names(), ", ")))
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.opts.Device.Send(cmd); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to send command: %v", err))
		return
	}
	if unit, ok := cmd.Value(); ok && cmd.Name() == "UNIT" {
		s.opts.Calibration.SetQuantizationUnit(unit)
	}
	httputil.WriteJSONOK(w, map[string]string{"command": cmd.String()})
}

func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter")
	}
	return n, nil
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cmds, err := s.opts.History.Commands(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}
	if cmds == nil {
		cmds = []db.CommandRecord{}
	}
	httputil.WriteJSONOK(w, cmds)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.opts.History == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.opts.History.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}
