package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthcam/internal/api"
	"github.com/banshee-data/depthcam/internal/calibration"
	"github.com/banshee-data/depthcam/internal/camera"
	"github.com/banshee-data/depthcam/internal/config"
	"github.com/banshee-data/depthcam/internal/db"
	"github.com/banshee-data/depthcam/internal/frame"
	"github.com/banshee-data/depthcam/internal/fsutil"
	"github.com/banshee-data/depthcam/internal/protocol"
	"github.com/banshee-data/depthcam/internal/queue"
	"github.com/banshee-data/depthcam/internal/recorder"
	"github.com/banshee-data/depthcam/internal/serialmux"
	"github.com/banshee-data/depthcam/internal/timeutil"
	"github.com/banshee-data/depthcam/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to a JSON or YAML config file")
	port        = flag.String("port", "", "Serial port of the camera (default /dev/ttyUSB0)")
	replayPath  = flag.String("replay", "", "Replay a raw capture file (.bin or .bin.gz) instead of reading the camera")
	replayFPS   = flag.Int("replay-fps", 0, "Replay pacing in frames per second; 0 replays as fast as possible (default 20)")
	recordPath  = flag.String("record", "", "Record raw camera bytes to this file; a .gz suffix compresses")
	dbPath      = flag.String("db", "", "SQLite audit database path (default depthcam.db)")
	listen      = flag.String("listen", "", "HTTP listen address (default :8080)")
	unit        = flag.Int("unit", 0, "Depth quantization unit, 0-9; 0 selects the non-linear default")
	fps         = flag.Int("fps", 0, "Camera frame rate, 1-20 (default 20)")
	binning     = flag.Int("binning", 0, "Frame side in pixels: 100, 50 or 25 (default 100)")
	mock        = flag.Bool("mock", false, "Generate synthetic frames instead of reading the camera")
	debug       = flag.Bool("debug", false, "Log every discarded packet")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Frame sources, as recorded on capture sessions.
const (
	modeLive   = db.SourceLive
	modeReplay = db.SourceReplay
	modeMock   = db.SourceMock
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate <action>\n\nFlags:\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configFile, explicitFlags())
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if flag.NArg() > 0 {
		if flag.Arg(0) != "migrate" {
			flag.Usage()
			os.Exit(2)
		}
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mock); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// explicitFlags returns the names of the flags set on the command line.
func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// loadConfig reads the config file, if any, and overlays the flags that were
// set explicitly.
func loadConfig(path string, set map[string]bool) (*config.Config, error) {
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if set["port"] {
		cfg.Port = port
	}
	if set["replay"] {
		cfg.ReplayPath = replayPath
	}
	if set["replay-fps"] {
		cfg.ReplayFPS = replayFPS
	}
	if set["record"] {
		cfg.RecordPath = recordPath
	}
	if set["db"] {
		cfg.DBPath = dbPath
	}
	if set["listen"] {
		cfg.Listen = listen
	}
	if set["unit"] {
		cfg.QuantizationUnit = unit
	}
	if set["fps"] {
		cfg.FPS = fps
	}
	if set["binning"] {
		cfg.Binning = binning
	}
	if set["debug"] {
		cfg.DecoderDebug = debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sourceMode picks where frames come from. Replay wins over mock.
func sourceMode(cfg *config.Config, mock bool) string {
	switch {
	case cfg.GetReplayPath() != "":
		return modeReplay
	case mock:
		return modeMock
	default:
		return modeLive
	}
}

// processors fans one byte stream out to several chunk processors in order.
type processors []serialmux.ChunkProcessor

func (ps processors) Process(p []byte) {
	for _, proc := range ps {
		proc.Process(p)
	}
}

// pipeline is the decoder, queue and consumers shared by every source.
type pipeline struct {
	decoder *protocol.Decoder
	queue   *queue.Queue
	cal     *calibration.Calibration
	latest  *api.LatestFrame

	// points in the most recently projected frame
	lastPoints atomic.Int64
}

func newPipeline(cfg *config.Config, reg prometheus.Registerer) *pipeline {
	q := queue.New(queue.WithRegisterer(reg), queue.WithName("frames"))
	dec := protocol.NewDecoder(q)
	dec.SetDebug(cfg.GetDecoderDebug())
	if reg != nil {
		reg.MustRegister(protocol.NewCollector(dec))
	}

	p := &pipeline{
		decoder: dec,
		queue:   q,
		cal:     calibration.NewDefault(cfg.GetQuantizationUnit()),
		latest:  api.NewLatestFrame(nil),
	}
	q.AddListener(p.latest)
	q.AddListener(calibration.NewConsumer(p.cal, func(_ *frame.Frame, points []r3.Vec) {
		p.lastPoints.Store(int64(len(points)))
	}))
	return p
}

func run(ctx context.Context, cfg *config.Config, mock bool) error {
	mode := sourceMode(cfg, mock)
	log.Printf("%s starting in %s mode", version.String(), mode)

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	p := newPipeline(cfg, prometheus.DefaultRegisterer)
	if err := p.queue.Start(); err != nil {
		return err
	}
	defer p.queue.Stop()

	var rec *recorder.Recorder
	chain := processors{}
	if path := cfg.GetRecordPath(); path != "" {
		if rec, err = recorder.Create(fsutil.OSFileSystem{}, path); err != nil {
			return err
		}
		defer rec.Close()
		log.Printf("recording raw bytes to %s", path)
		chain = append(chain, rec)
	}
	chain = append(chain, p.decoder)

	var (
		serial  serialmux.SerialMuxInterface
		device  *camera.Device
		srcPath string
	)
	switch mode {
	case modeReplay:
		srcPath = cfg.GetReplayPath()
		serial = serialmux.NewDisabledSerialMux("replaying " + srcPath)
	case modeMock:
		side := cfg.GetBinning().Side()
		scene := newMockScene(side)
		serial = serialmux.NewMockSerialMux(scene.Next, time.Second/time.Duration(cfg.GetFPS()))
		device = camera.NewDevice(serial, database)
	default:
		srcPath = cfg.GetPort()
		sm, err := serialmux.NewRealSerialMux(srcPath, cfg.SerialOptions())
		if err != nil {
			return fmt.Errorf("failed to open camera: %w", err)
		}
		serial = sm
		device = camera.NewDevice(serial, database)
	}
	defer serial.Close()

	if device != nil {
		settings := cfg.CameraSettings()
		if err := device.Apply(settings); err != nil {
			return fmt.Errorf("failed to configure camera: %w", err)
		}
		log.Printf("camera configured: %d fps, binning %dx%d, display %s",
			settings.FPS, settings.Binning.Side(), settings.Binning.Side(), settings.Display)
	}

	session, err := database.StartSession(mode, srcPath)
	if err != nil {
		return err
	}
	defer func() {
		frames := p.decoder.Stats().FramesEmitted
		if err := database.EndSession(session, frames); err != nil {
			log.Printf("failed to close session %s: %v", session, err)
		}
	}()

	opts := api.Options{
		Latest:      p.latest,
		Decoder:     p.decoder,
		Queue:       p.queue,
		Calibration: p.cal,
		History:     database,
		Gatherer:    prometheus.DefaultGatherer,
		Source:      mode,
	}
	if device != nil {
		opts.Device = device
	}
	if rec != nil {
		opts.Recorder = rec
	}
	mux := api.NewServer(opts).ServeMux()
	serial.AttachAdminRoutes(mux)
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if mode == modeReplay {
		g.Go(func() error {
			replayer := recorder.NewReplayer(fsutil.OSFileSystem{},
				recorder.WithPacing(cfg.GetReplayFPS(), func() uint64 { return p.decoder.Stats().FramesEmitted }))
			n, err := replayer.Replay(ctx, srcPath, chain)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("replay %s: %w", srcPath, err)
			}
			log.Printf("replay of %s finished after %s, %d frames", srcPath,
				humanize.Bytes(uint64(n)), p.decoder.Stats().FramesEmitted)
			return nil
		})
	} else {
		serial.AddProcessor(chain)
	}

	// run the monitor routine to manage IO on the serial port
	g.Go(func() error {
		if err := serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to monitor serial port: %w", err)
		}
		log.Print("monitor routine terminated")
		return nil
	})

	if interval := cfg.GetStatsInterval(); interval > 0 {
		g.Go(func() error {
			statsLoop(ctx, timeutil.RealClock{}, interval, func() { logStats(p, rec) })
			return nil
		})
	}

	g.Go(func() error {
		return serveHTTP(ctx, cfg.GetListen(), api.LoggingMiddleware(mux))
	})

	return g.Wait()
}

// statsLoop calls report every interval until ctx is done.
func statsLoop(ctx context.Context, clock timeutil.Clock, interval time.Duration, report func()) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			report()
		}
	}
}

func logStats(p *pipeline, rec *recorder.Recorder) {
	s := p.decoder.Stats()
	msg := fmt.Sprintf("frames=%d bytes=%s checksum=%d length=%d geometry=%d dup=%d resync=%s queue=%d points=%d",
		s.FramesEmitted, humanize.Bytes(s.BytesConsumed), s.ChecksumFailures, s.BadLengths,
		s.BadGeometry, s.Duplicates, humanize.Bytes(s.ResyncDiscarded), p.queue.Len(), p.lastPoints.Load())
	if rec != nil {
		msg += " recorded=" + humanize.Bytes(uint64(rec.Bytes()))
	}
	log.Printf("stats: %s", msg)
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}
