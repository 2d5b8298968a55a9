package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/depthcam/internal/camera"
)

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := Empty()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
	if got := cfg.GetPort(); got != "/dev/ttyUSB0" {
		t.Errorf("GetPort() = %q", got)
	}
	if got := cfg.GetFPS(); got != 20 {
		t.Errorf("GetFPS() = %d, want 20", got)
	}
	if got := cfg.GetBinning(); got != camera.Binning100x100 {
		t.Errorf("GetBinning() = %v", got)
	}
	if got := cfg.GetQuantizationUnit(); got != 0 {
		t.Errorf("GetQuantizationUnit() = %d", got)
	}
	if d := cfg.GetDisplay(); d.LCD() || !d.USB() || d.UART() {
		t.Errorf("GetDisplay() = %v, want usb only", d)
	}
	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("GetListen() = %q", got)
	}
	if got := cfg.GetDBPath(); got != "depthcam.db" {
		t.Errorf("GetDBPath() = %q", got)
	}
	if cfg.GetRecordPath() != "" || cfg.GetReplayPath() != "" {
		t.Error("record and replay should be off by default")
	}
	if got := cfg.GetReplayFPS(); got != 20 {
		t.Errorf("GetReplayFPS() = %d", got)
	}
	if got := cfg.GetStatsInterval(); got != 30*time.Second {
		t.Errorf("GetStatsInterval() = %v", got)
	}
	if cfg.GetDecoderDebug() {
		t.Error("decoder debug should be off by default")
	}

	opts, err := cfg.SerialOptions().Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("serial defaults = %+v, want 115200 8N1", opts)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "depthcam.json", `{
  "port": "/dev/ttyACM0",
  "fps": 10,
  "binning": 50,
  "quantization_unit": 3,
  "display_lcd": true,
  "listen": "127.0.0.1:9000",
  "stats_interval": "5s"
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetPort() != "/dev/ttyACM0" {
		t.Errorf("port = %q", cfg.GetPort())
	}
	if cfg.GetFPS() != 10 {
		t.Errorf("fps = %d", cfg.GetFPS())
	}
	if cfg.GetBinning() != camera.Binning50x50 {
		t.Errorf("binning = %v", cfg.GetBinning())
	}
	if cfg.GetQuantizationUnit() != 3 {
		t.Errorf("unit = %d", cfg.GetQuantizationUnit())
	}
	if d := cfg.GetDisplay(); !d.LCD() || !d.USB() {
		t.Errorf("display = %v, want lcd+usb", d)
	}
	if cfg.GetListen() != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.GetListen())
	}
	if cfg.GetStatsInterval() != 5*time.Second {
		t.Errorf("stats interval = %v", cfg.GetStatsInterval())
	}
	// unset fields keep defaults
	if cfg.GetDBPath() != "depthcam.db" {
		t.Errorf("db path = %q", cfg.GetDBPath())
	}
}

func TestLoadYAML(t *testing.T) {
	for _, name := range []string{"depthcam.yaml", "depthcam.yml"} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, name, `
port: /dev/ttyUSB1
baud_rate: 921600
fps: 5
binning: 25
anti_mmi: true
auto_exposure: false
replay_path: capture.bin.gz
replay_fps: 0
`)
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.GetPort() != "/dev/ttyUSB1" {
				t.Errorf("port = %q", cfg.GetPort())
			}
			if cfg.SerialOptions().BaudRate != 921600 {
				t.Errorf("baud = %d", cfg.SerialOptions().BaudRate)
			}
			if cfg.GetReplayPath() != "capture.bin.gz" || cfg.GetReplayFPS() != 0 {
				t.Errorf("replay = %q @ %d", cfg.GetReplayPath(), cfg.GetReplayFPS())
			}

			s := cfg.CameraSettings()
			if s.FPS != 5 || s.Binning != camera.Binning25x25 || !s.AntiMMI || s.AutoExposure {
				t.Errorf("CameraSettings() = %+v", s)
			}
		})
	}
}

func TestLoadExampleFile(t *testing.T) {
	cfg, err := Load("../../config/depthcam.example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.GetFPS() != 20 || cfg.GetBinning() != camera.Binning100x100 {
		t.Errorf("example config changed defaults: fps=%d binning=%v", cfg.GetFPS(), cfg.GetBinning())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"bad extension", "config.txt", "{}", "extension"},
		{"bad json", "config.json", "{not json", "failed to parse"},
		{"bad yaml", "config.yaml", "fps: [1, 2", "failed to parse"},
		{"bad binning", "config.json", `{"binning": 64}`, "binning"},
		{"bad stop bits", "config.json", `{"stop_bits": 3}`, "stop bits"},
		{"bad parity", "config.yaml", "parity: X", "parity"},
		{"negative replay fps", "config.json", `{"replay_fps": -1}`, "replay_fps"},
		{"bad stats interval", "config.json", `{"stats_interval": "soon"}`, "stats_interval"},
		{"empty listen", "config.json", `{"listen": " "}`, "listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadTooLarge(t *testing.T) {
	body := `{"port": "` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := Load(writeConfig(t, "big.json", body)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestGetterCoercion(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantFPS  int
		wantUnit int
	}{
		{"fps below range", Config{FPS: ptrInt(0)}, 1, 0},
		{"fps above range", Config{FPS: ptrInt(60)}, 20, 0},
		{"unit negative", Config{QuantizationUnit: ptrInt(-1)}, 20, 0},
		{"unit too large", Config{QuantizationUnit: ptrInt(10)}, 20, 0},
		{"unit max", Config{QuantizationUnit: ptrInt(9)}, 20, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetFPS(); got != tt.wantFPS {
				t.Errorf("GetFPS() = %d, want %d", got, tt.wantFPS)
			}
			if got := tt.cfg.GetQuantizationUnit(); got != tt.wantUnit {
				t.Errorf("GetQuantizationUnit() = %d, want %d", got, tt.wantUnit)
			}
		})
	}
}

func TestCameraSettingsDisplayAndSave(t *testing.T) {
	cfg := Config{
		DisplayLCD:    ptrBool(true),
		DisplayUSB:    ptrBool(false),
		DisplayUART:   ptrBool(true),
		SaveSettings:  ptrBool(true),
		StatsInterval: ptrString("0s"),
	}
	s := cfg.CameraSettings()
	if s.Display.Mask() != camera.DisplayLCD|camera.DisplayUART {
		t.Errorf("display mask = %d", s.Display.Mask())
	}
	if !s.Save {
		t.Error("expected Save")
	}
	if cmds := s.Commands(); cmds[len(cmds)-1] != camera.Save() {
		t.Errorf("last command = %v, want AT+SAVE", cmds[len(cmds)-1])
	}
	if s.DisableISP {
		t.Error("ISP should stay on by default")
	}
	cfg.ISP = ptrBool(false)
	if cmds := cfg.CameraSettings().Commands(); cmds[len(cmds)-2] != camera.ISP(false) {
		t.Errorf("commands = %v, want AT+ISP=0 before AT+SAVE", cmds)
	}
	if cfg.GetStatsInterval() != 0 {
		t.Errorf("stats interval = %v, want 0", cfg.GetStatsInterval())
	}
}
