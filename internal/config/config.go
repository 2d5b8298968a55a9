// Package config loads the depthcam service configuration.
//
// Every field is optional. Unset fields report their default through the
// matching Get* method, so a partial file (or no file at all) is valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/depthcam/internal/camera"
	"github.com/banshee-data/depthcam/internal/serialmux"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root service configuration. It reads from JSON or YAML with
// the same field names.
type Config struct {
	// Serial connection
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`

	// Camera
	FPS              *int  `json:"fps,omitempty" yaml:"fps,omitempty"`
	Binning          *int  `json:"binning,omitempty" yaml:"binning,omitempty"` // frame side: 100, 50 or 25
	QuantizationUnit *int  `json:"quantization_unit,omitempty" yaml:"quantization_unit,omitempty"`
	DisplayLCD       *bool `json:"display_lcd,omitempty" yaml:"display_lcd,omitempty"`
	DisplayUSB       *bool `json:"display_usb,omitempty" yaml:"display_usb,omitempty"`
	DisplayUART      *bool `json:"display_uart,omitempty" yaml:"display_uart,omitempty"`
	AntiMMI          *bool `json:"anti_mmi,omitempty" yaml:"anti_mmi,omitempty"`
	AutoExposure     *bool `json:"auto_exposure,omitempty" yaml:"auto_exposure,omitempty"`
	SaveSettings     *bool `json:"save_settings,omitempty" yaml:"save_settings,omitempty"`
	ISP              *bool `json:"isp,omitempty" yaml:"isp,omitempty"` // depth ISP state after startup, default on

	// Service
	Listen        *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	DBPath        *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	RecordPath    *string `json:"record_path,omitempty" yaml:"record_path,omitempty"`
	ReplayPath    *string `json:"replay_path,omitempty" yaml:"replay_path,omitempty"`
	ReplayFPS     *int    `json:"replay_fps,omitempty" yaml:"replay_fps,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty" yaml:"stats_interval,omitempty"` // duration string like "30s"
	DecoderDebug  *bool   `json:"decoder_debug,omitempty" yaml:"decoder_debug,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a .json, .yaml or .yml file. Fields omitted from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects values that cannot be coerced into something usable.
// Frame rate and quantization unit are clamped by their getters instead.
func (c *Config) Validate() error {
	if _, err := c.SerialOptions().Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	if c.Binning != nil {
		if _, err := camera.BinningForSide(*c.Binning); err != nil {
			return fmt.Errorf("binning: %w", err)
		}
	}

	if c.ReplayFPS != nil && *c.ReplayFPS < 0 {
		return fmt.Errorf("replay_fps must be non-negative, got %d", *c.ReplayFPS)
	}

	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("stats_interval must be non-negative, got %s", d)
		}
	}

	if c.Listen != nil && strings.TrimSpace(*c.Listen) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}

// GetPort returns the serial device path or the default.
func (c *Config) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return "/dev/ttyUSB0"
	}
	return *c.Port
}

// SerialOptions returns the serial line settings; unset fields are left zero
// so PortOptions.Normalize applies the camera defaults.
func (c *Config) SerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetFPS returns the camera frame rate clamped to [camera.MinFPS, camera.MaxFPS].
func (c *Config) GetFPS() int {
	if c.FPS == nil {
		return camera.MaxFPS
	}
	return min(max(*c.FPS, camera.MinFPS), camera.MaxFPS)
}

// GetBinning returns the binning mode or 100x100.
func (c *Config) GetBinning() camera.Binning {
	if c.Binning == nil {
		return camera.Binning100x100
	}
	b, err := camera.BinningForSide(*c.Binning)
	if err != nil {
		return camera.Binning100x100
	}
	return b
}

// GetQuantizationUnit returns the unit, coercing values outside [0,9] to 0.
func (c *Config) GetQuantizationUnit() int {
	if c.QuantizationUnit == nil {
		return 0
	}
	if u := *c.QuantizationUnit; u >= camera.MinUnit && u <= camera.MaxUnit {
		return u
	}
	return 0
}

// GetDisplay returns the display sinks. USB only by default.
func (c *Config) GetDisplay() camera.Display {
	return camera.NewDisplay(
		boolOr(c.DisplayLCD, false),
		boolOr(c.DisplayUSB, true),
		boolOr(c.DisplayUART, false),
	)
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

// GetDBPath returns the audit database path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "depthcam.db"
	}
	return *c.DBPath
}

// GetRecordPath returns the capture path, empty when recording is off.
func (c *Config) GetRecordPath() string { return stringOr(c.RecordPath, "") }

// GetReplayPath returns the replay source, empty for live mode.
func (c *Config) GetReplayPath() string { return stringOr(c.ReplayPath, "") }

// GetReplayFPS returns the replay pacing rate. Zero replays unpaced.
func (c *Config) GetReplayFPS() int {
	if c.ReplayFPS == nil {
		return camera.MaxFPS
	}
	return *c.ReplayFPS
}

// GetStatsInterval parses and returns how often decoder statistics are
// logged. Zero disables the log line.
func (c *Config) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

func (c *Config) GetDecoderDebug() bool { return boolOr(c.DecoderDebug, false) }

// CameraSettings assembles the settings applied to the camera at startup.
func (c *Config) CameraSettings() camera.Settings {
	s := camera.DefaultSettings()
	s.Display = c.GetDisplay()
	s.Binning = c.GetBinning()
	s.FPS = c.GetFPS()
	s.Unit = c.GetQuantizationUnit()
	s.AntiMMI = boolOr(c.AntiMMI, s.AntiMMI)
	s.AutoExposure = boolOr(c.AutoExposure, s.AutoExposure)
	s.Save = boolOr(c.SaveSettings, false)
	s.DisableISP = !boolOr(c.ISP, true)
	return s
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
