package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/linedash/internal/link"
	"github.com/shaunagostinho/linedash/internal/logger"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "/etc/linedash/config.yaml"

// Config holds all viewer configuration.
type Config struct {
	mu sync.RWMutex

	Serial  SerialConfig  `yaml:"serial" json:"serial"`
	Plot    PlotConfig    `yaml:"plot" json:"plot"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`
	Params  ParamsConfig  `yaml:"params" json:"params"`
	Server  ServerConfig  `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	Type          string `yaml:"type" json:"type"`           // "serial", "demo" or "replay"
	PortPath      string `yaml:"port_path" json:"portPath"`  // Preferred port, still probed
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	SettleMs      int    `yaml:"settle_ms" json:"settleMs"`
	ReplayPath    string `yaml:"replay_path" json:"replayPath"` // Capture file for type "replay"
	Realtime      bool   `yaml:"realtime" json:"realtime"`      // Replay with recorded timing
}

type PlotConfig struct {
	WindowSec    float64 `yaml:"window_sec" json:"windowSec"` // <= 0 shows the whole buffer
	WindowMaxSec float64 `yaml:"window_max_sec" json:"windowMaxSec"`
	Capacity     int     `yaml:"capacity" json:"capacity"` // Samples kept
	RenderHz     int     `yaml:"render_hz" json:"renderHz"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type CaptureConfig struct {
	Path string `yaml:"path" json:"path"` // Raw line capture file; empty disables
}

type ParamsConfig struct {
	Path string `yaml:"path" json:"path"` // Default parameter file
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Type:          "serial",
			BaudRate:      link.DefaultBaudRate,
			ReadTimeoutMs: int(link.DefaultReadTimeout / time.Millisecond),
			SettleMs:      int(link.DefaultSettle / time.Millisecond),
		},
		Plot: PlotConfig{
			WindowSec:    10,
			WindowMaxSec: 60,
			Capacity:     10000,
			RenderHz:     30,
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/linedash",
			Interval: 100,
		},
		Params: ParamsConfig{
			Path: "parameters.json",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// Variables already set in the real environment win.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SERIAL_TYPE, SERIAL_PORT, SERIAL_BAUD, READ_TIMEOUT_MS,
// SETTLE_MS, LISTEN_ADDR, PLOT_WINDOW, PLOT_CAPACITY, RENDER_HZ, LOG_ENABLED,
// LOG_PATH, LOG_INTERVAL_MS, CAPTURE_PATH, PARAMS_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERIAL_TYPE"); v != "" {
		c.Serial.Type = v
	}
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	envInt("SERIAL_BAUD", &c.Serial.BaudRate)
	envInt("READ_TIMEOUT_MS", &c.Serial.ReadTimeoutMs)
	envInt("SETTLE_MS", &c.Serial.SettleMs)
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("PLOT_WINDOW"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Plot.WindowSec = n
		}
	}
	envInt("PLOT_CAPACITY", &c.Plot.Capacity)
	envInt("RENDER_HZ", &c.Plot.RenderHz)
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	envInt("LOG_INTERVAL_MS", &c.Logging.Interval)
	if v := os.Getenv("CAPTURE_PATH"); v != "" {
		c.Capture.Path = v
	}
	if v := os.Getenv("PARAMS_PATH"); v != "" {
		c.Params.Path = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = DefaultConfigPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(c.path), err)
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}

// PlotView returns the current plot settings.
func (c *Config) PlotView() PlotConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Plot
}

// SetPlotWindow changes the plot window. A positive max also raises or
// lowers the ceiling; the window is kept within it.
func (c *Config) SetPlotWindow(window, windowMax float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if windowMax > 0 {
		c.Plot.WindowMaxSec = windowMax
	}
	if window != 0 {
		c.Plot.WindowSec = window
	}
	if c.Plot.WindowMaxSec > 0 && c.Plot.WindowSec > c.Plot.WindowMaxSec {
		c.Plot.WindowSec = c.Plot.WindowMaxSec
	}
}

// LoggingEnabled reports the current logging switch.
func (c *Config) LoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Enabled
}

// LinkConfig derives the port acquisition settings.
func (c *Config) LinkConfig() link.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return link.Config{
		BaudRate:      c.Serial.BaudRate,
		PreferredPort: c.Serial.PortPath,
		ReadTimeout:   time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond,
		Settle:        time.Duration(c.Serial.SettleMs) * time.Millisecond,
	}
}

// LoggerConfig derives the CSV logger settings.
func (c *Config) LoggerConfig() logger.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return logger.Config{
		Enabled:    c.Logging.Enabled,
		Path:       c.Logging.Path,
		IntervalMs: c.Logging.Interval,
	}
}
