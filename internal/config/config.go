// Package config loads and reloads the TOML configuration file, and
// fans out a reload signal over a buffered, drop-if-full channel rather
// than a callback list.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// AlarmType enumerates the three alarm kinds.
type AlarmType string

const (
	AlarmDown  AlarmType = "down"
	AlarmLoss  AlarmType = "loss"
	AlarmDelay AlarmType = "delay"
)

// AlarmConfig is one [[alarm]] table. Identity is (Name, Type).
type AlarmConfig struct {
	Name string    `toml:"name"`
	Type AlarmType `toml:"type"`

	// DOWN only.
	Val int64 `toml:"val"`

	// LOSS/DELAY only; Low must be < High.
	High float64 `toml:"high"`
	Low  float64 `toml:"low"`

	CombineIntervalMS int64 `toml:"combine_interval"`
	RepeatIntervalMS  int64 `toml:"repeat_interval"`
	RepeatMax         int   `toml:"repeat_max"`

	PipeOn     string `toml:"pipe_on"`
	PipeOff    string `toml:"pipe_off"`
	CommandOn  string `toml:"command_on"`
	CommandOff string `toml:"command_off"`
	MailSubj   string `toml:"mailsubject"`
	MailFrom   string `toml:"mailfrom"`
}

// Key returns the (name, type) identity alarms are reconciled on.
func (a AlarmConfig) Key() [2]string { return [2]string{a.Name, string(a.Type)} }

// TargetConfig is one [[target]] table.
type TargetConfig struct {
	Name        string `toml:"name"`
	SourceIP    string `toml:"source_ip"`
	Description string `toml:"description"`

	IntervalMS          int64 `toml:"interval"`
	AvgDelaySamples     int   `toml:"avg_delay_samples"`
	AvgLossDelaySamples int   `toml:"avg_loss_delay_samples"`
	AvgLossSamples      int   `toml:"avg_loss_samples"`

	Alarms    []string `toml:"alarms"`
	ForceDown bool     `toml:"force_down"`
}

// Key returns the (name, source_ip) identity targets are reconciled on.
func (t TargetConfig) Key() [2]string { return [2]string{t.Name, t.SourceIP} }

// Config is the top-level document.
type Config struct {
	PIDFile         string `toml:"pid_file"`
	StatusFile      string `toml:"status_file"`
	TimestampFormat string `toml:"timestamp_format"`
	MetricsListen   string `toml:"metrics_listen"`
	InfluxURL       string `toml:"influx_url"`
	InfluxToken     string `toml:"influx_token"`
	InfluxOrg       string `toml:"influx_org"`
	InfluxBucket    string `toml:"influx_bucket"`

	Targets []TargetConfig `toml:"target"`
	Alarms  []AlarmConfig  `toml:"alarm"`

	path      string
	mu        sync.RWMutex
	changedCh chan struct{}
}

// Defaults: a probe every second, a 5-probe grace window before a slot
// counts as lost, and a 50-probe loss window.
const (
	DefaultIntervalMS          = 1000
	DefaultAvgDelaySamples     = 20
	DefaultAvgLossDelaySamples = 5
	DefaultAvgLossSamples      = 50
	DefaultTimestampFormat     = "2006-01-02 15:04:05"
)

func applyTargetDefaults(t *TargetConfig) {
	if t.IntervalMS == 0 {
		t.IntervalMS = DefaultIntervalMS
	}
	if t.AvgDelaySamples == 0 {
		t.AvgDelaySamples = DefaultAvgDelaySamples
	}
	if t.AvgLossDelaySamples == 0 {
		t.AvgLossDelaySamples = DefaultAvgLossDelaySamples
	}
	if t.AvgLossSamples == 0 {
		t.AvgLossSamples = DefaultAvgLossSamples
	}
}

// Load reads and parses path, applying per-target defaults. It returns a
// live Config whose Changed channel fires after every successful Reload.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path, changedCh: make(chan struct{}, 1)}
	if err := cfg.reloadLocked(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the config file in place and notifies Changed. It
// returns a snapshot of the configuration as it was before the reload.
func (c *Config) Reload() (old *Config, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.snapshotLocked()
	if err := c.reloadLocked(); err != nil {
		return nil, err
	}
	c.notifyChanged()
	return prev, nil
}

func (c *Config) reloadLocked() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", c.path, err)
	}

	parsed := Config{}
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.path, err)
	}

	if parsed.TimestampFormat == "" {
		parsed.TimestampFormat = DefaultTimestampFormat
	}
	for i := range parsed.Targets {
		applyTargetDefaults(&parsed.Targets[i])
	}

	c.PIDFile = parsed.PIDFile
	c.StatusFile = parsed.StatusFile
	c.TimestampFormat = parsed.TimestampFormat
	c.MetricsListen = parsed.MetricsListen
	c.InfluxURL = parsed.InfluxURL
	c.InfluxToken = parsed.InfluxToken
	c.InfluxOrg = parsed.InfluxOrg
	c.InfluxBucket = parsed.InfluxBucket
	c.Targets = parsed.Targets
	c.Alarms = parsed.Alarms
	return nil
}

// snapshotLocked returns a value copy usable by a reconciler after c is
// mutated by reloadLocked. Callers hold c.mu.
func (c *Config) snapshotLocked() *Config {
	cp := &Config{
		PIDFile:         c.PIDFile,
		StatusFile:      c.StatusFile,
		TimestampFormat: c.TimestampFormat,
		MetricsListen:   c.MetricsListen,
		InfluxURL:       c.InfluxURL,
		InfluxToken:     c.InfluxToken,
		InfluxOrg:       c.InfluxOrg,
		InfluxBucket:    c.InfluxBucket,
		Targets:         append([]TargetConfig(nil), c.Targets...),
		Alarms:          append([]AlarmConfig(nil), c.Alarms...),
	}
	return cp
}

func (c *Config) notifyChanged() {
	select {
	case c.changedCh <- struct{}{}:
	default:
	}
}

// Changed fires once per successful Reload; it never blocks the writer.
func (c *Config) Changed() <-chan struct{} { return c.changedCh }

// Snapshot returns a point-in-time copy safe to read without holding c's
// lock, for callers (the engine) that hold onto it across a tick.
func (c *Config) Snapshot() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// AlarmByName looks up an alarm definition by name, as a Target's alarm
// list refers to alarms by name rather than by embedding them.
func (c *Config) AlarmByName(name string) (AlarmConfig, bool) {
	for _, a := range c.Alarms {
		if a.Name == name {
			return a, true
		}
	}
	return AlarmConfig{}, false
}
