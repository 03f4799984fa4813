package pio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultConfigPath is the config file used when none is named.
	DefaultConfigPath = "pio.yaml"
	// ConfigVersion is the schema version written by this package.
	ConfigVersion = "1.0"
	// configConstraint is the range of schema versions this package reads.
	configConstraint = "^1"
)

// envOverlay holds settings taken from the environment.  Unset variables
// leave the file values alone.
type envOverlay struct {
	Host         string        `env:"PIGPIO_ADDR"`
	Port         int           `env:"PIGPIO_PORT"`
	PollInterval time.Duration `env:"PIO_POLL_INTERVAL"`
	LogFile      string        `env:"PIO_LOG_FILE"`
}

func (o envOverlay) apply(c Config) Config {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.PollInterval != 0 {
		c.PollInterval = o.PollInterval
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	return c
}

// ConfigManager wraps the loaded configuration and a mutex for concurrent
// access.  The file contents and the environment overlay are kept apart, so
// Save never persists values that only came from the environment.
type ConfigManager struct {
	path string

	mu     sync.RWMutex
	cfg    Config
	env    envOverlay
	loaded bool
}

// NewConfigManager returns a manager for the file at path.  An empty path
// selects DefaultConfigPath.
func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		path = DefaultConfigPath
	}
	return &ConfigManager{path: path}
}

// Path returns the config file location.
func (cm *ConfigManager) Path() string { return cm.path }

// Load reads configuration from disk and the environment.  If the file does
// not exist, DefaultConfig is used and persisted so it can be edited.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	// If the config is already loaded in memory, release the lock and return.
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		cm.mu.Unlock()
		return configErr("environment", "variables", err.Error())
	}

	var cfg Config
	data, err := os.ReadFile(cm.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = DefaultConfig()
	case err != nil:
		cm.mu.Unlock()
		return fmt.Errorf("unable to read config: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("invalid %s: %w", cm.path, err)
		}
	}
	if err := ov.apply(cfg).Validate(); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("%s: %w", cm.path, err)
	}
	cm.cfg = cfg
	cm.env = ov
	cm.loaded = true
	// Release the write lock before saving to avoid deadlock: Save acquires
	// a read lock on the same mutex.
	cm.mu.Unlock()
	if data == nil {
		return cm.Save()
	}
	return nil
}

// Save writes the file configuration to disk atomically.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	bytes, err := yaml.Marshal(cm.cfg)
	if err != nil {
		return err
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the effective configuration (file values with the
// environment applied).  Callers must treat the returned Config as
// immutable; its slices are shared.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.env.apply(cm.cfg)
}

// Update applies fn to the file configuration, validates the result and
// persists it.  The updater must not capture the pointer beyond the call.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	next := cm.cfg
	if err := fn(&next); err != nil {
		cm.mu.Unlock()
		return err
	}
	if err := cm.env.apply(next).Validate(); err != nil {
		cm.mu.Unlock()
		return err
	}
	cm.cfg = next
	// Release the lock before saving to avoid deadlock: Save acquires a read
	// lock on the same mutex.
	cm.mu.Unlock()
	return cm.Save()
}

// Worker returns the named worker configuration.
func (c Config) Worker(name string) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.Name == name {
			return w, true
		}
	}
	return WorkerConfig{}, false
}

// Validate checks the whole configuration.  Workers must have unique names
// and must not share pins.
func (c Config) Validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return configErr("port", c.Port, "must be 1 - 65535")
	}
	if c.PollInterval < 0 {
		return configErr("poll_interval", c.PollInterval, "must not be negative")
	}
	names := make(map[string]bool)
	owner := make(map[int]string)
	for _, w := range c.Workers {
		if w.Name == "" {
			return configErr("worker name", `""`, "must not be empty")
		}
		if names[w.Name] {
			return configErr("worker name", w.Name, "used twice")
		}
		names[w.Name] = true
		if err := w.StepperConfig.Validate(); err != nil {
			return fmt.Errorf("worker %s: %w", w.Name, err)
		}
		for _, p := range w.Pins {
			if other, ok := owner[p]; ok {
				return configErr("pin", p, "shared by workers "+other+" and "+w.Name)
			}
			owner[p] = w.Name
		}
		for i, cmd := range w.Plan {
			if err := cmd.Validate(); err != nil {
				return fmt.Errorf("worker %s, command %d: %w", w.Name, i, err)
			}
		}
	}
	if a := c.ADC; a != nil {
		limit := 1
		if a.Aux {
			limit = 2
		}
		if a.ChipSelect < 0 || a.ChipSelect > limit {
			return configErr("adc chip_select", a.ChipSelect, fmt.Sprintf("must be 0 - %d", limit))
		}
		if a.Channel < 0 || a.Channel > 7 {
			return configErr("adc channel", a.Channel, "must be 0 - 7")
		}
		if a.Interval < 0 {
			return configErr("adc interval", a.Interval, "must not be negative")
		}
	}
	return nil
}

// checkVersion accepts any 1.x schema.  An empty version is read as the
// current one.
func checkVersion(v string) error {
	if v == "" {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return configErr("version", v, err.Error())
	}
	constraint, err := semver.NewConstraint(configConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(ver) {
		return configErr("version", v, "unsupported, require "+configConstraint)
	}
	return nil
}
