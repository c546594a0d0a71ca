// Package config loads the YAML file cmd/mysqlbench reads to build one
// mysqlclient.DialConfig (and pool) per logical database, with hot reload.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/dbbouncer/mysqlclient"
)

// Config is the top-level file format, per spec.md §6's file config mapping.
type Config struct {
	Listen    ListenConfig     `yaml:"listen"`
	Defaults  PoolDefaults     `yaml:"defaults"`
	Databases []DatabaseConfig `yaml:"databases"`
}

// ListenConfig configures the admin HTTP surface (internal/adminapi).
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// PoolDefaults are applied to any DatabaseConfig field left at its zero
// value, mirroring the teacher's defaults-plus-override pattern.
type PoolDefaults struct {
	MinConnections         int           `yaml:"min_connections"`
	MaxConnections         int           `yaml:"max_connections"`
	IdleTimeout            time.Duration `yaml:"idle_timeout"`
	MaxLifetime            time.Duration `yaml:"max_lifetime"`
	ConnectionTimeout      time.Duration `yaml:"connection_timeout"`
	ValidationTimeout      time.Duration `yaml:"validation_timeout"`
	LeakDetectionThreshold time.Duration `yaml:"leak_detection_threshold"`
	AdaptiveSizing         bool          `yaml:"adaptive_sizing"`
	AdaptiveInterval       time.Duration `yaml:"adaptive_interval"`
}

// DatabaseConfig describes one logical database this process dials, keyed
// by Name in the admin API and the pool manager.
type DatabaseConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`

	SSL          string `yaml:"ssl"` // none, prefer, require, trusted, verified
	ServerCAFile string `yaml:"server_ca_file"`
	ServerName   string `yaml:"server_name"`

	MinConnections         *int           `yaml:"min_connections,omitempty"`
	MaxConnections         *int           `yaml:"max_connections,omitempty"`
	IdleTimeout            *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime            *time.Duration `yaml:"max_lifetime,omitempty"`
	ConnectionTimeout      *time.Duration `yaml:"connection_timeout,omitempty"`
	LeakDetectionThreshold *time.Duration `yaml:"leak_detection_threshold,omitempty"`
	AdaptiveSizing         *bool          `yaml:"adaptive_sizing,omitempty"`
}

// EffectiveMinConnections returns the database's min connections or the default.
func (d DatabaseConfig) EffectiveMinConnections(defaults PoolDefaults) int {
	if d.MinConnections != nil {
		return *d.MinConnections
	}
	return defaults.MinConnections
}

// EffectiveMaxConnections returns the database's max connections or the default.
func (d DatabaseConfig) EffectiveMaxConnections(defaults PoolDefaults) int {
	if d.MaxConnections != nil {
		return *d.MaxConnections
	}
	return defaults.MaxConnections
}

// EffectiveIdleTimeout returns the database's idle timeout or the default.
func (d DatabaseConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if d.IdleTimeout != nil {
		return *d.IdleTimeout
	}
	return defaults.IdleTimeout
}

// EffectiveMaxLifetime returns the database's max lifetime or the default.
func (d DatabaseConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if d.MaxLifetime != nil {
		return *d.MaxLifetime
	}
	return defaults.MaxLifetime
}

// EffectiveConnectionTimeout returns the database's connection timeout or the default.
func (d DatabaseConfig) EffectiveConnectionTimeout(defaults PoolDefaults) time.Duration {
	if d.ConnectionTimeout != nil {
		return *d.ConnectionTimeout
	}
	return defaults.ConnectionTimeout
}

// EffectiveLeakDetectionThreshold returns the database's leak threshold or the default.
func (d DatabaseConfig) EffectiveLeakDetectionThreshold(defaults PoolDefaults) time.Duration {
	if d.LeakDetectionThreshold != nil {
		return *d.LeakDetectionThreshold
	}
	return defaults.LeakDetectionThreshold
}

// EffectiveAdaptiveSizing returns the database's adaptive sizing flag or the default.
func (d DatabaseConfig) EffectiveAdaptiveSizing(defaults PoolDefaults) bool {
	if d.AdaptiveSizing != nil {
		return *d.AdaptiveSizing
	}
	return defaults.AdaptiveSizing
}

// Redacted returns a copy of d with the password masked, for logging.
func (d DatabaseConfig) Redacted() DatabaseConfig {
	c := d
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

// sslModes maps the file format's SSL strings onto mysqlclient.SSLMode.
var sslModes = map[string]mysqlclient.SSLMode{
	"":         mysqlclient.SSLNone,
	"none":     mysqlclient.SSLNone,
	"prefer":   mysqlclient.SSLPrefer,
	"require":  mysqlclient.SSLRequire,
	"trusted":  mysqlclient.SSLTrusted,
	"verified": mysqlclient.SSLVerified,
}

// DialConfig builds the mysqlclient.DialConfig a pool dials this database
// with, applying defaults to any field d left unset.
func (d DatabaseConfig) DialConfig(defaults PoolDefaults) (mysqlclient.DialConfig, error) {
	mode, ok := sslModes[d.SSL]
	if !ok {
		return mysqlclient.DialConfig{}, fmt.Errorf("database %q: unsupported ssl mode %q", d.Name, d.SSL)
	}
	return mysqlclient.DialConfig{
		Host:                   d.Host,
		Port:                   d.Port,
		User:                   d.Username,
		Password:               d.Password,
		Database:               d.Schema,
		SSL:                    mode,
		ServerCAFile:           d.ServerCAFile,
		ServerName:             d.ServerName,
		MinConnections:         d.EffectiveMinConnections(defaults),
		MaxConnections:         d.EffectiveMaxConnections(defaults),
		IdleTimeout:            d.EffectiveIdleTimeout(defaults),
		MaxLifetime:            d.EffectiveMaxLifetime(defaults),
		ConnectionTimeout:      d.EffectiveConnectionTimeout(defaults),
		ValidationTimeout:      defaults.ValidationTimeout,
		LeakDetectionThreshold: d.EffectiveLeakDetectionThreshold(defaults),
		AdaptiveSizing:         d.EffectiveAdaptiveSizing(defaults),
		AdaptiveInterval:       defaults.AdaptiveInterval,
	}, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = "127.0.0.1:8080"
	}
	if cfg.Defaults.MinConnections == 0 {
		cfg.Defaults.MinConnections = 2
	}
	if cfg.Defaults.MaxConnections == 0 {
		cfg.Defaults.MaxConnections = 10
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = 5 * time.Minute
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = 30 * time.Minute
	}
	if cfg.Defaults.ConnectionTimeout == 0 {
		cfg.Defaults.ConnectionTimeout = 5 * time.Second
	}
	if cfg.Defaults.ValidationTimeout == 0 {
		cfg.Defaults.ValidationTimeout = 1 * time.Second
	}
	if cfg.Defaults.AdaptiveInterval == 0 {
		cfg.Defaults.AdaptiveInterval = 30 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Defaults.MinConnections > cfg.Defaults.MaxConnections {
		return fmt.Errorf("defaults: min_connections (%d) exceeds max_connections (%d)",
			cfg.Defaults.MinConnections, cfg.Defaults.MaxConnections)
	}
	seen := make(map[string]bool, len(cfg.Databases))
	for _, db := range cfg.Databases {
		if db.Name == "" {
			return fmt.Errorf("database entry missing required name")
		}
		if seen[db.Name] {
			return fmt.Errorf("database %q: duplicate name", db.Name)
		}
		seen[db.Name] = true
		if db.Host == "" {
			return fmt.Errorf("database %q: host is required", db.Name)
		}
		if db.Port <= 0 || db.Port > 65535 {
			return fmt.Errorf("database %q: invalid port %d", db.Name, db.Port)
		}
		if db.Username == "" {
			return fmt.Errorf("database %q: username is required", db.Name)
		}
		if _, ok := sslModes[db.SSL]; !ok {
			return fmt.Errorf("database %q: unsupported ssl mode %q", db.Name, db.SSL)
		}
		min := db.EffectiveMinConnections(cfg.Defaults)
		max := db.EffectiveMaxConnections(cfg.Defaults)
		if min > max {
			return fmt.Errorf("database %q: min_connections (%d) exceeds max_connections (%d)", db.Name, min, max)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:    path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
