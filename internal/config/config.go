// Package config loads and hot-reloads the daemon's YAML configuration,
// following the teacher's env-substitution + fsnotify watcher pattern.
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
)

// Config is the top-level configuration for corepoold.
type Config struct {
	Listen    ListenConfig              `yaml:"listen"`
	Defaults  PoolDefaults              `yaml:"defaults"`
	Databases map[string]DatabaseConfig `yaml:"databases"`
	LogLevel  string                    `yaml:"log_level"`
}

// ListenConfig defines the bind address/port for the admin/metrics surface.
type ListenConfig struct {
	APIPort int    `yaml:"api_port"`
	APIBind string `yaml:"api_bind"`
}

// PoolDefaults applies when a DatabaseConfig doesn't override a field.
type PoolDefaults struct {
	DocumentsPath      string `yaml:"documents_path"`
	NumReadConnections int    `yaml:"num_read_connections"`
}

// DatabaseConfig describes one database the daemon opens at startup.
type DatabaseConfig struct {
	Location           string `yaml:"location"`
	NumReadConnections *int   `yaml:"num_read_connections,omitempty"`
}

// EffectiveNumReadConnections returns the database's read-connection count
// or the configured default.
func (d DatabaseConfig) EffectiveNumReadConnections(defaults PoolDefaults) int {
	if d.NumReadConnections != nil {
		return *d.NumReadConnections
	}
	return defaults.NumReadConnections
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

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.Defaults.DocumentsPath == "" {
		cfg.Defaults.DocumentsPath = "./data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validate(cfg *Config) error {
	for name, db := range cfg.Databases {
		if name == "" {
			return fmt.Errorf("database entries must have a non-empty name")
		}
		if db.NumReadConnections != nil && *db.NumReadConnections < 0 {
			return fmt.Errorf("database %q: num_read_connections must be >= 0", name)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// new config. It only delivers the reloaded Config to the callback; it does
// not open, close or resize any pool.
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
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
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
