package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Bind       string   `yaml:"bind" env:"BATTLEHOST_BIND"`
	Port       int      `yaml:"port" env:"PORT"`
	AllowCIDRs []string `yaml:"allowCidrs" env:"BATTLEHOST_ALLOW_CIDRS"`

	EnginePath   string        `yaml:"engine" env:"BATTLEHOST_ENGINE"`
	EngineArgs   []string      `yaml:"engineArgs" env:"BATTLEHOST_ENGINE_ARGS"`
	EngineStderr bool          `yaml:"engineStderr" env:"BATTLEHOST_ENGINE_STDERR"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"BATTLEHOST_IDLE_TIMEOUT"`
	ReapInterval time.Duration `yaml:"reapInterval" env:"BATTLEHOST_REAP_INTERVAL"`
	KillGrace    time.Duration `yaml:"killGrace" env:"BATTLEHOST_KILL_GRACE"`

	PublicDir string `yaml:"public" env:"BATTLEHOST_PUBLIC_DIR"`
	EventsDir string `yaml:"eventsDir" env:"BATTLEHOST_EVENTS_DIR"`

	LogLevel  string `yaml:"logLevel" env:"LOG_LEVEL"`
	LogFormat string `yaml:"logFormat" env:"LOG_FORMAT"`
}

// DefaultEnginePath is the debug build of the battle runner next to the
// server checkout.
func DefaultEnginePath() string {
	if runtime.GOOS == "windows" {
		return "../pokemon-showdown-rs/target/debug/battle_runner.exe"
	}
	return "../pokemon-showdown-rs/target/debug/battle_runner"
}

func Default() Config {
	return Config{
		Bind:         "127.0.0.1",
		Port:         8000,
		AllowCIDRs:   []string{},
		EnginePath:   DefaultEnginePath(),
		IdleTimeout:  30 * time.Minute,
		ReapInterval: 5 * time.Minute,
		KillGrace:    2 * time.Second,
		PublicDir:    "./public",
		EventsDir:    filepath.Join(os.TempDir(), fmt.Sprintf("battlehost-events-%d", os.Getpid())),
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load layers an optional YAML file and then the environment over the
// defaults. Command-line flags are applied by the caller on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	for _, cidr := range c.AllowCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR: %s", cidr)
		}
	}
	if strings.TrimSpace(c.EnginePath) == "" {
		return errors.New("engine path is required")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.ReapInterval <= 0 {
		return errors.New("reap interval must be positive")
	}
	if c.KillGrace < 0 {
		return errors.New("kill grace must not be negative")
	}
	return nil
}

func IsAllowedClient(ip net.IP, allowCIDRs []string) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() {
		return true
	}
	if len(allowCIDRs) == 0 {
		return true
	}
	for _, cidr := range allowCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
