// Package config loads bw2ctl settings from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/client"
)

// Config is the resolved CLI configuration.
type Config struct {
	Client        client.Config
	StatusAddress string
	CORSOrigins   []string
	EntityFile    string
	LogLevel      string
}

type fileConfig struct {
	AgentAddress       string   `toml:"agent_address"`
	FrameHeapBytes     int      `toml:"frame_heap_bytes"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	StatusAddress      string   `toml:"status_address"`
	CORSOrigins        []string `toml:"cors_origins"`
	EntityFile         string   `toml:"entity_file"`
	LogLevel           string   `toml:"log_level"`
}

func Default() Config {
	return Config{
		Client:   client.DefaultConfig(),
		LogLevel: "info",
	}
}

// Load overlays the keys present in path onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load bw2ctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load bw2ctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("agent_address") {
		cfg.Client.Address = strings.TrimSpace(raw.AgentAddress)
	}
	if meta.IsDefined("frame_heap_bytes") {
		if raw.FrameHeapBytes < 0 {
			return Config{}, fmt.Errorf("frame_heap_bytes must not be negative: %d", raw.FrameHeapBytes)
		}
		cfg.Client.FrameHeapSize = raw.FrameHeapBytes
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Client.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Client.WriteTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Client.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("status_address") {
		cfg.StatusAddress = strings.TrimSpace(raw.StatusAddress)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}
	if meta.IsDefined("entity_file") {
		cfg.EntityFile = strings.TrimSpace(raw.EntityFile)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Client.Address) == "" {
		return fmt.Errorf("bw2ctl config missing agent_address")
	}
	if cfg.Client.FrameHeapSize < 0 {
		return fmt.Errorf("bw2ctl config frame_heap_bytes must not be negative")
	}
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	return out
}
