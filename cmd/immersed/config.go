package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the immersed daemon.
// Defaults are filled by DefaultConfig, then overridden by the config
// file (if any), then by command-line flags — the same layering the
// teacher's daemon config uses.
type Config struct {
	Descriptors DescriptorsConfig `yaml:"descriptors"`
	Lights      LightsConfig      `yaml:"lights"`
	Player      PlayerConfig      `yaml:"player"`
	Music       MusicConfig       `yaml:"music"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type DescriptorsConfig struct {
	Dir            string `yaml:"dir"`
	CollectionsDir string `yaml:"collections_dir"`
	CacheDir       string `yaml:"cache_dir"`
}

// LightsConfig maps a fixture group name to the fixture IP addresses
// WIZ-protocol commands are sent to (spec §6, port is fixed).
type LightsConfig struct {
	Groups map[string][]string `yaml:"groups"`
}

type PlayerConfig struct {
	// Command is the decoder binary invoked once per handle, e.g. "ffplay".
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type MusicConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Descriptors: DescriptorsConfig{
			Dir:            "~/.config/immersed/descriptors",
			CollectionsDir: "~/.config/immersed/collections",
			CacheDir:       "~/.cache/immersed/sounds",
		},
		Lights: LightsConfig{
			Groups: map[string][]string{},
		},
		Player: PlayerConfig{
			Command: "ffplay",
			Args:    []string{"-nodisp", "-autoexit", "-loglevel", "quiet"},
		},
		Music: MusicConfig{
			BaseURL: "",
			Token:   "",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8420",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and strictly decodes a YAML config file over a
// DefaultConfig base. Unknown fields are rejected, matching the
// teacher's config.go.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides carries optional command-line overrides; a nil pointer
// means "not set on the command line, leave the config/file value alone".
type FlagOverrides struct {
	DescriptorsDir *string
	CollectionsDir *string
	CacheDir       *string
	PlayerCommand  *string
	MusicBaseURL   *string
	MusicToken     *string
	HTTPAddr       *string
	LogLevel       *string
}

func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.DescriptorsDir != nil {
		cfg.Descriptors.Dir = *o.DescriptorsDir
	}
	if o.CollectionsDir != nil {
		cfg.Descriptors.CollectionsDir = *o.CollectionsDir
	}
	if o.CacheDir != nil {
		cfg.Descriptors.CacheDir = *o.CacheDir
	}
	if o.PlayerCommand != nil {
		cfg.Player.Command = *o.PlayerCommand
	}
	if o.MusicBaseURL != nil {
		cfg.Music.BaseURL = *o.MusicBaseURL
	}
	if o.MusicToken != nil {
		cfg.Music.Token = *o.MusicToken
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults + file + overrides
// are all applied.
func (c *Config) Validate() error {
	if c.Descriptors.Dir == "" {
		return errors.New("descriptors.dir must not be empty")
	}
	if c.Descriptors.CollectionsDir == "" {
		return errors.New("descriptors.collections_dir must not be empty")
	}
	if c.Descriptors.CacheDir == "" {
		return errors.New("descriptors.cache_dir must not be empty")
	}
	if c.Player.Command == "" {
		return errors.New("player.command must not be empty")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must not be empty")
	}
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	for name, ips := range c.Lights.Groups {
		switch name {
		case "backdrop", "overhead", "battlefield":
		default:
			return fmt.Errorf("lights.groups: unknown group %q (want backdrop, overhead, or battlefield)", name)
		}
		for i, ip := range ips {
			if ip == "" {
				return fmt.Errorf("lights.groups[%s][%d] is empty", name, i)
			}
		}
	}
	return nil
}

// ExpandPath expands a leading "~" using $HOME, matching the teacher's
// config.go helper exactly.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
