// Package config loads chikitsa's settings from config.toml, the
// environment and the command line, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultRequestTimeout = 60 * time.Second
	DefaultRevealInterval = 20 * time.Millisecond
	DefaultAudioFormat    = "wav"
	DefaultRetries        = 1
)

type Config struct {
	BaseURL        string        `toml:"base_url"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	RevealInterval time.Duration `toml:"reveal_interval"`
	AudioFormat    string        `toml:"audio_format"`
	Device         string        `toml:"device"`
	// Token is sent as a bearer token when set. chikitsa never obtains one itself.
	Token   string `toml:"token,omitempty"`
	Retries int    `toml:"retries"`
	Debug   bool   `toml:"debug"`
	// NoCues silences the recording start/stop tones.
	NoCues bool `toml:"no_cues"`
}

func Default() *Config {
	return &Config{
		BaseURL:        DefaultBaseURL,
		RequestTimeout: DefaultRequestTimeout,
		RevealInterval: DefaultRevealInterval,
		AudioFormat:    DefaultAudioFormat,
		Retries:        DefaultRetries,
	}
}

// Dir returns $XDG_CONFIG_HOME/chikitsa (or ~/.config/chikitsa).
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chikitsa"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "chikitsa"), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads path, or the default location when path is empty, then applies
// environment overrides. A missing file at the default location is not an
// error; a missing explicit path is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg; keys absent from the file keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes cfg to path, creating the directory if needed.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode TOML: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies CHIKITSA_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHIKITSA_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CHIKITSA_DEVICE"); v != "" {
		c.Device = v
	}
	if v := os.Getenv("CHIKITSA_FORMAT"); v != "" {
		c.AudioFormat = strings.ToLower(v)
	}
	if v := os.Getenv("CHIKITSA_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("CHIKITSA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := os.Getenv("CHIKITSA_DEBUG"); v != "" {
		c.Debug, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("CHIKITSA_NO_CUES"); v != "" {
		c.NoCues, _ = strconv.ParseBool(v)
	}
}

// SetDefaults fills zero-value fields.
func (c *Config) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RevealInterval == 0 {
		c.RevealInterval = DefaultRevealInterval
	}
	if c.AudioFormat == "" {
		c.AudioFormat = DefaultAudioFormat
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{Field: "base_url", Message: fmt.Sprintf("invalid URL %q", c.BaseURL)})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{Field: "base_url", Message: "scheme must be http or https"})
	}

	if c.RequestTimeout < 0 {
		errs = append(errs, ValidationError{Field: "request_timeout", Message: "must not be negative"})
	}
	if c.RevealInterval < time.Millisecond {
		errs = append(errs, ValidationError{Field: "reveal_interval", Message: "must be at least 1ms"})
	}

	switch c.AudioFormat {
	case "wav", "flac":
	default:
		errs = append(errs, ValidationError{Field: "audio_format", Message: fmt.Sprintf("%q is not wav or flac", c.AudioFormat)})
	}

	if c.Retries < 0 || c.Retries > 5 {
		errs = append(errs, ValidationError{Field: "retries", Message: "must be between 0 and 5"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
