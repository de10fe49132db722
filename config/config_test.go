package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CHIKITSA_URL", "CHIKITSA_DEVICE", "CHIKITSA_FORMAT", "CHIKITSA_TOKEN", "CHIKITSA_TIMEOUT", "CHIKITSA_DEBUG", "CHIKITSA_NO_CUES"} {
		t.Setenv(k, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoadMissingDefaultFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, cfg.BaseURL)
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultRevealInterval, cfg.RevealInterval)
	require.Equal(t, "wav", cfg.AudioFormat)
	require.Equal(t, DefaultRetries, cfg.Retries)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
base_url = "https://chikitsa.example.org/"
request_timeout = "15s"
reveal_interval = "5ms"
audio_format = "flac"
device = "USB Mic"
retries = 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://chikitsa.example.org", cfg.BaseURL, "trailing slash trimmed")
	require.Equal(t, 15*time.Second, cfg.RequestTimeout)
	require.Equal(t, 5*time.Millisecond, cfg.RevealInterval)
	require.Equal(t, "flac", cfg.AudioFormat)
	require.Equal(t, "USB Mic", cfg.Device)
	require.Equal(t, 0, cfg.Retries)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `base_url = "http://file:8000"`)
	t.Setenv("CHIKITSA_URL", "http://env:9000")
	t.Setenv("CHIKITSA_TIMEOUT", "2s")
	t.Setenv("CHIKITSA_DEBUG", "true")
	t.Setenv("CHIKITSA_NO_CUES", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://env:9000", cfg.BaseURL)
	require.Equal(t, 2*time.Second, cfg.RequestTimeout)
	require.True(t, cfg.Debug)
	require.True(t, cfg.NoCues)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "ftp://x"
	cfg.AudioFormat = "ogg"
	cfg.Retries = 9

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 3)
	require.Equal(t, "base_url", verrs[0].Field)
	require.Equal(t, "audio_format", verrs[1].Field)
	require.Equal(t, "retries", verrs[2].Field)
}

func TestBadTOML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `base_url = `)

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to decode TOML")
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := Default()
	cfg.Device = "Headset Mic"
	require.NoError(t, SaveTOML(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Headset Mic", got.Device)
	require.Equal(t, cfg.RequestTimeout, got.RequestTimeout)
}
