package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/classwiz/pkg/errors"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("classwiz", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(viper.New(), fs)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "classwiz.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Folder)
	assert.Equal(t, "run", cfg.Root)
	assert.Equal(t, "output.pdf", cfg.Output)
	assert.False(t, cfg.Filter)
	assert.Equal(t, 1.0, cfg.SigmaFactor)
	assert.False(t, cfg.SigmaFactorSet)
	assert.Nil(t, cfg.MaxResolution)
	assert.Equal(t, PlotBar, cfg.Plot)
	assert.Equal(t, AutoReference, cfg.Reference)
	assert.False(t, cfg.FilterEnabled())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := load(t, "--f", "/data/job", "--root", "class3d", "--o", "wiz.pdf",
		"--filt", "True", "--sigmafac", "1.5", "--mic", "5.0", "--ref", "16")
	require.NoError(t, err)

	assert.Equal(t, "/data/job", cfg.Folder)
	assert.Equal(t, "class3d", cfg.Root)
	assert.Equal(t, "wiz.pdf", cfg.Output)
	assert.True(t, cfg.Filter)
	assert.Equal(t, 1.5, cfg.SigmaFactor)
	assert.True(t, cfg.SigmaFactorSet)
	require.NotNil(t, cfg.MaxResolution)
	assert.Equal(t, 5.0, *cfg.MaxResolution)
	assert.Equal(t, 16, cfg.Reference)
	assert.True(t, cfg.FilterEnabled())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"filter", []string{"--filt", "maybe"}},
		{"mic", []string{"--mic", "high"}},
		{"plot", []string{"--plot", "step"}},
		{"reference", []string{"--ref", "-2"}},
		{"log format", []string{"--log-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "root: fromfile\no: file.pdf\nsigmafac: 2\nmic: 4.5\nf: ${CLASSWIZ_TEST_DIR}\n")
	t.Setenv("CLASSWIZ_TEST_DIR", "/scratch")
	t.Setenv("CLASSWIZ_O", "env.pdf")
	t.Setenv("CLASSWIZ_LOG_LEVEL", "debug")

	cfg, err := load(t, "--config", path, "--root", "fromflag")
	require.NoError(t, err)

	assert.Equal(t, "fromflag", cfg.Root)
	assert.Equal(t, "env.pdf", cfg.Output)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/scratch", cfg.Folder)
	assert.Equal(t, 2.0, cfg.SigmaFactor)
	assert.True(t, cfg.SigmaFactorSet)
	require.NotNil(t, cfg.MaxResolution)
	assert.Equal(t, 4.5, *cfg.MaxResolution)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := load(t, "--root", "class3d", "--mic", "6", "--filt", "true")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := load(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Root, loaded.Root)
	assert.Equal(t, cfg.Filter, loaded.Filter)
	assert.Equal(t, *cfg.MaxResolution, *loaded.MaxResolution)
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "root: run")
	assert.Contains(t, out, "plot: bar")
	assert.NotContains(t, out, "mic:")
}
