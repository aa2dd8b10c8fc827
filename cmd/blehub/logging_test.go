package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehub/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Flags().Parse(args); err != nil {
		panic(err)
	}
	return cmd
}

func TestConfigureLogger_Precedence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "error"

	tests := []struct {
		name string
		args []string
		want logrus.Level
	}{
		{"fallback", nil, logrus.WarnLevel},
		{"verbose", []string{"--verbose"}, logrus.DebugLevel},
		{"log level wins over verbose", []string{"--verbose", "--log-level", "info"}, logrus.InfoLevel},
		{"explicit config", []string{"--config", "blehub.yaml"}, logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(flagCmd(tt.args...), cfg, logrus.WarnLevel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_InvalidLevel(t *testing.T) {
	_, err := configureLogger(flagCmd("--log-level", "trace"), config.DefaultConfig(), logrus.InfoLevel)
	assert.EqualError(t, err, "invalid log level: trace (must be debug, info, warn, or error)")
}

func TestConfigureLogger_WritesToCommandStderr(t *testing.T) {
	cmd := flagCmd()
	stderr := new(bytes.Buffer)
	cmd.SetErr(stderr)

	logger, err := configureLogger(cmd, config.DefaultConfig(), logrus.InfoLevel)
	require.NoError(t, err)
	logger.Info("hello")

	assert.Contains(t, stderr.String(), "hello")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blehub.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapters: [hci1]\noutput_format: json\n"), 0o600))

	cfg, err := loadConfig(flagCmd("--config", path))
	require.NoError(t, err)
	assert.Equal(t, []string{"hci1"}, cfg.Adapters)
	assert.Equal(t, "json", cfg.OutputFormat)

	_, err = loadConfig(flagCmd("--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.ErrorContains(t, err, "failed to load configuration")
}
