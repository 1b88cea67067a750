package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/pkg/config"
)

func TestInitConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	rootCmd.SetArgs([]string{"init-config", path})
	require.NoError(t, rootCmd.Execute())

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Stats, loaded.Stats)

	rootCmd.SetArgs([]string{"init-config", path})
	assert.Error(t, rootCmd.Execute(), "an existing file is never overwritten")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.LoggingConfig{Level: "warn", Development: true})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
