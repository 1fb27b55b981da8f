package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"periphcore/config"
)

func TestRunWithDefaults(t *testing.T) {
	var out bytes.Buffer
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	require.NoError(t, run(cfgPath, "", false, 100*time.Millisecond, &out))
	assert.Contains(t, out.String(), "core ready")
	assert.Contains(t, out.String(), "msg=tick")
}

func TestRunJSONLogs(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Format = "json"
	cfg.BLE.Role = "server"
	path := filepath.Join(dir, "coredemo.yaml")
	require.NoError(t, cfg.Save(path))

	var out bytes.Buffer
	require.NoError(t, run(path, "", false, 100*time.Millisecond, &out))
	assert.Contains(t, out.String(), `"msg":"tick"`)
	assert.Contains(t, out.String(), `"ble":"disconnected"`)
}

func TestNewLoggerLevel(t *testing.T) {
	var out bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "text"}, &out)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}
