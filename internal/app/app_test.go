package app

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
)

type stubState struct{}

func (stubState) Snapshot() whatsapp.State {
	return whatsapp.State{Status: whatsapp.StatusConnected}
}

type stubQueue struct{}

func (stubQueue) Stats() whatsapp.QueueStats {
	return whatsapp.QueueStats{Depth: 3}
}

func TestOpenDatabaseRejectsUnknownType(t *testing.T) {
	_, err := openDatabase(config.DBConfig{Type: "oracle", URL: "x"})
	assert.Error(t, err)
}

func TestMigrateDB(t *testing.T) {
	db, err := openDatabase(config.DBConfig{
		Type:    "sqlite",
		URL:     fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxConn: 1,
	})
	require.NoError(t, err)
	a := NewApplication(config.DefaultAppConfig)
	a.OverrideDB(db)
	defer a.Release()

	require.NoError(t, a.MigrateDB(false))
	for _, table := range domain.Tables {
		assert.True(t, db.Migrator().HasTable(table))
	}
	// idempotent
	require.NoError(t, a.MigrateDB(false))
}

func TestProcessMonitorSample(t *testing.T) {
	a := NewApplication(config.DefaultAppConfig)
	a.Watch(stubState{}, stubQueue{})
	assert.True(t, a.RuntimeStats().SampledAt.IsZero())

	a.SchedProcessMonitorTask()

	stats := a.RuntimeStats()
	assert.False(t, stats.SampledAt.IsZero())
	assert.Positive(t, stats.Goroutines)
	assert.NotEmpty(t, stats.Uptime)
}

func TestLogFilenameUnderLogDir(t *testing.T) {
	cfg := &config.AppConfig{
		System: config.SysConfig{Workdir: "/var/wagateway"},
		Logger: config.LogConfig{Filename: "gw.log"},
	}
	assert.Equal(t, filepath.Join("/var/wagateway", "logs", "gw.log"), logFilename(cfg))

	cfg.Logger.Filename = ""
	assert.Equal(t, filepath.Join(cfg.GetLogDir(), "wagateway.log"), logFilename(cfg))

	cfg.Logger.Filename = "/tmp/gw.log"
	assert.Equal(t, "/tmp/gw.log", logFilename(cfg))
}
