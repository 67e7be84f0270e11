package app

import (
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/domain"
	"github.com/talkincode/wagateway/internal/whatsapp"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// RuntimeProvider exposes the latest process sample
type RuntimeProvider interface {
	RuntimeStats() domain.RuntimeStats
}

// StateSource is the connection controller as seen by the monitor job
type StateSource interface {
	Snapshot() whatsapp.State
}

// QueueSource is the send queue as seen by the monitor job
type QueueSource interface {
	Stats() whatsapp.QueueStats
}
