// Package store keeps per-room call state that must outlive a session:
// which assistant serves a room, which calls are active and whether
// they are paused.
package store

import (
	"fmt"

	"github.com/dkeye/voiceplay/internal/config"
	"github.com/dkeye/voiceplay/internal/core"
)

const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// New opens the backend selected by cfg.Type.
func New(cfg config.StoreConfig) (core.StateStore, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemory(), nil
	case TypeRedis:
		return NewRedis(cfg.Redis)
	case TypeSQLite:
		return OpenSQLite(cfg.SQLite.Path)
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
