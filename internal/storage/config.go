package storage

import (
	"time"

	"github.com/kyleking/ragsql/internal/config"
)

// NewDuckDBStoreFromConfig opens the store with pool and timeout settings from config
func NewDuckDBStoreFromConfig(cfg *config.DatabaseConfig, mustExist bool) (*DuckDBStore, error) {
	open := NewDuckDBStore
	if mustExist {
		open = OpenExistingDuckDBStore
	}

	store, err := open(cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConnections > 0 {
		store.db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if cfg.MaxIdleConns > 0 {
		store.db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	store.db.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetime, 30*time.Minute))
	store.db.SetConnMaxIdleTime(config.Duration(cfg.ConnMaxIdleTime, 5*time.Minute))
	store.queryTimeout = config.Duration(cfg.QueryTimeout, 30*time.Second)

	return store, nil
}
