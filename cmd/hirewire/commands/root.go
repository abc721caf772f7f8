// Package commands holds the hirewire CLI command tree.
package commands

import (
	"database/sql"

	"github.com/hirewire/hirewire/config"
	"github.com/hirewire/hirewire/db"
	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/logger"
	"github.com/hirewire/hirewire/queue"
)

// openEnvironment loads configuration and opens the migrated database.
// The caller owns closing the returned handle.
func openEnvironment(configPath string) (*config.Config, *sql.DB, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	path := cfg.Database.Path
	if cfg.Database.InMemory {
		path = ":memory:"
	}
	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, err
	}
	return cfg, database, nil
}

// openManager opens the environment and builds a queue manager over the
// durable store.
func openManager(configPath string) (*config.Config, *sql.DB, *queue.Manager, error) {
	cfg, database, err := openEnvironment(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	manager := queue.NewManager(queue.NewSQLStore(database), logger.Logger)
	return cfg, database, manager, nil
}
