package cmd

import (
	"fmt"

	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
	"github.com/wirelessalien/moviesync/internal/engine"
)

// openEngine loads the config, opens the databases and creates an engine.
// The returned close function releases both.
func openEngine(opts ...engine.Option) (*config.Config, *engine.Engine, func(), error) {
	cfg, err := config.Load(rootCmdPersistentFlags.ConfigFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.New(cfg.Database.Dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	e, err := engine.New(cfg, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return cfg, e, func() {
		_ = e.Close()
		_ = db.Close()
	}, nil
}
