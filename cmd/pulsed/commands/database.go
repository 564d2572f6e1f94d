package commands

import (
	"database/sql"

	"github.com/teranos/pulsed/am"
	"github.com/teranos/pulsed/db"
	"github.com/teranos/pulsed/errors"
	"github.com/teranos/pulsed/logger"
	"github.com/teranos/pulsed/pulse"
)

// openDatabase opens and migrates the database at the configured path.
// An explicit dbPath overrides configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = "pulsed.db"
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// openStore opens the database and wires the pulse store with the
// configured retry policy.
func openStore() (*pulse.Store, *sql.DB, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}

	policy := pulse.Policy{
		BaseInterval: cfg.Retry.BaseInterval(),
		MaxInterval:  cfg.Retry.MaxInterval(),
	}
	return pulse.NewStore(database, policy), database, nil
}
