// Package app wires a workspace into a running engine: it resolves the
// config, opens the configured store backend, runs migrations and prepares
// the metadata cache. The CLI and the serve command both go through here so
// backend selection lives in exactly one place.
package app

import (
	"database/sql"
	"fmt"

	"claimline/internal/cache"
	"claimline/internal/config"
	"claimline/internal/db"
	"claimline/internal/engine"
	"claimline/internal/eventlog/filelog"
	"claimline/internal/eventlog/sqllog"
	"claimline/internal/migrate"
)

// Env is an opened workspace.
type Env struct {
	Engine engine.Engine
	Config *config.Config

	conn *sql.DB
}

// Open resolves the workspace config and builds the engine on the configured
// backend. The SQLite database is always opened: the cache lives there even
// when the event log uses the file backend.
func Open(workspace string) (*Env, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	c := &cache.Cache{DB: conn}

	var eng engine.Engine
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		eng = engine.New(sqllog.New(conn), c, cfg)
	case config.BackendFile:
		store, err := filelog.Open(db.CasesDir(workspace))
		if err != nil {
			conn.Close()
			return nil, err
		}
		eng = engine.New(store, c, cfg)
	default:
		conn.Close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return &Env{Engine: eng, Config: cfg, conn: conn}, nil
}

// Close releases the workspace resources.
func (e *Env) Close() error {
	if e.conn == nil {
		return nil
	}
	// The sqlite backend shares the connection with the cache; close once.
	err := e.conn.Close()
	e.conn = nil
	return err
}
