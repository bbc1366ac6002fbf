package kvstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"civic-reporting/pkg/config"
	"civic-reporting/pkg/database"
)

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.LocalConfig) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "mongo":
		db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return NewMongo(db, cfg.MongoCollection), nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLite(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown local backend %q", cfg.Backend)
	}
}
