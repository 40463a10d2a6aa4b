package storage

import (
	"context"
	"errors"
	"strings"

	logx "warden/pkg/logx"
)

// Store is the minimal persistence API used by the state manager.
// Records are opaque JSON blobs keyed by account ID.
type Store interface {
	Get(ctx context.Context, accountID string) (data []byte, ok bool, err error)
	Put(ctx context.Context, accountID string, data []byte) error
	Delete(ctx context.Context, accountID string) error
	List(ctx context.Context) (map[string][]byte, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
