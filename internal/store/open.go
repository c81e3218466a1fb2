package store

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a backend.
type Options struct {
	Type     string // postgres, mysql, sqlite or memory
	DSN      string
	Filename string
}

// Open connects to the backend named by opts.Type.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		return NewPostgresStore(ctx, opts.DSN)
	case "mysql":
		if opts.DSN == "" {
			return nil, fmt.Errorf("mysql store requires a dsn")
		}
		return NewMySQLStore(ctx, opts.DSN)
	case "sqlite":
		name := opts.Filename
		if name == "" {
			name = "irisett.db"
		}
		return NewSQLiteStore(ctx, name)
	default:
		return nil, fmt.Errorf("unknown database type %q", opts.Type)
	}
}
