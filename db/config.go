package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Driver string       `mapstructure:"driver"`
	DSN    string       `mapstructure:"dsn"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Pool   PoolConfig   `mapstructure:"pool"`
}

type SQLiteConfig struct {
	WAL           bool `mapstructure:"wal"`
	BusyTimeoutMs int  `mapstructure:"busy_timeout_ms"`
	ForeignKeys   bool `mapstructure:"foreign_keys"`
}

type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ResolveSQLiteDSN normalizes a sqlite DSN. An empty DSN falls back to
// axobase.db in the working directory; "~/" is expanded to the user home.
// The in-memory DSNs (":memory:", "file::memory:...") pass through as-is.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "axobase.db"
	}
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dsn = filepath.Join(home, dsn[2:])
	}
	if dir := filepath.Dir(dsn); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}
	return dsn, nil
}
