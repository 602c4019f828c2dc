package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// The photo catalog lives in MariaDB and is read-only from here, so the
// pool is kept small. Connections are recycled periodically to survive
// catalog-side restarts.
const (
	catalogMaxOpenConns = 4
	catalogMaxIdleConns = 2
	catalogConnLifetime = 30 * time.Minute
	catalogPingTimeout  = 10 * time.Second
)

// Pool holds the connection pool to the photo catalog.
type Pool struct {
	db *sql.DB
}

// NewPool opens a pool against the catalog DSN and verifies connectivity.
func NewPool(dsn string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("photo catalog DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open photo catalog: %w", err)
	}

	db.SetMaxOpenConns(catalogMaxOpenConns)
	db.SetMaxIdleConns(catalogMaxIdleConns)
	db.SetConnMaxLifetime(catalogConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), catalogPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping photo catalog: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the catalog connection pool.
func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close photo catalog: %w", err)
	}
	return nil
}
