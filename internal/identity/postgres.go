package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres resolves names against the users table owned by the CRUD
// subsystem. Read-only: no migrations are run from here.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

func (p *Postgres) ResolveName(ctx context.Context, tenantID int64, name string) (Identity, bool, error) {
	var id Identity
	row := p.db.QueryRowContext(ctx,
		"SELECT id, tenant_id, username FROM users WHERE tenant_id = $1 AND username = $2",
		tenantID, NormalizeName(name))
	if err := row.Scan(&id.ID, &id.TenantID, &id.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, fmt.Errorf("resolve name: %w", err)
	}
	id.Name = NormalizeName(id.Name)
	return id, true, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
