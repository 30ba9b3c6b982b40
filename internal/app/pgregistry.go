package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, key, secret, ping_interval, activity_timeout, allowed_origins, max_message_size, max_connections, options"

// PGRegistry implements Registry using PostgreSQL. Tenant rows are read per
// lookup; the broker treats them as immutable for the lifetime of a
// connection, so no cache invalidation is needed.
type PGRegistry struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRegistry creates a PostgreSQL-backed application registry.
func NewPGRegistry(db *pgxpool.Pool, logger zerolog.Logger) *PGRegistry {
	return &PGRegistry{db: db, log: logger.With().Str("component", "app-registry").Logger()}
}

// All returns every application row.
func (r *PGRegistry) All(ctx context.Context) ([]*Application, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf("SELECT %s FROM applications ORDER BY id", selectColumns))
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	var apps []*Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}

// FindByKey resolves an application by its routing key.
func (r *PGRegistry) FindByKey(ctx context.Context, key string) (*Application, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM applications WHERE key = $1", selectColumns), key)
	a, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("key %q: %w", key, ErrUnknownApplication)
		}
		return nil, fmt.Errorf("query application by key: %w", err)
	}
	return a, nil
}

// FindByID resolves an application by its id.
func (r *PGRegistry) FindByID(ctx context.Context, id string) (*Application, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM applications WHERE id = $1", selectColumns), id)
	a, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("id %q: %w", id, ErrUnknownApplication)
		}
		return nil, fmt.Errorf("query application by id: %w", err)
	}
	return a, nil
}

func scanApplication(row pgx.Row) (*Application, error) {
	var (
		a       Application
		options []byte
	)
	if err := row.Scan(&a.ID, &a.Key, &a.Secret, &a.PingInterval, &a.ActivityTimeout,
		&a.AllowedOrigins, &a.MaxMessageSize, &a.MaxConnections, &options); err != nil {
		return nil, err
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &a.Options); err != nil {
			return nil, fmt.Errorf("decode application options: %w", err)
		}
	}
	a.ApplyDefaults()
	return &a, nil
}
