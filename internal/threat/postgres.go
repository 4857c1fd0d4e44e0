package threat

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
)

// rowQuerier is the subset of *pgxpool.Pool used by PostgresBaseline.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresBaseline reads per-entity baselines from the entity_baselines
// table maintained by the baseline learning job.
type PostgresBaseline struct {
	db          rowQuerier
	defaultGeos []string
}

// NewPostgresBaseline creates a PostgresBaseline. defaultGeos applies to
// entities with no row.
func NewPostgresBaseline(db rowQuerier, defaultGeos []string) *PostgresBaseline {
	if len(defaultGeos) == 0 {
		defaultGeos = []string{"US"}
	}
	return &PostgresBaseline{db: db, defaultGeos: defaultGeos}
}

// IsAnomalous implements BaselineOracle.
func (b *PostgresBaseline) IsAnomalous(ctx context.Context, entityID string, attributes map[string]string) (bool, error) {
	var actions []string
	err := b.db.QueryRow(ctx,
		`SELECT normal_actions FROM entity_baselines WHERE entity_id = $1`, entityID,
	).Scan(&actions)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query baseline actions: %w", err)
	}
	if len(actions) == 0 {
		return false, nil
	}
	return !slices.Contains(actions, attributes["action"]), nil
}

// AllowedGeo implements BaselineOracle.
func (b *PostgresBaseline) AllowedGeo(ctx context.Context, entityID string) ([]string, error) {
	var geos []string
	err := b.db.QueryRow(ctx,
		`SELECT allowed_geos FROM entity_baselines WHERE entity_id = $1`, entityID,
	).Scan(&geos)
	if errors.Is(err, pgx.ErrNoRows) {
		return b.defaultGeos, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query baseline geos: %w", err)
	}
	if len(geos) == 0 {
		return b.defaultGeos, nil
	}
	return geos, nil
}
