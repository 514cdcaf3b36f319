package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// PolicyStore implements domain.PolicyConfigStore using PostgreSQL. Presets
// are stored as JSONB so new parameters never need a schema change.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a new PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Get retrieves a single policy preset by name.
func (s *PolicyStore) Get(ctx context.Context, name string) (domain.PolicyConfig, error) {
	const query = `SELECT name, params_json, enabled, updated_at FROM policy_configs WHERE name = $1`

	var cfg domain.PolicyConfig
	var paramsJSON []byte

	err := s.pool.QueryRow(ctx, query, name).Scan(
		&cfg.Name, &paramsJSON, &cfg.Enabled, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PolicyConfig{}, domain.ErrNotFound
		}
		return domain.PolicyConfig{}, fmt.Errorf("postgres: get policy %s: %w", name, err)
	}

	if err := json.Unmarshal(paramsJSON, &cfg.Params); err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("postgres: unmarshal policy %s: %w", name, err)
	}
	return cfg, nil
}

// Upsert inserts or updates a policy preset.
func (s *PolicyStore) Upsert(ctx context.Context, cfg domain.PolicyConfig) error {
	paramsJSON, err := json.Marshal(cfg.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal policy %s: %w", cfg.Name, err)
	}

	const query = `
		INSERT INTO policy_configs (name, params_json, enabled, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET
			params_json = EXCLUDED.params_json,
			enabled     = EXCLUDED.enabled,
			updated_at  = NOW()`

	_, err = s.pool.Exec(ctx, query, cfg.Name, paramsJSON, cfg.Enabled)
	if err != nil {
		return fmt.Errorf("postgres: upsert policy %s: %w", cfg.Name, err)
	}
	return nil
}

// List returns all policy presets ordered by name.
func (s *PolicyStore) List(ctx context.Context) ([]domain.PolicyConfig, error) {
	const query = `SELECT name, params_json, enabled, updated_at FROM policy_configs ORDER BY name`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list policies: %w", err)
	}
	defer rows.Close()

	var configs []domain.PolicyConfig
	for rows.Next() {
		var cfg domain.PolicyConfig
		var paramsJSON []byte

		if err := rows.Scan(&cfg.Name, &paramsJSON, &cfg.Enabled, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &cfg.Params); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal policy: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list policies rows: %w", err)
	}
	return configs, nil
}
