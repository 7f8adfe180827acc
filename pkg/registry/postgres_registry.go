package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
)

// PostgresRegistry implements Registry with SQL persistence.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const pgRegistrySchema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	public_key TEXT NOT NULL UNIQUE,
	registered_at TIMESTAMPTZ NOT NULL
);
`

func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgRegistrySchema)
	return err
}

func (r *PostgresRegistry) Register(ctx context.Context, agent contracts.Agent) error {
	if err := crypto.CheckIdentityBinding(agent.AgentID, agent.PublicKey); err != nil {
		return err
	}

	query := `
		INSERT INTO agents (agent_id, public_key, registered_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.db.ExecContext(ctx, query, agent.AgentID, agent.PublicKey, agent.RegisteredAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return ErrAlreadyRegistered
		}
		return fmt.Errorf("register agent: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Lookup(ctx context.Context, agentID string) (contracts.Agent, error) {
	query := `SELECT agent_id, public_key, registered_at FROM agents WHERE agent_id = $1`
	row := r.db.QueryRowContext(ctx, query, agentID)

	var agent contracts.Agent
	if err := row.Scan(&agent.AgentID, &agent.PublicKey, &agent.RegisteredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Agent{}, ErrUnknownSigner
		}
		return contracts.Agent{}, fmt.Errorf("lookup agent: %w", err)
	}
	return agent, nil
}

func (r *PostgresRegistry) List(ctx context.Context) ([]contracts.Agent, error) {
	query := `SELECT agent_id, public_key, registered_at FROM agents ORDER BY registered_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []contracts.Agent
	for rows.Next() {
		var agent contracts.Agent
		if err := rows.Scan(&agent.AgentID, &agent.PublicKey, &agent.RegisteredAt); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}
