package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agoramesh/agora/pkg/contracts"
	"github.com/agoramesh/agora/pkg/crypto"
	"github.com/agoramesh/agora/pkg/registry"
)

// SQLiteRegistry is the durable agent directory. Uniqueness of both the
// identifier and the public key is enforced by the schema, so a racing
// double-registration resolves in the database.
type SQLiteRegistry struct {
	db *sql.DB
}

var _ registry.Registry = (*SQLiteRegistry)(nil)

func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	s := &SQLiteRegistry{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRegistry) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		public_key TEXT NOT NULL UNIQUE,
		registered_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteRegistry) Register(ctx context.Context, agent contracts.Agent) error {
	if err := crypto.CheckIdentityBinding(agent.AgentID, agent.PublicKey); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, public_key, registered_at) VALUES (?, ?, ?)`,
		agent.AgentID, agent.PublicKey, agent.RegisteredAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return registry.ErrAlreadyRegistered
	}
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *SQLiteRegistry) Lookup(ctx context.Context, agentID string) (contracts.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, public_key, registered_at FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

func (s *SQLiteRegistry) List(ctx context.Context) ([]contracts.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, public_key, registered_at FROM agents ORDER BY agent_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []contracts.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row scannable) (contracts.Agent, error) {
	var (
		agent        contracts.Agent
		registeredAt string
	)
	err := row.Scan(&agent.AgentID, &agent.PublicKey, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.Agent{}, registry.ErrUnknownSigner
	}
	if err != nil {
		return contracts.Agent{}, fmt.Errorf("read agent: %w", err)
	}
	agent.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt)
	if err != nil {
		return contracts.Agent{}, fmt.Errorf("parse agent registered_at %q: %w", registeredAt, err)
	}
	return agent, nil
}
