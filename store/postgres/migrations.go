package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/grove/migrate"

	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" executor

	"github.com/xraph/agentchat"
)

// Migrations is the grove migration group for the agentchat store (PostgreSQL).
var Migrations = migrate.NewGroup("agentchat")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_agentchat_contracts",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS agentchat_contracts (
    id              TEXT PRIMARY KEY,
    agent           TEXT NOT NULL,
    deployer        TEXT NOT NULL,
    owner           TEXT NOT NULL,
    pending_owner   TEXT,
    pending_since   BIGINT NOT NULL DEFAULT 0,
    transfer_id     TEXT,
    buy_limit       TEXT NOT NULL,
    buy_limit_price TEXT NOT NULL,
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_agentchat_contracts_agent ON agentchat_contracts (agent);
CREATE INDEX IF NOT EXISTS idx_agentchat_contracts_owner ON agentchat_contracts (owner);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS agentchat_contracts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_agentchat_chat_limits",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS agentchat_chat_limits (
    contract_id  TEXT NOT NULL REFERENCES agentchat_contracts (id),
    user_address TEXT NOT NULL,
    chat_limit   TEXT NOT NULL,
    updated_at   BIGINT NOT NULL,
    PRIMARY KEY (contract_id, user_address)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS agentchat_chat_limits`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_agentchat_purchases",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS agentchat_purchases (
    id          TEXT PRIMARY KEY,
    contract_id TEXT NOT NULL REFERENCES agentchat_contracts (id),
    buyer       TEXT NOT NULL,
    agent       TEXT NOT NULL,
    paid        TEXT NOT NULL,
    granted     TEXT NOT NULL,
    limit_after TEXT NOT NULL,
    payment_id  TEXT NOT NULL,
    payment_ref TEXT NOT NULL DEFAULT '',
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agentchat_purchases_contract ON agentchat_purchases (contract_id, created_at);
CREATE INDEX IF NOT EXISTS idx_agentchat_purchases_buyer ON agentchat_purchases (contract_id, buyer);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS agentchat_purchases`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_agentchat_transfers",
			Version: "20250601000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS agentchat_transfers (
    id           TEXT PRIMARY KEY,
    contract_id  TEXT NOT NULL REFERENCES agentchat_contracts (id),
    from_owner   TEXT NOT NULL,
    candidate    TEXT NOT NULL,
    status       TEXT NOT NULL,
    initiated_at BIGINT NOT NULL,
    resolved_at  BIGINT NOT NULL DEFAULT 0,
    created_at   BIGINT NOT NULL,
    updated_at   BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agentchat_transfers_contract ON agentchat_transfers (contract_id, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS agentchat_transfers`)
				return err
			},
		},
	)
}

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("%w: agentchat/postgres: create migration executor: %w", agentchat.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: agentchat/postgres: %w", agentchat.ErrMigrationFailed, err)
	}
	return nil
}
