package contract

import (
	"context"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
)

type Store interface {
	// CreateContract fails with an already-exists error when the ID or the
	// agent is taken.
	CreateContract(ctx context.Context, c *Contract) error
	GetContract(ctx context.Context, contractID id.ContractID) (*Contract, error)
	GetContractByAgent(ctx context.Context, agent account.Address) (*Contract, error)
	ListContracts(ctx context.Context, opts ListOpts) ([]*Contract, error)
	// UpdateContract persists ownership, pricing and UpdatedAt.
	UpdateContract(ctx context.Context, c *Contract) error
}

// ListOpts filters ListContracts. Results are ordered oldest first.
type ListOpts struct {
	Owner  account.Optional
	Limit  int
	Offset int
}
