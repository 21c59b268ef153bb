package ownership

import (
	"context"

	"github.com/xraph/agentchat/id"
)

type Store interface {
	CreateTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, transferID id.TransferID) (*Transfer, error)
	UpdateTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, contractID id.ContractID, opts ListOpts) ([]*Transfer, error)
}

// ListOpts filters ListTransfers. Results are ordered oldest first.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
