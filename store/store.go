package store

import (
	"context"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

// Store is the unified storage interface for all agentchat records.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// so a backend satisfies every one of them by name.
type Store interface {
	// Contract methods
	CreateContract(ctx context.Context, c *contract.Contract) error
	GetContract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error)
	GetContractByAgent(ctx context.Context, agent account.Address) (*contract.Contract, error)
	ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error)
	UpdateContract(ctx context.Context, c *contract.Contract) error

	// Allowance methods
	GetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address) (types.Amount, error)
	SetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error
	ListChatLimits(ctx context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error)

	// Purchase methods
	CreatePurchase(ctx context.Context, r *purchase.Receipt) error
	GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Receipt, error)
	ListPurchases(ctx context.Context, contractID id.ContractID, opts purchase.ListOpts) ([]*purchase.Receipt, error)

	// Ownership transfer methods
	CreateTransfer(ctx context.Context, t *ownership.Transfer) error
	GetTransfer(ctx context.Context, transferID id.TransferID) (*ownership.Transfer, error)
	UpdateTransfer(ctx context.Context, t *ownership.Transfer) error
	ListTransfers(ctx context.Context, contractID id.ContractID, opts ownership.ListOpts) ([]*ownership.Transfer, error)

	// Atomic runs fn inside one transaction. fn must use tx, not the
	// receiver, for every read and write. A non-nil error from fn rolls
	// back everything fn wrote and is returned unchanged. A commit failure
	// is returned wrapped.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that each domain sub-interface is covered.
var (
	_ contract.Store  = Store(nil)
	_ allowance.Store = Store(nil)
	_ purchase.Store  = Store(nil)
	_ ownership.Store = Store(nil)
)

// Page applies offset/limit to n items and returns the [start, end) bounds.
// A zero limit means no limit.
func Page(n, offset, limit int) (start, end int) {
	start = offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = start + limit
	if limit <= 0 || end > n {
		end = n
	}
	return start, end
}
