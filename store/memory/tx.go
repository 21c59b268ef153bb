package memory

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/types"
)

// tx is the store handed to an Atomic callback. The owning Store's write
// lock is held for its whole lifetime.
type tx struct {
	d *data
}

var _ store.Store = (*tx)(nil)

func (t *tx) CreateContract(_ context.Context, c *contract.Contract) error {
	return t.d.createContract(c)
}

func (t *tx) GetContract(_ context.Context, contractID id.ContractID) (*contract.Contract, error) {
	return t.d.getContract(contractID)
}

func (t *tx) GetContractByAgent(_ context.Context, agent account.Address) (*contract.Contract, error) {
	return t.d.getContractByAgent(agent)
}

func (t *tx) ListContracts(_ context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	return t.d.listContracts(opts), nil
}

func (t *tx) UpdateContract(_ context.Context, c *contract.Contract) error {
	return t.d.updateContract(c)
}

func (t *tx) GetChatLimit(_ context.Context, contractID id.ContractID, user account.Address) (types.Amount, error) {
	return t.d.getChatLimit(contractID, user), nil
}

func (t *tx) SetChatLimit(_ context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error {
	return t.d.setChatLimit(contractID, user, limit, at)
}

func (t *tx) ListChatLimits(_ context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error) {
	return t.d.listChatLimits(contractID, opts), nil
}

func (t *tx) CreatePurchase(_ context.Context, r *purchase.Receipt) error {
	return t.d.createPurchase(r)
}

func (t *tx) GetPurchase(_ context.Context, purchaseID id.PurchaseID) (*purchase.Receipt, error) {
	return t.d.getPurchase(purchaseID)
}

func (t *tx) ListPurchases(_ context.Context, contractID id.ContractID, opts purchase.ListOpts) ([]*purchase.Receipt, error) {
	return t.d.listPurchases(contractID, opts), nil
}

func (t *tx) CreateTransfer(_ context.Context, tr *ownership.Transfer) error {
	return t.d.createTransfer(tr)
}

func (t *tx) GetTransfer(_ context.Context, transferID id.TransferID) (*ownership.Transfer, error) {
	return t.d.getTransfer(transferID)
}

func (t *tx) UpdateTransfer(_ context.Context, tr *ownership.Transfer) error {
	return t.d.updateTransfer(tr)
}

func (t *tx) ListTransfers(_ context.Context, contractID id.ContractID, opts ownership.ListOpts) ([]*ownership.Transfer, error) {
	return t.d.listTransfers(contractID, opts), nil
}

// Atomic inside a transaction joins it.
func (t *tx) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

func (t *tx) Migrate(context.Context) error { return nil }
func (t *tx) Ping(context.Context) error    { return nil }

func (t *tx) Close() error {
	return errors.New("memory: cannot close a store from inside a transaction")
}
