package purchase

import (
	"context"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
)

type Store interface {
	CreatePurchase(ctx context.Context, r *Receipt) error
	GetPurchase(ctx context.Context, purchaseID id.PurchaseID) (*Receipt, error)
	ListPurchases(ctx context.Context, contractID id.ContractID, opts ListOpts) ([]*Receipt, error)
}

// ListOpts filters ListPurchases. Results are ordered oldest first.
type ListOpts struct {
	Buyer  account.Optional
	Limit  int
	Offset int
}
