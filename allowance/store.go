package allowance

import (
	"context"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/types"
)

type Store interface {
	// GetChatLimit returns the user's limit, zero when no row exists.
	GetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address) (types.Amount, error)
	SetChatLimit(ctx context.Context, contractID id.ContractID, user account.Address, limit types.Amount, at time.Time) error
	ListChatLimits(ctx context.Context, contractID id.ContractID, opts ListOpts) ([]*Entry, error)
}

// ListOpts filters ListChatLimits. Results are ordered by user address.
type ListOpts struct {
	// NonZero skips rows whose limit is zero.
	NonZero bool
	Limit   int
	Offset  int
}
