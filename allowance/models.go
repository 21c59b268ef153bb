// Package allowance models the per-user chat allowance ledger of a contract.
package allowance

import (
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/types"
)

// Entry is one row of the ledger. Users that never purchased or were never
// granted anything have no row and an implicit limit of zero.
type Entry struct {
	ContractID id.ContractID   `json:"contract_id"`
	User       account.Address `json:"user"`
	Limit      types.Amount    `json:"limit"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Result answers whether a user may currently send chat messages.
type Result struct {
	User      account.Address `json:"user"`
	Allowed   bool            `json:"allowed"`
	Remaining types.Amount    `json:"remaining"`
}

// Check builds a Result from the user's current limit.
func Check(user account.Address, limit types.Amount) *Result {
	return &Result{User: user, Allowed: !limit.IsZero(), Remaining: limit}
}

// Grant is one user/value pair of an administrative override.
type Grant struct {
	User  account.Address `json:"user"`
	Value types.Amount    `json:"value"`
}
