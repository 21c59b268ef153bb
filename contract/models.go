// Package contract models one deployed access ledger instance.
package contract

import (
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/types"
)

// Contract is the persistent state of one instance except the per-user
// ledger, which lives in its own table. Agent never changes after creation.
type Contract struct {
	types.Entity
	ID        id.ContractID   `json:"id"`
	Agent     account.Address `json:"agent"`
	Deployer  account.Address `json:"deployer"`
	Ownership ownership.State `json:"ownership"`
	Pricing   pricing.Config  `json:"pricing"`
}

// IsOwner reports whether addr is the current owner.
func (c *Contract) IsOwner(addr account.Address) bool {
	return c.Ownership.Owner == addr
}

// Clone returns a copy safe to mutate without affecting c.
func (c *Contract) Clone() *Contract {
	cp := *c
	return &cp
}
