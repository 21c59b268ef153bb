package agentchat

import (
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/types"
)

// Re-export common types for convenience so users don't have to import the
// types and account packages.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Address is re-exported from account package.
type Address = account.Address

// Re-export Amount constructors
var (
	Units       = types.Units
	ZeroAmount  = types.ZeroAmount
	ParseAmount = types.ParseAmount
)

// Re-export Address helpers
var (
	ParseAddress = account.Parse
	ZeroAddress  = account.Zero
)
