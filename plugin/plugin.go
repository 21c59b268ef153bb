// Package plugin provides an extensible plugin system for agentchat.
// Plugins can hook into lifecycle events of the access ledger. Hooks run
// after the operation has committed and never change its outcome.
package plugin

import (
	"context"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Contract hooks
// ──────────────────────────────────────────────────

// OnContractDeployed is called after a new instance is deployed.
type OnContractDeployed interface {
	Plugin
	OnContractDeployed(ctx context.Context, c *contract.Contract) error
}

// ──────────────────────────────────────────────────
// Ownership hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated is called when an owner proposes a successor.
type OnTransferInitiated interface {
	Plugin
	OnTransferInitiated(ctx context.Context, t *ownership.Transfer) error
}

// OnTransferAccepted is called when the pending owner takes over.
type OnTransferAccepted interface {
	Plugin
	OnTransferAccepted(ctx context.Context, t *ownership.Transfer) error
}

// OnTransferCanceled is called when the owner withdraws a pending transfer.
type OnTransferCanceled interface {
	Plugin
	OnTransferCanceled(ctx context.Context, t *ownership.Transfer) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnLimitPurchased is called after a paid purchase has been credited.
type OnLimitPurchased interface {
	Plugin
	OnLimitPurchased(ctx context.Context, r *purchase.Receipt) error
}

// OnPaymentReversed is called when a forwarded payment had to be returned
// because the ledger update could not be committed. err is nil when the
// reversal succeeded.
type OnPaymentReversed interface {
	Plugin
	OnPaymentReversed(ctx context.Context, contractID id.ContractID, ref string, err error) error
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnPricingChanged is called when the owner changes a pricing field.
type OnPricingChanged interface {
	Plugin
	OnPricingChanged(ctx context.Context, contractID id.ContractID, field pricing.Field, from, to types.Amount) error
}

// OnUserLimitsSet is called when the owner overrides one or more allowances.
type OnUserLimitsSet interface {
	Plugin
	OnUserLimitsSet(ctx context.Context, contractID id.ContractID, grants []allowance.Grant) error
}

// ──────────────────────────────────────────────────
// Rejection hooks
// ──────────────────────────────────────────────────

// OnOperationRejected is called when a mutating operation fails. op is the
// operation name, such as "buy_chat_limit".
type OnOperationRejected interface {
	Plugin
	OnOperationRejected(ctx context.Context, op string, contractID id.ContractID, caller account.Address, err error) error
}
