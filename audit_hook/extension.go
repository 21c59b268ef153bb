// Package audithook bridges agentchat lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/plugin"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin              = (*Extension)(nil)
	_ plugin.OnContractDeployed  = (*Extension)(nil)
	_ plugin.OnTransferInitiated = (*Extension)(nil)
	_ plugin.OnTransferAccepted  = (*Extension)(nil)
	_ plugin.OnTransferCanceled  = (*Extension)(nil)
	_ plugin.OnLimitPurchased    = (*Extension)(nil)
	_ plugin.OnPaymentReversed   = (*Extension)(nil)
	_ plugin.OnPricingChanged    = (*Extension)(nil)
	_ plugin.OnUserLimitsSet     = (*Extension)(nil)
	_ plugin.OnOperationRejected = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges agentchat lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Contract hooks
// ──────────────────────────────────────────────────

// OnContractDeployed implements plugin.OnContractDeployed.
func (e *Extension) OnContractDeployed(ctx context.Context, c *contract.Contract) error {
	return e.record(ctx, ActionContractDeployed, SeverityInfo, OutcomeSuccess,
		ResourceContract, c.ID.String(), CategoryLifecycle, nil,
		"agent", c.Agent.Hex(),
		"owner", c.Ownership.Owner.Hex(),
		"buy_limit", c.Pricing.BuyLimit.String(),
		"buy_limit_price", c.Pricing.BuyLimitPrice.String(),
	)
}

// ──────────────────────────────────────────────────
// Ownership hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated implements plugin.OnTransferInitiated.
func (e *Extension) OnTransferInitiated(ctx context.Context, t *ownership.Transfer) error {
	return e.record(ctx, ActionTransferInitiated, SeverityWarning, OutcomeSuccess,
		ResourceOwnership, t.ContractID.String(), CategoryGovernance, nil,
		"transfer_id", t.ID.String(),
		"from", t.From.Hex(),
		"candidate", t.Candidate.Hex(),
		"ready_at", t.InitiatedAt.Add(ownership.Timelock),
	)
}

// OnTransferAccepted implements plugin.OnTransferAccepted.
func (e *Extension) OnTransferAccepted(ctx context.Context, t *ownership.Transfer) error {
	return e.record(ctx, ActionTransferAccepted, SeverityWarning, OutcomeSuccess,
		ResourceOwnership, t.ContractID.String(), CategoryGovernance, nil,
		"transfer_id", t.ID.String(),
		"from", t.From.Hex(),
		"new_owner", t.Candidate.Hex(),
	)
}

// OnTransferCanceled implements plugin.OnTransferCanceled.
func (e *Extension) OnTransferCanceled(ctx context.Context, t *ownership.Transfer) error {
	return e.record(ctx, ActionTransferCanceled, SeverityInfo, OutcomeSuccess,
		ResourceOwnership, t.ContractID.String(), CategoryGovernance, nil,
		"transfer_id", t.ID.String(),
		"candidate", t.Candidate.Hex(),
	)
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnLimitPurchased implements plugin.OnLimitPurchased.
func (e *Extension) OnLimitPurchased(ctx context.Context, r *purchase.Receipt) error {
	return e.record(ctx, ActionLimitPurchased, SeverityInfo, OutcomeSuccess,
		ResourcePurchase, r.ID.String(), CategoryBilling, nil,
		"contract_id", r.ContractID.String(),
		"buyer", r.Buyer.Hex(),
		"agent", r.Agent.Hex(),
		"paid", r.Paid.String(),
		"granted", r.Granted.String(),
		"payment_ref", r.PaymentRef,
	)
}

// OnPaymentReversed implements plugin.OnPaymentReversed. A failed reversal
// means funds stayed with the agent and is recorded as critical.
func (e *Extension) OnPaymentReversed(ctx context.Context, contractID id.ContractID, ref string, err error) error {
	if err != nil {
		return e.record(ctx, ActionPaymentReversalFailed, SeverityCritical, OutcomeFailure,
			ResourcePayment, ref, CategoryPayment, err,
			"contract_id", contractID.String(),
		)
	}
	return e.record(ctx, ActionPaymentReversed, SeverityWarning, OutcomeSuccess,
		ResourcePayment, ref, CategoryPayment, nil,
		"contract_id", contractID.String(),
	)
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnPricingChanged implements plugin.OnPricingChanged.
func (e *Extension) OnPricingChanged(ctx context.Context, contractID id.ContractID, field pricing.Field, from, to types.Amount) error {
	return e.record(ctx, ActionPricingChanged, SeverityInfo, OutcomeSuccess,
		ResourcePricing, contractID.String(), CategoryAdministration, nil,
		"field", string(field),
		"from", from.String(),
		"to", to.String(),
	)
}

// OnUserLimitsSet implements plugin.OnUserLimitsSet. Overrides bypass
// payment, so each one is audited with the users it touched.
func (e *Extension) OnUserLimitsSet(ctx context.Context, contractID id.ContractID, grants []allowance.Grant) error {
	users := make([]string, len(grants))
	values := make([]string, len(grants))
	for i, g := range grants {
		users[i] = g.User.Hex()
		values[i] = g.Value.String()
	}
	return e.record(ctx, ActionUserLimitsSet, SeverityWarning, OutcomeSuccess,
		ResourceAllowance, contractID.String(), CategoryAdministration, nil,
		"users", users,
		"values", values,
	)
}

// ──────────────────────────────────────────────────
// Rejection hooks
// ──────────────────────────────────────────────────

// OnOperationRejected implements plugin.OnOperationRejected. Unauthorized
// attempts are warnings; infrastructure failures are errors.
func (e *Extension) OnOperationRejected(ctx context.Context, op string, contractID id.ContractID, caller account.Address, err error) error {
	severity := SeverityInfo
	switch {
	case agentchat.Code(err) == "unauthorized":
		severity = SeverityWarning
	case !agentchat.IsRevert(err) && !agentchat.IsNotFound(err):
		severity = SeverityError
	}
	return e.record(ctx, ActionOperationRejected, severity, OutcomeFailure,
		ResourceContract, contractID.String(), CategoryAccess, err,
		"op", op,
		"caller", caller.Hex(),
		"code", agentchat.Code(err),
		"revert_reason", agentchat.RevertReason(err),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
