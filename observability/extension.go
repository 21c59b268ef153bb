// Package observability provides a metrics extension for agentchat that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"

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

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin              = (*MetricsExtension)(nil)
	_ plugin.OnInit              = (*MetricsExtension)(nil)
	_ plugin.OnContractDeployed  = (*MetricsExtension)(nil)
	_ plugin.OnTransferInitiated = (*MetricsExtension)(nil)
	_ plugin.OnTransferAccepted  = (*MetricsExtension)(nil)
	_ plugin.OnTransferCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnLimitPurchased    = (*MetricsExtension)(nil)
	_ plugin.OnPaymentReversed   = (*MetricsExtension)(nil)
	_ plugin.OnPricingChanged    = (*MetricsExtension)(nil)
	_ plugin.OnUserLimitsSet     = (*MetricsExtension)(nil)
	_ plugin.OnOperationRejected = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an agentchat plugin to track access ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Contract metrics
	ContractsDeployed Counter

	// Ownership metrics
	TransfersInitiated Counter
	TransfersAccepted  Counter
	TransfersCanceled  Counter

	// Purchase metrics
	Purchases         Counter
	MessagesGranted   Counter
	PaymentAmount     Histogram
	PaymentsReversed  Counter
	ReversalsFailed   Counter
	PricingChanges    Counter
	LimitOverrides    Counter
	OverriddenEntries Histogram

	// Rejection metrics
	Rejections        Counter
	Unauthorized      Counter
	IncorrectPayments Counter
	ForwardFailures   Counter
	StoreErrors       Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// NewPrometheusFactory backs it with a Prometheus registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ContractsDeployed: factory.Counter("agentchat.contract.deployed"),

		TransfersInitiated: factory.Counter("agentchat.ownership.transfer.initiated"),
		TransfersAccepted:  factory.Counter("agentchat.ownership.transfer.accepted"),
		TransfersCanceled:  factory.Counter("agentchat.ownership.transfer.canceled"),

		Purchases:         factory.Counter("agentchat.purchase.completed"),
		MessagesGranted:   factory.Counter("agentchat.purchase.messages_granted"),
		PaymentAmount:     factory.Histogram("agentchat.purchase.payment_amount"),
		PaymentsReversed:  factory.Counter("agentchat.payment.reversed"),
		ReversalsFailed:   factory.Counter("agentchat.payment.reversal_failed"),
		PricingChanges:    factory.Counter("agentchat.pricing.changed"),
		LimitOverrides:    factory.Counter("agentchat.allowance.overrides"),
		OverriddenEntries: factory.Histogram("agentchat.allowance.override_size"),

		Rejections:        factory.Counter("agentchat.operation.rejected"),
		Unauthorized:      factory.Counter("agentchat.operation.unauthorized"),
		IncorrectPayments: factory.Counter("agentchat.purchase.incorrect_payment"),
		ForwardFailures:   factory.Counter("agentchat.payment.forward_failed"),
		StoreErrors:       factory.Counter("agentchat.store.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// OnContractDeployed implements plugin.OnContractDeployed.
func (m *MetricsExtension) OnContractDeployed(_ context.Context, _ *contract.Contract) error {
	m.ContractsDeployed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ownership hooks
// ──────────────────────────────────────────────────

// OnTransferInitiated implements plugin.OnTransferInitiated.
func (m *MetricsExtension) OnTransferInitiated(_ context.Context, _ *ownership.Transfer) error {
	m.TransfersInitiated.Inc()
	return nil
}

// OnTransferAccepted implements plugin.OnTransferAccepted.
func (m *MetricsExtension) OnTransferAccepted(_ context.Context, _ *ownership.Transfer) error {
	m.TransfersAccepted.Inc()
	return nil
}

// OnTransferCanceled implements plugin.OnTransferCanceled.
func (m *MetricsExtension) OnTransferCanceled(_ context.Context, _ *ownership.Transfer) error {
	m.TransfersCanceled.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnLimitPurchased implements plugin.OnLimitPurchased.
func (m *MetricsExtension) OnLimitPurchased(_ context.Context, r *purchase.Receipt) error {
	m.Purchases.Inc()
	m.MessagesGranted.Add(approx(r.Granted))
	m.PaymentAmount.Observe(approx(r.Paid))
	return nil
}

// OnPaymentReversed implements plugin.OnPaymentReversed.
func (m *MetricsExtension) OnPaymentReversed(_ context.Context, _ id.ContractID, _ string, err error) error {
	if err != nil {
		m.ReversalsFailed.Inc()
	} else {
		m.PaymentsReversed.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Administration hooks
// ──────────────────────────────────────────────────

// OnPricingChanged implements plugin.OnPricingChanged.
func (m *MetricsExtension) OnPricingChanged(_ context.Context, _ id.ContractID, _ pricing.Field, _, _ types.Amount) error {
	m.PricingChanges.Inc()
	return nil
}

// OnUserLimitsSet implements plugin.OnUserLimitsSet.
func (m *MetricsExtension) OnUserLimitsSet(_ context.Context, _ id.ContractID, grants []allowance.Grant) error {
	m.LimitOverrides.Inc()
	m.OverriddenEntries.Observe(float64(len(grants)))
	return nil
}

// OnOperationRejected implements plugin.OnOperationRejected.
func (m *MetricsExtension) OnOperationRejected(_ context.Context, _ string, _ id.ContractID, _ account.Address, err error) error {
	m.Rejections.Inc()
	switch {
	case errors.Is(err, agentchat.ErrUnauthorized):
		m.Unauthorized.Inc()
	case errors.Is(err, agentchat.ErrIncorrectPayment):
		m.IncorrectPayments.Inc()
	case errors.Is(err, agentchat.ErrPaymentForwardFailed):
		m.ForwardFailures.Inc()
	case !agentchat.IsRevert(err) && !agentchat.IsNotFound(err):
		m.StoreErrors.Inc()
	}
	return nil
}

// approx converts an amount to float64 for metrics, losing precision above
// 2^53.
func approx(a types.Amount) float64 {
	f, _ := a.Big().Float64()
	return f
}
