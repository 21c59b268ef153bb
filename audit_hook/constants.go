package audithook

// Action constants for audit events.
const (
	// Contract actions
	ActionContractDeployed = "contract.deployed"

	// Ownership actions
	ActionTransferInitiated = "ownership.transfer_initiated"
	ActionTransferAccepted  = "ownership.transfer_accepted"
	ActionTransferCanceled  = "ownership.transfer_canceled"

	// Purchase actions
	ActionLimitPurchased        = "purchase.completed"
	ActionPaymentReversed       = "payment.reversed"
	ActionPaymentReversalFailed = "payment.reversal_failed"

	// Administration actions
	ActionPricingChanged = "pricing.changed"
	ActionUserLimitsSet  = "allowance.overridden"

	// Rejections
	ActionOperationRejected = "operation.rejected"
)

// Resource constants for audit events.
const (
	ResourceContract  = "contract"
	ResourceOwnership = "ownership"
	ResourcePurchase  = "purchase"
	ResourcePayment   = "payment"
	ResourcePricing   = "pricing"
	ResourceAllowance = "allowance"
)

// Category constants for audit events.
const (
	CategoryLifecycle      = "lifecycle"
	CategoryGovernance     = "governance"
	CategoryBilling        = "billing"
	CategoryPayment        = "payment"
	CategoryAdministration = "administration"
	CategoryAccess         = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
