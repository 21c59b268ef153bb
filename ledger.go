package agentchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/payment"
	"github.com/xraph/agentchat/plugin"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/types"
)

// Operation names reported to plugins and logs.
const (
	OpDeploy            = "deploy"
	OpInitiateTransfer  = "initiate_transfer"
	OpAcceptTransfer    = "accept_transfer"
	OpCancelTransfer    = "cancel_transfer"
	OpBuyChatLimit      = "buy_chat_limit"
	OpSetBuyLimitPrice  = "set_buy_limit_price"
	OpSetBuyLimit       = "set_buy_limit"
	OpSetUserLimit      = "set_user_limit"
	OpBatchSetUserLimit = "batch_set_user_limit"
)

// AccessLedger is the chat access engine. One value serves every contract
// instance held in its store. Mutating operations on the same instance are
// serialized; different instances proceed in parallel.
type AccessLedger struct {
	store     store.Store
	forwarder payment.Forwarder
	plugins   *plugin.Registry
	logger    *slog.Logger
	now       func() time.Time

	locks sync.Map // contract ID string -> *sync.Mutex
}

// New creates a new AccessLedger instance. Without WithForwarder, payments
// are accepted and discarded.
func New(s store.Store, opts ...Option) *AccessLedger {
	l := &AccessLedger{
		store:     s,
		forwarder: payment.Discard,
		plugins:   plugin.NewRegistry(),
		logger:    slog.Default(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures an AccessLedger instance.
type Option func(*AccessLedger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *AccessLedger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithForwarder sets where purchase payments are sent.
func WithForwarder(f payment.Forwarder) Option {
	return func(l *AccessLedger) {
		l.forwarder = f
	}
}

// WithClock replaces time.Now. Timelocks and record timestamps use it.
func WithClock(now func() time.Time) Option {
	return func(l *AccessLedger) {
		l.now = now
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *AccessLedger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(l *AccessLedger) {
		l.plugins.WithTimeout(d)
	}
}

// Store returns the underlying store.
func (l *AccessLedger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *AccessLedger) Plugins() *plugin.Registry { return l.plugins }

// Start migrates the store and initializes plugins.
func (l *AccessLedger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("agentchat started",
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (l *AccessLedger) Stop() error {
	l.plugins.EmitShutdown(context.Background())
	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Deployment
// ──────────────────────────────────────────────────

// Deploy creates a new contract instance owned by deployer whose purchases
// pay agent. Pricing starts at pricing.Default. The agent is not validated;
// an agent can be deployed at most once per store.
func (l *AccessLedger) Deploy(ctx context.Context, deployer, agent account.Address) (*contract.Contract, error) {
	if account.IsZero(deployer) {
		return nil, l.reject(ctx, OpDeploy, id.Nil, deployer, fmt.Errorf("%w: deployer", ErrInvalidTarget))
	}

	now := l.now()
	c := &contract.Contract{
		Entity:    types.NewEntity(now),
		ID:        id.NewContractID(),
		Agent:     agent,
		Deployer:  deployer,
		Ownership: ownership.NewState(deployer),
		Pricing:   pricing.Default(),
	}

	if err := l.store.CreateContract(ctx, c); err != nil {
		return nil, l.reject(ctx, OpDeploy, c.ID, deployer, err)
	}

	l.logger.Info("contract deployed",
		"contract_id", c.ID,
		"agent", c.Agent,
		"owner", deployer,
	)
	l.plugins.EmitContractDeployed(ctx, c.Clone())
	return c, nil
}

// ──────────────────────────────────────────────────
// Ownership transfer
// ──────────────────────────────────────────────────

// InitiateTransfer proposes candidate as the next owner. Only the owner may
// call it. A later call replaces the candidate and restarts the timelock;
// the replaced record is marked superseded.
func (l *AccessLedger) InitiateTransfer(ctx context.Context, contractID id.ContractID, caller, candidate account.Address) (*ownership.Transfer, error) {
	defer l.lock(contractID)()

	var t *ownership.Transfer
	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.IsOwner(caller) {
			return ErrUnauthorized
		}
		if account.IsZero(candidate) {
			return fmt.Errorf("%w: candidate", ErrInvalidTarget)
		}

		now := l.now()
		if _, err := resolveTransfer(ctx, tx, c.Ownership.TransferID, ownership.StatusSuperseded, now); err != nil {
			return err
		}

		t = &ownership.Transfer{
			Entity:      types.NewEntity(now),
			ID:          id.NewTransferID(),
			ContractID:  contractID,
			From:        caller,
			Candidate:   candidate,
			Status:      ownership.StatusPending,
			InitiatedAt: types.Stamp(now),
		}
		if err := tx.CreateTransfer(ctx, t); err != nil {
			return err
		}

		c.Ownership.Propose(candidate, now, t.ID)
		c.Touch(now)
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, l.reject(ctx, OpInitiateTransfer, contractID, caller, err)
	}

	l.logger.Info("ownership transfer initiated",
		"contract_id", contractID,
		"owner", caller,
		"candidate", candidate,
		"ready_at", t.InitiatedAt.Add(ownership.Timelock),
	)
	l.plugins.EmitTransferInitiated(ctx, t)
	return t, nil
}

// AcceptTransfer makes the pending candidate the owner. Only the candidate
// may call it, and only once the timelock has elapsed.
func (l *AccessLedger) AcceptTransfer(ctx context.Context, contractID id.ContractID, caller account.Address) (*ownership.Transfer, error) {
	defer l.lock(contractID)()

	var t *ownership.Transfer
	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.Ownership.Pending.Is(caller) {
			return ErrUnauthorized
		}

		now := l.now()
		if !c.Ownership.TimelockElapsed(now) {
			return fmt.Errorf("%w: ready at %s", ErrTimelockNotElapsed, c.Ownership.ReadyAt().Format(time.RFC3339))
		}

		transferID := c.Ownership.TransferID
		c.Ownership.Promote()
		c.Touch(now)
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}

		t, err = resolveTransfer(ctx, tx, transferID, ownership.StatusAccepted, now)
		return err
	})
	if err != nil {
		return nil, l.reject(ctx, OpAcceptTransfer, contractID, caller, err)
	}

	l.logger.Info("ownership transfer accepted",
		"contract_id", contractID,
		"owner", caller,
	)
	if t != nil {
		l.plugins.EmitTransferAccepted(ctx, t)
	}
	return t, nil
}

// CancelTransfer withdraws the pending candidate. Only the owner may call
// it. Cancelling with nothing pending succeeds and returns a nil record.
func (l *AccessLedger) CancelTransfer(ctx context.Context, contractID id.ContractID, caller account.Address) (*ownership.Transfer, error) {
	defer l.lock(contractID)()

	var t *ownership.Transfer
	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.IsOwner(caller) {
			return ErrUnauthorized
		}
		if c.Ownership.Phase() == ownership.PhaseStable {
			return nil
		}

		now := l.now()
		if t, err = resolveTransfer(ctx, tx, c.Ownership.TransferID, ownership.StatusCanceled, now); err != nil {
			return err
		}

		c.Ownership.Clear()
		c.Touch(now)
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, l.reject(ctx, OpCancelTransfer, contractID, caller, err)
	}

	if t != nil {
		l.logger.Info("ownership transfer canceled",
			"contract_id", contractID,
			"candidate", t.Candidate,
		)
		l.plugins.EmitTransferCanceled(ctx, t)
	}
	return t, nil
}

// resolveTransfer closes the pending record transferID with status. A nil
// ID or a missing record is not an error and yields nil.
func resolveTransfer(ctx context.Context, tx store.Store, transferID id.TransferID, status ownership.Status, now time.Time) (*ownership.Transfer, error) {
	if transferID.IsNil() {
		return nil, nil
	}
	t, err := tx.GetTransfer(ctx, transferID)
	if errors.Is(err, ErrTransferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !t.IsPending() {
		return t, nil
	}
	t.Resolve(status, now)
	if err := tx.UpdateTransfer(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

// BuyChatLimit sells one BuyLimit worth of chat messages to caller. paid
// must equal BuyLimitPrice exactly. The allowance increment is staged in a
// transaction, the payment is forwarded to the agent, and only then is the
// transaction committed. A forwarding failure rolls everything back. A
// failure after a successful forward triggers Forwarder.Reverse.
func (l *AccessLedger) BuyChatLimit(ctx context.Context, contractID id.ContractID, caller account.Address, paid types.Amount) (*purchase.Receipt, error) {
	defer l.lock(contractID)()

	var (
		receipt *purchase.Receipt
		ref     string
	)
	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.Pricing.Accepts(paid) {
			return fmt.Errorf("%w: paid %s, price %s", ErrIncorrectPayment, paid, c.Pricing.BuyLimitPrice)
		}

		current, err := tx.GetChatLimit(ctx, contractID, caller)
		if err != nil {
			return err
		}
		next, overflow := current.Add(c.Pricing.BuyLimit)
		if overflow {
			return ErrLimitOverflow
		}

		now := l.now()
		if err := tx.SetChatLimit(ctx, contractID, caller, next, now); err != nil {
			return err
		}

		receipt = &purchase.Receipt{
			Entity:     types.NewEntity(now),
			ID:         id.NewPurchaseID(),
			ContractID: contractID,
			Buyer:      caller,
			Agent:      c.Agent,
			Paid:       paid,
			Granted:    c.Pricing.BuyLimit,
			LimitAfter: next,
			PaymentID:  id.NewPaymentID(),
		}

		ref, err = l.forwarder.Forward(ctx, payment.Transfer{
			ID:         receipt.PaymentID,
			ContractID: contractID,
			From:       caller,
			To:         c.Agent,
			Amount:     paid,
		})
		if err != nil {
			ref = ""
			return fmt.Errorf("%w: %w", ErrPaymentForwardFailed, err)
		}
		receipt.PaymentRef = ref

		return tx.CreatePurchase(ctx, receipt)
	})
	if err != nil {
		if ref != "" {
			err = l.reversePayment(ctx, contractID, caller, ref, err)
		}
		return nil, l.reject(ctx, OpBuyChatLimit, contractID, caller, err)
	}

	l.logger.Debug("chat limit purchased",
		"contract_id", contractID,
		"caller", caller,
		"granted", receipt.Granted,
		"limit_after", receipt.LimitAfter,
	)
	l.plugins.EmitLimitPurchased(ctx, receipt)
	return receipt, nil
}

// reversePayment undoes a forwarded payment whose purchase did not commit.
// It returns the error to report: cause when the reversal succeeded, or
// ErrPaymentReversalFailed joined with both failures.
func (l *AccessLedger) reversePayment(ctx context.Context, contractID id.ContractID, caller account.Address, ref string, cause error) error {
	rerr := l.forwarder.Reverse(context.WithoutCancel(ctx), ref)
	l.plugins.EmitPaymentReversed(ctx, contractID, ref, rerr)

	if rerr != nil {
		l.logger.Error("payment reversal failed, funds remain with the agent",
			"contract_id", contractID,
			"caller", caller,
			"payment_ref", ref,
			"cause", cause,
			"error", rerr,
		)
		return fmt.Errorf("%w: ref %s: %w", ErrPaymentReversalFailed, ref, errors.Join(cause, rerr))
	}

	l.logger.Warn("payment reversed after failed purchase",
		"contract_id", contractID,
		"caller", caller,
		"payment_ref", ref,
		"cause", cause,
	)
	return cause
}

// ──────────────────────────────────────────────────
// Administration
// ──────────────────────────────────────────────────

// SetBuyLimitPrice sets the exact payment a purchase requires. Zero makes
// purchases free.
func (l *AccessLedger) SetBuyLimitPrice(ctx context.Context, contractID id.ContractID, caller account.Address, price types.Amount) error {
	return l.setPricing(ctx, OpSetBuyLimitPrice, contractID, caller, pricing.FieldBuyLimitPrice, price)
}

// SetBuyLimit sets how many messages one purchase grants.
func (l *AccessLedger) SetBuyLimit(ctx context.Context, contractID id.ContractID, caller account.Address, limit types.Amount) error {
	return l.setPricing(ctx, OpSetBuyLimit, contractID, caller, pricing.FieldBuyLimit, limit)
}

func (l *AccessLedger) setPricing(ctx context.Context, op string, contractID id.ContractID, caller account.Address, field pricing.Field, value types.Amount) error {
	defer l.lock(contractID)()

	var previous types.Amount
	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.IsOwner(caller) {
			return ErrUnauthorized
		}

		switch field {
		case pricing.FieldBuyLimit:
			previous, c.Pricing.BuyLimit = c.Pricing.BuyLimit, value
		case pricing.FieldBuyLimitPrice:
			previous, c.Pricing.BuyLimitPrice = c.Pricing.BuyLimitPrice, value
		default:
			return fmt.Errorf("%w: unknown pricing field %q", ErrInvalidInput, field)
		}
		c.Touch(l.now())
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return l.reject(ctx, op, contractID, caller, err)
	}

	l.logger.Info("pricing changed",
		"contract_id", contractID,
		"field", field,
		"from", previous,
		"to", value,
	)
	l.plugins.EmitPricingChanged(ctx, contractID, field, previous, value)
	return nil
}

// SetUserLimit overrides user's allowance without payment.
func (l *AccessLedger) SetUserLimit(ctx context.Context, contractID id.ContractID, caller, user account.Address, value types.Amount) error {
	return l.setUserLimits(ctx, OpSetUserLimit, contractID, caller, []allowance.Grant{{User: user, Value: value}})
}

// BatchSetUserLimit applies users[i] := values[i] in order, all or nothing.
// A user listed twice ends with the later value.
func (l *AccessLedger) BatchSetUserLimit(ctx context.Context, contractID id.ContractID, caller account.Address, users []account.Address, values []types.Amount) error {
	if len(users) != len(values) {
		// Strangers get ErrUnauthorized whatever the input shape.
		if err := l.AuthorizeOwner(ctx, OpBatchSetUserLimit, contractID, caller); err != nil {
			return err
		}
		err := fmt.Errorf("%w: %d users, %d values", ErrLengthMismatch, len(users), len(values))
		return l.reject(ctx, OpBatchSetUserLimit, contractID, caller, err)
	}

	grants := make([]allowance.Grant, len(users))
	for i := range users {
		grants[i] = allowance.Grant{User: users[i], Value: values[i]}
	}
	return l.setUserLimits(ctx, OpBatchSetUserLimit, contractID, caller, grants)
}

func (l *AccessLedger) setUserLimits(ctx context.Context, op string, contractID id.ContractID, caller account.Address, grants []allowance.Grant) error {
	defer l.lock(contractID)()

	err := l.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
		c, err := tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if !c.IsOwner(caller) {
			return ErrUnauthorized
		}

		now := l.now()
		for _, g := range grants {
			if err := tx.SetChatLimit(ctx, contractID, g.User, g.Value, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return l.reject(ctx, op, contractID, caller, err)
	}

	l.logger.Info("user limits set",
		"contract_id", contractID,
		"count", len(grants),
	)
	l.plugins.EmitUserLimitsSet(ctx, contractID, grants)
	return nil
}

// ──────────────────────────────────────────────────
// Readers
// ──────────────────────────────────────────────────

// Contract returns a snapshot of an instance.
func (l *AccessLedger) Contract(ctx context.Context, contractID id.ContractID) (*contract.Contract, error) {
	return l.store.GetContract(ctx, contractID)
}

// ContractByAgent returns the instance deployed for agent.
func (l *AccessLedger) ContractByAgent(ctx context.Context, agent account.Address) (*contract.Contract, error) {
	return l.store.GetContractByAgent(ctx, agent)
}

// ListContracts lists instances in deployment order.
func (l *AccessLedger) ListContracts(ctx context.Context, opts contract.ListOpts) ([]*contract.Contract, error) {
	return l.store.ListContracts(ctx, opts)
}

func (l *AccessLedger) Owner(ctx context.Context, contractID id.ContractID) (account.Address, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return account.Zero, err
	}
	return c.Ownership.Owner, nil
}

func (l *AccessLedger) Agent(ctx context.Context, contractID id.ContractID) (account.Address, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return account.Zero, err
	}
	return c.Agent, nil
}

// PendingOwner returns the proposed successor, unset when none.
func (l *AccessLedger) PendingOwner(ctx context.Context, contractID id.ContractID) (account.Optional, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return account.None(), err
	}
	return c.Ownership.Pending, nil
}

// PendingOwnerSetAt returns when the pending transfer was initiated, zero
// when none is pending.
func (l *AccessLedger) PendingOwnerSetAt(ctx context.Context, contractID id.ContractID) (time.Time, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return time.Time{}, err
	}
	return c.Ownership.PendingSince, nil
}

func (l *AccessLedger) BuyLimit(ctx context.Context, contractID id.ContractID) (types.Amount, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return types.ZeroAmount(), err
	}
	return c.Pricing.BuyLimit, nil
}

func (l *AccessLedger) BuyLimitPrice(ctx context.Context, contractID id.ContractID) (types.Amount, error) {
	c, err := l.store.GetContract(ctx, contractID)
	if err != nil {
		return types.ZeroAmount(), err
	}
	return c.Pricing.BuyLimitPrice, nil
}

// UserChatLimit returns user's remaining allowance, zero for unknown users.
func (l *AccessLedger) UserChatLimit(ctx context.Context, contractID id.ContractID, user account.Address) (types.Amount, error) {
	if _, err := l.store.GetContract(ctx, contractID); err != nil {
		return types.ZeroAmount(), err
	}
	return l.store.GetChatLimit(ctx, contractID, user)
}

// CheckAllowance reports whether user may send chat messages right now.
func (l *AccessLedger) CheckAllowance(ctx context.Context, contractID id.ContractID, user account.Address) (*allowance.Result, error) {
	limit, err := l.UserChatLimit(ctx, contractID, user)
	if err != nil {
		return nil, err
	}
	return allowance.Check(user, limit), nil
}

// ListChatLimits lists allowance rows ordered by user address.
func (l *AccessLedger) ListChatLimits(ctx context.Context, contractID id.ContractID, opts allowance.ListOpts) ([]*allowance.Entry, error) {
	return l.store.ListChatLimits(ctx, contractID, opts)
}

// Purchase returns one receipt.
func (l *AccessLedger) Purchase(ctx context.Context, purchaseID id.PurchaseID) (*purchase.Receipt, error) {
	return l.store.GetPurchase(ctx, purchaseID)
}

// ListPurchases lists receipts oldest first.
func (l *AccessLedger) ListPurchases(ctx context.Context, contractID id.ContractID, opts purchase.ListOpts) ([]*purchase.Receipt, error) {
	return l.store.ListPurchases(ctx, contractID, opts)
}

// Transfer returns one ownership transfer record.
func (l *AccessLedger) Transfer(ctx context.Context, transferID id.TransferID) (*ownership.Transfer, error) {
	return l.store.GetTransfer(ctx, transferID)
}

// ListTransfers lists ownership transfer records oldest first.
func (l *AccessLedger) ListTransfers(ctx context.Context, contractID id.ContractID, opts ownership.ListOpts) ([]*ownership.Transfer, error) {
	return l.store.ListTransfers(ctx, contractID, opts)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (l *AccessLedger) lock(contractID id.ContractID) (unlock func()) {
	v, _ := l.locks.LoadOrStore(contractID.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex) //nolint:forcetypeassert // only *sync.Mutex is stored
	mu.Lock()
	return mu.Unlock
}

// AuthorizeOwner fails with ErrUnauthorized unless caller owns the
// contract. A failure is reported to plugins as a rejection of op. Transports
// call it before validating input that only the owner may submit.
func (l *AccessLedger) AuthorizeOwner(ctx context.Context, op string, contractID id.ContractID, caller account.Address) error {
	c, err := l.store.GetContract(ctx, contractID)
	if err == nil && !c.IsOwner(caller) {
		err = ErrUnauthorized
	}
	if err != nil {
		return l.reject(ctx, op, contractID, caller, err)
	}
	return nil
}

// reject reports a failed operation to plugins and returns err unchanged.
func (l *AccessLedger) reject(ctx context.Context, op string, contractID id.ContractID, caller account.Address, err error) error {
	l.logger.Debug("operation rejected",
		"op", op,
		"contract_id", contractID,
		"caller", caller,
		"error", err,
	)
	l.plugins.EmitOperationRejected(ctx, op, contractID, caller, err)
	return err
}
