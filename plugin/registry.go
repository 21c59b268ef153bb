package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/allowance"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/pricing"
	"github.com/xraph/agentchat/purchase"
	"github.com/xraph/agentchat/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting does not re-inspect plugins.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit              []OnInit
	onShutdown          []OnShutdown
	onContractDeployed  []OnContractDeployed
	onTransferInitiated []OnTransferInitiated
	onTransferAccepted  []OnTransferAccepted
	onTransferCanceled  []OnTransferCanceled
	onLimitPurchased    []OnLimitPurchased
	onPaymentReversed   []OnPaymentReversed
	onPricingChanged    []OnPricingChanged
	onUserLimitsSet     []OnUserLimitsSet
	onOperationRejected []OnOperationRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call hook timeout. Non-positive values keep the
// current setting.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnContractDeployed); ok {
		r.onContractDeployed = append(r.onContractDeployed, v)
	}
	if v, ok := p.(OnTransferInitiated); ok {
		r.onTransferInitiated = append(r.onTransferInitiated, v)
	}
	if v, ok := p.(OnTransferAccepted); ok {
		r.onTransferAccepted = append(r.onTransferAccepted, v)
	}
	if v, ok := p.(OnTransferCanceled); ok {
		r.onTransferCanceled = append(r.onTransferCanceled, v)
	}
	if v, ok := p.(OnLimitPurchased); ok {
		r.onLimitPurchased = append(r.onLimitPurchased, v)
	}
	if v, ok := p.(OnPaymentReversed); ok {
		r.onPaymentReversed = append(r.onPaymentReversed, v)
	}
	if v, ok := p.(OnPricingChanged); ok {
		r.onPricingChanged = append(r.onPricingChanged, v)
	}
	if v, ok := p.(OnUserLimitsSet); ok {
		r.onUserLimitsSet = append(r.onUserLimitsSet, v)
	}
	if v, ok := p.(OnOperationRejected); ok {
		r.onOperationRejected = append(r.onOperationRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnContractDeployed", reflect.TypeFor[OnContractDeployed]()},
	{"OnTransferInitiated", reflect.TypeFor[OnTransferInitiated]()},
	{"OnTransferAccepted", reflect.TypeFor[OnTransferAccepted]()},
	{"OnTransferCanceled", reflect.TypeFor[OnTransferCanceled]()},
	{"OnLimitPurchased", reflect.TypeFor[OnLimitPurchased]()},
	{"OnPaymentReversed", reflect.TypeFor[OnPaymentReversed]()},
	{"OnPricingChanged", reflect.TypeFor[OnPricingChanged]()},
	{"OnUserLimitsSet", reflect.TypeFor[OnUserLimitsSet]()},
	{"OnOperationRejected", reflect.TypeFor[OnOperationRejected]()},
}

// implementedInterfaces returns the hook interfaces implemented by p.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			interfaces = append(interfaces, h.name)
		}
	}
	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnInit", p.Name(), func(ctx context.Context) error {
			return p.OnInit(ctx, engine)
		})
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnShutdown", p.Name(), p.OnShutdown)
	}
}

// EmitContractDeployed emits a contract deployed event.
func (r *Registry) EmitContractDeployed(ctx context.Context, c *contract.Contract) {
	r.mu.RLock()
	plugins := r.onContractDeployed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnContractDeployed", p.Name(), func(ctx context.Context) error {
			return p.OnContractDeployed(ctx, c)
		})
	}
}

// EmitTransferInitiated emits a transfer initiated event.
func (r *Registry) EmitTransferInitiated(ctx context.Context, t *ownership.Transfer) {
	r.mu.RLock()
	plugins := r.onTransferInitiated
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnTransferInitiated", p.Name(), func(ctx context.Context) error {
			return p.OnTransferInitiated(ctx, t)
		})
	}
}

// EmitTransferAccepted emits a transfer accepted event.
func (r *Registry) EmitTransferAccepted(ctx context.Context, t *ownership.Transfer) {
	r.mu.RLock()
	plugins := r.onTransferAccepted
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnTransferAccepted", p.Name(), func(ctx context.Context) error {
			return p.OnTransferAccepted(ctx, t)
		})
	}
}

// EmitTransferCanceled emits a transfer canceled event.
func (r *Registry) EmitTransferCanceled(ctx context.Context, t *ownership.Transfer) {
	r.mu.RLock()
	plugins := r.onTransferCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnTransferCanceled", p.Name(), func(ctx context.Context) error {
			return p.OnTransferCanceled(ctx, t)
		})
	}
}

// EmitLimitPurchased emits a limit purchased event.
func (r *Registry) EmitLimitPurchased(ctx context.Context, rec *purchase.Receipt) {
	r.mu.RLock()
	plugins := r.onLimitPurchased
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnLimitPurchased", p.Name(), func(ctx context.Context) error {
			return p.OnLimitPurchased(ctx, rec)
		})
	}
}

// EmitPaymentReversed emits a payment reversed event.
func (r *Registry) EmitPaymentReversed(ctx context.Context, contractID id.ContractID, ref string, reverseErr error) {
	r.mu.RLock()
	plugins := r.onPaymentReversed
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnPaymentReversed", p.Name(), func(ctx context.Context) error {
			return p.OnPaymentReversed(ctx, contractID, ref, reverseErr)
		})
	}
}

// EmitPricingChanged emits a pricing changed event.
func (r *Registry) EmitPricingChanged(ctx context.Context, contractID id.ContractID, field pricing.Field, from, to types.Amount) {
	r.mu.RLock()
	plugins := r.onPricingChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnPricingChanged", p.Name(), func(ctx context.Context) error {
			return p.OnPricingChanged(ctx, contractID, field, from, to)
		})
	}
}

// EmitUserLimitsSet emits a user limits set event.
func (r *Registry) EmitUserLimitsSet(ctx context.Context, contractID id.ContractID, grants []allowance.Grant) {
	r.mu.RLock()
	plugins := r.onUserLimitsSet
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnUserLimitsSet", p.Name(), func(ctx context.Context) error {
			return p.OnUserLimitsSet(ctx, contractID, grants)
		})
	}
}

// EmitOperationRejected emits an operation rejected event.
func (r *Registry) EmitOperationRejected(ctx context.Context, op string, contractID id.ContractID, caller account.Address, opErr error) {
	r.mu.RLock()
	plugins := r.onOperationRejected
	r.mu.RUnlock()

	for _, p := range plugins {
		r.dispatch(ctx, "OnOperationRejected", p.Name(), func(ctx context.Context) error {
			return p.OnOperationRejected(ctx, op, contractID, caller, opErr)
		})
	}
}

func (r *Registry) dispatch(ctx context.Context, hook, pluginName string, fn func(context.Context) error) {
	if err := r.callWithTimeout(ctx, pluginName, fn); err != nil {
		r.logger.Warn("plugin "+hook+" failed",
			"plugin", pluginName,
			"error", err,
		)
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins never block the engine past the timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, v)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("plugin timeout: %s", pluginName)
		}
		return ctx.Err()
	}
}
