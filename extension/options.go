package extension

import (
	"time"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/api"
	"github.com/xraph/agentchat/observability"
	"github.com/xraph/agentchat/payment"
	"github.com/xraph/agentchat/plugin"
	"github.com/xraph/agentchat/store"
)

// Option configures the agentchat Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithForwarder sets where purchase payments are forwarded.
func WithForwarder(f payment.Forwarder) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, agentchat.WithForwarder(f))
	}
}

// WithLedgerOption passes an agentchat.Option through to the underlying engine.
func WithLedgerOption(opt agentchat.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers an agentchat plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, agentchat.WithPlugin(p))
	}
}

// WithMetrics registers an observability.MetricsExtension built on factory
// in place of the one Register builds on the app's metrics.
func WithMetrics(factory observability.MetricFactory) Option {
	return func(e *Extension) {
		e.metrics = true
		WithPlugin(observability.NewMetricsExtension(factory))(e)
	}
}

// WithAuthenticator sets the bearer token verifier used by the HTTP API,
// taking precedence over Config.TokenSecret.
func WithAuthenticator(a *api.Authenticator) Option {
	return func(e *Extension) { e.auth = a }
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMetrics stops the engine from recording on the app's metrics.
func WithDisableMetrics() Option {
	return func(e *Extension) { e.config.DisableMetrics = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for agentchat routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}

// WithTokenSecret sets the HS256 key for caller bearer tokens.
func WithTokenSecret(secret string) Option {
	return func(e *Extension) { e.config.TokenSecret = secret }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
