// Package extension provides the Forge extension adapter for agentchat.
//
// It implements the forge.Extension interface to integrate the access
// ledger into a Forge application with DI registration and lifecycle
// management. The engine and, unless routes are disabled, the HTTP API
// handler are provided to the container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.agentchat" or
// "agentchat" keys.
package extension

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xraph/forge"
	gometrics "github.com/xraph/go-utils/metrics"
	"github.com/xraph/vessel"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/api"
	"github.com/xraph/agentchat/observability"
	"github.com/xraph/agentchat/store"
	"github.com/xraph/agentchat/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "agentchat"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Pay-per-message chat access ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts agentchat as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *agentchat.AccessLedger
	store      store.Store
	auth       *api.Authenticator
	handler    http.Handler
	ledgerOpts []agentchat.Option
	metrics    bool
}

// New creates a new agentchat Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying AccessLedger.
// This is nil until Register is called.
func (e *Extension) Engine() *agentchat.AccessLedger { return e.engine }

// Handler returns the HTTP API mounted under Config.BasePath, or nil when
// routes are disabled or Register has not run.
func (e *Extension) Handler() http.Handler { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	if !e.config.DisableMetrics {
		e.useAppMetrics(fapp.Metrics())
	}

	e.engine = agentchat.New(e.store, e.buildLedgerOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*agentchat.AccessLedger, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	h, err := e.buildHandler()
	if err != nil {
		return err
	}
	e.handler = h
	return vessel.Provide(fapp.Container(), func() (http.Handler, error) {
		return e.handler, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("agentchat: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("agentchat: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs agentchat.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []agentchat.Option {
	opts := make([]agentchat.Option, 0, len(e.ledgerOpts)+1)

	if e.config.PluginTimeout > 0 {
		opts = append(opts, agentchat.WithPluginTimeout(e.config.PluginTimeout))
	}

	// Append any pass-through options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// useAppMetrics records engine metrics on the app's collector unless
// WithMetrics already supplied a factory.
func (e *Extension) useAppMetrics(m gometrics.MetricFactory) {
	if e.metrics || m == nil {
		return
	}
	e.metrics = true
	e.ledgerOpts = append(e.ledgerOpts,
		agentchat.WithPlugin(observability.NewMetricsExtension(observability.FromMetrics(m))))
}

// buildHandler mounts the API under BasePath.
func (e *Extension) buildHandler() (http.Handler, error) {
	auth := e.auth
	if auth == nil {
		if e.config.TokenSecret == "" {
			return nil, errors.New("agentchat: token_secret is required when routes are enabled")
		}
		auth = api.NewAuthenticator([]byte(e.config.TokenSecret), api.WithIssuer(e.config.TokenIssuer))
	}
	srv := api.New(e.engine, auth)

	r := chi.NewRouter()
	r.Route(e.config.BasePath, srv.RegisterRoutes)
	return r, nil
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("agentchat: configuration is required but not found in config files; " +
				"ensure 'extensions.agentchat' or 'agentchat' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("agentchat: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("plugin_timeout", e.config.PluginTimeout),
		forge.F("disable_metrics", e.config.DisableMetrics),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.agentchat", "agentchat"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("agentchat: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("agentchat: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = defaults.TokenIssuer
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableMetrics {
		yamlConfig.DisableMetrics = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.TokenSecret == "" {
		yamlConfig.TokenSecret = programmaticConfig.TokenSecret
	}
	if yamlConfig.TokenIssuer == "" {
		yamlConfig.TokenIssuer = programmaticConfig.TokenIssuer
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.PluginTimeout == 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
