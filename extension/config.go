package extension

import "time"

// Config holds the agentchat extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.agentchat" or "agentchat" keys).
type Config struct {
	// DisableRoutes prevents building and providing the HTTP API server.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableMetrics stops the engine from recording on the app's metrics.
	DisableMetrics bool `json:"disable_metrics" mapstructure:"disable_metrics" yaml:"disable_metrics"`

	// BasePath is the URL prefix for agentchat routes (default: "/agentchat").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// PluginTimeout bounds each plugin hook call (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// TokenSecret is the HS256 key for caller bearer tokens. Required unless
	// routes are disabled or an Authenticator is supplied.
	TokenSecret string `json:"token_secret" mapstructure:"token_secret" yaml:"token_secret"`

	// TokenIssuer is the expected "iss" claim (default: "agentchat").
	TokenIssuer string `json:"token_issuer" mapstructure:"token_issuer" yaml:"token_issuer"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:      "/agentchat",
		PluginTimeout: 5 * time.Second,
		TokenIssuer:   "agentchat",
	}
}
