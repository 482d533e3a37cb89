// Package config provides configuration types and loading for avrorpcd,
// the reference launcher: a YAML file plus environment overrides
// describing the listener, observability, and admission policy a proxy
// process should boot with.
//
// This is deliberately small: avrorpcd only binds pre-registered
// Servers (see internal/demo) to configured scopes and starts a
// listener — it does not assemble protocols from IDL or generate
// handlers, so there is no equivalent of the teacher's upstream/audit/
// policy schema here.
package config

// Config is the top-level avrorpcd configuration.
type Config struct {
	// Server configures the HTTP listener the proxy serves POST/CONNECT/
	// WebSocket traffic on.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Scopes lists the scope names the built-in ping demo Server is
	// bound under. At least one is required.
	Scopes []string `yaml:"scopes" mapstructure:"scopes" validate:"required,min=1,dive,required"`

	// Auth configures the admission hook consulted before a channel is
	// bound. Leaving both fields empty admits every request.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Metrics configures the Prometheus scrape endpoint.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// Tracing configures the stdout call-duration metric exporter.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode relaxes logging to debug level. It does not change how Auth
	// is validated: an empty Auth (no receiver installed) is accepted in
	// every mode.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the proxy's HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8443".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	// PathPrefix is stripped from a POST request's path before the
	// remainder is read as the scope. Defaults to "/".
	PathPrefix string `yaml:"path_prefix" mapstructure:"path_prefix"`
	// LogLevel is one of debug/info/warn/error. Defaults to "info".
	// DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// AuthConfig configures the proxy's admission hook. Setting both
// TokenHashes and CELExpression is a validation error (see
// Config.validateAuthExclusion) — exactly one hook, or neither, may be
// configured.
type AuthConfig struct {
	// TokenHashes are Argon2id PHC hashes (see argon2id.CreateHash)
	// against which a request's `authorization: Bearer <token>` header
	// is checked.
	TokenHashes []string `yaml:"token_hashes" mapstructure:"token_hashes"`
	// CELExpression, if set, is compiled once and evaluated against the
	// connecting request's lowercased header map (exposed as `headers`
	// — map[string]string); a non-true result denies the connection.
	CELExpression string `yaml:"cel_expression" mapstructure:"cel_expression"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Addr is the listen address for the metrics endpoint, served on a
	// separate listener from Server.Addr so it is never reachable
	// through the proxy's own admission hook. Defaults to ":9090".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// TracingConfig configures the OpenTelemetry stdout metric exporter.
type TracingConfig struct {
	// Enabled turns on per-scope call-duration metrics, exported to
	// stdout. Completed Trace call graphs are not rendered.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults fills optional fields left empty in the loaded config.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.PathPrefix == "" {
		c.Server.PathPrefix = "/"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// SetDevDefaults applies a permissive default scope list in development
// mode, so avrorpcd can run with only `dev_mode: true` in the config.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"ping"}
	}
}
