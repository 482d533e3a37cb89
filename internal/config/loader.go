// Package config provides configuration loading for avrorpcd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for avrorpc.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself, which Viper's built-in SetConfigName
// would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("avrorpc")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AVRORPC_SERVER_ADDR
	viper.SetEnvPrefix("AVRORPC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an avrorpc config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper
// from matching the binary "avrorpcd" (no extension) in the current
// directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".avrorpc"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "avrorpc"))
		}
	} else {
		paths = append(paths, "/etc/avrorpc")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for avrorpc.yaml
// or .yml. Returns the full path of the first match, or "" if none
// found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "avrorpc"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys an env var may override
// directly, without requiring a matching config file key to exist
// first.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.path_prefix")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("auth.cel_expression")
	_ = viper.BindEnv("metrics.enabled")
	_ = viper.BindEnv("metrics.addr")
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("dev_mode")
	// Note: scopes and auth.token_hashes are arrays, complex to override
	// via env. Users should use the config file for these.
}

// LoadConfig reads the configuration file, applies environment
// overrides, sets defaults, applies dev defaults, and validates,
// returning the ready-to-use Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but
// does NOT apply dev defaults or validate. Use this when CLI flags may
// override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or "" if none was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
