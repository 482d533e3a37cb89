package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8443"},
		Scopes: []string{"ping"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingScopes(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Scopes = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty scopes, got nil")
	}
	if !strings.Contains(err.Error(), "Scopes") {
		t.Errorf("error = %q, want to contain 'Scopes'", err.Error())
	}
}

func TestValidate_EmptyScopeName(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Scopes = []string{""}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for an empty scope name, got nil")
	}
}

func TestValidate_InvalidServerAddr(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.Addr = "not a host port"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for an invalid address, got nil")
	}
	if !strings.Contains(err.Error(), "host:port") {
		t.Errorf("error = %q, want to contain 'host:port'", err.Error())
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for an invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to contain 'LogLevel'", err.Error())
	}
}

func TestValidate_BothAuthModesRejected(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.TokenHashes = []string{"$argon2id$..."}
	cfg.Auth.CELExpression = `headers["x-role"] == "admin"`

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not both") {
		t.Errorf("error = %q, want to contain 'not both'", err.Error())
	}
}

func TestValidate_SingleAuthModeAllowed(t *testing.T) {
	t.Parallel()

	tokenOnly := minimalValidConfig()
	tokenOnly.Auth.TokenHashes = []string{"$argon2id$..."}
	if err := tokenOnly.Validate(); err != nil {
		t.Errorf("Validate() with token_hashes only unexpected error: %v", err)
	}

	celOnly := minimalValidConfig()
	celOnly.Auth.CELExpression = `headers["x-role"] == "admin"`
	if err := celOnly.Validate(); err != nil {
		t.Errorf("Validate() with cel_expression only unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfigAfterDevDefaults(t *testing.T) {
	t.Parallel()

	// Simulate a user running "avrorpcd serve --dev" with no config file.
	cfg := &Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config dev mode unexpected error: %v", err)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != "ping" {
		t.Errorf("Scopes = %v, want [ping] from dev defaults", cfg.Scopes)
	}
}
