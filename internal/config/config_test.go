package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.Addr != ":8443" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8443")
	}
	if cfg.Server.PathPrefix != "/" {
		t.Errorf("Server.PathPrefix = %q, want %q", cfg.Server.PathPrefix, "/")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("Server.LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{
			Addr:       ":9090",
			PathPrefix: "/rpc/",
			LogLevel:   "debug",
		},
	}
	cfg.SetDefaults()

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr was overwritten: got %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Server.PathPrefix != "/rpc/" {
		t.Errorf("PathPrefix was overwritten: got %q, want %q", cfg.Server.PathPrefix, "/rpc/")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel was overwritten: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
}

func TestConfig_SetDefaults_MetricsAddrOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	disabled := Config{}
	disabled.SetDefaults()
	if disabled.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want empty when disabled", disabled.Metrics.Addr)
	}

	enabled := Config{Metrics: MetricsConfig{Enabled: true}}
	enabled.SetDefaults()
	if enabled.Metrics.Addr != ":9090" {
		t.Errorf("Metrics.Addr = %q, want %q", enabled.Metrics.Addr, ":9090")
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDevDefaults()
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != "ping" {
		t.Errorf("Scopes = %v, want [ping]", cfg.Scopes)
	}

	notDev := Config{}
	notDev.SetDevDefaults()
	if len(notDev.Scopes) != 0 {
		t.Errorf("Scopes = %v, want empty outside dev mode", notDev.Scopes)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "avrorpc.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "avrorpc.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "avrorpc" with no extension.
	_ = os.WriteFile(filepath.Join(dir, "avrorpc"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "avrorpc.yaml")
	ymlPath := filepath.Join(dir, "avrorpc.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
