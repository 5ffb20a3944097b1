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

	if cfg.Server.HTTPAddr != "127.0.0.1:8090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8090")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.Server.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Errorf("MaxBodyBytes = %d, want %d", cfg.Server.MaxBodyBytes, DefaultMaxBodyBytes)
	}
	if cfg.Enforcement.Mode != ModeEnforce {
		t.Errorf("Enforcement.Mode = %q, want %q", cfg.Enforcement.Mode, ModeEnforce)
	}
	if cfg.Enforcement.Condition != DefaultCondition {
		t.Errorf("Enforcement.Condition = %q, want %q", cfg.Enforcement.Condition, DefaultCondition)
	}
	if cfg.Cache.Size != 1000 {
		t.Errorf("Cache.Size = %d, want 1000", cfg.Cache.Size)
	}
	if !cfg.Evidence.Enabled {
		t.Error("Evidence.Enabled should default to true")
	}
	if cfg.Evidence.Retention != "720h" {
		t.Errorf("Evidence.Retention = %q, want %q", cfg.Evidence.Retention, "720h")
	}
	if cfg.Evidence.PruneSchedule != "@hourly" {
		t.Errorf("Evidence.PruneSchedule = %q, want %q", cfg.Evidence.PruneSchedule, "@hourly")
	}
	if cfg.Evidence.LogDir != "" || cfg.Evidence.LogMaxFileMB != 100 {
		t.Errorf("Evidence log = %q/%d, want disabled with 100 MB files", cfg.Evidence.LogDir, cfg.Evidence.LogMaxFileMB)
	}
	if cfg.Telemetry.ServiceName != "evaguard" {
		t.Errorf("Telemetry.ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "evaguard")
	}
}

func TestConfig_SetDefaults_PreservesValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:      ServerConfig{HTTPAddr: ":9090", LogLevel: "warn"},
		Enforcement: EnforcementConfig{Mode: ModeMonitor, Condition: "highest_priority >= 95"},
		Cache:       CacheConfig{Size: 10},
		Evidence:    EvidenceConfig{Path: "/var/lib/evaguard/evidence.db", BatchSize: 5},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Errorf("LogLevel was overwritten: got %q", cfg.Server.LogLevel)
	}
	if cfg.Enforcement.Mode != ModeMonitor {
		t.Errorf("Enforcement.Mode was overwritten: got %q", cfg.Enforcement.Mode)
	}
	if cfg.Enforcement.Condition != "highest_priority >= 95" {
		t.Errorf("Enforcement.Condition was overwritten: got %q", cfg.Enforcement.Condition)
	}
	if cfg.Cache.Size != 10 {
		t.Errorf("Cache.Size was overwritten: got %d", cfg.Cache.Size)
	}
	if cfg.Evidence.Path != "/var/lib/evaguard/evidence.db" {
		t.Errorf("Evidence.Path was overwritten: got %q", cfg.Evidence.Path)
	}
	if cfg.Evidence.BatchSize != 5 {
		t.Errorf("Evidence.BatchSize was overwritten: got %d", cfg.Evidence.BatchSize)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
	if cfg.Evidence.Enabled {
		t.Error("dev mode should keep evidence in memory")
	}
	if cfg.Enforcement.Mode != ModeMonitor {
		t.Errorf("Enforcement.Mode = %q, want %q in dev mode", cfg.Enforcement.Mode, ModeMonitor)
	}
}

func TestConfig_SetDevDefaults_NoopWithoutDevMode(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if !cfg.Evidence.Enabled {
		t.Error("Evidence.Enabled should stay true outside dev mode")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "evaguard.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	if got := findConfigFileInPaths([]string{dir}); got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresBinary(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "evaguard"), []byte("\x7fELF binary"), 0755)

	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "evaguard.yaml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(filepath.Join(dir, "evaguard.yml"), []byte("server:\n  http_addr: :9090\n"), 0644)

	if got := findConfigFileInPaths([]string{dir}); got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}

func TestFindConfigFileInPaths_SearchOrder(t *testing.T) {
	t.Parallel()
	first := t.TempDir()
	second := t.TempDir()
	want := filepath.Join(second, "evaguard.yaml")
	_ = os.WriteFile(want, []byte("dev_mode: true\n"), 0644)

	if got := findConfigFileInPaths([]string{first, second}); got != want {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, want)
	}
}
