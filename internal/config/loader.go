package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const configBaseName = "evaguard"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for evaguard.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig tolerates.
		viper.SetConfigName(configBaseName)
		viper.SetConfigType("yaml")
	}

	// EVAGUARD_SERVER_HTTP_ADDR overrides server.http_addr.
	viper.SetEnvPrefix("EVAGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches ./, ~/.evaguard and the system config directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, "."+configBaseName),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, configBaseName))
		}
	} else {
		paths = append(paths, "/etc/"+configBaseName)
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first evaguard.yaml or evaguard.yml found
// in paths, or an empty string.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configBaseName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so AutomaticEnv can override them.
// List-valued keys (auth.api_keys, rules.disabled) are file-only.
func bindNestedEnvKeys() {
	for _, key := range []string{
		"server.http_addr",
		"server.log_level",
		"server.shutdown_timeout",
		"server.max_body_bytes",

		"rules.file",
		"rules.watch",

		"enforcement.mode",
		"enforcement.condition",

		"cache.size",

		"evidence.enabled",
		"evidence.path",
		"evidence.retention",
		"evidence.prune_schedule",
		"evidence.channel_size",
		"evidence.batch_size",
		"evidence.flush_interval",
		"evidence.send_timeout",
		"evidence.warning_threshold",
		"evidence.memory_capacity",
		"evidence.log_dir",
		"evidence.log_max_file_mb",

		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metric_interval",

		"dev_mode",
	} {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
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

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path of the loaded configuration file,
// or an empty string when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
