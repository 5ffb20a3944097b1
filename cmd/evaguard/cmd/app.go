package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	httpapi "github.com/evaguard/evaguard/internal/adapter/inbound/http"
	celeval "github.com/evaguard/evaguard/internal/adapter/outbound/cel"
	"github.com/evaguard/evaguard/internal/adapter/outbound/decisionlog"
	"github.com/evaguard/evaguard/internal/adapter/outbound/memory"
	"github.com/evaguard/evaguard/internal/adapter/outbound/rulefile"
	"github.com/evaguard/evaguard/internal/adapter/outbound/sqlite"
	"github.com/evaguard/evaguard/internal/adapter/outbound/state"
	"github.com/evaguard/evaguard/internal/config"
	"github.com/evaguard/evaguard/internal/domain/auth"
	"github.com/evaguard/evaguard/internal/domain/evidence"
	"github.com/evaguard/evaguard/internal/service"
)

const defaultStatePath = "./evaguard-state.json"

// evidenceBackend is a decision store that can also be queried and pruned.
type evidenceBackend interface {
	evidence.DecisionStore
	evidence.QueryStore
}

// app holds the components shared by serve, stdio and check.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	stateStore *state.FileStateStore
	compliance *service.ComplianceService

	backend     evidenceBackend
	decisionLog *decisionlog.Store
	pinger      httpapi.Pinger
	evidence    *service.EvidenceService
}

// loadConfig loads and validates configuration, applying the --dev flag
// before validation.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// resolveStatePath returns the state file path: --state flag, then
// EVAGUARD_STATE_PATH, then the default.
func resolveStatePath() string {
	if stateFilePath != "" {
		return stateFilePath
	}
	if p := os.Getenv("EVAGUARD_STATE_PATH"); p != "" {
		return p
	}
	return defaultStatePath
}

// newLogger writes text logs to stderr; stdout is reserved for command
// output and the stdio transport.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// mustDuration parses a duration that config validation already accepted.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// newApp wires the compliance service with persistence, enforcement and
// evidence recording. Close must be called to flush evidence.
func newApp(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.stateStore = state.NewFileStateStore(statePath, logger)
	engine, err := service.BootstrapEngine(ctx, a.stateStore, logger)
	if err != nil {
		return nil, err
	}

	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create CEL evaluator: %w", err)
	}
	condition, err := evaluator.NewCondition(cfg.Enforcement.Condition)
	if err != nil {
		return nil, fmt.Errorf("enforcement.condition: %w", err)
	}

	if cfg.Evidence.Enabled {
		store, err := sqlite.Open(cfg.Evidence.Path)
		if err != nil {
			return nil, fmt.Errorf("open evidence store: %w", err)
		}
		a.backend = store
		a.pinger = store
		logger.Info("evidence store opened", "path", store.Path())
	} else {
		a.backend = memory.NewDecisionStore(cfg.Evidence.MemoryCapacity)
		logger.Debug("evidence kept in memory", "capacity", cfg.Evidence.MemoryCapacity)
	}

	var sink evidence.DecisionStore = a.backend
	if cfg.Evidence.LogDir != "" {
		a.decisionLog, err = decisionlog.Open(decisionlog.Config{
			Dir:           cfg.Evidence.LogDir,
			MaxFileSizeMB: cfg.Evidence.LogMaxFileMB,
		}, logger)
		if err != nil {
			_ = a.backend.Close()
			return nil, fmt.Errorf("open decision log: %w", err)
		}
		sink = evidence.MultiStore{a.backend, a.decisionLog}
		logger.Info("decision log enabled", "dir", a.decisionLog.Dir())
	}

	a.evidence = service.NewEvidenceService(sink, logger,
		service.WithChannelSize(cfg.Evidence.ChannelSize),
		service.WithBatchSize(cfg.Evidence.BatchSize),
		service.WithFlushInterval(mustDuration(cfg.Evidence.FlushInterval)),
		service.WithSendTimeout(mustDuration(cfg.Evidence.SendTimeout)),
		service.WithWarningThreshold(cfg.Evidence.WarningThreshold),
	)
	a.evidence.Start(ctx)

	a.compliance, err = service.NewComplianceService(engine, logger,
		service.WithRuleStore(a.stateStore),
		service.WithCacheSize(cfg.Cache.Size),
		service.WithEnforcement(cfg.Enforcement.Mode, condition),
		service.WithEvidenceRecorder(a.evidence),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Rules.File != "" {
		if err := a.reloadRuleFile(ctx); err != nil {
			a.Close()
			return nil, err
		}
	} else if err := a.applyDisabled(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("compliance engine ready",
		"rules", len(a.compliance.Rules()),
		"mode", a.compliance.Mode(),
		"condition", condition.Expression(),
		"state", statePath,
	)
	return a, nil
}

// reloadRuleFile replaces the rule set with rules.file and re-applies
// rules.disabled. A file that fails to parse leaves the live rules untouched.
func (a *app) reloadRuleFile(ctx context.Context) error {
	rules, err := rulefile.Load(a.cfg.Rules.File)
	if err != nil {
		return fmt.Errorf("load rules file: %w", err)
	}
	if err := a.compliance.ReplaceRules(ctx, rules); err != nil {
		return fmt.Errorf("apply rules file: %w", err)
	}
	a.logger.Info("rules loaded from file", "file", a.cfg.Rules.File, "rules", len(rules))
	return a.applyDisabled(ctx)
}

// applyDisabled disables every rule listed in rules.disabled on the live
// engine. The state file keeps its own enabled flags, so dropping an id from
// rules.disabled re-enables the rule on the next start. Unknown ids are
// logged and skipped.
func (a *app) applyDisabled(ctx context.Context) error {
	unknown, err := a.compliance.SetDisabledOverrides(ctx, a.cfg.Rules.Disabled)
	if err != nil {
		return fmt.Errorf("apply rules.disabled: %w", err)
	}
	for _, id := range unknown {
		a.logger.Warn("rules.disabled references unknown rule", "rule_id", id)
	}
	return nil
}

// keyRing builds the API key ring from auth.api_keys.
func (a *app) keyRing() (*auth.KeyRing, error) {
	keys := make([]auth.APIKey, 0, len(a.cfg.Auth.APIKeys))
	for _, k := range a.cfg.Auth.APIKeys {
		keys = append(keys, auth.APIKey{Name: k.Name, Hash: k.KeyHash})
	}
	return auth.NewKeyRing(keys)
}

// Close stops the evidence service, flushing pending records, and closes
// the evidence store.
func (a *app) Close() {
	if a.evidence != nil {
		a.evidence.Stop()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("close evidence store", "error", err)
		}
	}
	if a.decisionLog != nil {
		if err := a.decisionLog.Close(); err != nil {
			a.logger.Warn("close decision log", "error", err)
		}
	}
}

// pruner returns every store subject to evidence.retention.
func (a *app) pruner() service.Pruner {
	if a.decisionLog == nil {
		return a.backend
	}
	return service.Pruners{a.backend, a.decisionLog}
}

// openRuleService opens the persisted rule set for the rules subcommands.
// It records no evidence and ignores rules.file.
func openRuleService(ctx context.Context, logger *slog.Logger) (*service.ComplianceService, error) {
	store := state.NewFileStateStore(resolveStatePath(), logger)
	engine, err := service.BootstrapEngine(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	return service.NewComplianceService(engine, logger,
		service.WithRuleStore(store),
		service.WithCacheSize(0),
	)
}

// pidFilePath returns ~/.evaguard/server.pid, or a temp-dir fallback.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".evaguard", "server.pid")
	}
	return filepath.Join(os.TempDir(), "evaguard-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
