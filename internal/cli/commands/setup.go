package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
	"github.com/alvesdmateus/repo-provisioner/internal/state"
	"github.com/alvesdmateus/repo-provisioner/pkg/config"
	"github.com/alvesdmateus/repo-provisioner/pkg/database"
)

// flagBinding maps a command flag onto a configuration key
type flagBinding struct {
	flag string
	key  string
}

// loadConfig binds the command's flags, loads configuration and configures
// logging. Flags are bound per invocation because several commands share keys.
func loadConfig(cmd *cobra.Command, bindings ...flagBinding) (*config.Config, error) {
	bindings = append(bindings,
		flagBinding{flag: "log-level", key: "log.level"},
		flagBinding{flag: "log-format", key: "log.format"},
	)
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(b.key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag --%s: %w", b.flag, err)
		}
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := setupLogging(cmd.ErrOrStderr(), cfg.Log); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setupLogging configures the global zerolog logger
func setupLogging(out io.Writer, cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		return fmt.Errorf("invalid log level: %q", cfg.Level)
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isTerminal(out)}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()

	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// accessDefaults converts the configuration table into the policy builder's
// table. Empty action lists fall back to the built-in tables.
func accessDefaults(cfg config.AccessDefaultsConfig) policy.AccessDefaults {
	d := policy.NewAccessDefaults(cfg.WriterPrincipals, cfg.ReaderPrincipals)
	if cfg.Version != "" {
		d.Version = cfg.Version
	}
	if cfg.WriterSid != "" {
		d.WriterSid = cfg.WriterSid
	}
	if cfg.ReaderSid != "" {
		d.ReaderSid = cfg.ReaderSid
	}
	if len(cfg.WriterActions) > 0 {
		d.WriterActions = append([]string(nil), cfg.WriterActions...)
	}
	if len(cfg.ReaderActions) > 0 {
		d.ReaderActions = append([]string(nil), cfg.ReaderActions...)
	}
	return d
}

// ruleSpecs reads the lifecycle file, or returns the deployment default
func ruleSpecs(cfg *config.Config) ([]policy.RuleSpec, error) {
	if cfg.Repository.LifecycleFile == "" {
		return policy.DefaultRuleSpecs(cfg.Lifecycle.DefaultUntaggedExpiryDays), nil
	}
	specs, err := policy.LoadRuleSpecsFile(cfg.Repository.LifecycleFile)
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// accessOverride reads the access policy file, if any
func accessOverride(cfg *config.Config) ([]byte, error) {
	if cfg.Repository.AccessPolicyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(cfg.Repository.AccessPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read access policy file: %w", err)
	}
	return data, nil
}

// openHistory connects to the history database and migrates it
func openHistory(cfg config.HistoryConfig) (*gorm.DB, *state.Repository, error) {
	db, err := database.New(database.Config{
		Driver: cfg.Driver,
		DSN:    cfg.DSN,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := database.HealthCheck(db); err != nil {
		_ = database.Close(db)
		return nil, nil, fmt.Errorf("history database unavailable: %w", err)
	}

	if err := database.Migrate(db, state.Models()...); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}

	return db, state.NewRepository(db), nil
}
