package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/repo-provisioner/internal/observability"
	"github.com/alvesdmateus/repo-provisioner/internal/reconciler"
	"github.com/alvesdmateus/repo-provisioner/internal/registry"
	"github.com/alvesdmateus/repo-provisioner/pkg/config"
	"github.com/alvesdmateus/repo-provisioner/pkg/database"
)

// ErrReconcileFailed is returned when a run ends in the Failed outcome
var ErrReconcileFailed = errors.New("reconciliation failed")

// clientFactory creates the registry client; replaced in tests
var clientFactory = func(ctx context.Context, cfg registry.Config) (registry.Client, error) {
	return registry.NewClientFactory().CreateClient(ctx, cfg)
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Create or update a container image repository",
		Long: `Reconcile probes the repository, creates it when absent and applies the
access policy, lifecycle policy and scan-on-push setting.

Exit status is 0 when the repository was created, updated or already up to
date, and 1 when any operation failed.`,
		Args: cobra.NoArgs,
		RunE: runReconcile,
	}

	flags := cmd.Flags()
	flags.String("name", "", "repository name")
	flags.String("access-policy-file", "", "access policy document (default: synthesized from access_defaults)")
	flags.String("lifecycle-file", "", "lifecycle rules file (default: expire untagged images)")
	flags.String("region", "", "registry region")
	flags.String("endpoint", "", "registry endpoint override")
	flags.String("registry-type", "", "registry type (ecr, memory)")
	flags.Bool("no-lifecycle", false, "leave the remote lifecycle policy untouched")
	flags.Bool("access-policy-on-create-only", false, "apply the access policy only when the repository is created")
	flags.Bool("no-scan-on-push-management", false, "do not enforce scan-on-push on existing repositories")
	flags.Bool("scan-on-push", true, "scan images on push")
	flags.Duration("timeout", 0, "per-operation timeout (default 30s)")
	flags.Int("retries", 0, "attempts per remote operation, 1 disables retries")
	flags.Bool("history", false, "record the run in the history database")

	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd,
		flagBinding{flag: "name", key: "repository.name"},
		flagBinding{flag: "access-policy-file", key: "repository.access_policy_file"},
		flagBinding{flag: "lifecycle-file", key: "repository.lifecycle_file"},
		flagBinding{flag: "scan-on-push", key: "repository.scan_on_push"},
		flagBinding{flag: "region", key: "registry.region"},
		flagBinding{flag: "endpoint", key: "registry.endpoint"},
		flagBinding{flag: "registry-type", key: "registry.type"},
		flagBinding{flag: "timeout", key: "reconcile.operation_timeout"},
		flagBinding{flag: "retries", key: "registry.retry.max_attempts"},
		flagBinding{flag: "history", key: "history.enabled"},
	)
	if err != nil {
		return err
	}
	applyInverseFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()

	desired, err := desiredState(cfg)
	if err != nil {
		return err
	}

	log.Info().
		Str("repository", cfg.Repository.Name).
		Str("registry", cfg.Registry.Type).
		Str("region", cfg.Registry.Region).
		Int("lifecycleRules", len(desired.RuleSpecs)).
		Bool("accessOverride", len(desired.AccessOverride) > 0).
		Msg("Configuration loaded")

	// Observability
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	tracer, err := observability.NewTracer(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
		Target: observability.Target{
			Repository:   cfg.Repository.Name,
			RegistryType: cfg.Registry.Type,
			Region:       cfg.Registry.Region,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	// Registry client
	client, err := clientFactory(ctx, registry.Config{
		Type:     cfg.Registry.Type,
		Region:   cfg.Registry.Region,
		Endpoint: cfg.Registry.Endpoint,
		Retry: registry.RetryConfig{
			MaxAttempts:     cfg.Registry.Retry.MaxAttempts,
			InitialInterval: cfg.Registry.Retry.InitialInterval,
			MaxInterval:     cfg.Registry.Retry.MaxInterval,
		},
		RateLimit: registry.RateLimitConfig{
			RequestsPerSecond: cfg.Registry.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Registry.RateLimit.BurstSize,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create registry client: %w", err)
	}
	client = registry.Instrument(client, metrics, tracer)

	r := reconciler.New(client, reconciler.Config{
		ApplyLifecycle:          cfg.Reconcile.ApplyLifecycle,
		AlwaysApplyAccessPolicy: cfg.Reconcile.AlwaysApplyAccessPolicy,
		ManageScanOnPush:        cfg.Reconcile.ManageScanOnPush,
		OperationTimeout:        cfg.Reconcile.OperationTimeout,
	}).WithMetrics(metrics).WithTracer(tracer)

	// Run history
	if cfg.History.Enabled {
		db, repo, err := openHistory(cfg.History)
		if err != nil {
			// history is an audit trail; a broken database never blocks a run
			log.Error().Err(err).Msg("Run history disabled")
		} else {
			defer database.Close(db)
			r.WithRecorder(newHistoryRecorder(repo, cfg))
			pruneHistory(ctx, repo, cfg.History.Retention)
		}
	}

	res := r.Reconcile(ctx, desired)

	printResult(cmd.OutOrStdout(), res)

	if cfg.Metrics.PushgatewayURL != "" {
		if err := observability.Push(ctx, observability.PushConfig{
			URL:      cfg.Metrics.PushgatewayURL,
			Job:      cfg.Metrics.Job,
			Grouping: map[string]string{"repository": cfg.Repository.Name},
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to push metrics")
		}
	}

	if !res.Outcome.Succeeded() {
		return ErrReconcileFailed
	}
	return nil
}

// applyInverseFlags maps the --no-* style flags onto their configuration keys
func applyInverseFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetBool("no-lifecycle"); v {
		cfg.Reconcile.ApplyLifecycle = false
	}
	if v, _ := cmd.Flags().GetBool("access-policy-on-create-only"); v {
		cfg.Reconcile.AlwaysApplyAccessPolicy = false
	}
	if v, _ := cmd.Flags().GetBool("no-scan-on-push-management"); v {
		cfg.Reconcile.ManageScanOnPush = false
	}
}

// desiredState reads the policy inputs named by the configuration
func desiredState(cfg *config.Config) (reconciler.Desired, error) {
	specs, err := ruleSpecs(cfg)
	if err != nil {
		return reconciler.Desired{}, err
	}

	override, err := accessOverride(cfg)
	if err != nil {
		return reconciler.Desired{}, err
	}

	return reconciler.Desired{
		Name:           cfg.Repository.Name,
		RuleSpecs:      specs,
		AccessOverride: override,
		AccessDefaults: accessDefaults(cfg.AccessDefaults),
		ScanOnPush:     cfg.Repository.ScanOnPush,
	}, nil
}

func printResult(w io.Writer, res reconciler.Result) {
	if res.Outcome.Succeeded() {
		fmt.Fprintf(w, "Repository %s reconciled: %s\n", res.Repository, res.Outcome)
		for _, op := range res.Applied() {
			fmt.Fprintf(w, "  applied %s\n", op)
		}
		return
	}

	fmt.Fprintf(w, "Repository %s reconciliation failed with %d error(s):\n", res.Repository, len(res.Errors))
	for _, err := range res.Errors {
		fmt.Fprintf(w, "  - %v\n", err)
	}
}
