package reconciler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/alvesdmateus/repo-provisioner/internal/observability"
	"github.com/alvesdmateus/repo-provisioner/internal/policy"
	"github.com/alvesdmateus/repo-provisioner/internal/registry"
)

// Reconciler drives one repository from Unknown to Reconciled or Failed
type Reconciler struct {
	client   registry.Client
	cfg      Config
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder Recorder
}

// New creates a reconciler for the given registry client
func New(client registry.Client, cfg Config) *Reconciler {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	return &Reconciler{
		client: client,
		cfg:    cfg,
		tracer: observability.NoopTracer(),
	}
}

// WithMetrics records reconciliation outcomes and skipped operations
func (r *Reconciler) WithMetrics(m *observability.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// WithTracer wraps each reconciliation in a span
func (r *Reconciler) WithTracer(t *observability.Tracer) *Reconciler {
	if t != nil {
		r.tracer = t
	}
	return r
}

// WithRecorder persists every result
func (r *Reconciler) WithRecorder(rec Recorder) *Reconciler {
	r.recorder = rec
	return r
}

// documents are the validated desired documents of a run
type documents struct {
	access       policy.AccessPolicy
	accessDoc    []byte
	lifecycle    policy.LifecyclePolicy
	lifecycleDoc []byte
	scanOnPush   bool
}

// Reconcile brings the repository to the desired state:
// 1. Validate and render the desired documents (no remote call on failure)
// 2. Probe existence
// 3. Create when absent, treating a create race as present
// 4. Apply access policy, lifecycle policy and scan-on-push concurrently
// 5. Aggregate every failure into the result
func (r *Reconciler) Reconcile(ctx context.Context, desired Desired) (res Result) {
	res = Result{
		RunID:      uuid.New(),
		Repository: desired.Name,
		State:      StateUnknown,
		StartedAt:  time.Now(),
	}

	ctx, span := r.tracer.StartRun(ctx, res.RunID.String())
	defer span.End()
	r.tracer.SetAttributes(ctx, observability.AttrRepositoryName.String(desired.Name))

	defer r.finish(ctx, &res)

	log.Info().
		Str("runID", res.RunID.String()).
		Str("repository", desired.Name).
		Bool("applyLifecycle", r.cfg.ApplyLifecycle).
		Bool("alwaysApplyAccessPolicy", r.cfg.AlwaysApplyAccessPolicy).
		Bool("manageScanOnPush", r.cfg.ManageScanOnPush).
		Msg("Starting repository reconciliation")

	// Step 1: validate before touching the registry
	docs, err := buildDocuments(desired)
	if err != nil {
		res.fail(err)
		return res
	}

	// Step 2: probe
	var exists bool
	probe := r.call(ctx, registry.OpProbe, func(ctx context.Context) error {
		var err error
		exists, err = r.client.Exists(ctx, desired.Name)
		return err
	})
	res.Operations = append(res.Operations, probe)
	if probe.Err != nil {
		err := probe.Err
		var indeterminate registry.ErrProbeIndeterminate
		if !errors.As(err, &indeterminate) {
			err = registry.ErrProbeIndeterminate{Repository: desired.Name, Err: err}
		}
		res.fail(err)
		return res
	}

	// Step 3: create when absent
	if exists {
		res.State = StatePresent
	} else {
		res.State = StateAbsent
		create := r.call(ctx, registry.OpCreate, func(ctx context.Context) error {
			return r.client.Create(ctx, desired.Name, policy.ScanConfiguration{ScanOnPush: docs.scanOnPush})
		})

		var already registry.ErrAlreadyExists
		switch {
		case create.Err == nil:
			res.Created = true
			log.Info().Str("repository", desired.Name).Msg("Repository created")
		case errors.As(create.Err, &already):
			log.Info().
				Str("repository", desired.Name).
				Msg("Repository was created concurrently, reconciling existing repository")
			create.Status = StatusAlreadyExists
			create.Err = nil
		default:
			res.Operations = append(res.Operations, create)
			res.fail(create.Err)
			return res
		}
		res.Operations = append(res.Operations, create)
		res.State = StatePresent
	}

	// Step 4: apply
	reports := r.apply(ctx, desired.Name, docs, res.Created)
	for _, report := range reports {
		res.Operations = append(res.Operations, report)
		// read failures only cost the comparison
		if report.Err != nil && isWrite(report.Operation) {
			res.Errors = append(res.Errors, report.Err)
		}
	}

	// Step 5: outcome
	switch {
	case len(res.Errors) > 0:
		res.State = StateFailed
		res.Outcome = OutcomeFailed
	case res.Created:
		res.State = StateReconciled
		res.Outcome = OutcomeCreated
	case len(res.Applied()) > 0:
		res.State = StateReconciled
		res.Outcome = OutcomeUpdated
	default:
		res.State = StateReconciled
		res.Outcome = OutcomeUnchanged
	}

	return res
}

func buildDocuments(desired Desired) (documents, error) {
	var docs documents

	if desired.Name == "" {
		return docs, ErrMissingRepositoryName
	}

	lifecycle, err := policy.BuildLifecyclePolicy(desired.RuleSpecs)
	if err != nil {
		return docs, err
	}
	lifecycleDoc, err := lifecycle.Render()
	if err != nil {
		return docs, fmt.Errorf("failed to render lifecycle policy: %w", err)
	}

	access, err := policy.BuildAccessPolicy(desired.AccessOverride, desired.AccessDefaults)
	if err != nil {
		return docs, err
	}
	accessDoc, err := access.Render()
	if err != nil {
		return docs, fmt.Errorf("failed to render access policy: %w", err)
	}

	docs.access = access
	docs.accessDoc = accessDoc
	docs.lifecycle = lifecycle
	docs.lifecycleDoc = lifecycleDoc
	docs.scanOnPush = desired.ScanOnPush
	return docs, nil
}

// task is one independent apply operation. matches is nil when the current
// state cannot be compared.
type task struct {
	op      string
	read    string
	matches func(ctx context.Context) (bool, error)
	apply   func(ctx context.Context) error
}

// apply runs the managed operations concurrently and returns their reports
// in stable order (access, lifecycle, scan-on-push)
func (r *Reconciler) apply(ctx context.Context, name string, docs documents, created bool) []OperationReport {
	reader, canRead := r.stateReader(created)

	var tasks []task
	var unsupported []OperationReport

	if created || r.cfg.AlwaysApplyAccessPolicy {
		t := task{
			op: registry.OpSetAccessPolicy,
			apply: func(ctx context.Context) error {
				return r.client.SetAccessPolicy(ctx, name, docs.access)
			},
		}
		if canRead {
			t.read = registry.OpGetAccessPolicy
			t.matches = func(ctx context.Context) (bool, error) {
				current, err := reader.GetAccessPolicy(ctx, name)
				if err != nil {
					return false, err
				}
				return documentMatches(name, registry.OpSetAccessPolicy, current, docs.accessDoc, accessComparison), nil
			}
		}
		tasks = append(tasks, t)
	}

	if r.cfg.ApplyLifecycle {
		t := task{
			op: registry.OpSetLifecyclePolicy,
			apply: func(ctx context.Context) error {
				return r.client.SetLifecyclePolicy(ctx, name, docs.lifecycle)
			},
		}
		if canRead {
			t.read = registry.OpGetLifecyclePolicy
			t.matches = func(ctx context.Context) (bool, error) {
				current, err := reader.GetLifecyclePolicy(ctx, name)
				if err != nil {
					return false, err
				}
				if docs.lifecycle.IsEmpty() && (len(bytes.TrimSpace(current)) == 0 || policy.Equivalent(current, docs.lifecycleDoc)) {
					return true, nil
				}
				return documentMatches(name, registry.OpSetLifecyclePolicy, current, docs.lifecycleDoc, lifecycleComparison), nil
			}
		}
		tasks = append(tasks, t)
	}

	// A repository created by this run already carries the desired setting
	if r.cfg.ManageScanOnPush && !created {
		scanner, ok := r.scanConfigurer()
		if !ok {
			unsupported = append(unsupported, OperationReport{
				Operation: registry.OpSetScanOnPush,
				Status:    StatusNotIssued,
				Err: registry.ErrCapabilityUnsupported{
					Capability: registry.CapabilityScanOnPush,
					Reason:     "scan-on-push can only be set when the repository is created",
				},
			})
		} else {
			t := task{
				op: registry.OpSetScanOnPush,
				apply: func(ctx context.Context) error {
					return scanner.SetScanOnPush(ctx, name, docs.scanOnPush)
				},
			}
			if canRead {
				t.read = registry.OpGetScanOnPush
				t.matches = func(ctx context.Context) (bool, error) {
					current, err := reader.GetScanOnPush(ctx, name)
					if err != nil {
						return false, err
					}
					return current == docs.scanOnPush, nil
				}
			}
			tasks = append(tasks, t)
		}
	}

	results := make([][]OperationReport, len(tasks))

	// Every task runs to completion; failures are reported, not propagated
	var g errgroup.Group
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			results[i] = r.runTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var reports []OperationReport
	for _, rs := range results {
		reports = append(reports, rs...)
	}
	return append(reports, unsupported...)
}

func (r *Reconciler) runTask(ctx context.Context, t task) []OperationReport {
	var reports []OperationReport

	if t.matches != nil {
		var matches bool
		read := r.call(ctx, t.read, func(ctx context.Context) error {
			var err error
			matches, err = t.matches(ctx)
			return err
		})

		switch {
		case read.Err != nil && read.Status == StatusNotIssued:
			// cancelled before the read; the write must not be issued either
			return []OperationReport{{Operation: t.op, Status: StatusNotIssued, Err: read.Err}}
		case read.Err != nil:
			log.Warn().
				Err(read.Err).
				Str("operation", t.read).
				Msg("Failed to read current state, applying desired state")
			reports = append(reports, read)
		case matches:
			log.Debug().Str("operation", t.op).Msg("Current state matches, skipping")
			if r.metrics != nil {
				r.metrics.RecordSkippedOperation(t.op)
			}
			return append(reports, read, OperationReport{Operation: t.op, Status: StatusSkipped})
		default:
			reports = append(reports, read)
		}
	}

	return append(reports, r.call(ctx, t.op, t.apply))
}

// call issues one remote operation under the per-operation timeout. No call
// is issued once ctx is done.
func (r *Reconciler) call(ctx context.Context, op string, fn func(ctx context.Context) error) OperationReport {
	report := OperationReport{Operation: op}

	if err := ctx.Err(); err != nil {
		report.Status = StatusNotIssued
		report.Err = fmt.Errorf("%s not issued: %w", op, err)
		return report
	}

	opCtx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()

	start := time.Now()
	err := fn(opCtx)
	report.Duration = time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s exceeded %v: %w", ErrOperationTimeout, op, r.cfg.OperationTimeout, err)
		}
		report.Status = StatusFailed
		report.Err = err
		return report
	}

	report.Status = StatusSucceeded
	return report
}

// stateReader returns the drift reader when comparison is possible. A
// repository created by this run has nothing to compare against.
func (r *Reconciler) stateReader(created bool) (registry.StateReader, bool) {
	if created || !registry.Supports(r.client, registry.CapabilityStateReader) {
		return nil, false
	}
	reader, ok := r.client.(registry.StateReader)
	return reader, ok
}

func (r *Reconciler) scanConfigurer() (registry.ScanConfigurer, bool) {
	if !registry.Supports(r.client, registry.CapabilityScanOnPush) {
		return nil, false
	}
	sc, ok := r.client.(registry.ScanConfigurer)
	return sc, ok
}

func documentMatches(name, op string, current, desired []byte, cmp comparison) bool {
	if len(bytes.TrimSpace(current)) == 0 {
		return false
	}
	if cmp.equal(current, desired) {
		return true
	}
	log.Debug().
		Str("repository", name).
		Str("operation", op).
		Str("diff", cmp.diff(current, desired)).
		Msg("Remote document differs from desired state")
	return false
}

// comparison decides when a remote document already matches the desired one
type comparison struct {
	equal func(a, b []byte) bool
	diff  func(current, desired []byte) string
}

var (
	// registries fold single-element lists and reorder action lists
	accessComparison    = comparison{equal: policy.EquivalentAccess, diff: policy.DiffAccess}
	lifecycleComparison = comparison{equal: policy.Equivalent, diff: policy.Diff}
)

// finish logs the outcome, records metrics and history, and annotates the span
func (r *Reconciler) finish(ctx context.Context, res *Result) {
	res.Duration = time.Since(res.StartedAt)

	r.tracer.SetAttributes(ctx, observability.AttrOutcome.String(string(res.Outcome)))
	if err := res.Err(); err != nil {
		r.tracer.RecordError(ctx, err)
	}

	if r.metrics != nil {
		r.metrics.RecordReconciliation(string(res.Outcome), res.Duration.Seconds())
	}

	if res.Outcome == OutcomeFailed {
		log.Error().
			Err(res.Err()).
			Str("runID", res.RunID.String()).
			Str("repository", res.Repository).
			Int("failures", len(res.Errors)).
			Dur("duration", res.Duration).
			Msg("Repository reconciliation failed")
	} else {
		log.Info().
			Str("runID", res.RunID.String()).
			Str("repository", res.Repository).
			Str("outcome", string(res.Outcome)).
			Strs("applied", res.Applied()).
			Dur("duration", res.Duration).
			Msg("Repository reconciled")
	}

	if r.recorder != nil {
		if err := r.recorder.RecordRun(context.WithoutCancel(ctx), *res); err != nil {
			log.Error().
				Err(err).
				Str("runID", res.RunID.String()).
				Msg("Failed to record reconciliation run")
			// Don't fail the run, just log the error
		}
	}
}

// fail moves the result to Failed with a single error
func (res *Result) fail(err error) {
	res.State = StateFailed
	res.Outcome = OutcomeFailed
	res.Errors = append(res.Errors, err)
}

func isWrite(op string) bool {
	switch op {
	case registry.OpCreate, registry.OpSetAccessPolicy, registry.OpSetLifecyclePolicy, registry.OpSetScanOnPush:
		return true
	default:
		return false
	}
}
