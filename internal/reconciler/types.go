package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alvesdmateus/repo-provisioner/internal/policy"
)

// ErrMissingRepositoryName is returned when Desired.Name is empty
var ErrMissingRepositoryName = errors.New("repository name is required")

// ErrOperationTimeout is joined into the error of a remote operation that
// exceeded the per-operation timeout
var ErrOperationTimeout = errors.New("remote operation timeout exceeded")

// DefaultOperationTimeout bounds every single remote call
const DefaultOperationTimeout = 30 * time.Second

// State is a reconciliation state
type State string

const (
	StateUnknown    State = "unknown"
	StateAbsent     State = "absent"
	StatePresent    State = "present"
	StateReconciled State = "reconciled"
	StateFailed     State = "failed"
)

// Outcome is the terminal result of a reconciliation
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Succeeded reports whether the outcome maps to a successful run
func (o Outcome) Succeeded() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeUnchanged
}

// OperationStatus describes what happened to a single remote operation
type OperationStatus string

const (
	StatusSucceeded     OperationStatus = "succeeded"
	StatusFailed        OperationStatus = "failed"
	StatusSkipped       OperationStatus = "skipped"        // current state already matched
	StatusNotIssued     OperationStatus = "not_issued"     // cancelled or unsupported before the call
	StatusAlreadyExists OperationStatus = "already_exists" // create lost a race
)

// Desired is the declared configuration of one repository
type Desired struct {
	Name string

	// RuleSpecs are built into the lifecycle policy in the given order.
	// No rules means an explicit empty policy.
	RuleSpecs []policy.RuleSpec

	// AccessOverride is a raw access policy document. When blank the
	// document is synthesised from AccessDefaults.
	AccessOverride []byte
	AccessDefaults policy.AccessDefaults

	ScanOnPush bool
}

// Config holds the behavior flags of a Reconciler
type Config struct {
	// ApplyLifecycle false leaves the remote lifecycle policy untouched
	ApplyLifecycle bool

	// AlwaysApplyAccessPolicy false applies the access policy only when the
	// repository is created by this run
	AlwaysApplyAccessPolicy bool

	// ManageScanOnPush enforces Desired.ScanOnPush on existing repositories
	ManageScanOnPush bool

	OperationTimeout time.Duration
}

// DefaultConfig returns the full-reconciliation configuration
func DefaultConfig() Config {
	return Config{
		ApplyLifecycle:          true,
		AlwaysApplyAccessPolicy: true,
		ManageScanOnPush:        true,
		OperationTimeout:        DefaultOperationTimeout,
	}
}

// OperationReport records one remote operation of a run
type OperationReport struct {
	Operation string
	Status    OperationStatus
	Err       error
	Duration  time.Duration
}

// Result is the sole return value of Reconcile
type Result struct {
	RunID      uuid.UUID
	Repository string
	State      State
	Outcome    Outcome
	Created    bool
	Errors     []error
	Operations []OperationReport
	StartedAt  time.Time
	Duration   time.Duration
}

// Err joins every collected failure, or returns nil
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Applied returns the names of the write operations that reached the registry successfully
func (r Result) Applied() []string {
	var ops []string
	for _, op := range r.Operations {
		if op.Status == StatusSucceeded && isWrite(op.Operation) {
			ops = append(ops, op.Operation)
		}
	}
	return ops
}

// Recorder persists the result of a run. Failures never change the outcome.
type Recorder interface {
	RecordRun(ctx context.Context, result Result) error
}
