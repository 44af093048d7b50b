package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/repo-provisioner/internal/reconciler"
)

// Recorder implements reconciler.Recorder on top of the run repository
type Recorder struct {
	repo         *Repository
	registryType string
	region       string
}

// NewRecorder creates a recorder that tags every run with the registry it targeted
func NewRecorder(repo *Repository, registryType, region string) *Recorder {
	return &Recorder{
		repo:         repo,
		registryType: registryType,
		region:       region,
	}
}

// RecordRun stores the result and its operations
func (r *Recorder) RecordRun(ctx context.Context, result reconciler.Result) error {
	run := &Run{
		ID:           result.RunID,
		Repository:   result.Repository,
		RegistryType: r.registryType,
		Region:       r.region,
		Outcome:      string(result.Outcome),
		Created:      result.Created,
		Errors:       joinErrors(result.Errors),
		DurationMs:   result.Duration.Milliseconds(),
		StartedAt:    result.StartedAt,
		FinishedAt:   result.StartedAt.Add(result.Duration),
	}

	for i, op := range result.Operations {
		record := OperationRecord{
			RunID:      result.RunID,
			Sequence:   i,
			Operation:  op.Operation,
			Status:     string(op.Status),
			DurationMs: op.Duration.Milliseconds(),
		}
		if op.Err != nil {
			record.Error = op.Err.Error()
		}
		run.Operations = append(run.Operations, record)
	}

	if err := r.repo.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to record run %s: %w", result.RunID, err)
	}

	log.Debug().
		Str("runID", run.ID.String()).
		Int("operations", len(run.Operations)).
		Msg("Reconciliation run recorded")

	return nil
}

func joinErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "\n")
}
