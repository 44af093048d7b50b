package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultListLimit caps ListRuns when no limit is given
const DefaultListLimit = 20

// Repository provides database operations for reconciliation runs
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new state repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateRun stores a run together with its operation records
func (r *Repository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID with its operations in issue order
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run

	if err := r.db.WithContext(ctx).
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns returns the most recent runs, newest first. An empty repository
// name lists runs of every repository.
func (r *Repository) ListRuns(ctx context.Context, repository string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var runs []Run

	query := r.db.WithContext(ctx).
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Order("started_at DESC").
		Limit(limit)

	if repository != "" {
		query = query.Where("repository = ?", repository)
	}

	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// LatestRun returns the most recent run of a repository, or nil if there is none
func (r *Repository) LatestRun(ctx context.Context, repository string) (*Run, error) {
	runs, err := r.ListRuns(ctx, repository, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// DeleteRunsBefore removes runs started before the cutoff and returns how
// many were deleted
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&Run{}).Select("id").Where("started_at < ?", cutoff)

		if err := tx.Where("run_id IN (?)", old).Delete(&OperationRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete operation records: %w", err)
		}

		result := tx.Where("started_at < ?", cutoff).Delete(&Run{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete runs: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}
