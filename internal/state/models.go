package state

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run is one reconciliation of one repository
type Run struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Repository   string    `gorm:"not null;index"`
	RegistryType string
	Region       string
	Outcome      string `gorm:"not null"`
	Created      bool
	Errors       string `gorm:"type:text"`
	DurationMs   int64
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   time.Time

	// Relationships
	Operations []OperationRecord `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// OperationRecord is one remote operation issued during a run
type OperationRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Sequence   int
	Operation  string `gorm:"not null"`
	Status     string `gorm:"not null"`
	Error      string `gorm:"type:text"`
	DurationMs int64
}

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (o *OperationRecord) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Models lists every persisted model, in migration order
func Models() []interface{} {
	return []interface{}{
		&Run{},
		&OperationRecord{},
	}
}

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
