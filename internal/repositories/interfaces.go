package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AssessmentFilters struct {
	ModuleID  *uint   `json:"module_id"`
	Published *bool   `json:"published"`
	CreatedBy *string `json:"created_by"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
	SortBy    string  `json:"sort_by"`    // "created_at", "title", "due_date"
	SortOrder string  `json:"sort_order"` // "asc", "desc"
}

type AttemptFilters struct {
	LearnerID *string `json:"learner_id"`
	Completed *bool   `json:"completed"`
	Limit     int     `json:"limit"`
	Offset    int     `json:"offset"`
}

// ===== SHARED STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts     int64   `json:"total_attempts"`
	CompletedAttempts int64   `json:"completed_attempts"`
	AverageScore      float64 `json:"average_score"`
	AverageTimeSpent  float64 `json:"average_time_spent"`
	PassRate          float64 `json:"pass_rate"`
}

// CompletionFields is the set of columns written exactly once when an
// attempt transitions to completed. AssessmentID is not written, it scopes
// the stats cache invalidation.
type CompletionFields struct {
	AssessmentID uint
	Answers      []models.AttemptAnswer
	Score        int
	Passed       bool
	CompletedAt  time.Time
	TimeSpent    int
}

// ===== REPOSITORY INTERFACES =====

type AssessmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, filters AssessmentFilters) ([]*models.Assessment, int64, error)
	SetPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error
	ReplaceQuestions(ctx context.Context, tx *gorm.DB, assessmentID uint, questions []models.Question) error
}

type AttemptRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error)
	CountByLearnerAndAssessment(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int, error)

	// CreateNumbered inserts the attempt with its AttemptNumber already set.
	// The (assessment_id, learner_id, attempt_number) unique index makes two
	// racing inserts with the same number collide; the loser gets
	// ErrDuplicateAttempt and the caller re-counts.
	CreateNumbered(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error

	// CompleteIfPending atomically writes the completion fields, guarded by
	// completed_at IS NULL. Returns the number of rows affected: 1 when this
	// call won the transition, 0 when the attempt was already completed.
	CompleteIfPending(ctx context.Context, tx *gorm.DB, id uint, fields CompletionFields) (int64, error)

	ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint, filters AttemptFilters) ([]*models.AssessmentAttempt, int64, error)
	GetStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*AttemptStats, error)
}

// UserRepository is read-only: user records are owned by the identity
// service.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}
