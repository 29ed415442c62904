package services

import (
	"context"

	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type CreateAssessmentRequest = validator.AssessmentCreateRequest
type UpdateAssessmentRequest = validator.AssessmentUpdateRequest
type QuestionRequest = validator.QuestionRequest
type SubmitAttemptRequest = validator.SubmitAttemptRequest

// QuestionView is the learner-facing shape of a question. CorrectAnswer is
// only populated when the assessment's disclosure policy allows it.
type QuestionView struct {
	ID            uint     `json:"id"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correct_answer,omitempty"`
}

type AssessmentResponse struct {
	*models.Assessment
	Questions []QuestionView `json:"questions,omitempty"`
	CanEdit   bool           `json:"can_edit"`
	CanTake   bool           `json:"can_take"`
}

type AssessmentListResponse struct {
	Assessments []*AssessmentResponse `json:"assessments"`
	Total       int64                 `json:"total"`
}

type AttemptResponse struct {
	*models.AssessmentAttempt
	Questions []QuestionView `json:"questions,omitempty"`
	CanSubmit bool           `json:"can_submit"`
}

type AttemptResultResponse struct {
	*models.AssessmentAttempt
	CorrectCount   int            `json:"correct_count"`
	TotalQuestions int            `json:"total_questions"`
	Questions      []QuestionView `json:"questions,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*AttemptResponse `json:"attempts"`
	Total    int64              `json:"total"`
}

// ===== SERVICE INTERFACES =====

type AssessmentService interface {
	Create(ctx context.Context, req *CreateAssessmentRequest, creatorID string) (*AssessmentResponse, error)
	GetByID(ctx context.Context, id uint, userID string) (*AssessmentResponse, error)
	Update(ctx context.Context, id uint, req *UpdateAssessmentRequest, userID string) (*AssessmentResponse, error)
	Delete(ctx context.Context, id uint, userID string) error
	List(ctx context.Context, filters repositories.AssessmentFilters, userID string) (*AssessmentListResponse, error)
	Publish(ctx context.Context, id uint, userID string) error
	Unpublish(ctx context.Context, id uint, userID string) error
}

type AttemptService interface {
	// Core attempt operations
	Start(ctx context.Context, assessmentID uint, learnerID string) (*AttemptResponse, error)
	Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, learnerID string) (*AttemptResultResponse, error)

	// Get and list operations
	GetByID(ctx context.Context, id uint, userID string) (*AttemptResultResponse, error)
	ListByAssessment(ctx context.Context, assessmentID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error)

	// Statistics
	GetStats(ctx context.Context, assessmentID uint, userID string) (*repositories.AttemptStats, error)
}

type ExportService interface {
	// ExportAttempts renders the completed attempts of an assessment as an
	// XLSX workbook.
	ExportAttempts(ctx context.Context, assessmentID uint, userID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	Assessment() AssessmentService
	Attempt() AttemptService
	Export() ExportService

	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
