package validator

import (
	"time"

	"github.com/cyberlab-edu/assessment-service/internal/models"
)

// AssessmentCreateRequest represents the request structure for creating assessments
type AssessmentCreateRequest struct {
	ModuleID           uint                     `json:"module_id" validate:"required"`
	Title              string                   `json:"title" validate:"required,assessment_title"`
	TimeLimit          *int                     `json:"time_limit" validate:"omitempty,min=1,max=480"`
	PassingScore       int                      `json:"passing_score" validate:"passing_score"`
	MaxAttempts        int                      `json:"max_attempts" validate:"max_attempts"`
	DueDate            *time.Time               `json:"due_date" validate:"omitempty,future_date"`
	RandomizeQuestions bool                     `json:"randomize_questions"`
	ShowAnswers        models.ShowAnswersPolicy `json:"show_answers" validate:"required,show_answers_policy"`
	Questions          []QuestionRequest        `json:"questions" validate:"required,min=1,dive"`
}

// AssessmentUpdateRequest represents the request structure for updating assessments
type AssessmentUpdateRequest struct {
	Title              *string                   `json:"title" validate:"omitempty,assessment_title"`
	TimeLimit          *int                      `json:"time_limit" validate:"omitempty,min=1,max=480"`
	PassingScore       *int                      `json:"passing_score" validate:"omitempty,passing_score"`
	MaxAttempts        *int                      `json:"max_attempts" validate:"omitempty,max_attempts"`
	DueDate            *time.Time                `json:"due_date"`
	RandomizeQuestions *bool                     `json:"randomize_questions"`
	ShowAnswers        *models.ShowAnswersPolicy `json:"show_answers" validate:"omitempty,show_answers_policy"`
	Questions          []QuestionRequest         `json:"questions" validate:"omitempty,min=1,dive"`
}

// QuestionRequest represents a question within an assessment payload
type QuestionRequest struct {
	Prompt        string   `json:"prompt" validate:"required,min=1,max=2000"`
	Options       []string `json:"options" validate:"required,min=2,max=10"`
	CorrectAnswer int      `json:"correct_answer" validate:"min=0"`
}

// SubmitAttemptRequest represents the submission payload for an attempt
type SubmitAttemptRequest struct {
	Answers   []models.AttemptAnswer `json:"answers" validate:"required,dive"`
	TimeSpent *int                   `json:"time_spent"`
}
