package models

import (
	"time"

	"gorm.io/datatypes"
)

// AttemptAnswer is one submitted answer, stored inside the attempt's
// answers jsonb column. Grading matches by QuestionID, never by position.
type AttemptAnswer struct {
	QuestionID     uint `json:"question_id"`
	SelectedOption int  `json:"selected_option"`
}

// AssessmentAttempt is one learner's run at an assessment. It has exactly
// two states: created (completed_at IS NULL) and completed. Completion is
// terminal and happens at most once per row.
type AssessmentAttempt struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	AssessmentID uint   `json:"assessment_id" gorm:"not null;index;uniqueIndex:idx_learner_assessment_attempt"`
	LearnerID    string `json:"learner_id" gorm:"not null;index;size:255;uniqueIndex:idx_learner_assessment_attempt"`

	// AttemptNumber is 1-based per (learner, assessment). The unique index
	// across (assessment_id, learner_id, attempt_number) is what enforces
	// the attempt limit under concurrent starts.
	AttemptNumber int `json:"attempt_number" gorm:"not null;uniqueIndex:idx_learner_assessment_attempt"`

	StartedAt   time.Time  `json:"started_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`

	// Answers is a jsonb []AttemptAnswer, empty until submission.
	Answers datatypes.JSON `json:"answers" gorm:"type:jsonb"`

	// Score is a rounded percentage; nil until graded.
	Score     *int `json:"score"`
	Passed    bool `json:"passed" gorm:"not null;default:false"`
	TimeSpent *int `json:"time_spent"` // seconds

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Assessment Assessment `json:"-" gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE"`
	Learner    User       `json:"-" gorm:"foreignKey:LearnerID"`
}

func (AssessmentAttempt) TableName() string {
	return "assessment_attempts"
}

// IsCompleted reports whether the attempt has reached its terminal state.
// A non-null completed_at is the sole terminal marker.
func (a *AssessmentAttempt) IsCompleted() bool {
	return a.CompletedAt != nil
}
