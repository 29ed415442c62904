package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ShowAnswersPolicy controls when learners may see correct answers.
type ShowAnswersPolicy string

const (
	ShowAnswersNever           ShowAnswersPolicy = "never"
	ShowAnswersAfterSubmission ShowAnswersPolicy = "after_submission"
	ShowAnswersAfterDueDate    ShowAnswersPolicy = "after_due_date"
)

type Assessment struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	ModuleID uint   `json:"module_id" gorm:"not null;index"`
	Title    string `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`

	// TimeLimit is in minutes; nil means untimed.
	TimeLimit    *int `json:"time_limit" validate:"omitempty,min=1,max=600"`
	PassingScore int  `json:"passing_score" gorm:"not null" validate:"min=0,max=100"`
	// MaxAttempts 0 means unlimited.
	MaxAttempts        int               `json:"max_attempts" gorm:"default:0" validate:"min=0,max=50"`
	DueDate            *time.Time        `json:"due_date"`
	RandomizeQuestions bool              `json:"randomize_questions" gorm:"not null;default:false"`
	ShowAnswers        ShowAnswersPolicy `json:"show_answers" gorm:"default:never;size:20" validate:"omitempty,show_answers_policy"`
	Published          bool              `json:"published" gorm:"not null;default:false;index"`

	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Questions []Question          `json:"questions" gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE"`
	Attempts  []AssessmentAttempt `json:"-" gorm:"foreignKey:AssessmentID;constraint:OnDelete:CASCADE"`
	Creator   User                `json:"-" gorm:"foreignKey:CreatedBy"`
}

type Question struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	AssessmentID uint   `json:"assessment_id" gorm:"not null;index"`
	Prompt       string `json:"prompt" gorm:"type:text;not null" validate:"required,max=2000"`

	// Options is a jsonb []string; CorrectAnswer indexes into it.
	Options       datatypes.JSON `json:"options" gorm:"type:jsonb;not null"`
	CorrectAnswer int            `json:"correct_answer" gorm:"not null" validate:"min=0"`
	Order         int            `json:"order" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Assessment) TableName() string {
	return "assessments"
}

func (Question) TableName() string {
	return "assessment_questions"
}

// IsPastDue reports whether the assessment's due date has passed at the
// given instant. Assessments without a due date never expire.
func (a *Assessment) IsPastDue(now time.Time) bool {
	return a.DueDate != nil && now.After(*a.DueDate)
}

// DecodeOptions unmarshals the jsonb option list. A malformed payload
// yields an empty slice.
func (q *Question) DecodeOptions() []string {
	var options []string
	if err := json.Unmarshal(q.Options, &options); err != nil {
		return nil
	}
	return options
}

// OptionCount returns the number of answer options.
func (q *Question) OptionCount() int {
	return len(q.DecodeOptions())
}

// EncodeOptions marshals an option list into the jsonb column format.
func EncodeOptions(options []string) datatypes.JSON {
	data, err := json.Marshal(options)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(data)
}
