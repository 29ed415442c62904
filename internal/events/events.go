package events

import (
	"time"
)

// Event types emitted by this service.
const (
	EventAttemptCompleted    = "attempt.completed"
	EventAssessmentPublished = "assessment.published"
)

// Event is the envelope shared by every message this service publishes.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// AttemptCompletedEvent is emitted after a submission is graded and persisted.
type AttemptCompletedEvent struct {
	AttemptID    uint   `json:"attempt_id"`
	AssessmentID uint   `json:"assessment_id"`
	LearnerID    string `json:"learner_id"`
	Score        int    `json:"score"`
	Passed       bool   `json:"passed"`
	TimeSpent    int    `json:"time_spent"`
}

// AssessmentPublishedEvent is emitted when an instructor publishes an assessment.
type AssessmentPublishedEvent struct {
	AssessmentID uint   `json:"assessment_id"`
	ModuleID     uint   `json:"module_id"`
	Title        string `json:"title"`
	PublishedBy  string `json:"published_by"`
}
