package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/events"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

type attemptService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	now       func() time.Time
}

func NewAttemptService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) AttemptService {
	if publisher == nil {
		publisher = &events.NoopEventPublisher{}
	}
	return &attemptService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
		publisher: publisher,
		now:       time.Now,
	}
}

// ===== CORE ATTEMPT OPERATIONS =====

func (s *attemptService) Start(ctx context.Context, assessmentID uint, learnerID string) (*AttemptResponse, error) {
	s.logger.Info("Starting assessment attempt",
		"assessment_id", assessmentID,
		"learner_id", learnerID)

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	// Unpublished assessments are invisible to learners.
	if !assessment.Published {
		return nil, ErrAssessmentNotFound
	}

	attempt, err := s.createNumberedAttempt(ctx, assessment, learnerID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Assessment attempt started",
		"attempt_id", attempt.ID,
		"attempt_number", attempt.AttemptNumber,
		"assessment_id", assessmentID,
		"learner_id", learnerID)

	questions := buildQuestionViews(assessment.Questions, false)
	if assessment.RandomizeQuestions {
		questions = shuffleQuestionViews(questions)
	}

	return &AttemptResponse{
		AssessmentAttempt: attempt,
		Questions:         questions,
		CanSubmit:         true,
	}, nil
}

// createNumberedAttempt assigns the next attempt number and inserts. The
// unique index on (assessment_id, learner_id, attempt_number) catches racing
// starts; the loser re-counts once so the attempt limit holds even under
// concurrent requests.
func (s *attemptService) createNumberedAttempt(ctx context.Context, assessment *models.Assessment, learnerID string) (*models.AssessmentAttempt, error) {
	for try := 0; try < 2; try++ {
		count, err := s.repo.Attempt().CountByLearnerAndAssessment(ctx, nil, learnerID, assessment.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count attempts: %w", err)
		}

		// The limit check precedes the due-date check: a learner out of
		// attempts hears that first.
		if assessment.MaxAttempts > 0 && count >= assessment.MaxAttempts {
			return nil, fmt.Errorf("%w: limit of %d reached", ErrAttemptLimitExceeded, assessment.MaxAttempts)
		}

		if assessment.IsPastDue(s.now()) {
			return nil, ErrAssessmentPastDue
		}

		attempt := &models.AssessmentAttempt{
			AssessmentID:  assessment.ID,
			LearnerID:     learnerID,
			AttemptNumber: count + 1,
			StartedAt:     s.now(),
		}

		err = s.repo.Attempt().CreateNumbered(ctx, nil, attempt)
		if err == nil {
			return attempt, nil
		}
		if !repositories.IsDuplicateError(err) {
			return nil, fmt.Errorf("failed to create attempt: %w", err)
		}

		s.logger.Warn("Attempt number collision, retrying",
			"assessment_id", assessment.ID,
			"learner_id", learnerID,
			"attempt_number", attempt.AttemptNumber)
	}

	return nil, ErrConcurrencyConflict
}

func (s *attemptService) Submit(ctx context.Context, attemptID uint, req *SubmitAttemptRequest, learnerID string) (*AttemptResultResponse, error) {
	s.logger.Info("Submitting assessment attempt",
		"attempt_id", attemptID,
		"learner_id", learnerID,
		"answers_count", len(req.Answers))

	if req.Answers == nil {
		return nil, ValidationErrors{{Field: "answers", Message: "is required", Rule: "required"}}
	}

	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if attempt.LearnerID != learnerID {
		return nil, NewPermissionError(learnerID, attemptID, "attempt", "submit", "not owned by learner")
	}

	if attempt.IsCompleted() {
		return nil, ErrAttemptAlreadySubmitted
	}

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, attempt.AssessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	result, err := gradeAnswers(assessment.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	completedAt := s.now()
	timeSpent := s.resolveTimeSpent(attempt, req.TimeSpent, completedAt)
	passed := result.Score >= assessment.PassingScore

	fields := repositories.CompletionFields{
		AssessmentID: attempt.AssessmentID,
		Answers:      req.Answers,
		Score:        result.Score,
		Passed:       passed,
		CompletedAt:  completedAt,
		TimeSpent:    timeSpent,
	}

	rows, err := s.repo.Attempt().CompleteIfPending(ctx, nil, attemptID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to complete attempt: %w", err)
	}
	if rows == 0 {
		// A concurrent submission won the conditional update.
		return nil, ErrAttemptAlreadySubmitted
	}

	attempt.Score = &result.Score
	attempt.Passed = passed
	attempt.CompletedAt = &completedAt
	attempt.TimeSpent = &timeSpent
	if answersJSON, err := json.Marshal(req.Answers); err == nil {
		attempt.Answers = answersJSON
	}

	s.publishAttemptCompleted(ctx, attempt)

	s.logger.Info("Assessment attempt submitted",
		"attempt_id", attemptID,
		"score", result.Score,
		"passed", passed)

	showAnswers := shouldShowCorrectAnswers(assessment, attempt, s.now())
	questions := buildQuestionViews(assessment.Questions, showAnswers)

	return &AttemptResultResponse{
		AssessmentAttempt: attempt,
		CorrectCount:      result.CorrectCount,
		TotalQuestions:    result.TotalQuestions,
		Questions:         questions,
	}, nil
}

// resolveTimeSpent prefers the client-reported duration and falls back to
// wall clock. Negative values clamp to zero.
func (s *attemptService) resolveTimeSpent(attempt *models.AssessmentAttempt, reported *int, completedAt time.Time) int {
	timeSpent := int(completedAt.Sub(attempt.StartedAt).Seconds())
	if reported != nil {
		timeSpent = *reported
	}
	if timeSpent < 0 {
		timeSpent = 0
	}
	return timeSpent
}

func (s *attemptService) publishAttemptCompleted(ctx context.Context, attempt *models.AssessmentAttempt) {
	event := events.AttemptCompletedEvent{
		AttemptID:    attempt.ID,
		AssessmentID: attempt.AssessmentID,
		LearnerID:    attempt.LearnerID,
		Passed:       attempt.Passed,
	}
	if attempt.Score != nil {
		event.Score = *attempt.Score
	}
	if attempt.TimeSpent != nil {
		event.TimeSpent = *attempt.TimeSpent
	}

	if err := s.publisher.Publish(ctx, events.EventAttemptCompleted, event); err != nil {
		// Publishing is best effort, the submission already committed.
		s.logger.Error("Failed to publish attempt completed event",
			"attempt_id", attempt.ID,
			"error", err)
	}
}

// ===== GET AND LIST OPERATIONS =====

func (s *attemptService) GetByID(ctx context.Context, id uint, userID string) (*AttemptResultResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	if attempt.LearnerID != userID && !role.IsElevated() {
		return nil, NewPermissionError(userID, id, "attempt", "read", "not owner or insufficient permissions")
	}

	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, attempt.AssessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	result := &AttemptResultResponse{
		AssessmentAttempt: attempt,
		TotalQuestions:    len(assessment.Questions),
	}

	if attempt.IsCompleted() {
		answers, err := decodeAnswers(attempt.Answers)
		if err != nil {
			return nil, fmt.Errorf("failed to decode stored answers: %w", err)
		}
		graded, err := gradeAnswers(assessment.Questions, answers)
		if err == nil {
			result.CorrectCount = graded.CorrectCount
		}

		// Instructors always see correct answers, learners only per policy.
		showAnswers := role.IsElevated() || shouldShowCorrectAnswers(assessment, attempt, s.now())
		result.Questions = buildQuestionViews(assessment.Questions, showAnswers)
	}

	return result, nil
}

func (s *attemptService) ListByAssessment(ctx context.Context, assessmentID uint, filters repositories.AttemptFilters, userID string) (*AttemptListResponse, error) {
	if _, err := s.repo.Assessment().GetByID(ctx, nil, assessmentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Learners only ever see their own attempts.
	if !role.IsElevated() {
		filters.LearnerID = &userID
	}

	attempts, total, err := s.repo.Attempt().ListByAssessment(ctx, nil, assessmentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	responses := make([]*AttemptResponse, len(attempts))
	for i, attempt := range attempts {
		responses[i] = &AttemptResponse{
			AssessmentAttempt: attempt,
			CanSubmit:         !attempt.IsCompleted() && attempt.LearnerID == userID,
		}
	}

	return &AttemptListResponse{Attempts: responses, Total: total}, nil
}

// ===== STATISTICS =====

func (s *attemptService) GetStats(ctx context.Context, assessmentID uint, userID string) (*repositories.AttemptStats, error) {
	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !role.IsElevated() {
		return nil, NewPermissionError(userID, assessmentID, "assessment", "view_stats", "insufficient permissions")
	}

	if _, err := s.repo.Assessment().GetByID(ctx, nil, assessmentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	stats, err := s.repo.Attempt().GetStats(ctx, nil, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt stats: %w", err)
	}

	return stats, nil
}

// ===== GRADING =====

type gradingResult struct {
	CorrectCount   int
	TotalQuestions int
	Score          int
}

// gradeAnswers matches answers to questions by question ID, so grading is
// unaffected by display order randomization. Unknown question IDs reject
// the whole submission. The score is a rounded percentage over the full
// question set; unanswered questions count as wrong.
func gradeAnswers(questions []models.Question, answers []models.AttemptAnswer) (*gradingResult, error) {
	byID := make(map[uint]*models.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	selected := make(map[uint]int, len(answers))
	for i, answer := range answers {
		question, ok := byID[answer.QuestionID]
		if !ok {
			return nil, ValidationErrors{{
				Field:   fmt.Sprintf("answers[%d].question_id", i),
				Message: "does not belong to this assessment",
				Value:   answer.QuestionID,
				Rule:    "question_id",
			}}
		}
		if answer.SelectedOption < 0 || answer.SelectedOption >= question.OptionCount() {
			return nil, ValidationErrors{{
				Field:   fmt.Sprintf("answers[%d].selected_option", i),
				Message: fmt.Sprintf("must be between 0 and %d", question.OptionCount()-1),
				Value:   answer.SelectedOption,
				Rule:    "selected_option",
			}}
		}
		// Last answer wins when a question appears twice.
		selected[answer.QuestionID] = answer.SelectedOption
	}

	correct := 0
	for id, option := range selected {
		if byID[id].CorrectAnswer == option {
			correct++
		}
	}

	total := len(questions)
	score := 0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
	}

	return &gradingResult{
		CorrectCount:   correct,
		TotalQuestions: total,
		Score:          score,
	}, nil
}

func decodeAnswers(raw []byte) ([]models.AttemptAnswer, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var answers []models.AttemptAnswer
	if err := json.Unmarshal(raw, &answers); err != nil {
		return nil, err
	}
	return answers, nil
}
