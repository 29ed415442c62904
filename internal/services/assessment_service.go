package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/events"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

type assessmentService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	now       func() time.Time
}

func NewAssessmentService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator, publisher events.EventPublisher) AssessmentService {
	if publisher == nil {
		publisher = &events.NoopEventPublisher{}
	}
	return &assessmentService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
		publisher: publisher,
		now:       time.Now,
	}
}

// ===== CORE CRUD OPERATIONS =====

func (s *assessmentService) Create(ctx context.Context, req *CreateAssessmentRequest, creatorID string) (*AssessmentResponse, error) {
	s.logger.Info("Creating assessment",
		"title", req.Title,
		"creator_id", creatorID)

	role, err := s.getUserRole(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if !role.IsElevated() {
		return nil, NewPermissionError(creatorID, 0, "assessment", "create", "insufficient permissions")
	}

	if errs := s.validator.Validate(req); errs != nil {
		return nil, errs
	}
	if errs := s.validator.ValidateQuestions(req.Questions); errs != nil {
		return nil, errs
	}

	assessment := &models.Assessment{
		ModuleID:           req.ModuleID,
		Title:              req.Title,
		TimeLimit:          req.TimeLimit,
		PassingScore:       req.PassingScore,
		MaxAttempts:        req.MaxAttempts,
		DueDate:            req.DueDate,
		RandomizeQuestions: req.RandomizeQuestions,
		ShowAnswers:        req.ShowAnswers,
		CreatedBy:          creatorID,
		Questions:          buildQuestions(req.Questions),
	}

	if err := s.repo.Assessment().Create(ctx, nil, assessment); err != nil {
		return nil, fmt.Errorf("failed to create assessment: %w", err)
	}

	s.logger.Info("Assessment created",
		"assessment_id", assessment.ID,
		"question_count", len(assessment.Questions))

	return s.buildResponse(assessment, role, creatorID, true), nil
}

func (s *assessmentService) GetByID(ctx context.Context, id uint, userID string) (*AssessmentResponse, error) {
	assessment, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}

	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Unpublished assessments are only visible to elevated roles.
	if !assessment.Published && !role.IsElevated() {
		return nil, ErrAssessmentNotFound
	}

	return s.buildResponse(assessment, role, userID, role.IsElevated()), nil
}

func (s *assessmentService) Update(ctx context.Context, id uint, req *UpdateAssessmentRequest, userID string) (*AssessmentResponse, error) {
	s.logger.Info("Updating assessment", "assessment_id", id, "user_id", userID)

	assessment, role, err := s.getOwnedAssessment(ctx, id, userID, "update")
	if err != nil {
		return nil, err
	}

	if errs := s.validator.Validate(req); errs != nil {
		return nil, errs
	}

	if req.Questions != nil {
		if errs := s.validator.ValidateQuestions(req.Questions); errs != nil {
			return nil, errs
		}

		// Swapping questions under existing attempts would corrupt grading
		// history.
		count, err := s.attemptTotal(ctx, id)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, NewBusinessRuleError("questions_locked", "cannot replace questions once attempts exist")
		}
	}

	applyAssessmentUpdate(assessment, req)

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Assessment().Update(ctx, nil, assessment); err != nil {
			return err
		}
		if req.Questions != nil {
			return txRepo.Assessment().ReplaceQuestions(ctx, nil, id, buildQuestions(req.Questions))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update assessment: %w", err)
	}

	updated, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload assessment: %w", err)
	}

	return s.buildResponse(updated, role, userID, true), nil
}

// Delete removes the assessment together with its questions and attempts.
// The attempt history goes with the definition; callers wanting a softer
// teardown should unpublish instead.
func (s *assessmentService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting assessment", "assessment_id", id, "user_id", userID)

	if _, _, err := s.getOwnedAssessment(ctx, id, userID, "delete"); err != nil {
		return err
	}

	if err := s.repo.Assessment().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}

	return nil
}

func (s *assessmentService) List(ctx context.Context, filters repositories.AssessmentFilters, userID string) (*AssessmentListResponse, error) {
	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Learners only see published assessments.
	if !role.IsElevated() {
		published := true
		filters.Published = &published
	}

	assessments, total, err := s.repo.Assessment().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}

	responses := make([]*AssessmentResponse, len(assessments))
	for i, assessment := range assessments {
		responses[i] = s.buildResponse(assessment, role, userID, false)
	}

	return &AssessmentListResponse{Assessments: responses, Total: total}, nil
}

// ===== PUBLICATION =====

func (s *assessmentService) Publish(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Publishing assessment", "assessment_id", id, "user_id", userID)

	assessment, _, err := s.getOwnedAssessment(ctx, id, userID, "publish")
	if err != nil {
		return err
	}

	full, err := s.repo.Assessment().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	if len(full.Questions) == 0 {
		return NewBusinessRuleError("publish_requires_questions", "assessment must have at least one question before publishing")
	}

	if err := s.repo.Assessment().SetPublished(ctx, nil, id, true); err != nil {
		return fmt.Errorf("failed to publish assessment: %w", err)
	}

	event := events.AssessmentPublishedEvent{
		AssessmentID: id,
		ModuleID:     assessment.ModuleID,
		Title:        assessment.Title,
		PublishedBy:  userID,
	}
	if err := s.publisher.Publish(ctx, events.EventAssessmentPublished, event); err != nil {
		s.logger.Error("Failed to publish assessment event",
			"assessment_id", id,
			"error", err)
	}

	return nil
}

func (s *assessmentService) Unpublish(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Unpublishing assessment", "assessment_id", id, "user_id", userID)

	if _, _, err := s.getOwnedAssessment(ctx, id, userID, "unpublish"); err != nil {
		return err
	}

	if err := s.repo.Assessment().SetPublished(ctx, nil, id, false); err != nil {
		return fmt.Errorf("failed to unpublish assessment: %w", err)
	}

	return nil
}

// ===== HELPER FUNCTIONS =====

func (s *assessmentService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role, nil
}

// getOwnedAssessment loads the assessment and verifies the user may manage
// it. Admins manage everything, instructors only their own.
func (s *assessmentService) getOwnedAssessment(ctx context.Context, id uint, userID, action string) (*models.Assessment, models.UserRole, error) {
	assessment, err := s.repo.Assessment().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", ErrAssessmentNotFound
		}
		return nil, "", fmt.Errorf("failed to get assessment: %w", err)
	}

	role, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	if role != models.RoleAdmin && assessment.CreatedBy != userID {
		return nil, "", NewPermissionError(userID, id, "assessment", action, "not owner or insufficient permissions")
	}
	if !role.IsElevated() {
		return nil, "", NewPermissionError(userID, id, "assessment", action, "insufficient permissions")
	}

	return assessment, role, nil
}

func (s *assessmentService) attemptTotal(ctx context.Context, assessmentID uint) (int64, error) {
	_, total, err := s.repo.Attempt().ListByAssessment(ctx, nil, assessmentID, repositories.AttemptFilters{Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return total, nil
}

func (s *assessmentService) buildResponse(assessment *models.Assessment, role models.UserRole, userID string, includeQuestions bool) *AssessmentResponse {
	response := &AssessmentResponse{
		Assessment: assessment,
		CanEdit:    role == models.RoleAdmin || (role.IsElevated() && assessment.CreatedBy == userID),
		CanTake:    assessment.Published && !assessment.IsPastDue(s.now()),
	}

	if includeQuestions && len(assessment.Questions) > 0 {
		// Correct answers only surface for elevated roles.
		response.Questions = buildQuestionViews(assessment.Questions, role.IsElevated())
	}

	return response
}

func buildQuestions(reqs []QuestionRequest) []models.Question {
	questions := make([]models.Question, len(reqs))
	for i, q := range reqs {
		questions[i] = models.Question{
			Prompt:        q.Prompt,
			Options:       models.EncodeOptions(q.Options),
			CorrectAnswer: q.CorrectAnswer,
			Order:         i,
		}
	}
	return questions
}

func applyAssessmentUpdate(assessment *models.Assessment, req *UpdateAssessmentRequest) {
	if req.Title != nil {
		assessment.Title = *req.Title
	}
	if req.TimeLimit != nil {
		assessment.TimeLimit = req.TimeLimit
	}
	if req.PassingScore != nil {
		assessment.PassingScore = *req.PassingScore
	}
	if req.MaxAttempts != nil {
		assessment.MaxAttempts = *req.MaxAttempts
	}
	if req.DueDate != nil {
		assessment.DueDate = req.DueDate
	}
	if req.RandomizeQuestions != nil {
		assessment.RandomizeQuestions = *req.RandomizeQuestions
	}
	if req.ShowAnswers != nil {
		assessment.ShowAnswers = *req.ShowAnswers
	}
}
