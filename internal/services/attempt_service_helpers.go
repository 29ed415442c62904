package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cyberlab-edu/assessment-service/internal/models"
)

// ===== ANSWER DISCLOSURE =====

// shouldShowCorrectAnswers applies the assessment's disclosure policy to a
// learner-facing view. Correct answers are never revealed on an attempt the
// learner has not completed.
func shouldShowCorrectAnswers(assessment *models.Assessment, attempt *models.AssessmentAttempt, now time.Time) bool {
	if attempt == nil || !attempt.IsCompleted() {
		return false
	}

	switch assessment.ShowAnswers {
	case models.ShowAnswersAfterSubmission:
		return true
	case models.ShowAnswersAfterDueDate:
		// Discloses from the due date onward, inclusive.
		return assessment.DueDate != nil && !now.Before(*assessment.DueDate)
	default:
		return false
	}
}

// buildQuestionViews converts questions to their learner-facing shape.
// When includeAnswers is false the correct answer index is omitted
// entirely, it never leaves the service layer.
func buildQuestionViews(questions []models.Question, includeAnswers bool) []QuestionView {
	views := make([]QuestionView, len(questions))
	for i := range questions {
		q := &questions[i]
		views[i] = QuestionView{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: q.DecodeOptions(),
		}
		if includeAnswers {
			answer := q.CorrectAnswer
			views[i].CorrectAnswer = &answer
		}
	}
	return views
}

// shuffleQuestionViews returns a shuffled copy for display. Grading matches
// answers by question ID, so presentation order does not matter.
func shuffleQuestionViews(views []QuestionView) []QuestionView {
	shuffled := make([]QuestionView, len(views))
	copy(shuffled, views)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// ===== HELPER FUNCTIONS =====

func (s *attemptService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return user.Role, nil
}
