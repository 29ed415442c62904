package services

import (
	"context"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
)

// fakeRepository is an in-memory repositories.Repository for service tests.
type fakeRepository struct {
	mu sync.Mutex

	assessments map[uint]*models.Assessment
	attempts    map[uint]*models.AssessmentAttempt
	users       map[string]*models.User

	nextAttemptID uint

	// forceDuplicate makes every CreateNumbered fail with
	// ErrDuplicateAttempt, exercising the retry exhaustion path.
	forceDuplicate bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		assessments: make(map[uint]*models.Assessment),
		attempts:    make(map[uint]*models.AssessmentAttempt),
		users:       make(map[string]*models.User),
	}
}

func (f *fakeRepository) Assessment() repositories.AssessmentRepository { return &fakeAssessmentRepo{f} }
func (f *fakeRepository) Attempt() repositories.AttemptRepository       { return &fakeAttemptRepo{f} }
func (f *fakeRepository) User() repositories.UserRepository             { return &fakeUserRepo{f} }

func (f *fakeRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(f)
}

func (f *fakeRepository) Ping(ctx context.Context) error { return nil }
func (f *fakeRepository) Close() error                   { return nil }

// ===== ASSESSMENTS =====

type fakeAssessmentRepo struct{ f *fakeRepository }

func (r *fakeAssessmentRepo) Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if assessment.ID == 0 {
		assessment.ID = uint(len(r.f.assessments) + 1)
	}
	for i := range assessment.Questions {
		if assessment.Questions[i].ID == 0 {
			assessment.Questions[i].ID = assessment.ID*100 + uint(i) + 1
		}
		assessment.Questions[i].AssessmentID = assessment.ID
	}
	r.f.assessments[assessment.ID] = assessment
	return nil
}

func (r *fakeAssessmentRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	assessment, ok := r.f.assessments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return assessment, nil
}

func (r *fakeAssessmentRepo) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *fakeAssessmentRepo) Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.assessments[assessment.ID] = assessment
	return nil
}

func (r *fakeAssessmentRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.assessments, id)
	// Attempts are owned by the assessment and go with it.
	for attemptID, attempt := range r.f.attempts {
		if attempt.AssessmentID == id {
			delete(r.f.attempts, attemptID)
		}
	}
	return nil
}

func (r *fakeAssessmentRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.AssessmentFilters) ([]*models.Assessment, int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.Assessment
	for _, a := range r.f.assessments {
		if filters.Published != nil && a.Published != *filters.Published {
			continue
		}
		if filters.ModuleID != nil && a.ModuleID != *filters.ModuleID {
			continue
		}
		out = append(out, a)
	}
	return out, int64(len(out)), nil
}

func (r *fakeAssessmentRepo) SetPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	assessment, ok := r.f.assessments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	assessment.Published = published
	return nil
}

func (r *fakeAssessmentRepo) ReplaceQuestions(ctx context.Context, tx *gorm.DB, assessmentID uint, questions []models.Question) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	assessment, ok := r.f.assessments[assessmentID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range questions {
		questions[i].ID = assessmentID*100 + uint(i) + 1
		questions[i].AssessmentID = assessmentID
	}
	assessment.Questions = questions
	return nil
}

// ===== ATTEMPTS =====

type fakeAttemptRepo struct{ f *fakeRepository }

func (r *fakeAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	attempt, ok := r.f.attempts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *attempt
	return &clone, nil
}

func (r *fakeAttemptRepo) CountByLearnerAndAssessment(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	count := 0
	for _, a := range r.f.attempts {
		if a.LearnerID == learnerID && a.AssessmentID == assessmentID {
			count++
		}
	}
	return count, nil
}

func (r *fakeAttemptRepo) CreateNumbered(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.forceDuplicate {
		return repositories.ErrDuplicateAttempt
	}
	for _, existing := range r.f.attempts {
		if existing.AssessmentID == attempt.AssessmentID &&
			existing.LearnerID == attempt.LearnerID &&
			existing.AttemptNumber == attempt.AttemptNumber {
			return repositories.ErrDuplicateAttempt
		}
	}
	r.f.nextAttemptID++
	attempt.ID = r.f.nextAttemptID
	clone := *attempt
	r.f.attempts[attempt.ID] = &clone
	return nil
}

func (r *fakeAttemptRepo) CompleteIfPending(ctx context.Context, tx *gorm.DB, id uint, fields repositories.CompletionFields) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	attempt, ok := r.f.attempts[id]
	if !ok || attempt.CompletedAt != nil {
		return 0, nil
	}
	completedAt := fields.CompletedAt
	score := fields.Score
	timeSpent := fields.TimeSpent
	attempt.Score = &score
	attempt.Passed = fields.Passed
	attempt.CompletedAt = &completedAt
	attempt.TimeSpent = &timeSpent
	return 1, nil
}

func (r *fakeAttemptRepo) ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*models.AssessmentAttempt
	for _, a := range r.f.attempts {
		if a.AssessmentID != assessmentID {
			continue
		}
		if filters.LearnerID != nil && a.LearnerID != *filters.LearnerID {
			continue
		}
		if filters.Completed != nil && a.IsCompleted() != *filters.Completed {
			continue
		}
		clone := *a
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	total := int64(len(out))
	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			out = nil
		} else {
			out = out[filters.Offset:]
		}
	}
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, total, nil
}

func (r *fakeAttemptRepo) GetStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	stats := &repositories.AttemptStats{}
	var scoreSum, passed float64
	for _, a := range r.f.attempts {
		if a.AssessmentID != assessmentID {
			continue
		}
		stats.TotalAttempts++
		if a.IsCompleted() {
			stats.CompletedAttempts++
			if a.Score != nil {
				scoreSum += float64(*a.Score)
			}
			if a.Passed {
				passed++
			}
		}
	}
	if stats.CompletedAttempts > 0 {
		stats.AverageScore = scoreSum / float64(stats.CompletedAttempts)
		stats.PassRate = passed / float64(stats.CompletedAttempts) * 100
	}
	return stats, nil
}

// ===== USERS =====

type fakeUserRepo struct{ f *fakeRepository }

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	user, ok := r.f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}
