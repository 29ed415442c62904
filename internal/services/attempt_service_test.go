package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cyberlab-edu/assessment-service/internal/events"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestAttemptService(f *fakeRepository) (*attemptService, *events.MockEventPublisher) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewMockEventPublisher(logger)
	svc := NewAttemptService(f, nil, logger, validator.New(), publisher).(*attemptService)
	svc.now = func() time.Time { return testNow }
	return svc, publisher
}

func seedUsers(f *fakeRepository) {
	f.users["learner-1"] = &models.User{ID: "learner-1", Role: models.RoleLearner}
	f.users["learner-2"] = &models.User{ID: "learner-2", Role: models.RoleLearner}
	f.users["teacher-1"] = &models.User{ID: "teacher-1", Role: models.RoleInstructor}
}

// seedAssessment stores a published two-question assessment. Question 101
// has three options with index 1 correct, question 102 has two options with
// index 0 correct.
func seedAssessment(f *fakeRepository, mutate func(*models.Assessment)) *models.Assessment {
	assessment := &models.Assessment{
		ID:           1,
		ModuleID:     10,
		Title:        "Network Fundamentals Quiz",
		PassingScore: 50,
		MaxAttempts:  3,
		ShowAnswers:  models.ShowAnswersAfterSubmission,
		Published:    true,
		CreatedBy:    "teacher-1",
		Questions: []models.Question{
			{
				ID:            101,
				AssessmentID:  1,
				Prompt:        "Which layer does TCP operate at?",
				Options:       models.EncodeOptions([]string{"Network", "Transport", "Session"}),
				CorrectAnswer: 1,
				Order:         0,
			},
			{
				ID:            102,
				AssessmentID:  1,
				Prompt:        "Is UDP connectionless?",
				Options:       models.EncodeOptions([]string{"Yes", "No"}),
				CorrectAnswer: 0,
				Order:         1,
			},
		},
	}
	if mutate != nil {
		mutate(assessment)
	}
	f.assessments[assessment.ID] = assessment
	return assessment
}

func startAttempt(t *testing.T, svc *attemptService, learnerID string) *AttemptResponse {
	t.Helper()
	resp, err := svc.Start(context.Background(), 1, learnerID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return resp
}

// ===== START =====

func TestAttemptService_Start(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)

	resp := startAttempt(t, svc, "learner-1")

	if resp.AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", resp.AttemptNumber)
	}
	if !resp.StartedAt.Equal(testNow) {
		t.Errorf("started at = %v, want %v", resp.StartedAt, testNow)
	}
	if resp.CompletedAt != nil {
		t.Error("new attempt should not be completed")
	}
	if len(resp.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(resp.Questions))
	}
	for _, q := range resp.Questions {
		if q.CorrectAnswer != nil {
			t.Errorf("question %d leaked its correct answer at start", q.ID)
		}
		if len(q.Options) == 0 {
			t.Errorf("question %d has no options", q.ID)
		}
	}

	second := startAttempt(t, svc, "learner-1")
	if second.AttemptNumber != 2 {
		t.Errorf("second attempt number = %d, want 2", second.AttemptNumber)
	}
}

func TestAttemptService_Start_AttemptLimit(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, func(a *models.Assessment) { a.MaxAttempts = 2 })
	svc, _ := newTestAttemptService(f)

	startAttempt(t, svc, "learner-1")
	startAttempt(t, svc, "learner-1")

	_, err := svc.Start(context.Background(), 1, "learner-1")
	if !errors.Is(err, ErrAttemptLimitExceeded) {
		t.Errorf("expected ErrAttemptLimitExceeded, got %v", err)
	}

	// The limit is per learner.
	other := startAttempt(t, svc, "learner-2")
	if other.AttemptNumber != 1 {
		t.Errorf("other learner attempt number = %d, want 1", other.AttemptNumber)
	}
}

func TestAttemptService_Start_UnlimitedAttempts(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, func(a *models.Assessment) { a.MaxAttempts = 0 })
	svc, _ := newTestAttemptService(f)

	for i := 1; i <= 5; i++ {
		resp := startAttempt(t, svc, "learner-1")
		if resp.AttemptNumber != i {
			t.Errorf("attempt number = %d, want %d", resp.AttemptNumber, i)
		}
	}
}

func TestAttemptService_Start_Rejections(t *testing.T) {
	pastDue := testNow.Add(-time.Hour)

	tests := []struct {
		name    string
		mutate  func(*models.Assessment)
		wantErr error
	}{
		{
			name:    "unpublished assessment is invisible",
			mutate:  func(a *models.Assessment) { a.Published = false },
			wantErr: ErrAssessmentNotFound,
		},
		{
			name:    "past due",
			mutate:  func(a *models.Assessment) { a.DueDate = &pastDue },
			wantErr: ErrAssessmentPastDue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRepository()
			seedUsers(f)
			seedAssessment(f, tt.mutate)
			svc, _ := newTestAttemptService(f)

			_, err := svc.Start(context.Background(), 1, "learner-1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if len(f.attempts) != 0 {
				t.Errorf("rejected start created %d attempts", len(f.attempts))
			}
		})
	}
}

func TestAttemptService_Start_MissingAssessment(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	svc, _ := newTestAttemptService(f)

	_, err := svc.Start(context.Background(), 99, "learner-1")
	if !errors.Is(err, ErrAssessmentNotFound) {
		t.Errorf("expected ErrAssessmentNotFound, got %v", err)
	}
}

func TestAttemptService_Start_ConcurrencyConflict(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	f.forceDuplicate = true
	svc, _ := newTestAttemptService(f)

	_, err := svc.Start(context.Background(), 1, "learner-1")
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Errorf("expected ErrConcurrencyConflict after retry exhaustion, got %v", err)
	}
}

func TestAttemptService_Start_ConcurrentRespectsLimit(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, func(a *models.Assessment) { a.MaxAttempts = 1 })
	svc, _ := newTestAttemptService(f)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Start(context.Background(), 1, "learner-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrAttemptLimitExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("got %d successful starts, want exactly 1", successes)
	}
	if len(f.attempts) != 1 {
		t.Errorf("stored %d attempts, want 1", len(f.attempts))
	}
}

// ===== SUBMIT =====

func TestAttemptService_Submit_Grading(t *testing.T) {
	tests := []struct {
		name        string
		answers     []models.AttemptAnswer
		wantScore   int
		wantPassed  bool
		wantCorrect int
	}{
		{
			name: "all correct",
			answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 1},
				{QuestionID: 102, SelectedOption: 0},
			},
			wantScore:   100,
			wantPassed:  true,
			wantCorrect: 2,
		},
		{
			name: "one of two correct meets passing score",
			answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 1},
				{QuestionID: 102, SelectedOption: 1},
			},
			wantScore:   50,
			wantPassed:  true,
			wantCorrect: 1,
		},
		{
			name: "all wrong",
			answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 0},
				{QuestionID: 102, SelectedOption: 1},
			},
			wantScore:   0,
			wantPassed:  false,
			wantCorrect: 0,
		},
		{
			name:        "empty answers score zero",
			answers:     []models.AttemptAnswer{},
			wantScore:   0,
			wantPassed:  false,
			wantCorrect: 0,
		},
		{
			name: "unanswered question counts as wrong",
			answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 1},
			},
			wantScore:   50,
			wantPassed:  true,
			wantCorrect: 1,
		},
		{
			name: "last answer wins for duplicate question",
			answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 0},
				{QuestionID: 101, SelectedOption: 1},
				{QuestionID: 102, SelectedOption: 0},
			},
			wantScore:   100,
			wantPassed:  true,
			wantCorrect: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeRepository()
			seedUsers(f)
			seedAssessment(f, nil)
			svc, _ := newTestAttemptService(f)

			attempt := startAttempt(t, svc, "learner-1")

			result, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: tt.answers}, "learner-1")
			if err != nil {
				t.Fatalf("Submit failed: %v", err)
			}

			if result.Score == nil || *result.Score != tt.wantScore {
				t.Errorf("score = %v, want %d", result.Score, tt.wantScore)
			}
			if result.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", result.Passed, tt.wantPassed)
			}
			if result.CorrectCount != tt.wantCorrect {
				t.Errorf("correct count = %d, want %d", result.CorrectCount, tt.wantCorrect)
			}
			if result.TotalQuestions != 2 {
				t.Errorf("total questions = %d, want 2", result.TotalQuestions)
			}
			if result.CompletedAt == nil || !result.CompletedAt.Equal(testNow) {
				t.Errorf("completed at = %v, want %v", result.CompletedAt, testNow)
			}
		})
	}
}

func TestAttemptService_Submit_InvalidInput(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)
	attempt := startAttempt(t, svc, "learner-1")

	tests := []struct {
		name string
		req  *SubmitAttemptRequest
	}{
		{name: "nil answers", req: &SubmitAttemptRequest{}},
		{
			name: "unknown question id",
			req: &SubmitAttemptRequest{Answers: []models.AttemptAnswer{
				{QuestionID: 999, SelectedOption: 0},
			}},
		},
		{
			name: "selected option out of range",
			req: &SubmitAttemptRequest{Answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: 3},
			}},
		},
		{
			name: "negative selected option",
			req: &SubmitAttemptRequest{Answers: []models.AttemptAnswer{
				{QuestionID: 101, SelectedOption: -1},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), attempt.ID, tt.req, "learner-1")
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("expected ValidationErrors, got %v", err)
			}
		})
	}

	// Rejected submissions leave the attempt open.
	stored := f.attempts[attempt.ID]
	if stored.CompletedAt != nil {
		t.Error("invalid submission completed the attempt")
	}
}

func TestAttemptService_Submit_Ownership(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)
	attempt := startAttempt(t, svc, "learner-1")

	_, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: []models.AttemptAnswer{}}, "learner-2")
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Errorf("expected PermissionError, got %v", err)
	}
}

func TestAttemptService_Submit_AtMostOnce(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)
	attempt := startAttempt(t, svc, "learner-1")

	answers := []models.AttemptAnswer{{QuestionID: 101, SelectedOption: 1}}
	if _, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: answers}, "learner-1"); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}

	_, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: answers}, "learner-1")
	if !errors.Is(err, ErrAttemptAlreadySubmitted) {
		t.Errorf("expected ErrAttemptAlreadySubmitted, got %v", err)
	}
}

func TestAttemptService_Submit_MissingAttempt(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)

	_, err := svc.Submit(context.Background(), 42, &SubmitAttemptRequest{Answers: []models.AttemptAnswer{}}, "learner-1")
	if !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestAttemptService_Submit_TimeSpent(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)

	t.Run("negative reported time clamps to zero", func(t *testing.T) {
		attempt := startAttempt(t, svc, "learner-1")
		negative := -30
		result, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{
			Answers:   []models.AttemptAnswer{},
			TimeSpent: &negative,
		}, "learner-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if result.TimeSpent == nil || *result.TimeSpent != 0 {
			t.Errorf("time spent = %v, want 0", result.TimeSpent)
		}
	})

	t.Run("derived from clock when unreported", func(t *testing.T) {
		attempt := startAttempt(t, svc, "learner-1")
		f.mu.Lock()
		f.attempts[attempt.ID].StartedAt = testNow.Add(-90 * time.Second)
		f.mu.Unlock()

		result, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{
			Answers: []models.AttemptAnswer{},
		}, "learner-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if result.TimeSpent == nil || *result.TimeSpent != 90 {
			t.Errorf("time spent = %v, want 90", result.TimeSpent)
		}
	})
}

func TestAttemptService_Submit_PublishesEvent(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, publisher := newTestAttemptService(f)
	attempt := startAttempt(t, svc, "learner-1")

	answers := []models.AttemptAnswer{
		{QuestionID: 101, SelectedOption: 1},
		{QuestionID: 102, SelectedOption: 0},
	}
	if _, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: answers}, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	published := publisher.GetPublishedEvents()
	if len(published) != 1 {
		t.Fatalf("got %d events, want 1", len(published))
	}
	event := published[0]
	if event.Type != events.EventAttemptCompleted {
		t.Errorf("event type = %s, want %s", event.Type, events.EventAttemptCompleted)
	}
	if event.ID == "" || event.Timestamp.IsZero() {
		t.Error("event envelope missing id or timestamp")
	}
	data, ok := event.Data.(events.AttemptCompletedEvent)
	if !ok {
		t.Fatalf("unexpected event payload type %T", event.Data)
	}
	if data.Score != 100 || !data.Passed || data.LearnerID != "learner-1" {
		t.Errorf("unexpected event payload: %+v", data)
	}
}

// ===== LIST AND STATS =====

func TestAttemptService_ListByAssessment(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)

	startAttempt(t, svc, "learner-1")
	startAttempt(t, svc, "learner-1")
	startAttempt(t, svc, "learner-2")

	t.Run("learner sees only own attempts", func(t *testing.T) {
		resp, err := svc.ListByAssessment(context.Background(), 1, repositories.AttemptFilters{}, "learner-1")
		if err != nil {
			t.Fatalf("ListByAssessment failed: %v", err)
		}
		if resp.Total != 2 {
			t.Errorf("total = %d, want 2", resp.Total)
		}
		for _, a := range resp.Attempts {
			if a.LearnerID != "learner-1" {
				t.Errorf("leaked attempt of %s to learner-1", a.LearnerID)
			}
		}
	})

	t.Run("instructor sees all attempts", func(t *testing.T) {
		resp, err := svc.ListByAssessment(context.Background(), 1, repositories.AttemptFilters{}, "teacher-1")
		if err != nil {
			t.Fatalf("ListByAssessment failed: %v", err)
		}
		if resp.Total != 3 {
			t.Errorf("total = %d, want 3", resp.Total)
		}
	})

	t.Run("missing assessment", func(t *testing.T) {
		_, err := svc.ListByAssessment(context.Background(), 99, repositories.AttemptFilters{}, "learner-1")
		if !errors.Is(err, ErrAssessmentNotFound) {
			t.Errorf("expected ErrAssessmentNotFound, got %v", err)
		}
	})
}

func TestAttemptService_GetStats(t *testing.T) {
	f := newFakeRepository()
	seedUsers(f)
	seedAssessment(f, nil)
	svc, _ := newTestAttemptService(f)

	attempt := startAttempt(t, svc, "learner-1")
	answers := []models.AttemptAnswer{
		{QuestionID: 101, SelectedOption: 1},
		{QuestionID: 102, SelectedOption: 0},
	}
	if _, err := svc.Submit(context.Background(), attempt.ID, &SubmitAttemptRequest{Answers: answers}, "learner-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	startAttempt(t, svc, "learner-2")

	t.Run("learner forbidden", func(t *testing.T) {
		_, err := svc.GetStats(context.Background(), 1, "learner-1")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("expected PermissionError, got %v", err)
		}
	})

	t.Run("instructor gets aggregates", func(t *testing.T) {
		stats, err := svc.GetStats(context.Background(), 1, "teacher-1")
		if err != nil {
			t.Fatalf("GetStats failed: %v", err)
		}
		if stats.TotalAttempts != 2 || stats.CompletedAttempts != 1 {
			t.Errorf("stats = %+v, want 2 total / 1 completed", stats)
		}
		if stats.AverageScore != 100 || stats.PassRate != 100 {
			t.Errorf("stats = %+v, want avg 100 / pass rate 100", stats)
		}
	})
}
