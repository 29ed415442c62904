package handlers

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/config"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/services"
	"github.com/cyberlab-edu/assessment-service/internal/utils"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

const testSecret = "handler-test-secret"

type stubAttemptService struct {
	startErr  error
	submitErr error
}

func (s *stubAttemptService) Start(ctx context.Context, assessmentID uint, learnerID string) (*services.AttemptResponse, error) {
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &services.AttemptResponse{
		AssessmentAttempt: &models.AssessmentAttempt{AssessmentID: assessmentID, LearnerID: learnerID, AttemptNumber: 1},
		CanSubmit:         true,
	}, nil
}

func (s *stubAttemptService) Submit(ctx context.Context, attemptID uint, req *services.SubmitAttemptRequest, learnerID string) (*services.AttemptResultResponse, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &services.AttemptResultResponse{
		AssessmentAttempt: &models.AssessmentAttempt{LearnerID: learnerID},
	}, nil
}

func (s *stubAttemptService) GetByID(ctx context.Context, id uint, userID string) (*services.AttemptResultResponse, error) {
	return nil, services.ErrAttemptNotFound
}

func (s *stubAttemptService) ListByAssessment(ctx context.Context, assessmentID uint, filters repositories.AttemptFilters, userID string) (*services.AttemptListResponse, error) {
	return &services.AttemptListResponse{}, nil
}

func (s *stubAttemptService) GetStats(ctx context.Context, assessmentID uint, userID string) (*repositories.AttemptStats, error) {
	return &repositories.AttemptStats{}, nil
}

type stubUserRepo struct {
	users map[string]*models.User
}

func (r *stubUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func testLogger() utils.Logger {
	return utils.NewSlogLogger(slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
}

func signToken(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestRouter(attemptSvc *stubAttemptService, users map[string]*models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)

	auth := NewJWTAuthMiddleware(config.JWTConfig{Secret: testSecret}, &stubUserRepo{users: users})
	handler := NewAttemptHandler(attemptSvc, nil, validator.New(), testLogger())

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.Use(auth.AuthMiddleware())
	v1.POST("/assessments/:id/attempts", handler.StartAttempt)
	v1.POST("/attempts/:id/submit", handler.SubmitAttempt)
	v1.GET("/assessments/:id/attempts/stats",
		auth.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin),
		handler.GetAttemptStats)
	return router
}

func testUsers() map[string]*models.User {
	return map[string]*models.User{
		"learner-1": {ID: "learner-1", Role: models.RoleLearner},
		"teacher-1": {ID: "teacher-1", Role: models.RoleInstructor},
	}
}

func TestAttemptHandler_StartAttempt_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"assessment not found", services.ErrAssessmentNotFound, http.StatusNotFound},
		{"past due", services.ErrAssessmentPastDue, http.StatusGone},
		{"attempt limit", services.ErrAttemptLimitExceeded, http.StatusConflict},
		{"concurrency conflict", services.ErrConcurrencyConflict, http.StatusConflict},
		{"permission denied", services.NewPermissionError("learner-1", 1, "assessment", "read", "not allowed"), http.StatusForbidden},
		{"unexpected", gorm.ErrInvalidDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubAttemptService{startErr: tt.serviceErr}, testUsers())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleLearner))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (body %s)", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAttemptHandler_StartAttempt_Success(t *testing.T) {
	router := newTestRouter(&stubAttemptService{}, testUsers())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleLearner))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (body %s)", w.Code, w.Body.String())
	}
}

func TestAttemptHandler_SubmitAttempt_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"already submitted", services.ErrAttemptAlreadySubmitted, http.StatusConflict},
		{"attempt not found", services.ErrAttemptNotFound, http.StatusNotFound},
		{"invalid answers", validator.ValidationErrors{{Field: "answers", Message: "unknown question"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubAttemptService{submitErr: tt.serviceErr}, testUsers())

			body := bytes.NewBufferString(`{"answers":[{"question_id":101,"selected_option":1}]}`)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/5/submit", body)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleLearner))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (body %s)", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAttemptHandler_SubmitAttempt_BadPayload(t *testing.T) {
	router := newTestRouter(&stubAttemptService{}, testUsers())

	body := bytes.NewBufferString(`{"answers": "not an array"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/5/submit", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleLearner))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (body %s)", w.Code, w.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestRouter(&stubAttemptService{}, testUsers())

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "learner-1"})
		signed, err := token.SignedString([]byte("wrong-secret"))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "learner-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		signed, err := token.SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}
	})

	t.Run("unsynced user falls back to claim role", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments/1/attempts", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "new-learner", models.RoleLearner))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d (body %s)", w.Code, w.Body.String())
		}
	})
}

func TestRequireRoleMiddleware(t *testing.T) {
	router := newTestRouter(&stubAttemptService{}, testUsers())

	t.Run("learner blocked from stats", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/1/attempts/stats", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleLearner))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", w.Code)
		}
	})

	t.Run("instructor allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/1/attempts/stats", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "teacher-1", models.RoleInstructor))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d (body %s)", w.Code, w.Body.String())
		}
	})

	t.Run("db role overrides claim role", func(t *testing.T) {
		// Token claims instructor, but the synced record says learner.
		req := httptest.NewRequest(http.MethodGet, "/api/v1/assessments/1/attempts/stats", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "learner-1", models.RoleInstructor))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", w.Code)
		}
	})
}
