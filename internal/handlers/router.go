package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cyberlab-edu/assessment-service/internal/config"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
	"github.com/cyberlab-edu/assessment-service/internal/services"
	"github.com/cyberlab-edu/assessment-service/internal/utils"
	"github.com/cyberlab-edu/assessment-service/internal/validator"
)

type HandlerManager struct {
	assessmentHandler *AssessmentHandler
	attemptHandler    *AttemptHandler
	authMiddleware    *JWTAuthMiddleware
	serviceManager    services.ServiceManager
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	jwtConfig config.JWTConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		assessmentHandler: NewAssessmentHandler(serviceManager.Assessment(), validator, logger),
		attemptHandler:    NewAttemptHandler(serviceManager.Attempt(), serviceManager.Export(), validator, logger),
		authMiddleware:    NewJWTAuthMiddleware(jwtConfig, userRepo),
		serviceManager:    serviceManager,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		assessments := v1.Group("/assessments")
		{
			// Create/modify assessments - instructors and admins only
			assessments.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.assessmentHandler.CreateAssessment)
			assessments.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.assessmentHandler.UpdateAssessment)
			assessments.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.assessmentHandler.DeleteAssessment)
			assessments.POST("/:id/publish", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.assessmentHandler.PublishAssessment)
			assessments.POST("/:id/unpublish", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.assessmentHandler.UnpublishAssessment)

			// View assessments - all authenticated users
			assessments.GET("", hm.assessmentHandler.ListAssessments)
			assessments.GET("/:id", hm.assessmentHandler.GetAssessment)

			// Attempt lifecycle under an assessment
			assessments.POST("/:id/attempts", hm.attemptHandler.StartAttempt)
			assessments.GET("/:id/attempts", hm.attemptHandler.ListAttempts)

			// Stats and export - instructors and admins only
			assessments.GET("/:id/attempts/stats", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.attemptHandler.GetAttemptStats)
			assessments.GET("/:id/attempts/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleInstructor, models.RoleAdmin), hm.attemptHandler.ExportAttempts)
		}

		attempts := v1.Group("/attempts")
		{
			attempts.GET("/:id", hm.attemptHandler.GetAttempt)
			attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "assessment-service",
				"error":   err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "assessment-service",
		})
	})
}
