package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/cache"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

// statsKey is scoped so InvalidateAssessmentCache's assessment:<id>:* sweep
// catches it.
func statsKey(assessmentID uint) string {
	return fmt.Sprintf("assessment:%d:attempts", assessmentID)
}

func (r *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.AssessmentAttempt, error) {
	db := r.getDB(tx)
	var attempt models.AssessmentAttempt
	if err := db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *AttemptPostgreSQL) CountByLearnerAndAssessment(ctx context.Context, tx *gorm.DB, learnerID string, assessmentID uint) (int, error) {
	db := r.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("learner_id = ? AND assessment_id = ?", learnerID, assessmentID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(count), nil
}

// CreateNumbered inserts the attempt with its pre-assigned attempt number.
// The unique index on (assessment_id, learner_id, attempt_number) makes
// racing inserts collide; the loser gets ErrDuplicateAttempt and the caller
// re-counts before retrying.
func (r *AttemptPostgreSQL) CreateNumbered(ctx context.Context, tx *gorm.DB, attempt *models.AssessmentAttempt) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		if repositories.IsDuplicateError(err) {
			return repositories.ErrDuplicateAttempt
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	cache.SafeDelete(ctx, r.cacheManager.Stats, statsKey(attempt.AssessmentID))
	return nil
}

// CompleteIfPending records the grading result, guarded by completed_at IS
// NULL so only one submission ever wins. Returns the number of rows updated;
// zero means the attempt was already completed (or does not exist).
func (r *AttemptPostgreSQL) CompleteIfPending(ctx context.Context, tx *gorm.DB, id uint, fields repositories.CompletionFields) (int64, error) {
	db := r.getDB(tx)

	answersJSON, err := json.Marshal(fields.Answers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode answers: %w", err)
	}

	result := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(map[string]interface{}{
			"answers":      datatypes.JSON(answersJSON),
			"score":        fields.Score,
			"passed":       fields.Passed,
			"completed_at": fields.CompletedAt,
			"time_spent":   fields.TimeSpent,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to complete attempt: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		cache.SafeDelete(ctx, r.cacheManager.Stats, statsKey(fields.AssessmentID))
	}
	return result.RowsAffected, nil
}

func (r *AttemptPostgreSQL) ListByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint, filters repositories.AttemptFilters) ([]*models.AssessmentAttempt, int64, error) {
	db := r.getDB(tx)
	var attempts []*models.AssessmentAttempt
	var total int64

	query := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ?", assessmentID)
	if filters.LearnerID != nil {
		query = query.Where("learner_id = ?", *filters.LearnerID)
	}
	if filters.Completed != nil {
		if *filters.Completed {
			query = query.Where("completed_at IS NOT NULL")
		} else {
			query = query.Where("completed_at IS NULL")
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplyPaginationAndSort(query, "started_at", "desc", filters.Limit, filters.Offset)
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}

	return attempts, total, nil
}

// GetStats aggregates attempt counts and averages. The result is cached
// briefly because the instructor dashboard polls it; attempt writes
// invalidate the key.
func (r *AttemptPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	db := r.getDB(tx)
	var stats repositories.AttemptStats

	err := r.cacheManager.Stats.CacheOrExecute(ctx, statsKey(assessmentID), &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return r.computeStats(ctx, db, assessmentID)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *AttemptPostgreSQL) computeStats(ctx context.Context, db *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	var stats repositories.AttemptStats

	err := db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Where("assessment_id = ?", assessmentID).
		Count(&stats.TotalAttempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	var aggregates struct {
		CompletedAttempts int64
		AverageScore      float64
		AverageTimeSpent  float64
		PassedCount       int64
	}
	err = db.WithContext(ctx).
		Model(&models.AssessmentAttempt{}).
		Select(`COUNT(*) AS completed_attempts,
			COALESCE(AVG(score), 0) AS average_score,
			COALESCE(AVG(time_spent), 0) AS average_time_spent,
			COUNT(*) FILTER (WHERE passed) AS passed_count`).
		Where("assessment_id = ? AND completed_at IS NOT NULL", assessmentID).
		Scan(&aggregates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attempts: %w", err)
	}

	stats.CompletedAttempts = aggregates.CompletedAttempts
	stats.AverageScore = aggregates.AverageScore
	stats.AverageTimeSpent = aggregates.AverageTimeSpent
	if aggregates.CompletedAttempts > 0 {
		stats.PassRate = float64(aggregates.PassedCount) / float64(aggregates.CompletedAttempts) * 100
	}

	return &stats, nil
}

func (r *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
