package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/cache"
	"github.com/cyberlab-edu/assessment-service/internal/models"
	"github.com/cyberlab-edu/assessment-service/internal/repositories"
)

type AssessmentPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAssessmentPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AssessmentRepository {
	return &AssessmentPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *AssessmentPostgreSQL) Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Create(assessment).Error; err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

func (r *AssessmentPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	db := r.getDB(tx)
	var assessment models.Assessment
	if err := db.WithContext(ctx).First(&assessment, id).Error; err != nil {
		return nil, err
	}
	return &assessment, nil
}

// GetByIDWithQuestions loads the assessment with its full question set,
// cached because the attempt-start and submit paths hit it on every request.
func (r *AssessmentPostgreSQL) GetByIDWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error) {
	db := r.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d:questions", id)
	var assessment models.Assessment

	err := r.cacheManager.Assessment.CacheOrExecute(ctx, cacheKey, &assessment, cache.AssessmentCacheConfig.TTL, func() (interface{}, error) {
		var dbAssessment models.Assessment
		if err := db.WithContext(ctx).
			Preload("Questions", func(q *gorm.DB) *gorm.DB {
				return q.Order("\"order\" ASC, id ASC")
			}).
			First(&dbAssessment, id).Error; err != nil {
			return nil, err
		}
		return &dbAssessment, nil
	})

	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

func (r *AssessmentPostgreSQL) Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(assessment).Error; err != nil {
		return fmt.Errorf("failed to update assessment: %w", err)
	}
	r.invalidate(ctx, assessment.ID)
	return nil
}

func (r *AssessmentPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)
	// Attempts and questions go with the assessment (owned relationship).
	if err := db.WithContext(ctx).Select("Questions", "Attempts").Delete(&models.Assessment{ID: id}).Error; err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *AssessmentPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AssessmentFilters) ([]*models.Assessment, int64, error) {
	db := r.getDB(tx)
	var assessments []*models.Assessment
	var total int64

	query := db.WithContext(ctx).Model(&models.Assessment{})
	if filters.ModuleID != nil {
		query = query.Where("module_id = ?", *filters.ModuleID)
	}
	if filters.Published != nil {
		query = query.Where("published = ?", *filters.Published)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = r.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&assessments).Error; err != nil {
		return nil, 0, err
	}

	return assessments, total, nil
}

func (r *AssessmentPostgreSQL) SetPublished(ctx context.Context, tx *gorm.DB, id uint, published bool) error {
	db := r.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.Assessment{}).
		Where("id = ?", id).
		Update("published", published)
	if result.Error != nil {
		return fmt.Errorf("failed to update published flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.invalidate(ctx, id)
	return nil
}

// ReplaceQuestions swaps the assessment's question set wholesale. Edits are
// instructor-only and infrequent, so a delete-and-recreate inside one
// transaction is simpler than diffing.
func (r *AssessmentPostgreSQL) ReplaceQuestions(ctx context.Context, tx *gorm.DB, assessmentID uint, questions []models.Question) error {
	db := r.getDB(tx)
	err := db.WithContext(ctx).Transaction(func(txInner *gorm.DB) error {
		if err := txInner.Where("assessment_id = ?", assessmentID).Delete(&models.Question{}).Error; err != nil {
			return fmt.Errorf("failed to clear questions: %w", err)
		}
		for i := range questions {
			questions[i].ID = 0
			questions[i].AssessmentID = assessmentID
			questions[i].Order = i
		}
		if len(questions) == 0 {
			return nil
		}
		if err := txInner.CreateInBatches(questions, 100).Error; err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.invalidate(ctx, assessmentID)
	return nil
}

func (r *AssessmentPostgreSQL) invalidate(ctx context.Context, id uint) {
	cache.InvalidateAssessmentCache(ctx, r.cacheManager, id)
}

// getDB returns the transaction DB if provided, otherwise the default DB.
func (r *AssessmentPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}
