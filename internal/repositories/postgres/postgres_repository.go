package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cyberlab-edu/assessment-service/internal/repositories"
)

type RepositoryConfig struct {
	DB          *gorm.DB
	RedisClient *redis.Client
}

type PostgreSQLRepository struct {
	db          *gorm.DB
	redisClient *redis.Client

	assessmentRepo repositories.AssessmentRepository
	attemptRepo    repositories.AttemptRepository
	userRepo       repositories.UserRepository
}

func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	return &PostgreSQLRepository{
		db:             config.DB,
		redisClient:    config.RedisClient,
		assessmentRepo: NewAssessmentPostgreSQL(config.DB, config.RedisClient),
		attemptRepo:    NewAttemptPostgreSQL(config.DB, config.RedisClient),
		userRepo:       NewUserPostgreSQL(config.DB),
	}
}

func (r *PostgreSQLRepository) Assessment() repositories.AssessmentRepository {
	return r.assessmentRepo
}

func (r *PostgreSQLRepository) Attempt() repositories.AttemptRepository {
	return r.attemptRepo
}

func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.userRepo
}

// WithTransaction runs fn against a repository bound to a single database
// transaction. Any error from fn rolls the transaction back.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(repo repositories.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := NewPostgreSQLRepository(RepositoryConfig{DB: tx, RedisClient: r.redisClient})
		return fn(txRepo)
	})
}

func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

type PostgreSQLRepositoryManager struct {
	repository repositories.Repository
	config     RepositoryConfig
}

func NewRepositoryManager(config RepositoryConfig) repositories.RepositoryManager {
	return &PostgreSQLRepositoryManager{config: config}
}

func (m *PostgreSQLRepositoryManager) Initialize(ctx context.Context) error {
	if m.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}
	m.repository = NewPostgreSQLRepository(m.config)
	return m.repository.Ping(ctx)
}

func (m *PostgreSQLRepositoryManager) GetRepository() repositories.Repository {
	return m.repository
}

func (m *PostgreSQLRepositoryManager) HealthCheck(ctx context.Context) error {
	if m.repository == nil {
		return fmt.Errorf("repository not initialized")
	}
	return m.repository.Ping(ctx)
}

func (m *PostgreSQLRepositoryManager) Shutdown(ctx context.Context) error {
	if m.repository == nil {
		return nil
	}
	return m.repository.Close()
}
