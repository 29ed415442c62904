package repositories

import "context"

// Repository aggregates all repository interfaces.
type Repository interface {
	Assessment() AssessmentRepository
	Attempt() AttemptRepository
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize(ctx context.Context) error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
