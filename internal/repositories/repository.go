package repositories

import "context"

// Repository aggregates every repository of the service
type Repository interface {
	// Exam content (read-only during a session)
	ExamSet() ExamSetRepository
	Question() QuestionRepository
	Passage() PassageRepository

	// Session domain
	Session() SessionRepository
	Attempt() AttemptRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager interface for managing repository lifecycle
type RepositoryManager interface {
	// Initialize repositories with database connections
	Initialize() error

	// Get repository instance
	GetRepository() Repository

	// Health check for all repositories
	HealthCheck(ctx context.Context) error

	// Graceful shutdown
	Shutdown(ctx context.Context) error
}
