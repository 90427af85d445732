package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
	"github.com/SAP-F-2025/exam-session-service/internal/events"
	"github.com/SAP-F-2025/exam-session-service/internal/repositories"
	"github.com/SAP-F-2025/exam-session-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	Session SessionServiceConfig

	// Bounds the snapshot of live runtimes on shutdown.
	ShutdownTimeout time.Duration
}

// ServiceDependencies are the collaborators shared by all services.
type ServiceDependencies struct {
	Repo      repositories.Repository
	Snapshots SnapshotStore
	Publisher events.EventPublisher
	Scheduler engine.Scheduler
	Logger    *slog.Logger
	Validator *validator.Validator
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	deps   ServiceDependencies
	config ServiceManagerConfig

	// Service instances
	assemblerService   AssemblerService
	autoSaveService    AutoSaveService
	submissionService  SubmissionService
	examSessionService ExamSessionService
	examSetService     ExamSetService
	importService      ImportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(deps ServiceDependencies, config ServiceManagerConfig) ServiceManager {
	if deps.Scheduler == nil {
		deps.Scheduler = engine.NewTickerScheduler()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopEventPublisher{}
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	return &serviceManager{
		deps:   deps,
		config: config,
	}
}

// DefaultServiceManagerConfig is the configuration used when nothing is overridden.
func DefaultServiceManagerConfig() ServiceManagerConfig {
	return ServiceManagerConfig{
		Session:         DefaultSessionServiceConfig(),
		ShutdownTimeout: 15 * time.Second,
	}
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.deps.Logger.Info("Initializing service manager")

	if err := sm.initializeServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	sm.initialized = true
	sm.deps.Logger.Info("Service manager initialized successfully")

	return nil
}

func (sm *serviceManager) initializeServices(ctx context.Context) error {
	d := sm.deps
	if d.Repo == nil {
		return fmt.Errorf("repository is required")
	}
	if d.Snapshots == nil {
		return fmt.Errorf("snapshot store is required")
	}

	sm.assemblerService = NewAssemblerService(d.Repo, d.Logger)
	sm.autoSaveService = NewAutoSaveService(d.Repo, d.Snapshots, d.Logger)
	sm.submissionService = NewSubmissionService(d.Repo, sm.assemblerService, sm.autoSaveService, d.Scheduler, d.Logger, d.Validator)
	sm.examSessionService = NewExamSessionService(
		d.Repo,
		sm.assemblerService,
		sm.autoSaveService,
		sm.submissionService,
		d.Publisher,
		d.Scheduler,
		d.Logger,
		d.Validator,
		sm.config.Session,
	)
	sm.deps.Logger.Info("Exam session service initialized",
		"autosave_interval", sm.config.Session.AutoSaveInterval.String())

	sm.examSetService = NewExamSetService(d.Repo, sm.assemblerService, d.Logger, d.Validator)

	sm.importService = NewImportService(d.Repo, d.Logger, d.Validator)
	sm.deps.Logger.Info("Import service initialized")

	return nil
}

// Service getters
func (sm *serviceManager) Assembler() AssemblerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.assemblerService
}

func (sm *serviceManager) ExamSession() ExamSessionService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.examSessionService
}

func (sm *serviceManager) ExamSets() ExamSetService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.examSetService
}

func (sm *serviceManager) Import() ImportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		panic("service manager not initialized")
	}
	return sm.importService
}

// Shutdown snapshots live sessions and closes the event publisher. The
// repository is owned by the caller.
func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.deps.Logger.Info("Shutting down service manager")

	if sm.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sm.config.ShutdownTimeout)
		defer cancel()
	}

	if sm.examSessionService != nil {
		if err := sm.examSessionService.Shutdown(ctx); err != nil {
			sm.deps.Logger.Error("Failed to release live sessions", "error", err)
		}
	}

	if err := sm.deps.Publisher.Close(); err != nil {
		sm.deps.Logger.Error("Failed to close event publisher", "error", err)
	}

	sm.shutdown = true
	sm.deps.Logger.Info("Service manager shut down completed")

	return nil
}
