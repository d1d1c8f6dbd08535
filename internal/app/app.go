// -----------------------------------------------------------------------
// Application
// Wires storage, services, the orchestrator and HTTP handlers
// -----------------------------------------------------------------------

package app

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/handlers"
	"github.com/ternarybob/magnet/internal/interfaces"
	jobhandlers "github.com/ternarybob/magnet/internal/jobs/handlers"
	"github.com/ternarybob/magnet/internal/jobs/orchestrator"
	"github.com/ternarybob/magnet/internal/jobs/trace"
	"github.com/ternarybob/magnet/internal/services/artifacts"
	"github.com/ternarybob/magnet/internal/services/computer"
	"github.com/ternarybob/magnet/internal/services/delivery"
	"github.com/ternarybob/magnet/internal/services/events"
	"github.com/ternarybob/magnet/internal/services/images"
	"github.com/ternarybob/magnet/internal/services/llm"
	"github.com/ternarybob/magnet/internal/services/shell"
	"github.com/ternarybob/magnet/internal/services/sweeper"
	"github.com/ternarybob/magnet/internal/storage/badger"
	"github.com/ternarybob/magnet/internal/storage/filestore"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	ObjectStore    interfaces.ObjectStore
	EventService   interfaces.EventService

	Provider  interfaces.ModelProvider
	Artifacts interfaces.ArtifactService
	Trace     *trace.Store

	Orchestrator *orchestrator.Orchestrator
	Sweeper      *sweeper.Sweeper

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	TriggerHandler  *handlers.TriggerHandler
	JobHandler      *handlers.JobHandler
	WorkflowHandler *handlers.WorkflowHandler
	ObjectHandler   *handlers.ObjectHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes all components in dependency order.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	storageManager, err := badger.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, err
	}
	a.StorageManager = storageManager

	store, err := filestore.New(&cfg.Storage.ObjectDir, logger)
	if err != nil {
		storageManager.Close()
		return nil, err
	}
	a.ObjectStore = store

	a.EventService = events.NewService(logger)

	pipeline := images.NewPipeline(images.PipelineConfig{
		DownloadTimeout: common.ParseDurationOr(cfg.Engine.ImageTimeout, 30*time.Second),
	}, logger)

	provider, err := llm.NewProvider(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Provider = provider

	artifactService := artifacts.NewService(store, storageManager.ArtifactStorage(), pipeline, nil, logger)
	a.Artifacts = artifactService

	a.Trace = trace.NewStore(store, storageManager.JobStorage(), logger)

	shellRunner, err := shell.NewRunner(&cfg.Shell, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	webhookSender := delivery.NewSender(
		common.ParseDurationOr(cfg.Engine.WebhookTimeout, 15*time.Second),
		cfg.Delivery.RetryAttempts,
		common.ParseDurationOr(cfg.Delivery.RetryBackoff, 2*time.Second),
		logger,
	)

	deps := &jobhandlers.Deps{
		Provider:      provider,
		Artifacts:     artifactService,
		Pipeline:      pipeline,
		Trace:         a.Trace,
		Usage:         llm.NewUsageAuditor(storageManager.UsageStorage(), &cfg.Provider, logger),
		Events:        a.EventService,
		Store:         store,
		Storage:       storageManager,
		Webhooks:      webhookSender,
		Drivers:       computer.NewProvider(&cfg.Computer, logger),
		ShellRunner:   shellRunner,
		ShellUploader: shell.NewUploader(store, &cfg.Shell, logger),
		Config:        cfg,
		Logger:        logger,
	}

	var sms *delivery.SMSService
	if cfg.Gemini.APIKey != "" {
		sms, err = delivery.NewSMSService(context.Background(), &cfg.Gemini, &delivery.LogGateway{Logger: logger}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("SMS delivery unavailable")
			sms = nil
		}
	}

	finalizer := orchestrator.NewFinalizer(
		storageManager,
		a.Trace,
		artifactService,
		provider,
		delivery.NewInjector(cfg.Engine.TrackingEndpoint, logger),
		webhookSender,
		sms,
		cfg,
		logger,
	)

	a.Orchestrator = orchestrator.New(storageManager, a.Trace, jobhandlers.NewRegistry(deps), finalizer, a.EventService, cfg, logger)
	a.Sweeper = sweeper.New(storageManager, a.Orchestrator.ProcessTrigger, &cfg.Sweeper, logger)

	a.APIHandler = handlers.NewAPIHandler()
	a.TriggerHandler = handlers.NewTriggerHandler(storageManager, a.Orchestrator, logger)
	a.JobHandler = handlers.NewJobHandler(storageManager, a.Trace, logger)
	a.WorkflowHandler = handlers.NewWorkflowHandler(storageManager, logger)
	a.ObjectHandler = handlers.NewObjectHandler(store, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger)

	logger.Info().Msg("Application initialized")
	return a, nil
}

// Close releases application resources in reverse dependency order.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.WSHandler != nil {
		a.WSHandler.Close()
	}
	if a.Provider != nil {
		if err := a.Provider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Provider close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}
	return nil
}
