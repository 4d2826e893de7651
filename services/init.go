package services

import (
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/connectivity"
	"github.com/customeros/mailsync/internal/credential"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tombstone"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/imap"
	"github.com/customeros/mailsync/services/offline"
	"github.com/customeros/mailsync/services/optimizer"
	"github.com/customeros/mailsync/services/orchestrator"
	"github.com/customeros/mailsync/services/reconciler"
	"github.com/customeros/mailsync/services/smtp"
)

type Services struct {
	EventsService *events.EventsService
	Credentials   interfaces.CredentialProvider
	Connectivity  *connectivity.Monitor
	Sessions      *orchestrator.Registry
	Queue         *offline.Queue
	SyncService   *orchestrator.Orchestrator
}

// InitServices builds the sync core. Credentials may be nil, in which case the keyring from cfg is opened.
func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories, credentials interfaces.CredentialProvider) (*Services, error) {
	publisherConfig := events.DefaultPublisherConfig()
	subscriberConfig := &events.SubscriberConfig{
		MaxRetries:          events.DefaultMaxRetries,
		ReconnectBackoff:    events.DefaultReconnectBackoff,
		MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
	}

	eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, publisherConfig, subscriberConfig)
	if err != nil {
		return nil, errors.Wrap(err, "initializing events service")
	}

	if credentials == nil {
		provider, err := credential.Open(cfg.CredentialConfig)
		if err != nil {
			_ = eventsService.Close()
			return nil, err
		}
		credentials = provider
	}

	tombstones, err := tombstone.New(cfg.OfflineConfig.TombstoneCapacity)
	if err != nil {
		_ = eventsService.Close()
		return nil, errors.Wrap(err, "initializing tombstone cache")
	}

	sessions := orchestrator.NewRegistry(repos, credentials, func() interfaces.MailSession {
		return imap.NewSession(cfg.SyncConfig, log)
	}, cfg.SyncConfig, log)

	sender := smtp.NewSender(cfg.SyncConfig, log)
	executor := offline.NewExecutor(repos, credentials, sender, tombstones, cfg.OfflineConfig, log)
	queue := offline.NewQueue(repos, sessions, executor, eventsService.Notifier, cfg.OfflineConfig, log)

	syncService := orchestrator.NewOrchestrator(
		repos,
		sessions,
		reconciler.NewReconciler(repos.FolderRepository, log),
		optimizer.NewOptimizer(cfg.OptimizerConfig),
		queue,
		eventsService.Notifier,
		tombstones,
		cfg,
		log,
	)

	return &Services{
		EventsService: eventsService,
		Credentials:   credentials,
		Connectivity:  connectivity.NewMonitor(cfg.ConnectivityConfig, log),
		Sessions:      sessions,
		Queue:         queue,
		SyncService:   syncService,
	}, nil
}
