package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailsync/interfaces"
	cron_config "github.com/customeros/mailsync/internal/cron/config"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	// GroupSync serializes the jobs that touch sync tasks and queues
	GroupSync = "sync"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	jobTimeout = 5 * time.Minute
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSync: new(sync.Mutex),
	},
}

type CronManager struct {
	cronConfig   *cron_config.Config
	log          logger.Logger
	k8s          kubernetes.Interface
	repositories *repository.Repositories
	syncService  interfaces.SyncService
	connectivity interfaces.ConnectivityMonitor

	mu          sync.Mutex
	cron        *cronv3.Cron
	jobIDs      map[string]cronv3.EntryID
	stopCh      chan struct{}
	stopOnce    sync.Once
	electCancel context.CancelFunc
}

// NewCronManager reads schedules from the environment when cronConfig is nil.
func NewCronManager(
	cronConfig *cron_config.Config,
	log logger.Logger,
	k8s kubernetes.Interface,
	repos *repository.Repositories,
	syncService interfaces.SyncService,
	connectivity interfaces.ConnectivityMonitor,
) *CronManager {
	if cronConfig == nil {
		cronConfig = &cron_config.Config{}
		if err := env.Parse(cronConfig); err != nil {
			log.Fatalf("Failed to parse cron config from environment: %v", err)
		}
	}
	return &CronManager{
		cronConfig:   cronConfig,
		log:          log,
		k8s:          k8s,
		repositories: repos,
		syncService:  syncService,
		connectivity: connectivity,
		stopCh:       make(chan struct{}),
		jobIDs:       make(map[string]cronv3.EntryID),
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "mailsync-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	cm.electCancel = cancel
	cm.mu.Unlock()

	errCh := make(chan error, 1)

	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.stopCron()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		le.Run(ctx)
	}()

	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop releases leadership and waits for running jobs. Safe to call more than once.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		cm.mu.Lock()
		cancel := cm.electCancel
		cm.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		cm.stopCron()
		close(cm.stopCh)
	})
}

func (cm *CronManager) stopCron() {
	cm.mu.Lock()
	c := cm.cron
	cm.cron = nil
	cm.mu.Unlock()

	if c != nil {
		cm.log.Info("Stopping cron manager")
		ctx := c.Stop()
		<-ctx.Done()
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	if cm.cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		cm.addJob(c, "heartbeat", cm.cronConfig.CronScheduleHeartbeat, func() {
			cm.log.Infof("Cron heartbeat from pod: %s, %d accounts syncing", podName, cm.runningCount())
		})
	}

	if cm.cronConfig.CronScheduleDrainQueues != "" {
		cm.addJob(c, "drain_queues", cm.cronConfig.CronScheduleDrainQueues, func() {
			jobLocks.locks[GroupSync].Lock()
			defer jobLocks.locks[GroupSync].Unlock()
			cm.drainQueues()
		})
	}

	if cm.cronConfig.CronScheduleResumeSyncs != "" {
		cm.addJob(c, "resume_syncs", cm.cronConfig.CronScheduleResumeSyncs, func() {
			jobLocks.locks[GroupSync].Lock()
			defer jobLocks.locks[GroupSync].Unlock()
			cm.resumeSyncs()
		})
	}
}

func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule string, job func()) {
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cron != nil {
		return
	}

	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) runningCount() int {
	running, ok := cm.syncService.(interface{ RunningAccounts() []string })
	if !ok {
		return 0
	}
	return len(running.RunningAccounts())
}

func (cm *CronManager) drainQueues() {
	if cm.connectivity != nil && !cm.connectivity.IsOnline() {
		cm.log.Debug("Skipping queue drain while offline")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.drainQueues")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	cm.syncService.DrainAll(ctx)
}

func (cm *CronManager) resumeSyncs() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.resumeSyncs")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.repositories.AccountRepository.ListSyncEnabled(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list sync-enabled accounts: %v", err)
		return
	}

	resumed := 0
	for _, account := range accounts {
		if cm.syncService.IsRunning(account.ID) {
			continue
		}
		if err := cm.syncService.StartSync(ctx, account.ID); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Warnf("[%s] Could not resume sync: %v", account.ID, err)
			continue
		}
		resumed++
	}
	span.LogKV("resumed", resumed)
	if resumed > 0 {
		cm.log.Infof("Resumed sync for %d accounts", resumed)
	}
}
