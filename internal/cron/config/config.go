package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Offline queue replay for every account with pending operations, every 30 seconds
	CronScheduleDrainQueues string `env:"CRON_SCHEDULE_DRAIN_QUEUES" envDefault:"*/30 * * * * *"`
	// Restart sync for enabled accounts that are not running, every 5 minutes
	CronScheduleResumeSyncs string `env:"CRON_SCHEDULE_RESUME_SYNCS" envDefault:"0 */5 * * * *"`
}
