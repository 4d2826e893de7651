package config

import (
	"time"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12222"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	// StoreDriver selects the local store: "postgres" or "sqlite".
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	// ShutdownTimeout bounds each step of a graceful shutdown.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILSYNC_POSTGRES_HOST"`
	Port            string `env:"MAILSYNC_POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"MAILSYNC_POSTGRES_USER"`
	DBName          string `env:"MAILSYNC_POSTGRES_DB_NAME"`
	Password        string `env:"MAILSYNC_POSTGRES_PASSWORD"`
	MaxConn         int    `env:"MAILSYNC_POSTGRES_DB_MAX_CONN" envDefault:"25"`
	MaxIdleConn     int    `env:"MAILSYNC_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"MAILSYNC_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"MAILSYNC_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILSYNC_POSTGRES_SSL_MODE" envDefault:"require"`
}

type SqliteConfig struct {
	Path string `env:"MAILSYNC_SQLITE_PATH" envDefault:"mailsync.db"`
}

type SyncConfig struct {
	ConnectTimeout    time.Duration `env:"SYNC_CONNECT_TIMEOUT" envDefault:"30s"`
	CommandTimeout    time.Duration `env:"SYNC_COMMAND_TIMEOUT" envDefault:"60s"`
	FetchTimeout      time.Duration `env:"SYNC_FETCH_TIMEOUT" envDefault:"5m"`
	FolderTimeout     time.Duration `env:"SYNC_FOLDER_TIMEOUT" envDefault:"10m"`
	DisconnectTimeout time.Duration `env:"SYNC_DISCONNECT_TIMEOUT" envDefault:"5s"`
	PushWaitCap       time.Duration `env:"SYNC_PUSH_WAIT_CAP" envDefault:"25m"`
	PushPollInterval  time.Duration `env:"SYNC_PUSH_POLL_INTERVAL" envDefault:"0s"`
	InitialFetchLimit int           `env:"SYNC_INITIAL_FETCH_LIMIT" envDefault:"200"`
	PrimaryFolder     string        `env:"SYNC_PRIMARY_FOLDER" envDefault:"INBOX"`
	ReconnectMin      time.Duration `env:"SYNC_RECONNECT_MIN" envDefault:"1s"`
	ReconnectMax      time.Duration `env:"SYNC_RECONNECT_MAX" envDefault:"2m"`
	ReconnectFactor   float64       `env:"SYNC_RECONNECT_FACTOR" envDefault:"1.5"`
	// ReconnectAttempts of zero retries until the sync is stopped.
	ReconnectAttempts int `env:"SYNC_RECONNECT_ATTEMPTS" envDefault:"0"`
}

type OfflineConfig struct {
	MaxRetries         int           `env:"OFFLINE_MAX_RETRIES" envDefault:"5"`
	SettleDelay        time.Duration `env:"OFFLINE_SETTLE_DELAY" envDefault:"3s"`
	OperationTimeout   time.Duration `env:"OFFLINE_OPERATION_TIMEOUT" envDefault:"60s"`
	TombstoneCapacity  int           `env:"OFFLINE_TOMBSTONE_CAPACITY" envDefault:"10000"`
	SentFolder         string        `env:"OFFLINE_SENT_FOLDER" envDefault:"Sent"`
	AppendSentMessages bool          `env:"OFFLINE_APPEND_SENT" envDefault:"true"`
}

type OptimizerConfig struct {
	BaseBatchSize int           `env:"OPTIMIZER_BASE_BATCH_SIZE" envDefault:"50"`
	FastThreshold time.Duration `env:"OPTIMIZER_FAST_THRESHOLD" envDefault:"5s"`
	SlowThreshold time.Duration `env:"OPTIMIZER_SLOW_THRESHOLD" envDefault:"30s"`
	HistorySize   int           `env:"OPTIMIZER_HISTORY_SIZE" envDefault:"10"`
}

type ConnectivityConfig struct {
	ProbeAddresses []string      `env:"CONNECTIVITY_PROBE_ADDRESSES" envSeparator:"," envDefault:"1.1.1.1:443,8.8.8.8:53"`
	Interval       time.Duration `env:"CONNECTIVITY_INTERVAL" envDefault:"10s"`
	Timeout        time.Duration `env:"CONNECTIVITY_TIMEOUT" envDefault:"3s"`
	Kind           string        `env:"CONNECTIVITY_KIND" envDefault:"ethernet"`
	// Disabled reports the network as always online.
	Disabled bool `env:"CONNECTIVITY_DISABLED" envDefault:"false"`
}

type CredentialConfig struct {
	ServiceName  string   `env:"KEYRING_SERVICE_NAME" envDefault:"mailsync"`
	Backends     []string `env:"KEYRING_BACKENDS" envSeparator:"," envDefault:"file"`
	FileDir      string   `env:"KEYRING_FILE_DIR" envDefault:"~/.mailsync/keyring"`
	FilePassword string   `env:"KEYRING_FILE_PASSWORD"`
}
