package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.NotNil(t, cfg.SyncConfig)
	assert.Equal(t, 200, cfg.SyncConfig.InitialFetchLimit)
	assert.Equal(t, "INBOX", cfg.SyncConfig.PrimaryFolder)
	assert.Equal(t, 25*time.Minute, cfg.SyncConfig.PushWaitCap)
	assert.Equal(t, 5, cfg.OfflineConfig.MaxRetries)
	assert.Equal(t, 3*time.Second, cfg.OfflineConfig.SettleDelay)
	assert.Equal(t, 50, cfg.OptimizerConfig.BaseBatchSize)
	assert.Equal(t, 10, cfg.OptimizerConfig.HistorySize)
	assert.Equal(t, []string{"1.1.1.1:443", "8.8.8.8:53"}, cfg.ConnectivityConfig.ProbeAddresses)
	assert.Equal(t, []string{"file"}, cfg.CredentialConfig.Backends)
	assert.Equal(t, "sqlite", cfg.AppConfig.StoreDriver)
}

func TestInitConfigReadsEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("SYNC_INITIAL_FETCH_LIMIT", "25")
	t.Setenv("CONNECTIVITY_PROBE_ADDRESSES", "10.0.0.1:80")

	cfg, err := InitConfig()

	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.AppConfig.APIKey)
	assert.Equal(t, 25, cfg.SyncConfig.InitialFetchLimit)
	assert.Equal(t, []string{"10.0.0.1:80"}, cfg.ConnectivityConfig.ProbeAddresses)
}
