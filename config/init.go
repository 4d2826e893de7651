package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/tracing"
)

type Config struct {
	AppConfig          *AppConfig
	Logger             *logger.Config
	Tracing            *tracing.JaegerConfig
	DatabaseConfig     *DatabaseConfig
	SqliteConfig       *SqliteConfig
	SyncConfig         *SyncConfig
	OfflineConfig      *OfflineConfig
	OptimizerConfig    *OptimizerConfig
	ConnectivityConfig *ConnectivityConfig
	CredentialConfig   *CredentialConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:          &AppConfig{},
		Logger:             &logger.Config{},
		Tracing:            &tracing.JaegerConfig{},
		DatabaseConfig:     &DatabaseConfig{},
		SqliteConfig:       &SqliteConfig{},
		SyncConfig:         &SyncConfig{},
		OfflineConfig:      &OfflineConfig{},
		OptimizerConfig:    &OptimizerConfig{},
		ConnectivityConfig: &ConnectivityConfig{},
		CredentialConfig:   &CredentialConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Defaults returns a config populated only from envDefault tags, ignoring the environment.
func Defaults() *Config {
	config := &Config{
		AppConfig:          &AppConfig{},
		Logger:             &logger.Config{},
		Tracing:            &tracing.JaegerConfig{},
		DatabaseConfig:     &DatabaseConfig{},
		SqliteConfig:       &SqliteConfig{},
		SyncConfig:         &SyncConfig{},
		OfflineConfig:      &OfflineConfig{},
		OptimizerConfig:    &OptimizerConfig{},
		ConnectivityConfig: &ConnectivityConfig{},
		CredentialConfig:   &CredentialConfig{},
	}
	_ = env.Parse(config, env.Options{Environment: map[string]string{"API_KEY": "defaults"}})
	return config
}
