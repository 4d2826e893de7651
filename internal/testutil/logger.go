package testutil

import (
	"github.com/customeros/mailsync/internal/logger"
)

func NewTestLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{LogLevel: "debug", DevMode: true})
	appLogger.InitLogger()
	return appLogger
}
