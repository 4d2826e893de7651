package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel string `env:"LOGGER_LEVEL" envDefault:"info"`
	DevMode  bool   `env:"LOGGER_DEV_MODE" envDefault:"false"`
	Encoder  string `env:"LOGGER_ENCODER" envDefault:"json"`
}

// Logger is the application logger used by every service.
type Logger interface {
	InitLogger()
	Logger() *zap.Logger
	With(fields ...zap.Field) Logger
	Sync() error

	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})
}

type appLogger struct {
	level       string
	devMode     bool
	encoding    string
	logger      *zap.Logger
	sugarLogger *zap.SugaredLogger
}

func NewAppLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = &Config{LogLevel: "info"}
	}
	return &appLogger{level: cfg.LogLevel, devMode: cfg.DevMode, encoding: cfg.Encoder}
}

var loggerLevelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

func (l *appLogger) getLoggerLevel() zapcore.Level {
	level, exist := loggerLevelMap[l.level]
	if !exist {
		return zapcore.InfoLevel
	}
	return level
}

// InitLogger builds the zap core. Safe to call more than once.
func (l *appLogger) InitLogger() {
	logLevel := l.getLoggerLevel()
	logWriter := zapcore.AddSync(os.Stdout)

	var encoderCfg zapcore.EncoderConfig
	if l.devMode {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
	}
	encoderCfg.NameKey = "service"
	encoderCfg.TimeKey = "time"
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "line"
	encoderCfg.MessageKey = "message"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if l.encoding == "console" || l.devMode {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, logWriter, zap.NewAtomicLevelAt(logLevel))
	l.logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	l.sugarLogger = l.logger.Sugar()
}

func (l *appLogger) ensure() {
	if l.logger == nil {
		l.InitLogger()
	}
}

func (l *appLogger) Logger() *zap.Logger {
	l.ensure()
	return l.logger
}

func (l *appLogger) With(fields ...zap.Field) Logger {
	l.ensure()
	child := l.logger.With(fields...)
	return &appLogger{
		level:       l.level,
		devMode:     l.devMode,
		encoding:    l.encoding,
		logger:      child,
		sugarLogger: child.Sugar(),
	}
}

func (l *appLogger) Sync() error {
	l.ensure()
	return l.logger.Sync()
}

func (l *appLogger) Debug(msg string, fields ...zap.Field) {
	l.ensure()
	l.logger.Debug(msg, fields...)
}

func (l *appLogger) Info(msg string, fields ...zap.Field) {
	l.ensure()
	l.logger.Info(msg, fields...)
}

func (l *appLogger) Warn(msg string, fields ...zap.Field) {
	l.ensure()
	l.logger.Warn(msg, fields...)
}

func (l *appLogger) Error(msg string, fields ...zap.Field) {
	l.ensure()
	l.logger.Error(msg, fields...)
}

func (l *appLogger) Fatal(msg string, fields ...zap.Field) {
	l.ensure()
	l.logger.Fatal(msg, fields...)
}

func (l *appLogger) Debugf(template string, args ...interface{}) {
	l.ensure()
	l.sugarLogger.Debugf(template, args...)
}

func (l *appLogger) Infof(template string, args ...interface{}) {
	l.ensure()
	l.sugarLogger.Infof(template, args...)
}

func (l *appLogger) Warnf(template string, args ...interface{}) {
	l.ensure()
	l.sugarLogger.Warnf(template, args...)
}

func (l *appLogger) Errorf(template string, args ...interface{}) {
	l.ensure()
	l.sugarLogger.Errorf(template, args...)
}

func (l *appLogger) Fatalf(template string, args ...interface{}) {
	l.ensure()
	l.sugarLogger.Fatalf(template, args...)
}
