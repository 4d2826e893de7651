package main

import (
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/database"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/repository/sqlite"
	"github.com/customeros/mailsync/server"
)

const (
	storePostgres = "postgres"
	storeSqlite   = "sqlite"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "keeps local mail stores in sync with IMAP servers",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, errors.Wrap(err, "config initialization failed")
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()
	return cfg, appLogger, nil
}

func migrate(c *cli.Context) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}

	switch cfg.AppConfig.StoreDriver {
	case storePostgres:
		db, err := database.InitPostgresDatabase(cfg.DatabaseConfig)
		if err != nil {
			return err
		}
		if err := repository.MigrateDB(db); err != nil {
			return errors.Wrap(err, "database migration failed")
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	case storeSqlite:
		db, err := database.InitSqliteDatabase(cfg.SqliteConfig)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := sqlite.Migrate(db); err != nil {
			return errors.Wrap(err, "database migration failed")
		}
	default:
		return errors.Errorf("unknown store driver %q", cfg.AppConfig.StoreDriver)
	}

	appLogger.Infof("Database migration completed (%s)", cfg.AppConfig.StoreDriver)
	return nil
}

func openRepositories(cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.AppConfig.StoreDriver {
	case storePostgres:
		db, err := database.InitPostgresDatabase(cfg.DatabaseConfig)
		if err != nil {
			return nil, err
		}
		return repository.InitRepositories(db), nil
	case storeSqlite:
		db, err := database.InitSqliteDatabase(cfg.SqliteConfig)
		if err != nil {
			return nil, err
		}
		repos, err := sqlite.InitRepositories(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return repos, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.AppConfig.StoreDriver)
	}
}

func serve(c *cli.Context) error {
	cfg, appLogger, err := loadConfig()
	if err != nil {
		return err
	}
	appLogger.Info("mailsync starting up...")

	repos, err := openRepositories(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.Close(); err != nil {
			appLogger.Errorf("Closing store: %v", err)
		}
	}()

	srv, err := server.NewServer(cfg, appLogger, repos)
	if err != nil {
		return errors.Wrap(err, "server setup failed")
	}
	return srv.Run()
}
