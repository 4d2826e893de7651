package database

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/config"
)

func InitPostgresDatabase(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := NewConnection(dbConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return db, nil
}

func InitSqliteDatabase(sqliteConfig *config.SqliteConfig) (*sqlx.DB, error) {
	db, err := OpenSqlite(sqliteConfig.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite store")
	}
	return db, nil
}
