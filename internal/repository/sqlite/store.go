package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/customeros/mailsync/internal/repository"
)

// InitRepositories runs pending migrations and builds the repositories over an open database.
func InitRepositories(db *sqlx.DB) (*repository.Repositories, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &repository.Repositories{
		AccountRepository:   NewAccountRepository(db),
		FolderRepository:    NewFolderRepository(db),
		EmailRepository:     NewEmailRepository(db),
		SyncStateRepository: NewSyncStateRepository(db),
		OperationRepository: NewOperationRepository(db),
		Close:               db.Close,
	}, nil
}

// Migrate applies outstanding migrations in order.
func Migrate(db *sqlx.DB) error {
	currentVersion := 0

	var tableCount int
	err := db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}
