package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository   interfaces.AccountRepository
	FolderRepository    interfaces.FolderRepository
	EmailRepository     interfaces.EmailRepository
	SyncStateRepository interfaces.SyncStateRepository
	OperationRepository interfaces.OperationRepository
	// Close releases the underlying database handle.
	Close func() error
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository:   NewAccountRepository(db),
		FolderRepository:    NewFolderRepository(db),
		EmailRepository:     NewEmailRepository(db),
		SyncStateRepository: NewSyncStateRepository(db),
		OperationRepository: NewOperationRepository(db),
		Close: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Folder{},
		&models.Email{},
		&models.SyncState{},
		&models.PendingOperation{},
	)
}
