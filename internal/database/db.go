package database

import (
	"domainpilot/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&models.DomainConfig{}, &models.DNSRecord{}, &models.Certificate{}, &models.DeploymentLog{})
	if err != nil {
		return nil, err
	}

	return db, nil
}
