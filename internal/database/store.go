package database

import (
	"errors"
	"time"

	"domainpilot/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a domain config does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence port for domain configs and their audit log.
// The orchestrator is its only writer.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertDomain creates the config if no row exists for its domain name and
// returns the stored row either way. A concurrent duplicate insert loses the
// conflict and falls through to the existing row.
func (s *Store) UpsertDomain(cfg *models.DomainConfig) (*models.DomainConfig, error) {
	existing, err := s.FindDomain(cfg.Domain)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoNothing: true,
	}).Create(cfg)
	if res.Error != nil {
		return nil, res.Error
	}

	return s.FindDomain(cfg.Domain)
}

func (s *Store) FindDomain(domain string) (*models.DomainConfig, error) {
	var cfg models.DomainConfig
	err := s.db.Preload("Records").Preload("Certificate").Where("domain = ?", domain).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) FindDomainByID(id uint) (*models.DomainConfig, error) {
	var cfg models.DomainConfig
	err := s.db.Preload("Records").Preload("Certificate").First(&cfg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListFilter narrows ListDomains; zero values mean "any".
type ListFilter struct {
	Status      models.DomainStatus
	Application models.ApplicationTarget
}

func (s *Store) ListDomains(filter ListFilter) ([]models.DomainConfig, error) {
	q := s.db.Preload("Records").Preload("Certificate")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Application != "" {
		q = q.Where("application = ?", filter.Application)
	}
	var configs []models.DomainConfig
	if err := q.Order("domain").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateStatus persists a state transition and bumps UpdatedAt.
func (s *Store) UpdateStatus(cfg *models.DomainConfig, status models.DomainStatus) error {
	cfg.Status = status
	return s.db.Model(cfg).Update("status", status).Error
}

// SaveRecordStatuses persists the verifier's per-record results.
func (s *Store) SaveRecordStatuses(records []models.DNSRecord) error {
	for i := range records {
		if err := s.db.Model(&records[i]).Update("status", records[i].Status).Error; err != nil {
			return err
		}
	}
	return nil
}

// SaveCertificate attaches or replaces the certificate of a config.
func (s *Store) SaveCertificate(cfg *models.DomainConfig, cert *models.Certificate) error {
	cert.DomainConfigID = cfg.ID
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("domain_config_id = ?", cfg.ID).Delete(&models.Certificate{}).Error; err != nil {
			return err
		}
		if err := tx.Create(cert).Error; err != nil {
			return err
		}
		cfg.Certificate = cert
		return nil
	})
}

// DeleteCertificate drops the stored certificate, forcing re-provisioning.
func (s *Store) DeleteCertificate(cfg *models.DomainConfig) error {
	if err := s.db.Where("domain_config_id = ?", cfg.ID).Delete(&models.Certificate{}).Error; err != nil {
		return err
	}
	cfg.Certificate = nil
	return nil
}

// Touch bumps UpdatedAt without changing anything else.
func (s *Store) Touch(cfg *models.DomainConfig) error {
	return s.db.Model(cfg).Update("updated_at", time.Now()).Error
}

// DeleteDomain hard-deletes the config together with its records, certificate
// and log entries. Protection of the main domain is the orchestrator's job.
func (s *Store) DeleteDomain(cfg *models.DomainConfig) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("domain_config_id = ?", cfg.ID).Delete(&models.DNSRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("domain_config_id = ?", cfg.ID).Delete(&models.Certificate{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("domain_config_id = ?", cfg.ID).Delete(&models.DeploymentLog{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(cfg).Error
	})
}

// AppendLog writes one audit row. Log rows are append-only.
func (s *Store) AppendLog(entry *models.DeploymentLog) error {
	return s.db.Create(entry).Error
}

func (s *Store) ListLogs(domainID uint, action models.LogAction) ([]models.DeploymentLog, error) {
	q := s.db.Where("domain_config_id = ?", domainID)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	var logs []models.DeploymentLog
	if err := q.Order("id").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
