package models

import (
	"time"

	"gorm.io/gorm"
)

// DomainStatus is the lifecycle state of a DomainConfig. Transition legality
// is enforced by the orchestrator; callers treat the value as read-only.
type DomainStatus string

const (
	StatusPending        DomainStatus = "pending"
	StatusDNSConfigured  DomainStatus = "dns_configured"
	StatusDNSVerified    DomainStatus = "dns_verified"
	StatusSSLProvisioned DomainStatus = "ssl_provisioned"
	StatusActive         DomainStatus = "active"
	StatusFailed         DomainStatus = "failed"
)

// ApplicationTarget identifies which logical application a domain serves.
type ApplicationTarget string

const (
	AppDashboard ApplicationTarget = "dashboard"
	AppAPI       ApplicationTarget = "api"
	AppLanding   ApplicationTarget = "landing"
)

type DomainConfig struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	Domain       string            `gorm:"not null;uniqueIndex" json:"domain"`
	Application  ApplicationTarget `gorm:"default:'landing'" json:"application"`
	Status       DomainStatus      `gorm:"default:'pending'" json:"status"`
	IsMainDomain bool              `gorm:"default:false" json:"is_main_domain"`
	Records      []DNSRecord       `gorm:"foreignKey:DomainConfigID" json:"dns_records"`
	Deployment   DeploymentConfig  `gorm:"embedded;embeddedPrefix:deploy_" json:"deployment"`
	Certificate  *Certificate      `gorm:"foreignKey:DomainConfigID" json:"certificate,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    gorm.DeletedAt    `gorm:"index" json:"-"`
}

// DeploymentConfig describes where and how a domain is served. SSH fields are
// optional; when absent, the pipeline runs in simulated mode.
type DeploymentConfig struct {
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	SSLEnabled    bool   `json:"ssl_enabled"`
	Upstream      string `json:"upstream"`      // proxied application address, e.g. 127.0.0.1:3000
	DocumentRoot  string `json:"document_root"` // static root, used when Upstream is empty
	SSHUser       string `json:"ssh_user,omitempty"`
	SSHKeyPath    string `json:"ssh_key_path,omitempty"`
}
