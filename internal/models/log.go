package models

import "time"

type LogAction string

const (
	ActionDNSSetup     LogAction = "DNS_SETUP"
	ActionDNSVerify    LogAction = "DNS_VERIFY"
	ActionSSLProvision LogAction = "SSL_PROVISION"
	ActionDeploy       LogAction = "DEPLOY"
	ActionRestart      LogAction = "RESTART"
	ActionRollback     LogAction = "ROLLBACK"
	ActionMarkFailed   LogAction = "MARK_FAILED"
)

type LogStatus string

const (
	LogSuccess    LogStatus = "SUCCESS"
	LogFailure    LogStatus = "FAILURE"
	LogInProgress LogStatus = "IN_PROGRESS"
)

// DeploymentLog is the append-only audit trail of a DomainConfig. Rows are
// never updated or deleted while the owning config exists.
type DeploymentLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DomainConfigID uint      `gorm:"not null;index" json:"domain_config_id"`
	RunID          string    `gorm:"size:36" json:"run_id"`
	Action         LogAction `gorm:"size:32;not null;index" json:"action"`
	Status         LogStatus `gorm:"size:16;not null" json:"status"`
	Message        string    `gorm:"type:text" json:"message"`
	CreatedAt      time.Time `json:"timestamp"`
}
