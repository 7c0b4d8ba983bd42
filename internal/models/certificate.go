package models

import "time"

type Certificate struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DomainConfigID uint      `gorm:"index" json:"-"`
	Issuer         string    `json:"issuer"`
	ValidFrom      time.Time `json:"valid_from"`
	ValidTo        time.Time `json:"valid_to"`
	SerialNumber   string    `json:"serial_number"`
	Fingerprint    string    `json:"fingerprint"` // SHA-256 over the DER encoding
	AutoRenew      bool      `gorm:"default:true" json:"auto_renew"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DaysUntilExpiry reports full days left in the validity window; negative once
// the certificate has expired.
func (c *Certificate) DaysUntilExpiry(now time.Time) int {
	return int(c.ValidTo.Sub(now).Hours() / 24)
}

// IsValid reports whether now falls within the validity window.
func (c *Certificate) IsValid(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidTo)
}
