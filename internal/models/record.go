package models

import (
	"net"
	"strconv"
	"strings"
	"time"
)

type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordMX    RecordType = "MX"
	RecordTXT   RecordType = "TXT"
	RecordNS    RecordType = "NS"
	RecordPTR   RecordType = "PTR"
	RecordSRV   RecordType = "SRV"
)

// VerificationStatus is derived by the propagation verifier, never hand-set.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationActive  VerificationStatus = "active"
)

const (
	DefaultTTL = 3600
	MinTTL     = 300
	MaxTTL     = 86400
)

type DNSRecord struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	DomainConfigID uint               `gorm:"index" json:"-"`
	Type           RecordType         `gorm:"not null" json:"type"`
	Name           string             `gorm:"not null" json:"name"` // "@" denotes the apex
	Value          string             `gorm:"not null" json:"value"`
	TTL            int                `gorm:"default:3600" json:"ttl"`
	Priority       int                `json:"priority,omitempty"`
	Status         VerificationStatus `gorm:"default:'pending'" json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

var supportedTypes = map[RecordType]bool{
	RecordA: true, RecordAAAA: true, RecordCNAME: true, RecordMX: true,
	RecordTXT: true, RecordNS: true, RecordPTR: true, RecordSRV: true,
}

// Validate checks the record against all syntactic rules and collects every
// violation instead of stopping at the first one. It performs no I/O.
func (r *DNSRecord) Validate() (bool, []string) {
	var errs []string

	if !supportedTypes[r.Type] {
		errs = append(errs, "unsupported record type: "+string(r.Type))
	}
	if r.Type == RecordA && !validIPv4(r.Value) {
		errs = append(errs, "invalid IPv4 address: "+r.Value)
	}
	if r.Type == RecordAAAA {
		if ip := net.ParseIP(r.Value); ip == nil || ip.To4() != nil {
			errs = append(errs, "invalid IPv6 address: "+r.Value)
		}
	}
	if r.Type == RecordMX && r.Priority == 0 {
		errs = append(errs, "priority required for MX records")
	}
	if strings.Contains(r.Name, " ") {
		errs = append(errs, "record name must not contain spaces")
	}

	return len(errs) == 0, errs
}

// NormalizeTTL applies the domain-level default and clamps into [MinTTL, MaxTTL].
func (r *DNSRecord) NormalizeTTL() {
	switch {
	case r.TTL == 0:
		r.TTL = DefaultTTL
	case r.TTL < MinTTL:
		r.TTL = MinTTL
	case r.TTL > MaxTTL:
		r.TTL = MaxTTL
	}
}

// FQDN resolves the record name relative to the owning domain.
func (r *DNSRecord) FQDN(domain string) string {
	if r.Name == "@" || r.Name == "" {
		return domain
	}
	if strings.HasSuffix(r.Name, ".") {
		return strings.TrimSuffix(r.Name, ".")
	}
	return r.Name + "." + domain
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
