package services

import (
	"context"
	"fmt"
	"time"

	"domainpilot/internal/models"

	"github.com/libdns/alidns"
	"github.com/libdns/cloudflare"
	"github.com/libdns/libdns"
)

const pushTimeout = 10 * time.Second

// RecordPusher sends a desired record set to the upstream DNS provider.
// Success means "accepted for propagation", not "live". Retries belong to the
// orchestrator, not here.
type RecordPusher interface {
	PushRecords(ctx context.Context, domain string, records []models.DNSRecord) error
}

const (
	PlatformCloudflare = "cloudflare"
	PlatformAliyun     = "aliyun"
)

// ProviderCredentials selects and authenticates the upstream platform.
type ProviderCredentials struct {
	Platform  string
	APIToken  string // cloudflare
	AccessKey string // aliyun
	SecretKey string // aliyun
}

// LibDNSPusher adapts a libdns provider to the orchestrator's push contract.
type LibDNSPusher struct {
	setter libdns.RecordSetter
}

func NewRecordPusher(creds ProviderCredentials) (*LibDNSPusher, error) {
	switch creds.Platform {
	case PlatformCloudflare:
		return &LibDNSPusher{setter: &cloudflare.Provider{APIToken: creds.APIToken}}, nil
	case PlatformAliyun:
		return &LibDNSPusher{setter: &alidns.Provider{
			AccKeyID:     creds.AccessKey,
			AccKeySecret: creds.SecretKey,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported dns platform %q", creds.Platform)
	}
}

func (p *LibDNSPusher) PushRecords(ctx context.Context, domain string, records []models.DNSRecord) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	// libdns zones carry a trailing dot
	if _, err := p.setter.SetRecords(ctx, domain+".", toLibdnsRecords(records)); err != nil {
		return &ProviderError{Domain: domain, Err: err}
	}
	return nil
}

func toLibdnsRecords(records []models.DNSRecord) []libdns.Record {
	recs := make([]libdns.Record, 0, len(records))
	for _, r := range records {
		recs = append(recs, libdns.Record{
			Type:     string(r.Type),
			Name:     r.Name,
			Value:    r.Value,
			TTL:      time.Duration(r.TTL) * time.Second,
			Priority: uint(r.Priority), // validation rejects negative and zero MX priorities
		})
	}
	return recs
}
