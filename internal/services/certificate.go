package services

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"domainpilot/internal/models"

	"go.uber.org/zap"
)

const (
	provisionTimeout = 60 * time.Second

	// RenewThresholdDays is the validity floor below which an existing
	// certificate is renewed instead of reused.
	RenewThresholdDays = 30

	// SimulatedIssuer marks certificates synthesized without a live CA.
	SimulatedIssuer = "DomainPilot Staging CA"

	simulatedValidity = 90 * 24 * time.Hour
)

// Provisioner requests or renews TLS certificates. In remote mode it drives
// certbot over the execution channel; in simulated mode it synthesizes a
// deterministic certificate so the rest of the pipeline can proceed without a
// live CA.
type Provisioner struct {
	email string
	log   *zap.Logger
	now   func() time.Time
}

func NewProvisioner(email string, log *zap.Logger) *Provisioner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provisioner{email: email, log: log, now: time.Now}
}

// Provision returns a certificate for the domain. Re-provisioning a
// certificate that is still valid beyond the renewal threshold is a no-op
// that returns the existing certificate unchanged, with no remote call.
func (p *Provisioner) Provision(ctx context.Context, domain string, mode ExecutionMode, existing *models.Certificate) (*models.Certificate, error) {
	now := p.now()
	if existing != nil && existing.IsValid(now) && existing.DaysUntilExpiry(now) > RenewThresholdDays {
		p.log.Debug("certificate still valid, skipping provisioning",
			zap.String("domain", domain),
			zap.Int("days_until_expiry", existing.DaysUntilExpiry(now)))
		return existing, nil
	}

	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()

	if mode.Simulated() {
		return p.simulate(domain), nil
	}
	return p.remote(ctx, domain, mode.Remote)
}

func (p *Provisioner) simulate(domain string) *models.Certificate {
	now := p.now()
	digest := sha256.Sum256([]byte(domain))
	fingerprint := hex.EncodeToString(digest[:])
	return &models.Certificate{
		Issuer:       SimulatedIssuer,
		ValidFrom:    now,
		ValidTo:      now.Add(simulatedValidity),
		SerialNumber: fingerprint[:16],
		Fingerprint:  fingerprint,
		AutoRenew:    true,
	}
}

func (p *Provisioner) remote(ctx context.Context, domain string, exec Executor) (*models.Certificate, error) {
	cmd := fmt.Sprintf(
		"certbot certonly --nginx --non-interactive --agree-tos -m %s -d %s",
		p.email, domain,
	)
	if out, err := exec.Run(ctx, cmd); err != nil {
		return nil, &ProvisioningError{Domain: domain, Err: fmt.Errorf("%w: %s", err, out)}
	}

	pemOut, err := exec.Run(ctx, fmt.Sprintf("cat /etc/letsencrypt/live/%s/fullchain.pem", domain))
	if err != nil {
		return nil, &ProvisioningError{Domain: domain, Err: err}
	}

	cert, err := parseLeafCertificate([]byte(pemOut))
	if err != nil {
		return nil, &ProvisioningError{Domain: domain, Err: err}
	}

	digest := sha256.Sum256(cert.Raw)
	return &models.Certificate{
		Issuer:       cert.Issuer.CommonName,
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
		SerialNumber: cert.SerialNumber.Text(16),
		Fingerprint:  hex.EncodeToString(digest[:]),
		AutoRenew:    true,
	}, nil
}

func parseLeafCertificate(chain []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(chain)
	if block == nil {
		return nil, errors.New("no PEM block in certificate output")
	}
	return x509.ParseCertificate(block.Bytes)
}
