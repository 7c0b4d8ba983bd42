package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"domainpilot/internal/database"
	"domainpilot/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+\.[a-zA-Z]{2,}$`)

// legal forward transitions; anything else is a programming error. The
// active -> dns_verified edge is the rollback path.
var transitions = map[models.DomainStatus][]models.DomainStatus{
	models.StatusPending:        {models.StatusDNSConfigured},
	models.StatusDNSConfigured:  {models.StatusDNSVerified},
	models.StatusDNSVerified:    {models.StatusSSLProvisioned},
	models.StatusSSLProvisioned: {models.StatusActive},
	models.StatusActive:         {models.StatusDNSVerified},
}

// Deps wires the orchestrator's collaborators. Store, Pusher, Verifier,
// Certs, Driver and Monitor are required; the rest default sensibly.
type Deps struct {
	Store    *database.Store
	Pusher   RecordPusher
	Verifier *Verifier
	Certs    *Provisioner
	Driver   *Driver
	Monitor  *Monitor
	Log      *zap.Logger

	PrimaryDomain string
	DefaultTTL    int
	SSHUser       string // default credentials for ad hoc health probes
	SSHKeyPath    string

	// ResolveMode defaults to ResolveExecutionMode; tests substitute it.
	ResolveMode func(models.DeploymentConfig) (ExecutionMode, error)
}

// Orchestrator owns the DomainConfig state machine. It sequences DNS push,
// propagation verification, certificate provisioning and deployment, persists
// every transition, and writes exactly one audit log row per attempted step.
// It holds no domain state itself beyond the per-domain advisory locks.
type Orchestrator struct {
	store       *database.Store
	pusher      RecordPusher
	verifier    *Verifier
	certs       *Provisioner
	driver      *Driver
	monitor     *Monitor
	log         *zap.Logger
	primary     string
	defaultTTL  int
	sshUser     string
	sshKeyPath  string
	resolveMode func(models.DeploymentConfig) (ExecutionMode, error)

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.DefaultTTL == 0 {
		deps.DefaultTTL = models.DefaultTTL
	}
	if deps.ResolveMode == nil {
		deps.ResolveMode = ResolveExecutionMode
	}
	return &Orchestrator{
		store:       deps.Store,
		pusher:      deps.Pusher,
		verifier:    deps.Verifier,
		certs:       deps.Certs,
		driver:      deps.Driver,
		monitor:     deps.Monitor,
		log:         deps.Log,
		primary:     deps.PrimaryDomain,
		defaultTTL:  deps.DefaultTTL,
		sshUser:     deps.SSHUser,
		sshKeyPath:  deps.SSHKeyPath,
		resolveMode: deps.ResolveMode,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetupRequest is the inbound contract for SetupDomain.
type SetupRequest struct {
	Domain       string                   `json:"domain"`
	TargetIP     string                   `json:"target_ip"`
	Application  models.ApplicationTarget `json:"application"`
	EnableSSL    bool                     `json:"enable_ssl"`
	Subdomains   []string                 `json:"subdomains,omitempty"`
	IsMainDomain bool                     `json:"is_main_domain,omitempty"`
	ExtraRecords []models.DNSRecord       `json:"extra_records,omitempty"`
	Deployment   models.DeploymentConfig  `json:"deployment"`
}

// SetupDomain upserts the config for a domain and, while the domain is still
// pending, pushes its record set to the DNS provider. Calling it again for an
// existing domain returns the existing ID and resumes from the current status
// instead of restarting the pipeline.
func (o *Orchestrator) SetupDomain(ctx context.Context, req SetupRequest) (uint, error) {
	if !domainPattern.MatchString(req.Domain) {
		return 0, &ValidationError{Field: "domain", Issues: []string{"must match name.tld with letters, digits and hyphens"}}
	}

	records := o.buildRecords(req)
	var issues []string
	for i := range records {
		if ok, errs := records[i].Validate(); !ok {
			issues = append(issues, errs...)
		}
	}
	if len(issues) > 0 {
		return 0, &ValidationError{Field: "dns_records", Issues: issues}
	}

	unlock, err := o.lock(req.Domain)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cfg, err := o.store.UpsertDomain(&models.DomainConfig{
		Domain:       req.Domain,
		Application:  req.Application,
		Status:       models.StatusPending,
		IsMainDomain: req.IsMainDomain,
		Records:      records,
		Deployment:   req.Deployment,
	})
	if err != nil {
		return 0, err
	}

	if cfg.Status != models.StatusPending {
		o.log.Info("domain already set up, resuming",
			zap.String("domain", cfg.Domain), zap.String("status", string(cfg.Status)))
		return cfg.ID, nil
	}

	runID := uuid.NewString()
	if err := o.pusher.PushRecords(ctx, cfg.Domain, cfg.Records); err != nil {
		o.appendLog(cfg, runID, models.ActionDNSSetup, models.LogFailure, failureMessage(err))
		return cfg.ID, err
	}
	if err := o.advance(cfg, models.StatusDNSConfigured); err != nil {
		return cfg.ID, err
	}
	o.appendLog(cfg, runID, models.ActionDNSSetup, models.LogSuccess,
		fmt.Sprintf("pushed %d records to provider", len(cfg.Records)))

	return cfg.ID, nil
}

// VerifyDNS resolves the domain's verifiable records against the public
// resolver and refreshes their status. Partial propagation is not an error;
// the call simply reports false. The config moves to dns_verified only when
// every verifiable record resolved and the domain was dns_configured.
func (o *Orchestrator) VerifyDNS(ctx context.Context, domain string) (bool, error) {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return false, err
	}
	if cfg.Status == models.StatusPending || cfg.Status == models.StatusFailed {
		return false, ErrNotReady
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return false, err
	}
	defer unlock()

	runID := uuid.NewString()
	if err := ctx.Err(); err != nil {
		o.appendLog(cfg, runID, models.ActionDNSVerify, models.LogFailure, failureMessage(err))
		return false, err
	}

	report := o.verifier.VerifyRecords(ctx, cfg.Domain, cfg.Records)
	for i := range cfg.Records {
		key := RecordKey{Type: cfg.Records[i].Type, Name: cfg.Records[i].Name}
		if ok, checked := report[key]; checked {
			if ok {
				cfg.Records[i].Status = models.VerificationActive
			} else {
				cfg.Records[i].Status = models.VerificationPending
			}
		}
	}
	if err := o.store.SaveRecordStatuses(cfg.Records); err != nil {
		o.appendLog(cfg, runID, models.ActionDNSVerify, models.LogFailure, failureMessage(err))
		return false, err
	}
	if err := o.store.Touch(cfg); err != nil {
		o.appendLog(cfg, runID, models.ActionDNSVerify, models.LogFailure, failureMessage(err))
		return false, err
	}

	verified := report.AllVerified()
	if verified {
		if cfg.Status == models.StatusDNSConfigured {
			if err := o.advance(cfg, models.StatusDNSVerified); err != nil {
				return false, err
			}
		}
		o.appendLog(cfg, runID, models.ActionDNSVerify, models.LogSuccess,
			fmt.Sprintf("all %d records verified", len(report)))
	} else {
		o.appendLog(cfg, runID, models.ActionDNSVerify, models.LogFailure,
			fmt.Sprintf("%d of %d records verified, propagation incomplete", report.Verified(), len(report)))
	}

	return verified, nil
}

// ProvisionSSL requests or renews the domain's certificate. The domain must
// already be dns_verified (or further along, for renewal); anything earlier is
// an ordering violation.
func (o *Orchestrator) ProvisionSSL(ctx context.Context, domain string, dep *models.DeploymentConfig) (*models.Certificate, error) {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return nil, err
	}
	switch cfg.Status {
	case models.StatusDNSVerified, models.StatusSSLProvisioned, models.StatusActive:
	default:
		return nil, fmt.Errorf("%w: certificate provisioning requires a verified domain, status is %s", ErrNotReady, cfg.Status)
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return nil, err
	}
	defer unlock()

	deployment := cfg.Deployment
	if dep != nil {
		deployment = *dep
	}

	runID := uuid.NewString()
	mode, err := o.resolveMode(deployment)
	if err != nil {
		err = &ProvisioningError{Domain: domain, Err: err}
		o.appendLog(cfg, runID, models.ActionSSLProvision, models.LogFailure, failureMessage(err))
		return nil, err
	}

	cert, err := o.certs.Provision(ctx, cfg.Domain, mode, cfg.Certificate)
	if err != nil {
		o.appendLog(cfg, runID, models.ActionSSLProvision, models.LogFailure, failureMessage(err))
		return nil, err
	}

	if cert != cfg.Certificate {
		if err := o.store.SaveCertificate(cfg, cert); err != nil {
			return nil, err
		}
	}
	if cfg.Status == models.StatusDNSVerified {
		if err := o.advance(cfg, models.StatusSSLProvisioned); err != nil {
			return nil, err
		}
	}
	o.appendLog(cfg, runID, models.ActionSSLProvision, models.LogSuccess,
		fmt.Sprintf("certificate from %q valid until %s (%s mode)",
			cert.Issuer, cert.ValidTo.Format(time.RFC3339), mode))

	return cert, nil
}

// DeployApplication generates the proxy configuration, applies it and marks
// the domain active once the deployment driver reports a healthy server.
func (o *Orchestrator) DeployApplication(ctx context.Context, domainID uint, dep *models.DeploymentConfig) error {
	cfg, err := o.store.FindDomainByID(domainID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrDomainNotFound
		}
		return err
	}
	switch cfg.Status {
	case models.StatusSSLProvisioned, models.StatusActive:
	default:
		return fmt.Errorf("%w: deployment requires a provisioned domain, status is %s", ErrNotReady, cfg.Status)
	}

	unlock, err := o.lock(cfg.Domain)
	if err != nil {
		return err
	}
	defer unlock()

	deployment := cfg.Deployment
	if dep != nil {
		deployment = *dep
	}

	runID := uuid.NewString()
	mode, err := o.resolveMode(deployment)
	if err != nil {
		err = &DeploymentError{Domain: cfg.Domain, Err: err}
		o.appendLog(cfg, runID, models.ActionDeploy, models.LogFailure, failureMessage(err))
		return err
	}

	if err := o.driver.Deploy(ctx, cfg.Domain, deployment, mode); err != nil {
		o.appendLog(cfg, runID, models.ActionDeploy, models.LogFailure, failureMessage(err))
		return err
	}

	if cfg.Status == models.StatusSSLProvisioned {
		if err := o.advance(cfg, models.StatusActive); err != nil {
			return err
		}
	}
	o.appendLog(cfg, runID, models.ActionDeploy, models.LogSuccess,
		fmt.Sprintf("deployed %s via %s mode, server healthy", cfg.Domain, mode))

	return nil
}

// RestartApplication bounces the served process for an active domain. The
// status does not change; the restart is only recorded in the audit log.
func (o *Orchestrator) RestartApplication(ctx context.Context, domain string) error {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return err
	}
	if cfg.Status != models.StatusActive {
		return fmt.Errorf("%w: restart requires an active domain, status is %s", ErrNotReady, cfg.Status)
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return err
	}
	defer unlock()

	runID := uuid.NewString()
	mode, err := o.resolveMode(cfg.Deployment)
	if err == nil {
		err = o.driver.Restart(ctx, cfg.Domain, mode)
	}
	if err != nil {
		o.appendLog(cfg, runID, models.ActionRestart, models.LogFailure, failureMessage(err))
		return err
	}
	o.appendLog(cfg, runID, models.ActionRestart, models.LogSuccess, "application restarted")
	return nil
}

// RollbackDeployment takes an active domain out of service, invalidates its
// certificate and returns it to dns_verified for a clean re-run.
func (o *Orchestrator) RollbackDeployment(ctx context.Context, domain string) error {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return err
	}
	if cfg.Status != models.StatusActive {
		return fmt.Errorf("%w: rollback requires an active domain, status is %s", ErrNotReady, cfg.Status)
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return err
	}
	defer unlock()

	runID := uuid.NewString()
	mode, err := o.resolveMode(cfg.Deployment)
	if err == nil {
		err = o.driver.Rollback(ctx, cfg.Domain, mode)
	}
	if err != nil {
		o.appendLog(cfg, runID, models.ActionRollback, models.LogFailure, failureMessage(err))
		return err
	}

	if err := o.store.DeleteCertificate(cfg); err != nil {
		return err
	}
	if err := o.advance(cfg, models.StatusDNSVerified); err != nil {
		return err
	}
	o.appendLog(cfg, runID, models.ActionRollback, models.LogSuccess,
		"deployment rolled back, certificate invalidated")
	return nil
}

// MarkFailed records operator-declared unrecoverable failure. The pipeline
// never re-enters a failed domain on its own.
func (o *Orchestrator) MarkFailed(domain, reason string) error {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return err
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return err
	}
	defer unlock()

	if err := o.store.UpdateStatus(cfg, models.StatusFailed); err != nil {
		return err
	}
	o.appendLog(cfg, uuid.NewString(), models.ActionMarkFailed, models.LogSuccess, "marked failed: "+reason)
	o.log.Warn("domain marked failed", zap.String("domain", domain), zap.String("reason", reason))
	return nil
}

// DeleteDomain removes a config and its audit trail. The primary domain is
// permanently protected.
func (o *Orchestrator) DeleteDomain(ctx context.Context, domain string) error {
	cfg, err := o.loadDomain(domain)
	if err != nil {
		return err
	}
	if cfg.IsMainDomain || (o.primary != "" && cfg.Domain == o.primary) {
		return ErrProtectedDomain
	}

	unlock, err := o.lock(domain)
	if err != nil {
		return err
	}
	defer unlock()

	return o.store.DeleteDomain(cfg)
}

func (o *Orchestrator) GetDomain(domain string) (*models.DomainConfig, error) {
	return o.loadDomain(domain)
}

func (o *Orchestrator) ListDomains(filter database.ListFilter) ([]models.DomainConfig, error) {
	return o.store.ListDomains(filter)
}

func (o *Orchestrator) GetLogs(domainID uint, action models.LogAction) ([]models.DeploymentLog, error) {
	return o.store.ListLogs(domainID, action)
}

// GetHealth probes a server directly, using the configured default SSH
// credentials when present and simulated mode otherwise.
func (o *Orchestrator) GetHealth(ctx context.Context, serverAddr string) (HealthReport, error) {
	mode, err := o.resolveMode(models.DeploymentConfig{
		ServerAddress: serverAddr,
		SSHUser:       o.sshUser,
		SSHKeyPath:    o.sshKeyPath,
	})
	if err != nil {
		return HealthReport{}, err
	}
	return o.monitor.Probe(ctx, mode)
}

func (o *Orchestrator) buildRecords(req SetupRequest) []models.DNSRecord {
	records := []models.DNSRecord{
		{Type: models.RecordA, Name: "@", Value: req.TargetIP},
	}
	for _, sub := range req.Subdomains {
		records = append(records, models.DNSRecord{Type: models.RecordA, Name: sub, Value: req.TargetIP})
	}
	records = append(records, req.ExtraRecords...)

	for i := range records {
		if records[i].TTL == 0 {
			records[i].TTL = o.defaultTTL
		}
		records[i].NormalizeTTL()
		records[i].Status = models.VerificationPending
	}
	return records
}

// lock takes the per-domain advisory lock, failing fast when another step for
// the same domain is in flight.
func (o *Orchestrator) lock(domain string) (func(), error) {
	o.locksMu.Lock()
	l, ok := o.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		o.locks[domain] = l
	}
	o.locksMu.Unlock()

	if !l.TryLock() {
		return nil, ErrAlreadyInProgress
	}
	return l.Unlock, nil
}

func (o *Orchestrator) loadDomain(domain string) (*models.DomainConfig, error) {
	cfg, err := o.store.FindDomain(domain)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (o *Orchestrator) advance(cfg *models.DomainConfig, next models.DomainStatus) error {
	for _, allowed := range transitions[cfg.Status] {
		if allowed == next {
			return o.store.UpdateStatus(cfg, next)
		}
	}
	return fmt.Errorf("illegal status transition %s -> %s for %s", cfg.Status, next, cfg.Domain)
}

func (o *Orchestrator) appendLog(cfg *models.DomainConfig, runID string, action models.LogAction, status models.LogStatus, msg string) {
	entry := &models.DeploymentLog{
		DomainConfigID: cfg.ID,
		RunID:          runID,
		Action:         action,
		Status:         status,
		Message:        msg,
	}
	if err := o.store.AppendLog(entry); err != nil {
		o.log.Error("failed to append deployment log",
			zap.String("domain", cfg.Domain), zap.String("action", string(action)), zap.Error(err))
	}
	o.log.Info("pipeline step",
		zap.String("domain", cfg.Domain),
		zap.String("run_id", runID),
		zap.String("action", string(action)),
		zap.String("status", string(status)),
		zap.String("message", msg))
}

func failureMessage(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return err.Error()
}
