package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"domainpilot/internal/database"
	"domainpilot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRequest(domain string) SetupRequest {
	return SetupRequest{
		Domain:      domain,
		TargetIP:    "203.0.113.10",
		Application: models.AppLanding,
		EnableSSL:   true,
		Deployment: models.DeploymentConfig{
			ServerAddress: "203.0.113.10",
			Upstream:      "127.0.0.1:3000",
			SSLEnabled:    true,
		},
	}
}

func TestFullPipeline(t *testing.T) {
	ctx := context.Background()
	srv := newDoHServer(t, map[string][]string{
		"example.ga|A": {"203.0.113.10"},
	})
	pusher := &fakePusher{}
	orch, _ := newTestOrchestrator(t, pusher, srv.URL, nil)

	var seen []models.DomainStatus
	statusOf := func(domain string) models.DomainStatus {
		cfg, err := orch.GetDomain(domain)
		require.NoError(t, err)
		return cfg.Status
	}

	// pending -> dns_configured
	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)
	require.NotZero(t, id)
	seen = append(seen, statusOf("example.ga"))

	// dns_configured -> dns_verified
	verified, err := orch.VerifyDNS(ctx, "example.ga")
	require.NoError(t, err)
	require.True(t, verified)
	seen = append(seen, statusOf("example.ga"))

	// dns_verified -> ssl_provisioned, simulated mode (no SSH credentials)
	cert, err := orch.ProvisionSSL(ctx, "example.ga", nil)
	require.NoError(t, err)
	assert.Equal(t, SimulatedIssuer, cert.Issuer)
	assert.InDelta(t, 90, cert.DaysUntilExpiry(time.Now()), 1)
	seen = append(seen, statusOf("example.ga"))

	// ssl_provisioned -> active
	require.NoError(t, orch.DeployApplication(ctx, id, nil))
	seen = append(seen, statusOf("example.ga"))

	assert.Equal(t, []models.DomainStatus{
		models.StatusDNSConfigured,
		models.StatusDNSVerified,
		models.StatusSSLProvisioned,
		models.StatusActive,
	}, seen, "monotonic progression with no skipped or repeated states")

	logs, err := orch.GetLogs(id, "")
	require.NoError(t, err)
	require.Len(t, logs, 4)
	wantActions := []models.LogAction{
		models.ActionDNSSetup, models.ActionDNSVerify,
		models.ActionSSLProvision, models.ActionDeploy,
	}
	for i, entry := range logs {
		assert.Equal(t, wantActions[i], entry.Action)
		assert.Equal(t, models.LogSuccess, entry.Status)
	}
	assert.Contains(t, logs[2].Message, "simulated mode")
}

func TestSetupDomainIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	orch, _ := newTestOrchestrator(t, pusher, "http://127.0.0.1:1", nil)

	first, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)

	second, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "same ID for the same domain")
	assert.Equal(t, 1, pusher.calls, "resumed setup does not push again")

	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDNSConfigured, cfg.Status, "status never regresses")
}

func TestSetupDomainValidation(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{}
	orch, _ := newTestOrchestrator(t, pusher, "http://127.0.0.1:1", nil)

	var valErr *ValidationError

	_, err := orch.SetupDomain(ctx, SetupRequest{Domain: "not_a_domain", TargetIP: "203.0.113.10"})
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "domain", valErr.Field)

	req := setupRequest("example.ga")
	req.TargetIP = "999.1.1.1"
	_, err = orch.SetupDomain(ctx, req)
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "dns_records", valErr.Field)

	// Validation failures never reach the pipeline, so no config and no logs.
	assert.Equal(t, 0, pusher.calls)
	_, err = orch.GetDomain("example.ga")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestSetupDomainProviderFailure(t *testing.T) {
	ctx := context.Background()
	pusher := &fakePusher{err: &ProviderError{Domain: "example.ga", Err: errors.New("zone not found")}}
	orch, _ := newTestOrchestrator(t, pusher, "http://127.0.0.1:1", nil)

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	require.NotZero(t, id, "the config is persisted even when the push fails")

	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, cfg.Status, "pipeline halts at pending")

	logs, err := orch.GetLogs(id, models.ActionDNSSetup)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogFailure, logs[0].Status)
}

func TestVerifyDNSPartialPropagationKeepsStatus(t *testing.T) {
	ctx := context.Background()
	srv := newDoHServer(t, map[string][]string{
		"example.ga|A": {"203.0.113.10"},
		// www.example.ga not propagated yet
	})
	orch, _ := newTestOrchestrator(t, &fakePusher{}, srv.URL, nil)

	req := setupRequest("example.ga")
	req.Subdomains = []string{"www"}
	id, err := orch.SetupDomain(ctx, req)
	require.NoError(t, err)

	verified, err := orch.VerifyDNS(ctx, "example.ga")
	require.NoError(t, err, "partial propagation is not an error")
	assert.False(t, verified)

	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDNSConfigured, cfg.Status, "no transition on partial propagation")

	byName := map[string]models.VerificationStatus{}
	for _, r := range cfg.Records {
		byName[r.Name] = r.Status
	}
	assert.Equal(t, models.VerificationActive, byName["@"])
	assert.Equal(t, models.VerificationPending, byName["www"])

	logs, err := orch.GetLogs(id, models.ActionDNSVerify)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogFailure, logs[0].Status)
	assert.Contains(t, logs[0].Message, "1 of 2")
}

func TestProvisionSSLOrderingViolation(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)

	// Still dns_configured: provisioning is an ordering violation, not a retry.
	_, err = orch.ProvisionSSL(ctx, "example.ga", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	err = orch.DeployApplication(ctx, id, nil)
	assert.ErrorIs(t, err, ErrNotReady)

	logs, err := orch.GetLogs(id, "")
	require.NoError(t, err)
	assert.Len(t, logs, 1, "ordering violations are not pipeline steps and are not logged")
}

func TestProvisionSSLFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	srv := newDoHServer(t, map[string][]string{"example.ga|A": {"203.0.113.10"}})
	failingResolve := func(models.DeploymentConfig) (ExecutionMode, error) {
		return ExecutionMode{Remote: &fakeExec{err: errors.New("certbot: challenge failed")}}, nil
	}
	orch, _ := newTestOrchestrator(t, &fakePusher{}, srv.URL, failingResolve)

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)
	verified, err := orch.VerifyDNS(ctx, "example.ga")
	require.NoError(t, err)
	require.True(t, verified)

	_, err = orch.ProvisionSSL(ctx, "example.ga", nil)
	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)

	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDNSVerified, cfg.Status, "failed step leaves status unchanged")
	assert.Nil(t, cfg.Certificate)

	logs, err := orch.GetLogs(id, models.ActionSSLProvision)
	require.NoError(t, err)
	require.Len(t, logs, 1, "exactly one FAILURE entry for the failed step")
	assert.Equal(t, models.LogFailure, logs[0].Status)
}

func TestRestartAndRollback(t *testing.T) {
	ctx := context.Background()
	srv := newDoHServer(t, map[string][]string{"example.ga|A": {"203.0.113.10"}})
	orch, _ := newTestOrchestrator(t, &fakePusher{}, srv.URL, nil)

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)
	_, err = orch.VerifyDNS(ctx, "example.ga")
	require.NoError(t, err)
	_, err = orch.ProvisionSSL(ctx, "example.ga", nil)
	require.NoError(t, err)
	require.NoError(t, orch.DeployApplication(ctx, id, nil))

	// Restart keeps the domain active.
	require.NoError(t, orch.RestartApplication(ctx, "example.ga"))
	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, cfg.Status)

	// Rollback drops to dns_verified and invalidates the certificate.
	require.NoError(t, orch.RollbackDeployment(ctx, "example.ga"))
	cfg, err = orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDNSVerified, cfg.Status)
	assert.Nil(t, cfg.Certificate)

	// The pipeline can be re-run from there.
	_, err = orch.ProvisionSSL(ctx, "example.ga", nil)
	require.NoError(t, err)

	restarts, err := orch.GetLogs(id, models.ActionRestart)
	require.NoError(t, err)
	assert.Len(t, restarts, 1)
	rollbacks, err := orch.GetLogs(id, models.ActionRollback)
	require.NoError(t, err)
	assert.Len(t, rollbacks, 1)
}

func TestDeleteDomainProtection(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	req := setupRequest("example.ga")
	req.IsMainDomain = true
	_, err := orch.SetupDomain(ctx, req)
	require.NoError(t, err)
	_, err = orch.SetupDomain(ctx, setupRequest("other.ga"))
	require.NoError(t, err)

	err = orch.DeleteDomain(ctx, "example.ga")
	assert.ErrorIs(t, err, ErrProtectedDomain)
	_, err = orch.GetDomain("example.ga")
	assert.NoError(t, err, "protected config left untouched")

	require.NoError(t, orch.DeleteDomain(ctx, "other.ga"))
	_, err = orch.GetDomain("other.ga")
	assert.ErrorIs(t, err, ErrDomainNotFound)
}

func TestConcurrencyGuard(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	_, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)

	unlock, err := orch.lock("example.ga")
	require.NoError(t, err)
	defer unlock()

	_, err = orch.SetupDomain(ctx, setupRequest("example.ga"))
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	_, err = orch.VerifyDNS(ctx, "example.ga")
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.ErrorIs(t, orch.MarkFailed("example.ga", "x"), ErrAlreadyInProgress)
}

func TestVerifyDNSCancellation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	id, err := orch.SetupDomain(context.Background(), setupRequest("example.ga"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = orch.VerifyDNS(ctx, "example.ga")
	require.ErrorIs(t, err, context.Canceled)

	logs, err := orch.GetLogs(id, models.ActionDNSVerify)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogFailure, logs[0].Status)
	assert.Equal(t, "cancelled", logs[0].Message)

	cfg, err := orch.GetDomain("example.ga")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDNSConfigured, cfg.Status, "status keeps its last confirmed value")
}

func TestMarkFailedBlocksPipeline(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)
	require.NoError(t, orch.MarkFailed("example.ga", "operator intervention required"))

	_, err = orch.VerifyDNS(ctx, "example.ga")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = orch.ProvisionSSL(ctx, "example.ga", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	logs, err := orch.GetLogs(id, models.ActionMarkFailed)
	require.NoError(t, err)
	require.Len(t, logs, 1, "marking failed is audited like every other mutation")
	assert.Equal(t, models.LogSuccess, logs[0].Status)
	assert.Contains(t, logs[0].Message, "operator intervention required")
}

func TestVerifyDNSStoreFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	db, err := database.InitDB("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	store := database.NewStore(db)

	monitor := NewMonitor()
	orch := NewOrchestrator(Deps{
		Store:    store,
		Pusher:   &fakePusher{},
		Verifier: NewVerifier("http://127.0.0.1:1"),
		Certs:    NewProvisioner("ops@example.com", nil),
		Driver:   NewDriver(monitor, nil),
		Monitor:  monitor,
	})

	id, err := orch.SetupDomain(ctx, setupRequest("example.ga"))
	require.NoError(t, err)

	// Break the record-status write path mid-pipeline.
	require.NoError(t, db.Migrator().DropColumn(&models.DNSRecord{}, "status"))

	_, err = orch.VerifyDNS(ctx, "example.ga")
	require.Error(t, err)

	logs, err := orch.GetLogs(id, models.ActionDNSVerify)
	require.NoError(t, err)
	require.Len(t, logs, 1, "a store failure mid-step still leaves one FAILURE entry")
	assert.Equal(t, models.LogFailure, logs[0].Status)
}

func TestListDomainsAndHealth(t *testing.T) {
	ctx := context.Background()
	orch, _ := newTestOrchestrator(t, &fakePusher{}, "http://127.0.0.1:1", nil)

	_, err := orch.SetupDomain(ctx, setupRequest("a.example"))
	require.NoError(t, err)
	_, err = orch.SetupDomain(ctx, setupRequest("b.example"))
	require.NoError(t, err)

	configs, err := orch.ListDomains(database.ListFilter{Status: models.StatusDNSConfigured})
	require.NoError(t, err)
	assert.Len(t, configs, 2)

	// No default SSH credentials: the probe runs in simulated mode.
	report, err := orch.GetHealth(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, report.Status)
}
