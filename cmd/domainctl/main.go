// domainctl is the operator CLI for the domain pipeline. It drives the same
// orchestrator as the API server against the same database, so a pipeline
// started here is visible to the dashboard and vice versa.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"domainpilot/internal/config"
	"domainpilot/internal/database"
	"domainpilot/internal/models"
	"domainpilot/internal/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagIP         string
	flagApp        string
	flagSSL        bool
	flagSubdomains []string
	flagMain       bool
	flagServer     string
	flagPort       int
	flagUpstream   string
	flagSSHUser    string
	flagSSHKey     string
	flagWait       time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "domainctl",
		Short:         "Operator tooling for the domain lifecycle pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setup := &cobra.Command{
		Use:   "setup <domain>",
		Short: "Run the full pipeline: DNS push, verification, TLS, deployment",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetup,
	}
	setup.Flags().StringVar(&flagIP, "ip", "", "target server IP (required)")
	setup.Flags().StringVar(&flagApp, "app", string(models.AppLanding), "application identifier (dashboard|api|landing)")
	setup.Flags().BoolVar(&flagSSL, "ssl", true, "provision a TLS certificate")
	setup.Flags().StringSliceVar(&flagSubdomains, "subdomains", nil, "additional subdomains pointing at the same IP")
	setup.Flags().BoolVar(&flagMain, "main", false, "mark as the primary (undeletable) domain")
	setup.Flags().StringVar(&flagServer, "server", "", "deployment target address, defaults to --ip")
	setup.Flags().IntVar(&flagPort, "port", 0, "listen port, defaults to 80/443")
	setup.Flags().StringVar(&flagUpstream, "upstream", "", "proxied application address")
	setup.Flags().StringVar(&flagSSHUser, "ssh-user", "", "SSH user for remote execution (simulated mode when empty)")
	setup.Flags().StringVar(&flagSSHKey, "ssh-key", "", "SSH private key path")
	setup.Flags().DurationVar(&flagWait, "wait", time.Minute, "how long to wait for DNS propagation")
	_ = setup.MarkFlagRequired("ip")

	verify := &cobra.Command{
		Use:   "verify <domain>",
		Short: "Check DNS propagation for a configured domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			verified, err := orch.VerifyDNS(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !verified {
				return fmt.Errorf("dns for %s has not fully propagated yet", args[0])
			}
			fmt.Printf("%s verified\n", args[0])
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status <domain>",
		Short: "Show the current pipeline state and recent log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := buildOrchestrator()
			if err != nil {
				return err
			}
			cfg, err := orch.GetDomain(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t(updated %s)\n", cfg.Domain, cfg.Status, cfg.UpdatedAt.Format(time.RFC3339))
			logs, err := orch.GetLogs(cfg.ID, "")
			if err != nil {
				return err
			}
			for _, entry := range logs {
				fmt.Printf("  %s\t%s\t%s\t%s\n",
					entry.CreatedAt.Format(time.RFC3339), entry.Action, entry.Status, entry.Message)
			}
			return nil
		},
	}

	root.AddCommand(setup, verify, status)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runSetup(cmd *cobra.Command, args []string) error {
	domain := args[0]
	orch, err := buildOrchestrator()
	if err != nil {
		return err
	}

	server := flagServer
	if server == "" {
		server = flagIP
	}

	id, err := orch.SetupDomain(cmd.Context(), services.SetupRequest{
		Domain:       domain,
		TargetIP:     flagIP,
		Application:  models.ApplicationTarget(flagApp),
		EnableSSL:    flagSSL,
		Subdomains:   flagSubdomains,
		IsMainDomain: flagMain,
		Deployment: models.DeploymentConfig{
			ServerAddress: server,
			Port:          flagPort,
			SSLEnabled:    flagSSL,
			Upstream:      flagUpstream,
			SSHUser:       flagSSHUser,
			SSHKeyPath:    flagSSHKey,
		},
	})
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	fmt.Printf("configured %s (id %d), records pushed\n", domain, id)

	if err := waitForPropagation(cmd.Context(), orch, domain); err != nil {
		return err
	}
	fmt.Printf("dns verified for %s\n", domain)

	if flagSSL {
		cert, err := orch.ProvisionSSL(cmd.Context(), domain, nil)
		if err != nil {
			return fmt.Errorf("provision: %w", err)
		}
		fmt.Printf("certificate from %q valid until %s\n", cert.Issuer, cert.ValidTo.Format(time.RFC3339))
	}

	if err := orch.DeployApplication(cmd.Context(), id, nil); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	fmt.Printf("%s is active\n", domain)
	return nil
}

func waitForPropagation(ctx context.Context, orch *services.Orchestrator, domain string) error {
	deadline := time.Now().Add(flagWait)
	for {
		verified, err := orch.VerifyDNS(ctx, domain)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if verified {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("dns for %s did not propagate within %s; retry later with domainctl verify", domain, flagWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}

func buildOrchestrator() (*services.Orchestrator, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop() // CLI output goes to stdout, not the structured log

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	pusher, err := services.NewRecordPusher(services.ProviderCredentials{
		Platform:  cfg.DNSPlatform,
		APIToken:  cfg.DNSAPIToken,
		AccessKey: cfg.DNSAccessKey,
		SecretKey: cfg.DNSSecretKey,
	})
	if err != nil {
		return nil, err
	}

	monitor := services.NewMonitor()
	return services.NewOrchestrator(services.Deps{
		Store:         database.NewStore(db),
		Pusher:        pusher,
		Verifier:      services.NewVerifier(cfg.ResolverURL),
		Certs:         services.NewProvisioner(cfg.ACMEEmail, logger),
		Driver:        services.NewDriver(monitor, logger),
		Monitor:       monitor,
		Log:           logger,
		PrimaryDomain: cfg.PrimaryDomain,
		DefaultTTL:    cfg.RecordTTL,
		SSHUser:       cfg.SSHUser,
		SSHKeyPath:    cfg.SSHKeyPath,
	}), nil
}
