package main

import (
	"log"

	"domainpilot/internal/config"
	"domainpilot/internal/database"
	"domainpilot/internal/handlers"
	"domainpilot/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Init DB
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to init database", zap.Error(err))
	}
	store := database.NewStore(db)

	// 3. Build the pipeline services
	pusher, err := services.NewRecordPusher(services.ProviderCredentials{
		Platform:  cfg.DNSPlatform,
		APIToken:  cfg.DNSAPIToken,
		AccessKey: cfg.DNSAccessKey,
		SecretKey: cfg.DNSSecretKey,
	})
	if err != nil {
		logger.Fatal("failed to init dns provider", zap.Error(err))
	}

	monitor := services.NewMonitor()
	orch := services.NewOrchestrator(services.Deps{
		Store:         store,
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
	})

	// 4. API Server
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api := e.Group("/api")
	handlers.RegisterRoutes(api, orch)

	logger.Info("domainpilot starting", zap.String("addr", cfg.ListenAddr))
	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}
