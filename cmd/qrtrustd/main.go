package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"qrtrust/internal/config"
	"qrtrust/internal/domain"
	"qrtrust/internal/infra/anchor"
	"qrtrust/internal/infra/anchor/ethereum"
	"qrtrust/internal/infra/anchor/fabric"
	"qrtrust/internal/infra/anchor/memledger"
	"qrtrust/internal/infra/auditlog"
	"qrtrust/internal/infra/auth/oidc"
	"qrtrust/internal/infra/db"
	httpinfra "qrtrust/internal/infra/http"
	"qrtrust/internal/infra/keys"
	"qrtrust/internal/infra/memstore"
	"qrtrust/internal/infra/policyopa"
	"qrtrust/internal/infra/ratelimit"
	"qrtrust/internal/infra/reservation"
	"qrtrust/internal/logging"
	"qrtrust/internal/usecase"
)

func main() {
	configPath := flag.String("config", os.Getenv("QRTRUST_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.Log)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("qrtrustd exited: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	pair, err := keys.LoadKeyPair(cfg.Keys.PrivateKeyPath, cfg.Keys.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("load issuer keys: %w", err)
	}
	issuerPEM, err := pair.Verifier().PublicKeyPEM()
	if err != nil {
		return fmt.Errorf("encode issuer public key: %w", err)
	}
	log.WithField("algorithm", pair.Algorithm()).Info("issuer key pair loaded")

	store, err := db.NewStore(cfg.Postgres.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	mem := memstore.New()
	var (
		attestations usecase.AttestationStore     = mem
		attempts     domain.AnchorAttemptRecorder = mem
		health       func(context.Context) error
	)
	if store.Enabled() {
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return err
			}
		}
		attestations = db.NewAttestationRepository(store.DB)
		attempts = db.NewAnchorAttemptRepository(store.DB)
		health = store.Ping
	}
	clientOpts := []anchor.Option{anchor.WithLogger(log), anchor.WithAttemptRecorder(attempts)}

	registry, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()
	ledger, err := anchor.NewClient(registry, cfg.Ledger.Timeout, clientOpts...)
	if err != nil {
		return err
	}
	log.WithField("provider", ledger.Provider()).Info("ledger client ready")

	var (
		reserver domain.Reserver    = reservation.NewMemory()
		limiter  domain.RateLimiter = ratelimit.NewMemory(ratelimit.MemoryConfig{MaxKeys: cfg.HTTP.RateLimitMaxKeys})
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		redisReserver, err := reservation.NewRedis(rdb, cfg.ReservationLease(), log)
		if err != nil {
			return err
		}
		redisLimiter, err := ratelimit.NewRedis(rdb, ratelimit.RedisConfig{})
		if err != nil {
			return err
		}
		reserver, limiter = redisReserver, redisLimiter
	}

	issue := &usecase.IssueProduct{
		Store:    attestations,
		Ledger:   ledger,
		Signer:   pair.Signer(),
		Reserver: reserver,
		Log:      log,
	}
	if cfg.Policy.BundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.Policy.BundlePath)
		if err != nil {
			return fmt.Errorf("load issuance policy: %w", err)
		}
		log.WithField("bundle_hash", engine.BundleHash()).Info("issuance policy loaded")
		issue.Policy = engine
	}

	sink, reader, closeAudit, err := openAuditLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	var authenticator httpinfra.Authenticator
	if cfg.Auth.Mode == "oidc" {
		oidcAuth, err := oidc.NewAuthenticator(ctx, oidc.Config{
			IssuerURL: cfg.Auth.OIDCIssuerURL,
			JWKSURL:   cfg.Auth.OIDCJWKSURL,
			Audience:  cfg.Auth.Audience,
			ClockSkew: cfg.Auth.ClockSkew,
		})
		if err != nil {
			return fmt.Errorf("init oidc: %w", err)
		}
		authenticator = oidcAuth
	}

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Issue: issue,
		Verify: &usecase.VerifyAttestation{
			Verifier: pair.Verifier(),
			Store:    attestations,
			Ledger:   ledger,
			Audit:    sink,
			Log:      log,
		},
		Regenerate:    &usecase.RegenerateToken{Store: attestations},
		History:       &usecase.ScanHistory{Reader: reader},
		IssuerKeyPEM:  issuerPEM,
		Health:        health,
		RateLimiter:   limiter,
		Authenticator: authenticator,
		Log:           log,
	})
	if err := srv.Err(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("qrtrustd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openRegistry(ctx context.Context, cfg config.Config) (anchor.Registry, func(), error) {
	switch cfg.Ledger.Provider {
	case domain.LedgerProviderEthereum:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Ledger.Timeout)
		defer cancel()
		reg, err := ethereum.Dial(dialCtx, ethereum.Config{
			RPCURL:          cfg.Ledger.Ethereum.RPCURL,
			ContractAddress: cfg.Ledger.Ethereum.ContractAddress,
			AccountKeyHex:   cfg.Ledger.Ethereum.AccountKey,
			ChainID:         cfg.Ledger.Ethereum.ChainID,
		})
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	case domain.LedgerProviderFabric:
		f := cfg.Ledger.Fabric
		reg, err := fabric.Connect(fabric.Config{
			ConnectionProfile: f.ConnectionProfile,
			WalletPath:        f.WalletPath,
			Identity:          f.Identity,
			Channel:           f.Channel,
			Chaincode:         f.Chaincode,
			MSPID:             f.MSPID,
			CertPath:          f.CertPath,
			KeyPath:           f.KeyPath,
		})
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	default:
		return memledger.New(), func() {}, nil
	}
}

// openAuditLog keeps scan events in Postgres when a DSN is configured and in
// a bounded in-memory ring otherwise.
func openAuditLog(ctx context.Context, cfg config.Config) (domain.ScanEventSink, domain.ScanEventReader, func(), error) {
	if cfg.Postgres.DSN == "" {
		mem := auditlog.NewMemorySink(0)
		return mem, mem, func() {}, nil
	}
	sink, err := auditlog.NewPostgresSink(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, nil, err
	}
	return sink, sink, sink.Close, nil
}
