package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/mselser95/predict-session/internal/coordinator"
	"github.com/mselser95/predict-session/internal/intent"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/chain"
	"github.com/mselser95/predict-session/pkg/config"
	"github.com/mselser95/predict-session/pkg/healthprobe"
	"github.com/mselser95/predict-session/pkg/httpserver"
	"github.com/mselser95/predict-session/pkg/relay"
	"go.uber.org/zap"
)

// New creates a new application instance and restores persisted sessions.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: setupHealthChecker(),
		ctx:           ctx,
		cancel:        cancel,
	}

	err := a.setup(opts)
	if err != nil {
		a.release()
		cancel()
		return nil, err
	}

	return a, nil
}

func (a *App) setup(opts *Options) error {
	var err error

	a.viewCache, err = setupCache(a.logger)
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}

	a.storage, err = setupStorage(a.ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	signer := opts.Signer
	if signer == nil {
		signer, err = a.setupSigner()
		if err != nil {
			return fmt.Errorf("setup signer: %w", err)
		}
	}

	confirmer := opts.Confirmer
	if confirmer == nil {
		confirmer, err = a.setupConfirmer()
		if err != nil {
			return fmt.Errorf("setup confirmer: %w", err)
		}
	}

	a.coordinator, err = setupCoordinator(a.cfg, a.logger, a.storage, a.viewCache, signer, confirmer)
	if err != nil {
		return fmt.Errorf("setup coordinator: %w", err)
	}

	restored, err := a.coordinator.Restore(a.ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	a.logger.Info("sessions-restored", zap.Int("count", restored))

	a.registerChecks()
	a.httpServer = setupHTTPServer(a.cfg, a.logger, a.healthChecker, a.coordinator)
	return nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	markets httpserver.MarketService,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Markets:       markets,
	})
}

func setupCache(logger *zap.Logger) (*cache.RistrettoCache, error) {
	return cache.NewRistrettoCache(cache.DefaultRistrettoConfig(logger))
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(ctx, &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}

		err = pgStorage.EnsureSchema(ctx)
		if err != nil {
			pgStorage.Close()
			return nil, err
		}
		return pgStorage, nil
	}

	logger.Warn("memory-storage-selected",
		zap.String("note", "sessions are lost on restart"))
	return storage.NewMemoryStorage(logger), nil
}

func (a *App) setupSigner() (coordinator.Signer, error) {
	if a.cfg.SigningMode == "relay" {
		client := relay.New(relay.Config{
			URL:                   a.cfg.RelayWSURL,
			DialTimeout:           a.cfg.RelayDialTimeout,
			PingInterval:          a.cfg.RelayPingInterval,
			ReconnectInitialDelay: a.cfg.RelayReconnectInitial,
			ReconnectMaxDelay:     a.cfg.RelayReconnectMax,
			ReconnectBackoffMult:  a.cfg.RelayReconnectMult,
			Logger:                a.logger,
		})
		err := client.Start()
		if err != nil {
			return nil, fmt.Errorf("start relay client: %w", err)
		}
		a.relayClient = client
		return client, nil
	}

	hexKeys := a.cfg.LocalSignerKeys
	if a.cfg.OperatorPrivateKey != "" {
		hexKeys = append([]string{a.cfg.OperatorPrivateKey}, hexKeys...)
	}
	keys, err := relay.ParseKeys(hexKeys)
	if err != nil {
		return nil, err
	}

	signer := relay.NewLocalSigner(a.logger, keys...)
	addrs := make([]string, 0, len(keys))
	for _, addr := range signer.Addresses() {
		addrs = append(addrs, addr.Hex())
	}
	a.logger.Info("local-signer-ready", zap.String("addresses", strings.Join(addrs, ",")))
	return signer, nil
}

func (a *App) setupConfirmer() (coordinator.Confirmer, error) {
	if a.cfg.ChainRPCURL == "" {
		a.logger.Info("chain-confirmation-disabled",
			zap.String("note", "deposits and withdrawals with a chain ref are rejected"))
		return nil, nil
	}

	confirmer, closeFn, err := chain.Dial(a.ctx, a.cfg.ChainRPCURL, a.logger, &chain.Config{
		Confirmations:  a.cfg.ChainConfirmations,
		InitialBackoff: a.cfg.ChainPollInterval,
		MaxBackoff:     4 * a.cfg.ChainPollInterval,
		BackoffMult:    2,
		Timeout:        a.cfg.ConfirmationTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.closeChain = closeFn
	return confirmer, nil
}

func setupCoordinator(
	cfg *config.Config,
	logger *zap.Logger,
	store storage.Storage,
	viewCache cache.Cache,
	signer coordinator.Signer,
	confirmer coordinator.Confirmer,
) (*coordinator.Coordinator, error) {
	return coordinator.New(&coordinator.Config{
		Storage:   store,
		Signer:    signer,
		Confirmer: confirmer,
		Cache:     viewCache,
		CacheTTL:  cfg.CacheTTL,
		Machine: intent.Config{
			WithdrawCapBPS:    cfg.WithdrawCapBPS,
			RequireSignatures: cfg.RequireIntentSignatures,
		},
		SignatureTimeout: cfg.SignatureTimeout,
		SignatureQuorum:  cfg.SignatureQuorum,
		RetryInitial:     cfg.SignatureRetryInitial,
		RetryMax:         cfg.SignatureRetryMax,
		RetryMultiplier:  cfg.SignatureRetryMultiplier,
		DefaultAsset:     cfg.SessionAsset,
		DefaultLiquidity: cfg.DefaultLiquidity,
		Logger:           logger,
	})
}

func (a *App) registerChecks() {
	a.healthChecker.AddCheck("sessions", func() error {
		halted := a.coordinator.HaltedSessions()
		if len(halted) > 0 {
			return fmt.Errorf("halted sessions: %s", strings.Join(halted, ","))
		}
		return nil
	})

	if a.relayClient != nil {
		a.healthChecker.AddCheck("relay", func() error {
			if !a.relayClient.Connected() {
				return relay.ErrNotConnected
			}
			return nil
		})
	}
}
