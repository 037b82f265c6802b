package app

import (
	"context"
	"sync"

	"github.com/mselser95/predict-session/internal/coordinator"
	"github.com/mselser95/predict-session/internal/storage"
	"github.com/mselser95/predict-session/pkg/cache"
	"github.com/mselser95/predict-session/pkg/config"
	"github.com/mselser95/predict-session/pkg/healthprobe"
	"github.com/mselser95/predict-session/pkg/httpserver"
	"github.com/mselser95/predict-session/pkg/relay"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	coordinator   *coordinator.Coordinator
	storage       storage.Storage
	viewCache     *cache.RistrettoCache
	relayClient   *relay.Client // nil unless SIGNING_MODE=relay
	closeChain    func()        // nil without CHAIN_RPC_URL
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// Signer and Confirmer replace the configured ones when set.
	Signer    coordinator.Signer
	Confirmer coordinator.Confirmer
}

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}
