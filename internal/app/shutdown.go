package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. In-flight intents finish
// before storage closes.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to signal all components
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new intents arrive
	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Wait for all goroutines
	a.wg.Wait()

	a.release()

	a.logger.Info("application-shutdown-complete")

	return nil
}

// release closes the backends opened by setup. Safe on a partially built App.
func (a *App) release() {
	if a.relayClient != nil {
		err := a.relayClient.Close()
		if err != nil {
			a.logger.Error("relay-client-close-error", zap.Error(err))
		}
	}

	if a.closeChain != nil {
		a.closeChain()
	}

	if a.storage != nil {
		err := a.storage.Close()
		if err != nil {
			a.logger.Error("storage-close-error", zap.Error(err))
		}
	}

	if a.viewCache != nil {
		a.viewCache.Close()
	}
}
