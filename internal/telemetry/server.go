package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codeberg.org/mutker/cpuwatt/internal/errors"
	"codeberg.org/mutker/cpuwatt/internal/logger"
)

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve binds cfg.Listen and serves /metrics until ctx is done. It returns
// the bound address once the listener is up.
func (c *Collector) Serve(ctx context.Context, cfg Config, log logger.Logger) (net.Addr, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errFactory.Wrap(ErrListenFailed, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, c.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorWithCode(errFactory.Wrap(ErrServiceShutdown, err)).Msg("Failed to stop metrics server")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Str("path", metricsPath).Msg("Serving metrics")

	return ln.Addr(), nil
}
