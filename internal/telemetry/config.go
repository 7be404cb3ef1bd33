package telemetry

import (
	"net"
	"time"

	"codeberg.org/mutker/cpuwatt/internal/errors"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	metricsPath            = "/metrics"
)

type Config struct {
	// Listen is the address of the /metrics endpoint. Empty disables serving.
	Listen string
}

func DefaultConfig() Config {
	return Config{}
}

// Enabled reports whether the /metrics endpoint should be served.
func (c Config) Enabled() bool {
	return c.Listen != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	errFactory := errors.New()
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errFactory.Wrap(ErrInvalidListenAddr, err)
	}
	return nil
}
