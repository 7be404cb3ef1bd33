package telemetry

import "codeberg.org/mutker/cpuwatt/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig     = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidListenAddr = errors.ErrorCode("telemetry_invalid_listen_address")

	// Server Errors
	ErrListenFailed    = errors.ErrorCode("telemetry_listen_failed")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")
)
