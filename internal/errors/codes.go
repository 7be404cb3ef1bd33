package errors

// Common error codes
const (
	// System errors
	ErrInternal       ErrorCode = "internal_error"
	ErrNotImplemented ErrorCode = "not_implemented"

	// Configuration errors
	ErrInvalidConfig     ErrorCode = "invalid_configuration"
	ErrBindFlags         ErrorCode = "bind_flags_failed"
	ErrReadConfig        ErrorCode = "read_config_failed"
	ErrInvalidLogLevel   ErrorCode = "invalid_log_level"
	ErrInvalidPowerTable ErrorCode = "invalid_power_table"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Measurement errors
	ErrReadCounters          ErrorCode = "read_counters_failed"
	ErrSamplerStopped        ErrorCode = "sampler_stopped"
	ErrSnapshotInconsistency ErrorCode = "snapshot_inconsistency"
	ErrCounterRegression     ErrorCode = "counter_regression"
	ErrWorkerFault           ErrorCode = "worker_fault"
	ErrIncompleteRun         ErrorCode = "incomplete_run"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
	ErrExportFailed     ErrorCode = "export_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:              "Internal error occurred",
	ErrNotImplemented:        "Operation not implemented",
	ErrInvalidConfig:         "Invalid configuration",
	ErrBindFlags:             "Failed to bind flags",
	ErrReadConfig:            "Failed to read config file",
	ErrInvalidLogLevel:       "Invalid log level",
	ErrInvalidPowerTable:     "Invalid power table",
	ErrInitFailed:            "Initialization failed",
	ErrShutdownFailed:        "Shutdown failed",
	ErrAlreadyRunning:        "Another measurement is already running",
	ErrReadCounters:          "Failed to read CPU counters",
	ErrSamplerStopped:        "Sampler is stopped",
	ErrSnapshotInconsistency: "Adjacent snapshots disagree on core layout",
	ErrCounterRegression:     "CPU time counter went backwards",
	ErrWorkerFault:           "Worker terminated abnormally",
	ErrIncompleteRun:         "Run did not complete",
	ErrOperationFailed:       "Operation failed",
	ErrTimeout:               "Operation timed out",
	ErrInvalidOperation:      "Invalid operation",
	ErrExportFailed:          "Failed to export run data",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
