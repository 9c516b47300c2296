// Package errors provides structured error handling for Multivec.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and validation errors
//   - 2XX: Storage errors (sqlite, index files)
//   - 3XX: Upstream errors (embedding backend, vector store)
//   - 4XX: Coordination errors (conflicts, circuit breaker)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration and input validation errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates persistence and index file errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUpstream indicates embedding backend and vector store errors.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryCoordination indicates conflict and circuit breaker errors.
	CategoryCoordination Category = "COORDINATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config and validation errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeInvalidInput   = "ERR_102_INVALID_INPUT"
	ErrCodeModelConfig    = "ERR_103_MODEL_CONFIG_INVALID"
	ErrCodeUnknownModel   = "ERR_104_UNKNOWN_MODEL"
	ErrCodeUnknownProfile = "ERR_105_UNKNOWN_PROFILE"

	// Storage errors (200-299)
	ErrCodeStorage      = "ERR_201_STORAGE"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeIndexLocked  = "ERR_203_INDEX_LOCKED"

	// Upstream errors (300-399)
	ErrCodeUpstream          = "ERR_301_UPSTREAM"
	ErrCodeModelUnavailable  = "ERR_302_MODEL_UNAVAILABLE"
	ErrCodeSearchUnavailable = "ERR_303_SEARCH_UNAVAILABLE"

	// Coordination errors (400-499)
	ErrCodeCircuitOpen = "ERR_401_CIRCUIT_OPEN"
	ErrCodeConflict    = "ERR_402_CONFLICT"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryCoordination
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// CircuitOpen is deliberately not retryable: the caller should wait out
// the recovery timeout instead of hammering an open breaker.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeUpstream, ErrCodeModelUnavailable, ErrCodeSearchUnavailable:
		return true
	default:
		return false
	}
}
