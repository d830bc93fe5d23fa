// Package errors provides structured error handling for docrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (artifacts, document store)
//   - 3XX: Network errors (embedding server)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, artifact and store I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates embedding server errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
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
	// Config errors (100-199)
	ErrCodeConfigInvalid = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigParse   = "ERR_102_CONFIG_PARSE"

	// IO errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeArtifactMissing  = "ERR_202_ARTIFACT_MISSING"
	ErrCodeArtifactCorrupt  = "ERR_203_ARTIFACT_CORRUPT"
	ErrCodeStoreUnavailable = "ERR_204_STORE_UNAVAILABLE"
	ErrCodeIndexLocked      = "ERR_205_INDEX_LOCKED"

	// Network errors (300-399)
	ErrCodeOllamaUnavailable = "ERR_301_OLLAMA_UNAVAILABLE"
	ErrCodeNetworkTimeout    = "ERR_302_NETWORK_TIMEOUT"
	ErrCodeModelNotFound     = "ERR_303_MODEL_NOT_FOUND"

	// Validation errors (400-499)
	ErrCodeInvalidInput    = "ERR_401_INVALID_INPUT"
	ErrCodeUnsupportedType = "ERR_402_UNSUPPORTED_TYPE"
	ErrCodeQueryEmpty      = "ERR_403_QUERY_EMPTY"
	ErrCodeMalformedKey    = "ERR_404_MALFORMED_KEY"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_504_INDEX_FAILED"
	ErrCodeUnfitted        = "ERR_505_UNFITTED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_INVALID"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreUnavailable:
		return SeverityFatal
	case ErrCodeArtifactMissing, ErrCodeArtifactCorrupt, ErrCodeMalformedKey, ErrCodeUnfitted:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeOllamaUnavailable, ErrCodeNetworkTimeout, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
