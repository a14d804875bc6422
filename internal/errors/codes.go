// Package errors provides structured error handling for strata.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and store errors
//   - 3XX: Embedder and network errors
//   - 4XX: Validation errors
//   - 5XX: Internal and lifecycle errors
package errors

// Category classifies an error for reporting.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity tells the caller whether to abort, skip, or continue degraded.
type Severity string

const (
	// SeverityFatal aborts the current operation.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails one unit of work (a file, a query) but not the run.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the operation continues in a degraded mode.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo is informational only (cancellation, busy writer).
	SeverityInfo Severity = "INFO"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeSourceUnknown  = "ERR_103_SOURCE_UNKNOWN"

	// IO and store errors (200-299)
	ErrCodeFileRead      = "ERR_201_FILE_READ"
	ErrCodeFileTooLarge  = "ERR_202_FILE_TOO_LARGE"
	ErrCodeFileParse     = "ERR_203_FILE_PARSE"
	ErrCodeStoreOpen     = "ERR_204_STORE_OPEN"
	ErrCodeStoreTx       = "ERR_205_STORE_TX"
	ErrCodeCorruptIndex  = "ERR_206_CORRUPT_INDEX"
	ErrCodeDiskFull      = "ERR_207_DISK_FULL"
	ErrCodeStoreReadOnly = "ERR_208_STORE_READ_ONLY"

	// Embedder and network errors (300-399)
	ErrCodeEmbedderUnavailable = "ERR_301_EMBEDDER_UNAVAILABLE"
	ErrCodeNetworkTimeout      = "ERR_302_NETWORK_TIMEOUT"
	ErrCodeEmbeddingFailed     = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeInvalidThreshold  = "ERR_404_INVALID_THRESHOLD"

	// Internal and lifecycle errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeSyncFailed   = "ERR_503_SYNC_FAILED"
	ErrCodeXrefFailed   = "ERR_504_XREF_FAILED"
	ErrCodeCancelled    = "ERR_506_CANCELLED"
	ErrCodeWriterBusy   = "ERR_507_WRITER_BUSY"
)

// categoryFromCode reads the hundreds digit of the numeric part of a code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

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

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeStoreTx, ErrCodeStoreOpen:
		return SeverityFatal
	case ErrCodeCancelled, ErrCodeWriterBusy:
		return SeverityInfo
	case ErrCodeEmbedderUnavailable:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeEmbeddingFailed, ErrCodeWriterBusy:
		return true
	default:
		return false
	}
}
