package backup

import (
	"errors"
	"fmt"
)

// PipelineError represents errors that occur during backup pipeline operations
type PipelineError struct {
	Kind    FailureKind            `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// FailureKind classifies where in the pipeline an operation failed
type FailureKind string

const (
	FailureKindDump              FailureKind = "DUMP_FAILURE"
	FailureKindArchive           FailureKind = "ARCHIVE_FAILURE"
	FailureKindEncryption        FailureKind = "ENCRYPTION_FAILURE"
	FailureKindIntegrity         FailureKind = "INTEGRITY_FAILURE"
	FailureKindStorage           FailureKind = "STORAGE_FAILURE"
	FailureKindRestoreValidation FailureKind = "RESTORE_VALIDATION_FAILURE"
	FailureKindChainIntegrity    FailureKind = "CHAIN_INTEGRITY_FAILURE"
	FailureKindConfiguration     FailureKind = "CONFIGURATION_FAILURE"
	FailureKindCatalog           FailureKind = "CATALOG_FAILURE"
	FailureKindNotFound          FailureKind = "NOT_FOUND"
)

// NewPipelineError creates a new PipelineError
func NewPipelineError(kind FailureKind, message string, cause error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// WithContext adds context information to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewDumpError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindDump, message, cause)
}

func NewArchiveError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindArchive, message, cause)
}

func NewEncryptionError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindEncryption, message, cause)
}

func NewIntegrityError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindIntegrity, message, cause)
}

func NewStorageError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindStorage, message, cause)
}

func NewRestoreValidationError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindRestoreValidation, message, cause)
}

func NewChainIntegrityError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindChainIntegrity, message, cause)
}

func NewConfigurationError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindConfiguration, message, cause)
}

func NewCatalogError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindCatalog, message, cause)
}

func NewNotFoundError(message string, cause error) *PipelineError {
	return NewPipelineError(FailureKindNotFound, message, cause)
}

// KindOf returns the failure kind of err, or an empty kind for foreign errors
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsNotFound reports whether err indicates a missing backup or object
func IsNotFound(err error) bool {
	return KindOf(err) == FailureKindNotFound
}

// IsIntegrityFailure reports whether err indicates tampered or corrupted data
func IsIntegrityFailure(err error) bool {
	return KindOf(err) == FailureKindIntegrity
}

// IsRetryable determines if an error is worth retrying on the next scheduled run
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case FailureKindStorage, FailureKindDump:
		return true
	default:
		return false
	}
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
