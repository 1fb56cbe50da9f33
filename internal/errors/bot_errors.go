package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Critical errors that should stop the bot
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryExchange      ErrorCategory = "EXCHANGE"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Non-critical errors that can be retried or recovered from
	ErrorCategoryNetwork    ErrorCategory = "NETWORK"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryData       ErrorCategory = "DATA"
	ErrorCategoryOrder      ErrorCategory = "ORDER"
	ErrorCategoryPosition   ErrorCategory = "POSITION"

	// Temporary errors
	ErrorCategoryTemporary ErrorCategory = "TEMPORARY"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"
)

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s in %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s in %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the bot
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal ||
		e.Category == ErrorCategoryCredentials ||
		e.Category == ErrorCategoryConfiguration
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary, ErrorCategoryRateLimit:
		return true
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration,
		ErrorCategoryValidation, ErrorCategoryData:
		return false
	default:
		return true
	}
}

// CategorizeError attempts to categorize a generic error
func CategorizeError(err error, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	// Check if it's already a BotError
	if botErr, ok := err.(*BotError); ok {
		return botErr
	}

	errMsg := strings.ToLower(err.Error())

	// Network-related errors
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "context deadline exceeded") {
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") {
		return WrapError(err, ErrorCategoryNetwork, component, operation)
	}

	// Exchange-related errors
	if strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "authentication") || strings.Contains(errMsg, "unauthorized") {
		return WrapError(err, ErrorCategoryCredentials, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return WrapError(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "balance") {
		return WrapError(err, ErrorCategoryOrder, component, operation).WithRetryable(false)
	}

	if strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "constraint") ||
		strings.Contains(errMsg, "minimum") || strings.Contains(errMsg, "maximum") {
		return WrapError(err, ErrorCategoryValidation, component, operation)
	}

	// Default to temporary error for unknown cases
	return WrapError(err, ErrorCategoryTemporary, component, operation)
}

// Common error constructors
func NewNetworkError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryNetwork, component, operation)
}

func NewTimeoutError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryTimeout, component, operation)
}

func NewValidationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryValidation, component, operation, message)
}

// NewDataError reports malformed or inconsistent market data. The affected
// symbol is skipped for the cycle; the bot keeps running.
func NewDataError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryData, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

func NewCredentialsError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryCredentials, component, operation, message)
}

func NewOrderError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryOrder, component, operation)
}

func NewPositionError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryPosition, component, operation)
}

func NewFatalError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryFatal, component, operation, message).WithRetryable(false)
}

// Error recovery strategies
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
	RecoveryActionWait  RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryCredentials, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary:
		return RecoveryActionRetry
	case ErrorCategoryValidation, ErrorCategoryData:
		return RecoveryActionSkip
	case ErrorCategoryOrder, ErrorCategoryPosition:
		if e.Retryable {
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	default:
		return RecoveryActionRetry
	}
}
