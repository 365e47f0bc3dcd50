package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found or is soft-deleted.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeAlreadyExists indicates a unique-identity conflict (e.g. an
	// external subject already linked to a different user).
	ErrCodeAlreadyExists ErrorCode = "already_exists"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeAuthFailed indicates bad local credentials.
	ErrCodeAuthFailed ErrorCode = "auth_failed"
	// ErrCodeOAuthAuthFailed indicates bad or missing external credentials.
	ErrCodeOAuthAuthFailed ErrorCode = "oauth_auth_failed"
	// ErrCodeScopeNotGranted indicates requested scopes exceed the user's
	// effective scopes.
	ErrCodeScopeNotGranted ErrorCode = "scope_not_granted"
	// ErrCodeSessionExpired indicates an absent, revoked, or expired session.
	ErrCodeSessionExpired ErrorCode = "session_expired"
	// ErrCodeLastAuthMethod indicates the operation would strip a user's only
	// remaining login method.
	ErrCodeLastAuthMethod ErrorCode = "last_auth_method"
	// ErrCodeOuterSyncComm indicates a transport failure or timeout talking
	// to an external synced system.
	ErrCodeOuterSyncComm ErrorCode = "outer_sync_communication"
	// ErrCodeStructuralViolation indicates a cycle or invariant breach in the
	// group graph.
	ErrCodeStructuralViolation ErrorCode = "structural_violation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message,
// and optional cause. It supports error wrapping and unwrapping for use with
// errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
	// IdentityToken optionally carries a re-usable verified-identity token on
	// oauth_auth_failed, so the caller can follow up with a registration call
	// without a second round-trip to the provider.
	IdentityToken string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExists creates a new AlreadyExists error.
func AlreadyExists(message string) *AppError {
	return &AppError{Code: ErrCodeAlreadyExists, Message: message}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// AuthFailed creates a new AuthFailed error.
func AuthFailed(message string) *AppError {
	return &AppError{Code: ErrCodeAuthFailed, Message: message}
}

// OAuthAuthFailed creates a new OAuthAuthFailed error.
func OAuthAuthFailed(message string) *AppError {
	return &AppError{Code: ErrCodeOAuthAuthFailed, Message: message}
}

// OAuthAuthFailedWithToken creates an OAuthAuthFailed error carrying a
// verified-identity token the caller may re-use for a follow-up registration.
func OAuthAuthFailedWithToken(message, identityToken string) *AppError {
	return &AppError{
		Code:          ErrCodeOAuthAuthFailed,
		Message:       message,
		IdentityToken: identityToken,
	}
}

// ScopeNotGranted creates a new ScopeNotGranted error.
func ScopeNotGranted(message string) *AppError {
	return &AppError{Code: ErrCodeScopeNotGranted, Message: message}
}

// SessionExpired creates a new SessionExpired error.
func SessionExpired(message string) *AppError {
	return &AppError{Code: ErrCodeSessionExpired, Message: message}
}

// LastAuthMethod creates a new LastAuthMethod error.
func LastAuthMethod(message string) *AppError {
	return &AppError{Code: ErrCodeLastAuthMethod, Message: message}
}

// OuterSyncComm creates a new OuterSyncCommunication error.
func OuterSyncComm(message string) *AppError {
	return &AppError{Code: ErrCodeOuterSyncComm, Message: message}
}

// StructuralViolation creates a new StructuralViolation error.
func StructuralViolation(message string) *AppError {
	return &AppError{Code: ErrCodeStructuralViolation, Message: message}
}

// StructuralViolationf creates a new StructuralViolation error with formatted message.
func StructuralViolationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeStructuralViolation, Message: fmt.Sprintf(format, args...)}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsAlreadyExists checks if an error is an AlreadyExists error.
func IsAlreadyExists(err error) bool { return isCode(err, ErrCodeAlreadyExists) }

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsAuthFailed checks if an error is an AuthFailed error.
func IsAuthFailed(err error) bool { return isCode(err, ErrCodeAuthFailed) }

// IsOAuthAuthFailed checks if an error is an OAuthAuthFailed error.
func IsOAuthAuthFailed(err error) bool { return isCode(err, ErrCodeOAuthAuthFailed) }

// IsScopeNotGranted checks if an error is a ScopeNotGranted error.
func IsScopeNotGranted(err error) bool { return isCode(err, ErrCodeScopeNotGranted) }

// IsSessionExpired checks if an error is a SessionExpired error.
func IsSessionExpired(err error) bool { return isCode(err, ErrCodeSessionExpired) }

// IsLastAuthMethod checks if an error is a LastAuthMethod error.
func IsLastAuthMethod(err error) bool { return isCode(err, ErrCodeLastAuthMethod) }

// IsOuterSyncComm checks if an error is an OuterSyncCommunication error.
func IsOuterSyncComm(err error) bool { return isCode(err, ErrCodeOuterSyncComm) }

// IsStructuralViolation checks if an error is a StructuralViolation error.
func IsStructuralViolation(err error) bool { return isCode(err, ErrCodeStructuralViolation) }

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetMessage returns the Message from an error, or empty string if not an AppError.
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}

// GetIdentityToken returns the re-usable identity token from an
// oauth_auth_failed error, or empty string when absent.
func GetIdentityToken(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.IdentityToken
	}
	return ""
}
