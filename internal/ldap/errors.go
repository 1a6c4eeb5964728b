package ldap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory represents different categories of directory errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryFilter         ErrorCategory = "filter"
	ErrorCategoryLimit          ErrorCategory = "limit"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryCanceled       ErrorCategory = "canceled"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError carries the context of a failed directory operation.
type LDAPError struct {
	Operation string        // The operation that failed
	Directory string        // Directory the operation ran against, if known
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code, 0 for non-protocol errors
	Message   string        // Human-readable message
	ServerMsg string        // Server diagnostic message
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var b strings.Builder

	if e.Directory != "" {
		fmt.Fprintf(&b, "%s: ", e.Directory)
	}
	if e.LDAPCode > 0 {
		fmt.Fprintf(&b, "LDAP %s failed (code %d)", e.Operation, e.LDAPCode)
	} else {
		fmt.Fprintf(&b, "LDAP %s failed", e.Operation)
	}
	if e.Message != "" {
		b.WriteString(" - " + e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		b.WriteString(" - server: " + e.ServerMsg)
	}

	return b.String()
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err and wraps it with the operation name.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ldapErr.Category = ErrorCategoryCanceled
		ldapErr.Message = err.Error()
	case errors.As(err, &resultErr):
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.Category = categorizeResultCode(resultErr.ResultCode)
		ldapErr.Retryable = isResultCodeRetryable(resultErr.ResultCode)
		ldapErr.Message = resultCodeMessage(resultErr.ResultCode)
	default:
		ldapErr.Category = categorizeGenericError(err)
		ldapErr.Retryable = isGenericErrorRetryable(err)
		ldapErr.Message = err.Error()
	}

	return ldapErr
}

// categorizeResultCode maps an LDAP result code onto a category.
func categorizeResultCode(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultAuthMethodNotSupported,
		ldap.LDAPResultConfidentialityRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultInvalidDNSyntax:
		return ErrorCategoryNotFound

	case ldap.LDAPResultFilterError,
		ldap.LDAPResultInappropriateMatching,
		ldap.LDAPResultUndefinedAttributeType:
		return ErrorCategoryFilter

	case ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return ErrorCategoryLimit

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultOperationsError:
		return ErrorCategoryServer

	case ldap.ErrorNetwork,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultTimeout:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes errors that carry no result code.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "no such host"):
		return ErrorCategoryConnection
	case strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "credentials"),
		strings.Contains(errStr, "kerberos"),
		strings.Contains(errStr, "password"):
		return ErrorCategoryAuthentication
	case strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "denied"):
		return ErrorCategoryPermission
	}

	return ErrorCategoryUnknown
}

func isResultCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.ErrorNetwork,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultTimeout:
		return true
	default:
		return false
	}
}

var retryablePatterns = []string{
	"connection",
	"timeout",
	"network",
	"broken pipe",
	"temporary failure",
	"server temporarily unavailable",
}

func isGenericErrorRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

var resultCodeMessages = map[uint16]string{
	ldap.LDAPResultOperationsError:             "LDAP operations error",
	ldap.LDAPResultProtocolError:               "LDAP protocol error",
	ldap.LDAPResultTimeLimitExceeded:           "Time limit exceeded",
	ldap.LDAPResultSizeLimitExceeded:           "Size limit exceeded, refine the filter",
	ldap.LDAPResultAuthMethodNotSupported:      "Authentication method not supported",
	ldap.LDAPResultStrongAuthRequired:          "Strong authentication required",
	ldap.LDAPResultAdminLimitExceeded:          "Administrative limit exceeded",
	ldap.LDAPResultConfidentialityRequired:     "Confidentiality required",
	ldap.LDAPResultUndefinedAttributeType:      "Attribute type is not defined",
	ldap.LDAPResultInappropriateMatching:       "Inappropriate matching rule",
	ldap.LDAPResultNoSuchObject:                "Base DN does not exist",
	ldap.LDAPResultInvalidDNSyntax:             "Invalid DN syntax",
	ldap.LDAPResultInappropriateAuthentication: "Inappropriate authentication method",
	ldap.LDAPResultInvalidCredentials:          "Invalid credentials",
	ldap.LDAPResultInsufficientAccessRights:    "Insufficient access rights",
	ldap.LDAPResultBusy:                        "Server is busy",
	ldap.LDAPResultUnavailable:                 "Server is unavailable",
	ldap.LDAPResultUnwillingToPerform:          "Server is unwilling to perform the operation",
	ldap.LDAPResultServerDown:                  "Server is down",
	ldap.LDAPResultTimeout:                     "Operation timed out",
	ldap.LDAPResultFilterError:                 "Invalid search filter",
	ldap.LDAPResultUserCanceled:                "User canceled operation",
	ldap.LDAPResultConnectError:                "Connection error",
	ldap.ErrorNetwork:                          "Network error",
}

func resultCodeMessage(code uint16) string {
	if msg, ok := resultCodeMessages[code]; ok {
		return msg
	}
	if text, ok := ldap.LDAPResultCodeMap[code]; ok {
		return text
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// WrapError wraps an error with operation context, leaving already wrapped
// errors untouched apart from a missing operation name.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return err
	}

	return NewLDAPError(operation, err)
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return isResultCodeRetryable(resultErr.ResultCode)
	}

	return isGenericErrorRetryable(err)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		return categorizeResultCode(resultErr.ResultCode)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryCanceled
	}

	return categorizeGenericError(err)
}

// IsAuthenticationError checks if an error is caused by a failed bind.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsSizeLimitError checks if the server cut a search short.
func IsSizeLimitError(err error) bool {
	var resultErr *ldap.Error
	return errors.As(err, &resultErr) && resultErr.ResultCode == ldap.LDAPResultSizeLimitExceeded
}

// RetryableError is implemented by errors that know whether a retry may
// succeed.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError reports a failure to reach or keep a server.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

// NewConnectionError returns a ConnectionError wrapping cause, which may be nil.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{message: message, retryable: retryable, cause: cause}
}

func (e *ConnectionError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *ConnectionError) IsRetryable() bool { return e.retryable }

func (e *ConnectionError) Unwrap() error { return e.cause }
