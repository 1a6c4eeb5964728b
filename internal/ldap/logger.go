package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Logging subsystems used by this package. They must be registered on the
// root logger with tflog.NewSubsystem before messages are emitted.
const (
	SubsystemLDAP     = "ldap"
	SubsystemPool     = "pool"
	SubsystemKerberos = "kerberos"
)

// slowSearchThreshold is the duration above which a search is reported at
// warn level.
const slowSearchThreshold = 2 * time.Second

// LogOperation runs fn and logs its start, duration, and outcome.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	entry := make(map[string]any, len(fields)+1)
	maps.Copy(entry, fields)
	entry["operation"] = operation

	tflog.SubsystemTrace(ctx, subsystem, "Starting operation", entry)

	err := fn()

	entry["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		entry["error"] = err.Error()
		if errors.Is(err, context.Canceled) {
			tflog.SubsystemTrace(ctx, subsystem, "Operation canceled", entry)
		} else {
			tflog.SubsystemError(ctx, subsystem, "Operation failed", entry)
		}
	} else {
		tflog.SubsystemTrace(ctx, subsystem, "Operation completed", entry)
	}

	return err
}

// LogSearch reports a finished search at a level chosen by its duration.
func LogSearch(ctx context.Context, directory, filter string, entries int, duration time.Duration) {
	fields := map[string]any{
		"directory":   directory,
		"filter":      filter,
		"entries":     entries,
		"duration_ms": duration.Milliseconds(),
	}

	if duration > slowSearchThreshold {
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Slow search", fields)
	} else {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Search finished", fields)
	}
}

// LogLDAPError logs result code details of a failed directory operation.
func LogLDAPError(ctx context.Context, operation string, err error, fields map[string]any) {
	entry := make(map[string]any, len(fields)+4)
	maps.Copy(entry, fields)
	entry["operation"] = operation
	entry["error"] = err.Error()
	entry["category"] = string(GetErrorCategory(err))

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		entry["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			entry["ldap_matched_dn"] = resultErr.MatchedDN
		}
	}

	tflog.SubsystemError(ctx, SubsystemLDAP, "LDAP operation failed", entry)
}

// LogConnectionEvent logs connection lifecycle events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	entry := SanitizeFields(fields)
	entry["event"] = event

	switch event {
	case "connection_failed", "authentication_failed", "connection_lost":
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Connection event", entry)
	case "connection_established", "authentication_success":
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Connection event", entry)
	default:
		tflog.SubsystemTrace(ctx, SubsystemLDAP, "Connection event", entry)
	}
}

// LogKerberosEvent logs Kerberos client events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	entry := SanitizeFields(fields)
	entry["event"] = event

	switch event {
	case "login_failed", "keytab_load_failed", "ccache_load_failed":
		tflog.SubsystemError(ctx, SubsystemKerberos, "Kerberos event", entry)
	case "login_success":
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Kerberos event", entry)
	default:
		tflog.SubsystemTrace(ctx, SubsystemKerberos, "Kerberos event", entry)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	entry := SanitizeFields(fields)
	entry["event"] = event

	switch event {
	case "health_check_failed", "connection_discarded":
		tflog.SubsystemWarn(ctx, SubsystemPool, "Pool event", entry)
	case "pool_initialized", "pool_closed":
		tflog.SubsystemDebug(ctx, SubsystemPool, "Pool event", entry)
	default:
		tflog.SubsystemTrace(ctx, SubsystemPool, "Pool event", entry)
	}
}

var sensitiveKeys = map[string]bool{
	"password":    true,
	"passwd":      true,
	"secret":      true,
	"token":       true,
	"credential":  true,
	"credentials": true,
	"keytab_data": true,
}

var sensitivePatterns = []string{
	"password=",
	"passwd=",
	"secret=",
	"token=",
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields)+1)

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
