package cli

import (
	"context"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/dirsearch/internal/ldap"
	"github.com/isometry/dirsearch/internal/query"
	"github.com/isometry/dirsearch/internal/tui"
)

// EnvLog sets the log level. DIRSEARCH_LOG_<SUBSYSTEM> overrides it for one
// subsystem.
const EnvLog = "DIRSEARCH_LOG"

var subsystems = []string{
	ldap.SubsystemLDAP,
	ldap.SubsystemPool,
	ldap.SubsystemKerberos,
	query.Subsystem,
	tui.Subsystem,
}

// levelFromEnv parses an hclog level name, Off when unset or unknown.
func levelFromEnv(name string) hclog.Level {
	level := hclog.LevelFromString(os.Getenv(name))
	if level == hclog.NoLevel {
		return hclog.Off
	}
	return level
}

// logLevels returns the root level and the level of every subsystem.
func logLevels() (hclog.Level, map[string]hclog.Level) {
	root := levelFromEnv(EnvLog)
	levels := make(map[string]hclog.Level, len(subsystems))
	for _, sub := range subsystems {
		name := EnvLog + "_" + strings.ToUpper(sub)
		if _, ok := os.LookupEnv(name); ok {
			levels[sub] = levelFromEnv(name)
		} else {
			levels[sub] = root
		}
	}
	return root, levels
}

// loggingEnabled reports whether any logger would emit something.
func loggingEnabled(root hclog.Level, levels map[string]hclog.Level) bool {
	if root != hclog.Off {
		return true
	}
	for _, l := range levels {
		if l != hclog.Off {
			return true
		}
	}
	return false
}

// withLogging installs the root logger and its subsystems on ctx. Output
// goes to stderr as JSON lines. With every level off ctx is returned as is
// and logging calls are no-ops.
func withLogging(ctx context.Context) context.Context {
	root, levels := logLevels()
	if !loggingEnabled(root, levels) {
		return ctx
	}

	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("dirsearch"),
		tfsdklog.WithLevel(root),
		tfsdklog.WithoutLocation(),
	)
	for _, sub := range subsystems {
		ctx = tflog.NewSubsystem(ctx, sub, tflog.WithLevel(levels[sub]))
	}

	tflog.Debug(ctx, "Logging initialized", map[string]any{
		"level": root.String(),
	})
	return ctx
}
