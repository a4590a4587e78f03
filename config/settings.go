package config

import (
	"os"
	"strings"
	"time"
)

// MaxImportValidationErrors bounds how many validation errors an import returns to the caller.
// The total count is always reported.
//
// Set via env:
// - IMPORT_MAX_VALIDATION_ERRORS=10
func MaxImportValidationErrors() int {
	n := IntFromEnv("IMPORT_MAX_VALIDATION_ERRORS", 10)
	if n < 0 {
		return 0
	}
	return n
}

// DisplayLocation is the timezone used when stamping Done/release timestamps.
//
// Set via env:
// - DISPLAY_TIMEZONE=Asia/Yangon (defaults to the server's local zone)
func DisplayLocation() *time.Location {
	name := strings.TrimSpace(os.Getenv("DISPLAY_TIMEZONE"))
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		GetLogger().WithField("DISPLAY_TIMEZONE", name).Warn("unknown timezone; using local")
		return time.Local
	}
	return loc
}

// OrderLockTTL is how long a distributed per-order lock is held before Redis expires it.
//
// Set via env:
// - ORDER_LOCK_TTL_SECONDS=30
func OrderLockTTL() time.Duration {
	n := IntFromEnv("ORDER_LOCK_TTL_SECONDS", 30)
	if n <= 0 {
		n = 30
	}
	return time.Duration(n) * time.Second
}

// StatusEventsTopic names the Pub/Sub topic for step status events. Empty disables publishing.
func StatusEventsTopic() string {
	return strings.TrimSpace(os.Getenv("STATUS_EVENTS_TOPIC"))
}

// UploadArchiveBucket names the GCS bucket imported workbooks are archived to. Empty disables archiving.
func UploadArchiveBucket() string {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET"))
}

// ProcessDefinitionsFile points at a YAML seed file of process definitions.
func ProcessDefinitionsFile() string {
	return strings.TrimSpace(os.Getenv("PROCESS_DEFINITIONS_FILE"))
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
