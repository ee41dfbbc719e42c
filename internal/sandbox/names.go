package sandbox

import (
	"errors"
	"strings"
)

const containerNamePrefix = "openwork-orchestrator-"

// DeriveContainerName maps a run id to its container name. It must match the
// orchestrator CLI's naming scheme exactly or stop/inspect would target the
// wrong container: invalid characters become '-', the sanitized id is cut to
// 24 characters, and the managed prefix is prepended.
func DeriveContainerName(runID string) string {
	var sanitized strings.Builder
	for _, ch := range runID {
		ok := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') ||
			ch == '_' || ch == '.' || ch == '-'
		if ok {
			sanitized.WriteRune(ch)
		} else {
			sanitized.WriteByte('-')
		}
	}
	s := sanitized.String()
	if len(s) > 24 {
		s = s[:24]
	}
	return containerNamePrefix + s
}

// IsManagedContainer reports whether name belongs to this app's container
// namespace, including the legacy prefixes.
func IsManagedContainer(name string) bool {
	return strings.HasPrefix(name, containerNamePrefix) ||
		strings.HasPrefix(name, "openwork-dev-") ||
		strings.HasPrefix(name, "openwrk-")
}

// validateStopTarget rejects container names we did not derive ourselves.
func validateStopTarget(name string) error {
	if name == "" {
		return errors.New("containerName is required")
	}
	if !strings.HasPrefix(name, containerNamePrefix) {
		return errors.New("refusing to stop container: expected name starting with 'openwork-orchestrator-'")
	}
	for _, ch := range name {
		ok := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') ||
			ch == '_' || ch == '.' || ch == '-'
		if !ok {
			return errors.New("containerName contains invalid characters")
		}
	}
	return nil
}
