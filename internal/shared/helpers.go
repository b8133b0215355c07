// Package shared provides common utility functions used across multiple
// packages in the fleet-rollout codebase.
package shared

import (
	"fmt"
	"strings"
)

// NormalizeName trims a package or channel name and lowercases it so the
// registry and the agent key the same package identically.
func NormalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// CommandError wraps a command execution error with its trimmed output
// for cleaner error messages.
func CommandError(output []byte, err error) error {
	return fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
}
