// Package util holds small helpers for preparing provider diagnostics.
package util

import (
	"fmt"
	"strings"
)

// DiagnosticMaxLen caps provider response bodies kept in errors and logs.
const DiagnosticMaxLen = 1024

// Truncate shortens s to maxLen bytes and notes the original size.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// Diagnostic prepares a provider body for an error: secrets are replaced and
// the result is capped at DiagnosticMaxLen.
func Diagnostic(body []byte, secrets ...string) string {
	s := strings.TrimSpace(string(body))
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[redacted]")
	}
	return Truncate(s, DiagnosticMaxLen)
}
