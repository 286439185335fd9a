package statussync

import (
	"strings"

	"github.com/acme/voice-campaign-dispatcher/internal/domain"
)

// providerStatusMap is the single translation table from the provider's
// status vocabulary to the internal call status enum. No other package
// interprets provider status strings.
var providerStatusMap = map[string]domain.CallStatus{
	"queued":            domain.CallStatusInitiated,
	"initiated":         domain.CallStatusInitiated,
	"registered":        domain.CallStatusInitiated,
	"ringing":           domain.CallStatusRinging,
	"in-progress":       domain.CallStatusInProgress,
	"in_progress":       domain.CallStatusInProgress,
	"answered":          domain.CallStatusInProgress,
	"completed":         domain.CallStatusCompleted,
	"call-disconnected": domain.CallStatusCompleted,
	"no-answer":         domain.CallStatusNoAnswer,
	"busy":              domain.CallStatusFailed,
	"failed":            domain.CallStatusFailed,
	"canceled":          domain.CallStatusFailed,
	"stopped":           domain.CallStatusFailed,
	"balance-low":       domain.CallStatusFailed,
}

// terminalProviderStatuses lists the provider statuses after which no
// further transition will arrive.
var terminalProviderStatuses = map[string]struct{}{
	"completed":         {},
	"call-disconnected": {},
	"no-answer":         {},
	"busy":              {},
	"failed":            {},
	"canceled":          {},
	"stopped":           {},
}

// MapProviderStatus translates a raw provider status. Unrecognized statuses
// map to initiated, the safe non-terminal default, so a vocabulary change
// on the provider side never finalizes a call by accident.
func MapProviderStatus(raw string) domain.CallStatus {
	if status, ok := providerStatusMap[normalize(raw)]; ok {
		return status
	}
	return domain.CallStatusInitiated
}

// IsTerminalProviderStatus reports whether the raw provider status is
// terminal. Unrecognized statuses are never terminal.
func IsTerminalProviderStatus(raw string) bool {
	_, ok := terminalProviderStatuses[normalize(raw)]
	return ok
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
