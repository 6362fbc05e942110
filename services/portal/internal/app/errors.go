package app

import (
	"errors"
	"fmt"
	"strings"

	"chapterhub/pkg/wizard"
)

var (
	// ErrConfigurationMissing indicates absent edition or rule data. Not
	// recoverable for the current view; surfaced, never defaulted.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrQuotaExhausted blocks submission until the author acquires more
	// credits. Deliberately distinct from validation failure: the remedy
	// is more quota, not fixing a field.
	ErrQuotaExhausted = errors.New("no submission credits available")
	// ErrIdentityConflict marks provisioning of a DNI that resolution
	// should have found. A defect to log; callers show a generic retry.
	ErrIdentityConflict = errors.New("identity already exists")
	// ErrRemoteUnavailable wraps network or timeout failures on any
	// collaborator call. Recoverable by retry; never swallowed into a
	// false-negative eligibility answer.
	ErrRemoteUnavailable = errors.New("remote service unavailable")
	// ErrNotEligible covers admission refusals other than quota: missing
	// credential or an edition that is not open.
	ErrNotEligible = errors.New("not eligible to submit")
	// ErrSessionNotFound indicates an unknown, expired, or foreign
	// wizard session.
	ErrSessionNotFound = errors.New("wizard session not found")
)

// ValidationError aggregates every failed commit check so the author sees
// all outstanding problems at once.
type ValidationError struct {
	Violations []wizard.Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if v.Section != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Section, v.Message))
			continue
		}
		msgs = append(msgs, v.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
