// Package edition derives the lifecycle state of an edition from its
// configured dates. Classification is pure: it takes the reference time as
// an argument and touches no clock or global state.
package edition

import (
	"time"

	"chapterhub/pkg/domain"
)

// Classify returns the lifecycle state of an edition at the given moment.
// Dates are compared at day granularity; boundary days are inclusive on the
// side that grants access. Publication takes priority over every other
// signal, so an edition force-published before its deadline reports
// published. The function is total: any combination of absent dates yields
// a state, never a panic.
func Classify(ed domain.Edition, now time.Time) domain.EditionState {
	today := day(now)

	if ed.PublishDate != nil && !today.Before(day(*ed.PublishDate)) {
		return domain.StatePublished
	}
	if ed.OpenDate != nil && ed.DeadlineChapters != nil {
		open := day(*ed.OpenDate)
		deadline := day(*ed.DeadlineChapters)
		if !today.Before(open) && !today.After(deadline) {
			return domain.StateOpen
		}
	}
	if ed.DeadlineChapters != nil && today.After(day(*ed.DeadlineChapters)) {
		if ed.PublishDate == nil || today.Before(day(*ed.PublishDate)) {
			return domain.StateClosed
		}
	}
	if ed.OpenDate != nil && today.Before(day(*ed.OpenDate)) {
		return domain.StateFuture
	}
	return domain.StateUnknown
}

// AcceptsSubmissions reports whether chapters may be submitted at the given
// moment. Only the open state grants access.
func AcceptsSubmissions(ed domain.Edition, now time.Time) bool {
	return Classify(ed, now) == domain.StateOpen
}

// day strips the time-of-day component, keeping the location so that two
// timestamps on the same calendar day compare equal.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
