package models

import "time"

// TrialState is the lifecycle position of a trial record.
type TrialState string

const (
	TrialUnclaimed TrialState = "unclaimed"
	TrialEligible  TrialState = "eligible"
	TrialLocked    TrialState = "locked"
	TrialConsumed  TrialState = "consumed"
)

type TrialRecord struct {
	Email       string
	Name        string
	Eligible    bool
	Locked      bool
	LockToken   string
	LockedUntil *time.Time
	ConsumedAt  *time.Time
	OriginIP    string
	UserAgent   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeaseActive reports whether a job currently holds this record. A lease
// past its expiry no longer counts.
func (r *TrialRecord) LeaseActive(now time.Time) bool {
	return leaseActive(r.Locked, r.LockedUntil, now)
}

func (r *TrialRecord) State(now time.Time) TrialState {
	switch {
	case r == nil:
		return TrialUnclaimed
	case r.ConsumedAt != nil || !r.Eligible:
		return TrialConsumed
	case r.LeaseActive(now):
		return TrialLocked
	default:
		return TrialEligible
	}
}

func leaseActive(locked bool, until *time.Time, now time.Time) bool {
	if !locked {
		return false
	}
	return until == nil || until.After(now)
}
