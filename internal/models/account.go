package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionNone, SubscriptionActive, SubscriptionTrialing, SubscriptionCanceled:
		return true
	}
	return false
}

type Account struct {
	ID                 string
	Email              string
	DisplayName        string
	CreditBalance      int
	SubscriptionStatus SubscriptionStatus
	PlanCode           string
	Locked             bool
	LockToken          string
	LockedUntil        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Account) LeaseActive(now time.Time) bool {
	return leaseActive(a.Locked, a.LockedUntil, now)
}

// Subscribed mirrors the client-side check: active or trialing plans.
func (a *Account) Subscribed() bool {
	return a.SubscriptionStatus == SubscriptionActive || a.SubscriptionStatus == SubscriptionTrialing
}
