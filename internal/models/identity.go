package models

import (
	"fmt"
	"strings"
)

type IdentityKind string

const (
	IdentityTrial   IdentityKind = "trial"
	IdentityAccount IdentityKind = "account"
)

// Identity names the unit a job spends: the trial of one email, or the
// credit balance of one account. Exactly one of the two per job.
type Identity struct {
	Kind IdentityKind
	Key  string
}

func TrialIdentity(email string) Identity {
	return Identity{Kind: IdentityTrial, Key: NormalizeEmail(email)}
}

func AccountIdentity(accountID string) Identity {
	return Identity{Kind: IdentityAccount, Key: strings.TrimSpace(accountID)}
}

func (i Identity) IsZero() bool {
	return i.Key == ""
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Kind, i.Key)
}

// NormalizeEmail lower-cases and trims an email so that one mailbox maps to
// one trial record.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
