package domain

import "errors"

type Resolver interface {
	// CheckEntitlement resolves action against the current policy table for principal.
	CheckEntitlement(principal Principal, action string) (Decision, error)
	Policy(action string) (Policy, error)
}

var (
	ErrUnknownAction   = errors.New("unknown_action")
	ErrUpgradeRequired = errors.New("upgrade_required")
)

// Check applies the tier rules to a single policy. It has no side effects.
func Check(principal Principal, policy Policy) Decision {
	decision := Decision{Allowed: true, Policy: policy}
	if principal.Tier == TierFree && !policy.FreeTierAllowed {
		decision.Allowed = false
		decision.Reason = ReasonUpgradeRequired
		return decision
	}
	if principal.IsLegacy() && policy.Direction == DirectionDebit {
		decision.Legacy = true
	}
	return decision
}
