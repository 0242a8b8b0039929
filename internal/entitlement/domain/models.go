package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Tier is the subscription level of a guardian.
type Tier string

const (
	TierFree    Tier = "free"
	TierComfort Tier = "comfort"
	TierLegacy  Tier = "legacy"
)

// ParseTier normalizes a tier string. Unknown values fall back to free.
func ParseTier(value string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(value))) {
	case TierComfort:
		return TierComfort
	case TierLegacy:
		return TierLegacy
	default:
		return TierFree
	}
}

// Principal is the authenticated actor a request executes for. It is resolved
// once per request and never mutated afterwards.
type Principal struct {
	UserID      snowflake.ID `json:"user_id"`
	Tier        Tier         `json:"tier"`
	IsAdmin     bool         `json:"is_admin"`
	IsSuperUser bool         `json:"is_super_user"`
}

func (p Principal) IsLegacy() bool { return p.Tier == TierLegacy }

// Direction tells whether an action takes tokens away or adds them.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type Policy struct {
	Action          string    `json:"action"`
	Category        string    `json:"category"`
	Cost            int64     `json:"cost"`
	FreeTierAllowed bool      `json:"free_tier_allowed"`
	Direction       Direction `json:"direction"`
}

const ReasonUpgradeRequired = "UPGRADE_REQUIRED"

type Decision struct {
	Allowed bool
	Reason  string
	Policy  Policy
	// Legacy means the balance is not touched; usage is still recorded at nominal cost.
	Legacy bool
}
