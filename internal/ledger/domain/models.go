package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// LegacySuffix marks usage-only entries written for legacy-tier guardians.
const LegacySuffix = "_LEGACY"

// LedgerEntry is one immutable, signed token movement. Debits are negative.
type LedgerEntry struct {
	ID             snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID         snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_entries_idempotency,priority:1" json:"user_id"`
	Amount         int64             `gorm:"not null" json:"amount"`
	Category       string            `gorm:"type:text;not null;index" json:"category"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	Metadata       datatypes.JSONMap `gorm:"not null" json:"metadata"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_ledger_entries_idempotency,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
