package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TokenAccount holds one guardian's spendable tokens and lifetime consumption.
type TokenAccount struct {
	UserID        snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Balance       int64        `gorm:"not null;default:0;check:chk_token_accounts_balance,balance >= 0" json:"balance"`
	ConsumedTotal int64        `gorm:"not null;default:0;check:chk_token_accounts_consumed,consumed_total >= 0" json:"consumed_total"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (TokenAccount) TableName() string { return "token_accounts" }

// Balance is the wire shape returned next to every metered write.
type Balance struct {
	Tokens     int64 `json:"tokens"`
	TokensUsed int64 `json:"tokensUsed"`
}

func (a TokenAccount) Snapshot() Balance {
	return Balance{Tokens: a.Balance, TokensUsed: a.ConsumedTotal}
}
