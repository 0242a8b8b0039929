package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetBalance(ctx context.Context, userID snowflake.ID) (Balance, error)
}

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidDelta        = errors.New("invalid_delta")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrAccountNotFound     = errors.New("account_not_found")
)
