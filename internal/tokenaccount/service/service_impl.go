package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("tokenaccount.service"),
		repo: p.Repo,
	}
}

// GetBalance reads the current balance. A user without an account has zero tokens.
func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (domain.Balance, error) {
	if userID == 0 {
		return domain.Balance{}, domain.ErrInvalidUser
	}
	account, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Balance{}, err
	}
	if account == nil {
		return domain.Balance{}, nil
	}
	return account.Snapshot(), nil
}
