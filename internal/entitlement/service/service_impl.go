package service

import (
	"fmt"

	"github.com/smallbiznis/pawtrack/internal/config"
	"github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Policies *config.TokenPolicyHolder
}

type Service struct {
	log      *zap.Logger
	policies *config.TokenPolicyHolder
}

func New(p Params) domain.Resolver {
	return &Service{
		log:      p.Log.Named("entitlement.service"),
		policies: p.Policies,
	}
}

func (s *Service) Policy(action string) (domain.Policy, error) {
	ap, ok := s.policies.Get().Lookup(action)
	if !ok {
		return domain.Policy{}, fmt.Errorf("%w: %s", domain.ErrUnknownAction, action)
	}
	return toPolicy(ap), nil
}

func (s *Service) CheckEntitlement(principal domain.Principal, action string) (domain.Decision, error) {
	policy, err := s.Policy(action)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Check(principal, policy)
	if !decision.Allowed {
		s.log.Debug("action gated by tier",
			zap.String("user_id", principal.UserID.String()),
			zap.String("tier", string(principal.Tier)),
			zap.String("action", action),
		)
	}
	return decision, nil
}

func toPolicy(ap config.ActionPolicy) domain.Policy {
	direction := domain.DirectionDebit
	if ap.Credit {
		direction = domain.DirectionCredit
	}
	return domain.Policy{
		Action:          ap.Action,
		Category:        ap.Category,
		Cost:            ap.Cost,
		FreeTierAllowed: ap.FreeTierAllowed,
		Direction:       direction,
	}
}
