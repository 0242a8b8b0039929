package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPet          = "pet"
	ObjectHealthRecord = "health_record"
	ObjectTokens       = "tokens"
	ObjectLedger       = "ledger"
	ObjectUserTokens   = "user_tokens"
	ObjectUserLedger   = "user_ledger"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionGrant  = "grant"
)

const (
	RoleGuardian  = "role:guardian"
	RoleAdmin     = "role:admin"
	RoleSuperUser = "role:superuser"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds the RBAC enforcer. Policies are persisted through the
// gorm adapter when db is set and kept in memory otherwise.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if db != nil {
		adapter, err := gormadapter.NewAdapterByDB(db)
		if err != nil {
			return nil, err
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		if err != nil {
			return nil, err
		}
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)

	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, principal entitlementdomain.Principal, object string, action string) error {
	if principal.UserID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", principal.UserID.String())
	if err := s.ensureGrouping(subject, roleFor(principal)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func roleFor(principal entitlementdomain.Principal) string {
	switch {
	case principal.IsSuperUser:
		return RoleSuperUser
	case principal.IsAdmin:
		return RoleAdmin
	default:
		return RoleGuardian
	}
}

// ensureGrouping keeps exactly one role link per subject, following the
// principal's current flags.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleGuardian, ObjectPet, ActionView},
		{RoleGuardian, ObjectPet, ActionCreate},
		{RoleGuardian, ObjectHealthRecord, ActionView},
		{RoleGuardian, ObjectHealthRecord, ActionCreate},
		{RoleGuardian, ObjectHealthRecord, ActionDelete},
		{RoleGuardian, ObjectTokens, ActionView},
		{RoleGuardian, ObjectLedger, ActionView},

		{RoleAdmin, ObjectUserTokens, ActionView},
		{RoleAdmin, ObjectUserLedger, ActionView},
		{RoleAdmin, ObjectUserTokens, ActionGrant},

		{RoleSuperUser, ObjectUserTokens, "*"},
		{RoleSuperUser, ObjectUserLedger, "*"},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Admins act as guardians for their own pets too.
	inherit := [][]string{
		{RoleAdmin, RoleGuardian},
		{RoleSuperUser, RoleAdmin},
	}
	for _, link := range inherit {
		has, err := enforcer.HasGroupingPolicy(link)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddGroupingPolicy(link); err != nil {
			return err
		}
	}
	return nil
}
