package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/pawtrack/internal/clock"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	"github.com/smallbiznis/pawtrack/internal/pet/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/option"
	"github.com/smallbiznis/pawtrack/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  repository.Repository[domain.Pet]
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[domain.Pet]
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pet.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, principal entitlementdomain.Principal, req domain.CreatePetRequest) (domain.Pet, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Pet{}, domain.ErrInvalidName
	}

	base := slug.Make(name)
	if base == "" {
		base = "pet"
	}
	taken, err := s.repo.Count(ctx, &domain.Pet{GuardianID: principal.UserID, Slug: base})
	if err != nil {
		return domain.Pet{}, err
	}

	pet := domain.Pet{
		ID:         s.genID.Generate(),
		GuardianID: principal.UserID,
		Name:       name,
		Species:    strings.ToLower(strings.TrimSpace(req.Species)),
		Slug:       base,
		CreatedAt:  s.clock.Now(),
	}
	if taken > 0 {
		pet.Slug = fmt.Sprintf("%s-%s", base, strings.ToLower(pet.ID.Base36()))
	}

	if err := s.repo.Create(ctx, &pet); err != nil {
		return domain.Pet{}, err
	}
	s.log.Info("pet created", zap.String("pet_id", pet.ID.String()), zap.String("guardian_id", principal.UserID.String()))
	return pet, nil
}

func (s *Service) List(ctx context.Context, principal entitlementdomain.Principal) ([]domain.Pet, error) {
	items, err := s.repo.Find(ctx, &domain.Pet{GuardianID: principal.UserID}, option.OrderBy("created_at asc, id asc"))
	if err != nil {
		return nil, err
	}
	pets := make([]domain.Pet, 0, len(items))
	for _, item := range items {
		pets = append(pets, *item)
	}
	return pets, nil
}

func (s *Service) Get(ctx context.Context, principal entitlementdomain.Principal, id snowflake.ID) (domain.Pet, error) {
	pet, err := s.load(ctx, s.db, principal, id)
	if err != nil {
		return domain.Pet{}, err
	}
	return *pet, nil
}

func (s *Service) Authorize(ctx context.Context, db *gorm.DB, principal entitlementdomain.Principal, petID snowflake.ID) error {
	_, err := s.load(ctx, db, principal, petID)
	return err
}

func (s *Service) load(ctx context.Context, db *gorm.DB, principal entitlementdomain.Principal, id snowflake.ID) (*domain.Pet, error) {
	if id == 0 {
		return nil, domain.ErrNotFound
	}
	if db == nil {
		db = s.db
	}
	pet, err := s.repo.WithTrx(db).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if pet == nil {
		return nil, domain.ErrNotFound
	}
	if pet.GuardianID != principal.UserID && !principal.IsAdmin && !principal.IsSuperUser {
		return nil, domain.ErrForbidden
	}
	return pet, nil
}
