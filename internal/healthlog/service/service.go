package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/clock"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	"github.com/smallbiznis/pawtrack/internal/healthlog/domain"
	"github.com/smallbiznis/pawtrack/internal/metering"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	petdomain "github.com/smallbiznis/pawtrack/internal/pet/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/option"
	"github.com/smallbiznis/pawtrack/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 100

// RecordPtr constrains P to be *R and a health record.
type RecordPtr[R any] interface {
	*R
	domain.Record
}

type Params struct {
	fx.In

	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock `optional:"true"`
	Engine *metering.Engine
	Pets   petdomain.Service
}

type Service struct {
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	engine *metering.Engine
	pets   petdomain.Service
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:    p.Log.Named("healthlog.service"),
		genID:  p.GenID,
		clock:  clk,
		engine: p.Engine,
		pets:   p.Pets,
	}
}

// Create validates record and stores it for petID as a metered write.
func Create[R any, P RecordPtr[R]](
	ctx context.Context,
	s *Service,
	principal *entitlementdomain.Principal,
	petID snowflake.ID,
	record P,
	idempotencyKey string,
) (*meteringdomain.Result[P], error) {
	if (*R)(record) == nil {
		return nil, meteringdomain.NewValidationError(meteringdomain.FieldError{Field: "body", Message: "is required"})
	}
	kind := record.Kind()

	header := record.Header()
	header.PetID = petID
	verr := meteringdomain.NewValidationError()
	record.Validate(verr)
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	header.ID = s.genID.Generate()
	header.TimeRecorded = header.TimeRecorded.UTC()
	header.Notes = strings.TrimSpace(header.Notes)
	header.CreatedAt = s.clock.Now()

	return metering.Execute(ctx, s.engine, meteringdomain.Request[P]{
		Principal:      principal,
		Action:         kind.CreateAction(),
		IdempotencyKey: idempotencyKey,
		Authorize: func(ctx context.Context, db *gorm.DB, p entitlementdomain.Principal) error {
			return s.pets.Authorize(ctx, db, p, petID)
		},
		Write: func(ctx context.Context, tx *gorm.DB) (P, error) {
			if err := repository.ProvideStore[R](tx).Create(ctx, (*R)(record)); err != nil {
				var none P
				return none, err
			}
			return record, nil
		},
		Describe: func(P) string {
			return fmt.Sprintf("%s logged for pet %s", kind.Label, petID.String())
		},
		Metadata: func(r P) map[string]any {
			m := r.Metadata()
			m["kind"] = kind.Resource
			return m
		},
	})
}

// Delete removes the record with id. Deleting is charged like creating.
func Delete[R any, P RecordPtr[R]](
	ctx context.Context,
	s *Service,
	principal *entitlementdomain.Principal,
	id snowflake.ID,
	idempotencyKey string,
) (*meteringdomain.Result[P], error) {
	var zero R
	kind := P(&zero).Kind()

	var existing P
	return metering.Execute(ctx, s.engine, meteringdomain.Request[P]{
		Principal:      principal,
		Action:         kind.DeleteAction(),
		IdempotencyKey: idempotencyKey,
		Authorize: func(ctx context.Context, db *gorm.DB, p entitlementdomain.Principal) error {
			if id == 0 {
				return meteringdomain.ErrNotFound
			}
			found, err := repository.ProvideStore[R](db).FindByID(ctx, id)
			if err != nil {
				return err
			}
			if found == nil {
				return meteringdomain.ErrNotFound
			}
			existing = P(found)
			return s.pets.Authorize(ctx, db, p, existing.Header().PetID)
		},
		Write: func(ctx context.Context, tx *gorm.DB) (P, error) {
			var none P
			rows, err := repository.ProvideStore[R](tx).Delete(ctx, id)
			if err != nil {
				return none, err
			}
			if rows == 0 {
				return none, meteringdomain.ErrNotFound
			}
			return existing, nil
		},
		Describe: func(r P) string {
			return fmt.Sprintf("%s deleted for pet %s", kind.Label, r.Header().PetID.String())
		},
		Metadata: func(r P) map[string]any {
			m := r.Metadata()
			m["kind"] = kind.Resource
			return m
		},
	})
}

// List returns the pet's records newest first. Reads are not metered.
func List[R any, P RecordPtr[R]](
	ctx context.Context,
	s *Service,
	principal *entitlementdomain.Principal,
	petID snowflake.ID,
	limit int,
) ([]P, error) {
	if principal == nil {
		return nil, meteringdomain.ErrUnauthenticated
	}
	if err := s.pets.Authorize(ctx, s.engine.DB(), *principal, petID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}

	items, err := repository.ProvideStore[R](s.engine.DB()).Find(ctx, new(R),
		option.Where("pet_id = ?", petID),
		option.OrderBy("time_recorded desc, id desc"),
		option.Limit(limit),
	)
	if err != nil {
		return nil, err
	}
	out := make([]P, 0, len(items))
	for _, item := range items {
		out = append(out, P(item))
	}
	return out, nil
}
