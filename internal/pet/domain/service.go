package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	"gorm.io/gorm"
)

type CreatePetRequest struct {
	Name    string `json:"name"`
	Species string `json:"species"`
}

type Service interface {
	Create(ctx context.Context, principal entitlementdomain.Principal, req CreatePetRequest) (Pet, error)
	List(ctx context.Context, principal entitlementdomain.Principal) ([]Pet, error)
	Get(ctx context.Context, principal entitlementdomain.Principal, id snowflake.ID) (Pet, error)
	// Authorize verifies petID exists and belongs to principal, reading through db.
	// Admins skip the ownership check but not the existence check.
	Authorize(ctx context.Context, db *gorm.DB, principal entitlementdomain.Principal, petID snowflake.ID) error
}

var (
	ErrInvalidName = errors.New("invalid_name")
	ErrNotFound    = meteringdomain.ErrNotFound
	ErrForbidden   = meteringdomain.ErrForbidden
)
