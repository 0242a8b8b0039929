package authorization

import (
	"context"
	"errors"

	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
)

type Service interface {
	// Authorize checks whether principal may perform action on object.
	Authorize(ctx context.Context, principal entitlementdomain.Principal, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
