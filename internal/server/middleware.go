package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pawtrack/internal/auth"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	obscontext "github.com/smallbiznis/pawtrack/internal/observability/context"
)

const (
	headerAuthorization  = "Authorization"
	headerIdempotencyKey = "Idempotency-Key"
	contextLedgerKey     = "ledger_category"
	maxIdempotencyKeyLen = 128
)

// AuthRequired resolves the bearer token into a principal for the rest of the chain.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader(headerAuthorization))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.tokens.Parse(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		kind := "user"
		if principal.IsAdmin {
			kind = "admin"
		}
		ctx := auth.WithPrincipal(c.Request.Context(), principal)
		ctx = obscontext.WithActor(ctx, kind, principal.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorize gates a route on the casbin policy for the current principal.
func (s *Server) authorize(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := auth.PrincipalFromContext(c.Request.Context())
		if principal == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), *principal, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principalFrom(c *gin.Context) *entitlementdomain.Principal {
	return auth.PrincipalFromContext(c.Request.Context())
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func idempotencyKey(c *gin.Context) (string, error) {
	key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return "", newValidationError("Idempotency-Key", "must be at most 128 characters")
	}
	return key, nil
}
