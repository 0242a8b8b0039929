package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/pawtrack/internal/auth/domain"
	"github.com/smallbiznis/pawtrack/internal/authorization"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	petdomain "github.com/smallbiznis/pawtrack/internal/pet/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type   string                      `json:"type"`
	Errors []meteringdomain.FieldError `json:"errors,omitempty"`
}

type errorResponse struct {
	Message string       `json:"message"`
	Error   errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = meteringdomain.ErrUnauthenticated
	ErrForbidden      = meteringdomain.ErrForbidden
	ErrNotFound       = meteringdomain.ErrNotFound
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, resp := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid request")
}

func newValidationError(field, message string) error {
	return meteringdomain.NewValidationError(meteringdomain.FieldError{Field: field, Message: message})
}

func mapError(err error) (int, errorResponse) {
	kind := classify(err)

	resp := errorResponse{Message: messageFor(kind, err), Error: errorPayload{Type: string(kind)}}
	var verr *meteringdomain.ValidationError
	if errors.As(err, &verr) && verr != nil {
		resp.Error.Errors = verr.Fields
	}

	switch kind {
	case meteringdomain.KindValidation:
		return http.StatusBadRequest, resp
	case meteringdomain.KindUnauthenticated:
		return http.StatusUnauthorized, resp
	case meteringdomain.KindForbidden,
		meteringdomain.KindUpgradeRequired,
		meteringdomain.KindInsufficientBalance:
		return http.StatusForbidden, resp
	case meteringdomain.KindNotFound:
		return http.StatusNotFound, resp
	case meteringdomain.KindDuplicateRequest:
		return http.StatusConflict, resp
	case meteringdomain.KindRateLimited:
		return http.StatusTooManyRequests, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

// classify extends the metering taxonomy with the errors raised outside a
// metered write.
func classify(err error) meteringdomain.Kind {
	switch {
	case err == nil:
		return meteringdomain.KindUnknown
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, petdomain.ErrInvalidName),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidCategory),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return meteringdomain.KindValidation
	case errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrInvalidClaims),
		errors.Is(err, authorization.ErrInvalidActor):
		return meteringdomain.KindUnauthenticated
	case errors.Is(err, authorization.ErrForbidden):
		return meteringdomain.KindForbidden
	case errors.Is(err, gorm.ErrRecordNotFound):
		return meteringdomain.KindNotFound
	}
	return meteringdomain.Classify(err)
}

func messageFor(kind meteringdomain.Kind, err error) string {
	switch kind {
	case meteringdomain.KindValidation:
		var verr *meteringdomain.ValidationError
		if errors.As(err, &verr) && verr != nil && len(verr.Fields) > 0 {
			return "validation error"
		}
		return err.Error()
	case meteringdomain.KindUnauthenticated:
		return "authentication required"
	case meteringdomain.KindForbidden:
		return "forbidden"
	case meteringdomain.KindNotFound:
		return "not found"
	case meteringdomain.KindUpgradeRequired:
		return "upgrade to the comfort tier to log this record"
	case meteringdomain.KindInsufficientBalance:
		return "not enough tokens"
	case meteringdomain.KindDuplicateRequest:
		return "request already processed"
	case meteringdomain.KindRateLimited:
		return "too many requests"
	default:
		return "internal server error"
	}
}

// classifyErrorForLog feeds the request logger.
func classifyErrorForLog(err error) (string, string) {
	kind := classify(err)
	return string(kind), err.Error()
}
