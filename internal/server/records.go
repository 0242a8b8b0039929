package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/pawtrack/internal/authorization"
	healthlogdomain "github.com/smallbiznis/pawtrack/internal/healthlog/domain"
	healthlogservice "github.com/smallbiznis/pawtrack/internal/healthlog/service"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
)

// registerRecordRoutes mounts create, list and delete for one record kind.
func registerRecordRoutes[R any, P healthlogservice.RecordPtr[R]](s *Server, api *gin.RouterGroup) {
	var zero R
	kind := P(&zero).Kind()

	api.POST("/pets/:petID/"+kind.Route, s.authorize(authorization.ObjectHealthRecord, authorization.ActionCreate), createRecord[R, P](s, kind))
	api.GET("/pets/:petID/"+kind.Route, s.authorize(authorization.ObjectHealthRecord, authorization.ActionView), listRecords[R, P](s))
	api.DELETE("/"+kind.Route+"/:id", s.authorize(authorization.ObjectHealthRecord, authorization.ActionDelete), deleteRecord[R, P](s, kind))
}

func createRecord[R any, P healthlogservice.RecordPtr[R]](s *Server, kind healthlogdomain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		petID, err := parseIDParam(c, "petID")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		key, err := idempotencyKey(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		record := P(new(R))
		if err := c.ShouldBindJSON(record); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}

		res, err := healthlogservice.Create[R, P](c.Request.Context(), s.recordSvc, principalFrom(c), petID, record, key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		respondMetered(c, kind.JSONKey, res)
	}
}

func deleteRecord[R any, P healthlogservice.RecordPtr[R]](s *Server, kind healthlogdomain.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseIDParam(c, "id")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		key, err := idempotencyKey(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		res, err := healthlogservice.Delete[R, P](c.Request.Context(), s.recordSvc, principalFrom(c), id, key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		respondMetered(c, kind.JSONKey, res)
	}
}

func listRecords[R any, P healthlogservice.RecordPtr[R]](s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		petID, err := parseIDParam(c, "petID")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		limit, err := parseOptionalInt(c.Query("limit"))
		if err != nil {
			AbortWithError(c, newValidationError("limit", "must be an integer"))
			return
		}

		items, err := healthlogservice.List[R, P](c.Request.Context(), s.recordSvc, principalFrom(c), petID, limit)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"data": items})
	}
}

// respondMetered writes the entity under key next to the post-write balance.
func respondMetered[T any](c *gin.Context, key string, res *meteringdomain.Result[T]) {
	if res.Entry != nil {
		c.Set(contextLedgerKey, res.Entry.Category)
	}
	c.JSON(http.StatusOK, gin.H{
		key:    res.Entity,
		"user": res.Balance,
	})
}
