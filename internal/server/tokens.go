package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/internal/ledger/statement"
	"github.com/smallbiznis/pawtrack/internal/metering"
	meteringdomain "github.com/smallbiznis/pawtrack/internal/metering/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	actionTokenGrant = "tokens.grant"
	maxGrantAmount   = 1_000_000
)

type grantTokensRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type tokenGrant struct {
	UserID    snowflake.ID `json:"userId"`
	Amount    int64        `json:"amount"`
	Reason    string       `json:"reason,omitempty"`
	GrantedBy snowflake.ID `json:"grantedBy"`
}

func (s *Server) GetMyTokens(c *gin.Context) {
	balance, err := s.balanceSvc.GetBalance(c.Request.Context(), principalFrom(c).UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": balance})
}

func (s *Server) ListMyLedger(c *gin.Context) {
	s.listLedger(c, principalFrom(c).UserID)
}

// DownloadMyStatement renders the caller's balance and newest ledger entries as a PDF.
func (s *Server) DownloadMyStatement(c *gin.Context) {
	userID := principalFrom(c).UserID
	ctx := c.Request.Context()

	balance, err := s.balanceSvc.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entries, truncated, err := statement.Collect(ctx, s.ledgerSvc, userID, statement.MaxEntries)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	now := s.clock.Now()
	doc, err := statement.Render(statement.Statement{
		UserID:      userID,
		GeneratedAt: now,
		Tokens:      balance.Tokens,
		TokensUsed:  balance.TokensUsed,
		Entries:     entries,
		Truncated:   truncated,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("pawtrack-statement-%s.pdf", now.UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) GrantTokens(c *gin.Context) {
	userID, err := parseIDParam(c, "userID")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	key, err := idempotencyKey(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req grantTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount > maxGrantAmount {
		AbortWithError(c, newValidationError("amount", fmt.Sprintf("must be at most %d", maxGrantAmount)))
		return
	}

	principal := principalFrom(c)
	grant := tokenGrant{
		UserID:    userID,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
		GrantedBy: principal.UserID,
	}
	res, err := metering.Execute(c.Request.Context(), s.meter, meteringdomain.Request[tokenGrant]{
		Principal:      principal,
		Action:         actionTokenGrant,
		Account:        userID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		Authorize: func(_ context.Context, _ *gorm.DB, p entitlementdomain.Principal) error {
			if !p.IsAdmin && !p.IsSuperUser {
				return meteringdomain.ErrForbidden
			}
			return nil
		},
		Write: func(context.Context, *gorm.DB) (tokenGrant, error) {
			return grant, nil
		},
		Describe: func(g tokenGrant) string {
			if g.Reason != "" {
				return g.Reason
			}
			return fmt.Sprintf("%d tokens granted", g.Amount)
		},
		Metadata: func(g tokenGrant) map[string]any {
			return map[string]any{
				"granted_by": g.GrantedBy.String(),
				"reason":     g.Reason,
			}
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMetered(c, "grant", res)
}

func (s *Server) GetUserTokens(c *gin.Context) {
	userID, err := parseIDParam(c, "userID")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	balance, err := s.balanceSvc.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sum, err := s.ledgerSvc.Sum(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": balance, "ledgerSum": sum})
}

func (s *Server) ListUserLedger(c *gin.Context) {
	userID, err := parseIDParam(c, "userID")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.listLedger(c, userID)
}

func (s *Server) listLedger(c *gin.Context, userID snowflake.ID) {
	var query struct {
		pagination.Pagination
		Category string `form:"category"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListRequest{
		UserID:    userID,
		Category:  strings.TrimSpace(query.Category),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}
