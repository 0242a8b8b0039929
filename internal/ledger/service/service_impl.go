package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/clock"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/pkg/db"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, req ledgerdomain.AppendRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount == 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return nil, ledgerdomain.ErrInvalidCategory
	}
	if tx == nil {
		tx = s.db
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	entry := &ledgerdomain.LedgerEntry{
		ID:          s.genID.Generate(),
		UserID:      req.UserID,
		Amount:      req.Amount,
		Category:    category,
		Description: strings.TrimSpace(req.Description),
		Metadata:    metadata,
		CreatedAt:   s.clock.Now(),
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		entry.IdempotencyKey = &key
	}

	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ledgerdomain.ErrDuplicateRequest
		}
		return nil, err
	}

	return entry, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListRequest) (ledgerdomain.ListResponse, error) {
	if req.UserID == 0 {
		return ledgerdomain.ListResponse{}, ledgerdomain.ErrInvalidUser
	}

	pageSize := pagination.NormalizePageSize(req.PageSize)
	items, err := s.repo.List(ctx, s.db, req.UserID, ledgerdomain.ListFilter{
		Category: strings.TrimSpace(req.Category),
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	items, pageInfo, err := pagination.BuildCursorPageInfo(items, pageSize, func(entry *ledgerdomain.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: entry.ID.String()}
	})
	if err != nil {
		return ledgerdomain.ListResponse{}, err
	}

	entries := make([]ledgerdomain.LedgerEntry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}
	return ledgerdomain.ListResponse{PageInfo: pageInfo, Entries: entries}, nil
}

// Sum totals every signed amount for userID. Used by reconciliation audits.
func (s *Service) Sum(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	return s.repo.Sum(ctx, s.db, userID)
}
