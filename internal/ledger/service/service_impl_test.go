package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/clock"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/internal/ledger/repository"
	"github.com/smallbiznis/pawtrack/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (ledgerdomain.Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	db := dbtest.Open(t, &ledgerdomain.LedgerEntry{})
	node := dbtest.MustNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, db, clk, node
}

func TestAppend(t *testing.T) {
	svc, _, clk, node := setupLedger(t)
	userID := node.Generate()

	entry, err := svc.Append(context.Background(), nil, ledgerdomain.AppendRequest{
		UserID:      userID,
		Amount:      -85,
		Category:    "FEEDING_CREATION",
		Description: "Feeding logged",
		Metadata:    map[string]any{"feeding_id": "42"},
	})
	require.NoError(t, err)
	assert.NotZero(t, entry.ID)
	assert.Equal(t, int64(-85), entry.Amount)
	assert.Equal(t, clk.Now(), entry.CreatedAt)
	assert.Equal(t, "42", entry.Metadata["feeding_id"])
	assert.Nil(t, entry.IdempotencyKey)
}

func TestAppendValidation(t *testing.T) {
	svc, _, _, node := setupLedger(t)

	_, err := svc.Append(context.Background(), nil, ledgerdomain.AppendRequest{Amount: -1, Category: "X"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)

	_, err = svc.Append(context.Background(), nil, ledgerdomain.AppendRequest{UserID: node.Generate(), Category: "X"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAmount)

	_, err = svc.Append(context.Background(), nil, ledgerdomain.AppendRequest{UserID: node.Generate(), Amount: -1, Category: "  "})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCategory)
}

func TestAppendDuplicateIdempotencyKey(t *testing.T) {
	svc, _, _, node := setupLedger(t)
	ctx := context.Background()
	userID := node.Generate()
	req := ledgerdomain.AppendRequest{
		UserID:         userID,
		Amount:         -40,
		Category:       "WATER_CREATION",
		IdempotencyKey: "retry-1",
	}

	_, err := svc.Append(ctx, nil, req)
	require.NoError(t, err)

	_, err = svc.Append(ctx, nil, req)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateRequest)

	// Keys are scoped per user.
	req.UserID = node.Generate()
	_, err = svc.Append(ctx, nil, req)
	assert.NoError(t, err)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	svc, db, _, node := setupLedger(t)
	userID := node.Generate()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := svc.Append(context.Background(), tx, ledgerdomain.AppendRequest{
			UserID: userID, Amount: -50, Category: "PAIN_SCORE_CREATION",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	total, err := svc.Sum(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, _, clk, node := setupLedger(t)
	ctx := context.Background()
	userID := node.Generate()

	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		_, err := svc.Append(ctx, nil, ledgerdomain.AppendRequest{
			UserID: userID, Amount: int64(-(i + 1)), Category: "WALK_CREATION",
		})
		require.NoError(t, err)
	}
	_, err := svc.Append(ctx, nil, ledgerdomain.AppendRequest{
		UserID: userID, Amount: 100, Category: "TOKEN_GRANT",
	})
	require.NoError(t, err)

	first, err := svc.List(ctx, ledgerdomain.ListRequest{UserID: userID, Category: "WALK_CREATION", PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Entries, 3)
	assert.True(t, first.HasMore)
	assert.Equal(t, int64(-5), first.Entries[0].Amount)

	second, err := svc.List(ctx, ledgerdomain.ListRequest{UserID: userID, Category: "WALK_CREATION", PageSize: 3, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Entries, 2)
	assert.False(t, second.HasMore)
	assert.Equal(t, int64(-1), second.Entries[1].Amount)

	total, err := svc.Sum(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(100-15), total)
}
