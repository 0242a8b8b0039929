package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pawtrack/internal/clock"
	"github.com/smallbiznis/pawtrack/internal/config"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	entitlementservice "github.com/smallbiznis/pawtrack/internal/entitlement/service"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/pawtrack/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/pawtrack/internal/ledger/service"
	"github.com/smallbiznis/pawtrack/internal/metering/domain"
	tokenaccountdomain "github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	tokenaccountrepository "github.com/smallbiznis/pawtrack/internal/tokenaccount/repository"
	"github.com/smallbiznis/pawtrack/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testRecord struct {
	ID        snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PetID     snowflake.ID `gorm:"not null"`
	Note      string
	CreatedAt time.Time
}

func (testRecord) TableName() string { return "test_records" }

type harness struct {
	engine *Engine
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
}

func testPolicy() config.TokenPolicy {
	policy := config.DefaultTokenPolicy()
	policy.Actions = append(policy.Actions, config.ActionPolicy{
		Action:          "treat.create",
		Category:        "TREAT_CREATION",
		Cost:            80,
		FreeTierAllowed: true,
	})
	return policy
}

var harnessModels = []any{&tokenaccountdomain.TokenAccount{}, &ledgerdomain.LedgerEntry{}, &testRecord{}}

func newHarness(t *testing.T, opts ...func(*Params)) *harness {
	t.Helper()
	return newHarnessOn(t, dbtest.Open(t, harnessModels...), opts...)
}

func newHarnessOn(t *testing.T, db *gorm.DB, opts ...func(*Params)) *harness {
	t.Helper()
	node := dbtest.MustNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	params := Params{
		DB:    db,
		Log:   log,
		Clock: clk,
		Resolver: entitlementservice.New(entitlementservice.Params{
			Log:      log,
			Policies: config.NewStaticTokenPolicyHolder(testPolicy()),
		}),
		Accounts: tokenaccountrepository.Provide(),
		Ledger: ledgerservice.NewService(ledgerservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  ledgerrepository.Provide(),
		}),
	}
	for _, opt := range opts {
		opt(&params)
	}
	return &harness{engine: NewEngine(params), db: db, node: node, clock: clk}
}

func (h *harness) principal(t *testing.T, tier entitlementdomain.Tier, balance int64) *entitlementdomain.Principal {
	t.Helper()
	p := &entitlementdomain.Principal{UserID: h.node.Generate(), Tier: tier}
	require.NoError(t, h.db.Create(&tokenaccountdomain.TokenAccount{UserID: p.UserID, Balance: balance}).Error)
	return p
}

func (h *harness) createRequest(p *entitlementdomain.Principal, action string) domain.Request[*testRecord] {
	petID := h.node.Generate()
	return domain.Request[*testRecord]{
		Principal: p,
		Action:    action,
		Write: func(ctx context.Context, tx *gorm.DB) (*testRecord, error) {
			rec := &testRecord{ID: h.node.Generate(), PetID: petID, Note: "kibble"}
			if err := tx.WithContext(ctx).Create(rec).Error; err != nil {
				return nil, err
			}
			return rec, nil
		},
		Describe: func(rec *testRecord) string { return "record " + rec.ID.String() },
		Metadata: func(rec *testRecord) map[string]any {
			return map[string]any{"record_id": rec.ID.String(), "pet_id": rec.PetID.String()}
		},
	}
}

func (h *harness) account(t *testing.T, userID snowflake.ID) tokenaccountdomain.TokenAccount {
	t.Helper()
	var account tokenaccountdomain.TokenAccount
	require.NoError(t, h.db.First(&account, "user_id = ?", userID).Error)
	return account
}

func (h *harness) entries(t *testing.T, userID snowflake.ID) []ledgerdomain.LedgerEntry {
	t.Helper()
	var entries []ledgerdomain.LedgerEntry
	require.NoError(t, h.db.Where("user_id = ?", userID).Order("id asc").Find(&entries).Error)
	return entries
}

func (h *harness) records(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&testRecord{}).Count(&n).Error)
	return n
}

func TestExecuteComfortFeeding(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	res, err := Execute(context.Background(), h.engine, h.createRequest(p, "feeding.create"))
	require.NoError(t, err)

	assert.Equal(t, tokenaccountdomain.Balance{Tokens: 915, TokensUsed: 85}, res.Balance)
	assert.Equal(t, "kibble", res.Entity.Note)
	assert.Equal(t, int64(1), h.records(t))

	entries := h.entries(t, p.UserID)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-85), entries[0].Amount)
	assert.Equal(t, "FEEDING_CREATION", entries[0].Category)
	assert.Equal(t, res.Entity.ID.String(), entries[0].Metadata["record_id"])
	assert.Equal(t, "feeding.create", entries[0].Metadata["action"])
	assert.True(t, h.clock.Now().Equal(entries[0].CreatedAt))
	assert.Equal(t, entries[0].ID, res.Entry.ID)
}

func TestExecuteInsufficientBalanceRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 84)

	writes := 0
	req := h.createRequest(p, "feeding.create")
	write := req.Write
	req.Write = func(ctx context.Context, tx *gorm.DB) (*testRecord, error) {
		writes++
		return write(ctx, tx)
	}

	res, err := Execute(context.Background(), h.engine, req)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindInsufficientBalance, domain.Classify(err))

	assert.Equal(t, 1, writes, "domain write ran before the debit")
	assert.Zero(t, h.records(t))
	account := h.account(t, p.UserID)
	assert.Equal(t, int64(84), account.Balance)
	assert.Zero(t, account.ConsumedTotal)
	assert.Empty(t, h.entries(t, p.UserID))
}

func TestExecuteConcurrentDebitsNoDoubleSpend(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 100)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Execute(context.Background(), h.engine, h.createRequest(p, "treat.create"))
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	account := h.account(t, p.UserID)
	assert.Equal(t, int64(20), account.Balance)
	assert.Equal(t, int64(80), account.ConsumedTotal)
	assert.Len(t, h.entries(t, p.UserID), 1)
	assert.Equal(t, int64(1), h.records(t))
}

func TestExecuteLedgerCompleteness(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 10_000)

	actions := []struct {
		action   string
		cost     int64
		category string
	}{
		{"feeding.create", 85, "FEEDING_CREATION"},
		{"pain_score.create", 50, "PAIN_SCORE_CREATION"},
		{"medication.delete", 70, "MEDICATION_DELETE"},
		{"walk.create", 55, "WALK_CREATION"},
	}

	for i, a := range actions {
		before := h.account(t, p.UserID)
		_, err := Execute(context.Background(), h.engine, h.createRequest(p, a.action))
		require.NoError(t, err, a.action)
		after := h.account(t, p.UserID)

		assert.Equal(t, before.ConsumedTotal+a.cost, after.ConsumedTotal, a.action)
		assert.Equal(t, before.Balance-a.cost, after.Balance, a.action)

		entries := h.entries(t, p.UserID)
		require.Len(t, entries, i+1)
		assert.Equal(t, -a.cost, entries[i].Amount)
		assert.Equal(t, a.category, entries[i].Category)
	}

	var sum int64
	for _, e := range h.entries(t, p.UserID) {
		sum += e.Amount
	}
	assert.Equal(t, -h.account(t, p.UserID).ConsumedTotal, sum)
}

func TestExecuteDeleteChargesLikeCreate(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 200)

	created, err := Execute(context.Background(), h.engine, h.createRequest(p, "water.create"))
	require.NoError(t, err)

	deleted, err := Execute(context.Background(), h.engine, domain.Request[*testRecord]{
		Principal: p,
		Action:    "water.delete",
		Write: func(ctx context.Context, tx *gorm.DB) (*testRecord, error) {
			return created.Entity, tx.WithContext(ctx).Delete(&testRecord{}, created.Entity.ID).Error
		},
	})
	require.NoError(t, err)
	assert.Equal(t, tokenaccountdomain.Balance{Tokens: 120, TokensUsed: 80}, deleted.Balance)
	assert.Zero(t, h.records(t))
	assert.Equal(t, "WATER_DELETE", deleted.Entry.Category)
	assert.Equal(t, "WATER_DELETE", deleted.Entry.Description)
}

func TestExecuteLegacyBypass(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierLegacy, 0)

	const n = 3
	for i := 0; i < n; i++ {
		res, err := Execute(context.Background(), h.engine, h.createRequest(p, "seizure.create"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.Balance.Tokens)
	}

	account := h.account(t, p.UserID)
	assert.Equal(t, int64(0), account.Balance)
	assert.Equal(t, int64(n*90), account.ConsumedTotal)

	entries := h.entries(t, p.UserID)
	require.Len(t, entries, n)
	for _, e := range entries {
		assert.Equal(t, "SEIZURE_CREATION_LEGACY", e.Category)
		assert.Equal(t, int64(-90), e.Amount)
		assert.Equal(t, true, e.Metadata["legacy"])
	}
}

func TestExecuteFreeTierGate(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierFree, 1000)

	req := h.createRequest(p, "medication.create")
	req.Write = func(context.Context, *gorm.DB) (*testRecord, error) {
		t.Fatal("write must not run for a gated action")
		return nil, nil
	}

	_, err := Execute(context.Background(), h.engine, req)
	assert.ErrorIs(t, err, domain.ErrUpgradeRequired)
	assert.Equal(t, int64(1000), h.account(t, p.UserID).Balance)
	assert.Empty(t, h.entries(t, p.UserID))

	// Free-tier actions still go through.
	_, err = Execute(context.Background(), h.engine, h.createRequest(p, "water.create"))
	assert.NoError(t, err)
}

func TestExecuteFastFailures(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	t.Run("no principal", func(t *testing.T) {
		req := h.createRequest(nil, "feeding.create")
		_, err := Execute(context.Background(), h.engine, req)
		assert.Equal(t, domain.KindUnauthenticated, domain.Classify(err))
	})

	for _, authErr := range []error{domain.ErrNotFound, domain.ErrForbidden} {
		t.Run(authErr.Error(), func(t *testing.T) {
			req := h.createRequest(p, "feeding.create")
			req.Authorize = func(context.Context, *gorm.DB, entitlementdomain.Principal) error { return authErr }
			_, err := Execute(context.Background(), h.engine, req)
			assert.ErrorIs(t, err, authErr)
		})
	}

	t.Run("unknown action", func(t *testing.T) {
		_, err := Execute(context.Background(), h.engine, h.createRequest(p, "grooming.create"))
		assert.ErrorIs(t, err, entitlementdomain.ErrUnknownAction)
		assert.Equal(t, domain.KindUnknown, domain.Classify(err))
	})

	assert.Zero(t, h.records(t))
	assert.Equal(t, int64(1000), h.account(t, p.UserID).Balance)
	assert.Empty(t, h.entries(t, p.UserID))
}

func TestExecuteWriteFailurePropagatesAsIs(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 1000)
	writeErr := domain.NewValidationError(domain.FieldError{Field: "brand", Message: "is required"})

	req := h.createRequest(p, "feeding.create")
	req.Write = func(context.Context, *gorm.DB) (*testRecord, error) { return nil, writeErr }

	_, err := Execute(context.Background(), h.engine, req)
	assert.Same(t, writeErr, err)
	assert.Equal(t, int64(1000), h.account(t, p.UserID).Balance)
}

func TestExecuteDuplicateIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	req := h.createRequest(p, "feeding.create")
	req.IdempotencyKey = "feed-1"

	_, err := Execute(context.Background(), h.engine, req)
	require.NoError(t, err)

	_, err = Execute(context.Background(), h.engine, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)
	assert.Equal(t, domain.KindDuplicateRequest, domain.Classify(err))

	assert.Equal(t, int64(1), h.records(t))
	account := h.account(t, p.UserID)
	assert.Equal(t, int64(915), account.Balance)
	assert.Equal(t, int64(85), account.ConsumedTotal)
}

func TestExecuteTimeoutRollsBack(t *testing.T) {
	// the timed-out transaction's connection is discarded, so the data must outlive it
	h := newHarnessOn(t, dbtest.OpenFile(t, harnessModels...), func(p *Params) {
		p.Config.Metering.TxTimeout = 50 * time.Millisecond
	})
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	req := h.createRequest(p, "feeding.create")
	write := req.Write
	req.Write = func(ctx context.Context, tx *gorm.DB) (*testRecord, error) {
		rec, err := write(ctx, tx)
		if err != nil {
			return nil, err
		}
		<-ctx.Done()
		return rec, ctx.Err()
	}

	_, err := Execute(context.Background(), h.engine, req)
	assert.ErrorIs(t, err, domain.ErrTransactionFailure)
	assert.Equal(t, domain.KindTransactionFailure, domain.Classify(err))

	assert.Zero(t, h.records(t))
	assert.Equal(t, int64(1000), h.account(t, p.UserID).Balance)
	assert.Empty(t, h.entries(t, p.UserID))
}

func TestExecuteIgnoresCallerCancellationOnceStarted(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	req := h.createRequest(p, "feeding.create")
	write := req.Write
	req.Write = func(blockCtx context.Context, tx *gorm.DB) (*testRecord, error) {
		cancel()
		return write(blockCtx, tx)
	}

	res, err := Execute(ctx, h.engine, req)
	require.NoError(t, err)
	assert.Equal(t, int64(915), res.Balance.Tokens)
	assert.Equal(t, int64(1), h.records(t))
}

func TestExecuteCredit(t *testing.T) {
	h := newHarness(t)
	admin := &entitlementdomain.Principal{UserID: h.node.Generate(), Tier: entitlementdomain.TierComfort, IsAdmin: true}
	guardian := h.principal(t, entitlementdomain.TierFree, 10)

	grant := func(amount int64) (*domain.Result[int64], error) {
		return Execute(context.Background(), h.engine, domain.Request[int64]{
			Principal: admin,
			Action:    "tokens.grant",
			Account:   guardian.UserID,
			Amount:    amount,
			Write: func(context.Context, *gorm.DB) (int64, error) {
				return amount, nil
			},
		})
	}

	res, err := grant(500)
	require.NoError(t, err)
	assert.Equal(t, tokenaccountdomain.Balance{Tokens: 510, TokensUsed: 0}, res.Balance)
	assert.Equal(t, int64(500), res.Entry.Amount)
	assert.Equal(t, "TOKEN_GRANT", res.Entry.Category)
	assert.Equal(t, admin.UserID.String(), res.Entry.Metadata["actor_id"])

	_, err = grant(0)
	assert.Equal(t, domain.KindValidation, domain.Classify(err))
	assert.Len(t, h.entries(t, guardian.UserID), 1)
}

func TestExecuteCreditRequiresStaff(t *testing.T) {
	h := newHarness(t)
	guardian := h.principal(t, entitlementdomain.TierComfort, 10)

	_, err := Execute(context.Background(), h.engine, domain.Request[int64]{
		Principal: guardian,
		Action:    "tokens.grant",
		Amount:    1000,
		Write: func(context.Context, *gorm.DB) (int64, error) {
			return 1000, nil
		},
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, int64(10), h.account(t, guardian.UserID).Balance)
	assert.Empty(t, h.entries(t, guardian.UserID))

	super := &entitlementdomain.Principal{UserID: h.node.Generate(), Tier: entitlementdomain.TierComfort, IsSuperUser: true}
	res, err := Execute(context.Background(), h.engine, domain.Request[int64]{
		Principal: super,
		Action:    "tokens.grant",
		Account:   guardian.UserID,
		Amount:    5,
		Write: func(context.Context, *gorm.DB) (int64, error) {
			return 5, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Balance.Tokens)
}

func TestExecuteOpensMissingAccount(t *testing.T) {
	h := newHarness(t)
	p := &entitlementdomain.Principal{UserID: h.node.Generate(), Tier: entitlementdomain.TierComfort}

	_, err := Execute(context.Background(), h.engine, h.createRequest(p, "water.create"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	var accounts int64
	require.NoError(t, h.db.Model(&tokenaccountdomain.TokenAccount{}).Where("user_id = ?", p.UserID).Count(&accounts).Error)
	assert.Zero(t, accounts, "account opening is part of the rolled back unit")

	admin := &entitlementdomain.Principal{UserID: h.node.Generate(), Tier: entitlementdomain.TierComfort, IsAdmin: true}
	_, err = Execute(context.Background(), h.engine, domain.Request[struct{}]{
		Principal: admin,
		Action:    "tokens.grant",
		Account:   p.UserID,
		Amount:    40,
		Write:     func(context.Context, *gorm.DB) (struct{}, error) { return struct{}{}, nil },
	})
	require.NoError(t, err)

	res, err := Execute(context.Background(), h.engine, h.createRequest(p, "water.create"))
	require.NoError(t, err)
	assert.Equal(t, tokenaccountdomain.Balance{Tokens: 0, TokensUsed: 40}, res.Balance)
}

type limiterMock struct {
	mock.Mock
}

func (m *limiterMock) Allow(ctx context.Context, userID snowflake.ID) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *limiterMock) Acquire(ctx context.Context, userID snowflake.ID, key string) (func(), error) {
	args := m.Called(ctx, userID, key)
	return args.Get(0).(func()), args.Error(1)
}

func TestExecuteLimiter(t *testing.T) {
	limiter := &limiterMock{}
	h := newHarness(t, func(p *Params) { p.Limiter = limiter })
	p := h.principal(t, entitlementdomain.TierComfort, 1000)

	released := 0
	limiter.On("Allow", mock.Anything, p.UserID).Return(nil).Once()
	limiter.On("Acquire", mock.Anything, p.UserID, "k1").Return(func() { released++ }, nil).Once()

	req := h.createRequest(p, "feeding.create")
	req.IdempotencyKey = "k1"
	_, err := Execute(context.Background(), h.engine, req)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	limiter.On("Allow", mock.Anything, p.UserID).Return(domain.ErrRateLimited).Once()
	_, err = Execute(context.Background(), h.engine, h.createRequest(p, "feeding.create"))
	assert.Equal(t, domain.KindRateLimited, domain.Classify(err))

	limiter.On("Allow", mock.Anything, p.UserID).Return(nil).Once()
	limiter.On("Acquire", mock.Anything, p.UserID, "k2").Return(func() {}, domain.ErrDuplicateRequest).Once()
	req.IdempotencyKey = "k2"
	_, err = Execute(context.Background(), h.engine, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	assert.Equal(t, int64(915), h.account(t, p.UserID).Balance)
	limiter.AssertExpectations(t)
}
