// Package metering runs token-metered writes: a domain write, a balance delta
// and a ledger entry committed as one unit of work.
package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/pawtrack/internal/clock"
	"github.com/smallbiznis/pawtrack/internal/config"
	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/internal/metering/domain"
	obscontext "github.com/smallbiznis/pawtrack/internal/observability/context"
	obslogger "github.com/smallbiznis/pawtrack/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pawtrack/internal/observability/metrics"
	"github.com/smallbiznis/pawtrack/internal/observability/tracing"
	tokenaccountdomain "github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultTxTimeout = 20 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Clock      clock.Clock `optional:"true"`
	Resolver   entitlementdomain.Resolver
	Accounts   tokenaccountdomain.Repository
	Ledger     ledgerdomain.Service
	Limiter    domain.Limiter      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Engine struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	resolver   entitlementdomain.Resolver
	accounts   tokenaccountdomain.Repository
	ledger     ledgerdomain.Service
	limiter    domain.Limiter
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
	txTimeout  time.Duration
}

func NewEngine(p Params) *Engine {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := p.Config.Metering.TxTimeout
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	return &Engine{
		db:         p.DB,
		log:        p.Log.Named("metering.engine"),
		clock:      clk,
		resolver:   p.Resolver,
		accounts:   p.Accounts,
		ledger:     p.Ledger,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("pawtrack/metering"),
		txTimeout:  timeout,
	}
}

// DB is the handle ownership checks and unmetered reads should use.
func (e *Engine) DB() *gorm.DB { return e.db }

// Execute performs a metered write. Checks that fail before the transaction
// opens have no side effects. Once the transaction starts it runs to commit or
// rollback even if ctx is cancelled; only the engine's own budget aborts it.
// Any failure inside the transaction leaves no entity, balance change or ledger row.
func Execute[T any](ctx context.Context, e *Engine, req domain.Request[T]) (result *domain.Result[T], err error) {
	ctx = obscontext.WithMeteredWrite(ctx, req.Action, req.IdempotencyKey)
	ctx, span := e.tracer.Start(ctx, "metering.execute",
		trace.WithAttributes(attribute.String("metering.action", req.Action)),
	)
	defer span.End()

	var (
		category = req.Action
		tier     string
	)
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(domain.Classify(err))
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, outcome)
		}
		e.obsMetrics.RecordMeteredWrite(ctx, category, tier, outcome)
	}()

	principal := req.Principal
	if principal == nil || principal.UserID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	tier = string(principal.Tier)

	if req.Write == nil {
		return nil, fmt.Errorf("metering: %s has no write function", req.Action)
	}

	if req.Authorize != nil {
		if err := req.Authorize(ctx, e.db, *principal); err != nil {
			return nil, err
		}
	}

	decision, err := e.resolver.CheckEntitlement(*principal, req.Action)
	if err != nil {
		return nil, err
	}
	category = decision.Policy.Category
	if !decision.Allowed {
		return nil, domain.ErrUpgradeRequired
	}
	// only staff may mint tokens, whatever the route or caller
	if decision.Policy.Direction == entitlementdomain.DirectionCredit && !principal.IsAdmin && !principal.IsSuperUser {
		return nil, domain.ErrForbidden
	}

	delta, err := signedDelta(decision.Policy, req.Amount)
	if err != nil {
		return nil, err
	}

	account := req.Account
	if account == 0 {
		account = principal.UserID
	}

	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, account); err != nil {
			return nil, err
		}
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			release, err := e.limiter.Acquire(ctx, account, key)
			if err != nil {
				return nil, err
			}
			defer release()
		}
	}

	ledgerCategory := decision.Policy.Category
	if decision.Legacy {
		ledgerCategory += ledgerdomain.LegacySuffix
	}
	category = ledgerCategory

	blockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	var (
		out      domain.Result[T]
		writeErr error
	)
	started := e.clock.Now()
	txErr := e.db.WithContext(blockCtx).Transaction(func(tx *gorm.DB) error {
		entity, err := req.Write(blockCtx, tx)
		if err != nil {
			writeErr = err
			return err
		}

		now := e.clock.Now()
		if err := e.accounts.Open(blockCtx, tx, account, now); err != nil {
			return err
		}
		balance, err := e.accounts.ApplyDelta(blockCtx, tx, account, delta, decision.Legacy, now)
		if err != nil {
			return err
		}

		entry, err := e.ledger.Append(blockCtx, tx, ledgerdomain.AppendRequest{
			UserID:         account,
			Amount:         delta,
			Category:       ledgerCategory,
			Description:    describe(req, entity, decision.Policy),
			Metadata:       buildMetadata(req, entity, decision, principal),
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		out = domain.Result[T]{Entity: entity, Balance: balance, Entry: entry}
		return nil
	})
	e.obsMetrics.RecordTxDuration(ctx, ledgerCategory, e.clock.Now().Sub(started))

	if txErr != nil {
		err := classifyTxErr(blockCtx, txErr, writeErr)
		if !domain.Expected(err) {
			obslogger.WithContext(ctx, e.log).Error("metered write rolled back",
				zap.String("action", req.Action),
				zap.String("account_id", account.String()),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if delta < 0 {
		e.obsMetrics.RecordTokensCharged(ctx, ledgerCategory, -delta)
	} else {
		e.obsMetrics.RecordTokensGranted(ctx, ledgerCategory, delta)
	}
	e.obsMetrics.RecordLedgerEntry(ctx, ledgerCategory)
	obslogger.WithContext(ctx, e.log).Info("metered write committed",
		zap.String("action", req.Action),
		zap.String("category", ledgerCategory),
		zap.String("account_id", account.String()),
		zap.Int64("amount", delta),
		zap.Int64("balance", out.Balance.Tokens),
		zap.String("ledger_entry_id", out.Entry.ID.String()),
	)
	return &out, nil
}

// signedDelta is negative for charges. Legacy charges carry the nominal cost too;
// the balance store decides not to move the balance.
func signedDelta(policy entitlementdomain.Policy, amount int64) (int64, error) {
	if policy.Direction == entitlementdomain.DirectionCredit {
		if amount <= 0 {
			return 0, domain.NewValidationError(domain.FieldError{Field: "amount", Message: "must be a positive integer"})
		}
		return amount, nil
	}
	if policy.Cost <= 0 {
		return 0, fmt.Errorf("metering: %s has no cost configured", policy.Action)
	}
	return -policy.Cost, nil
}

func classifyTxErr(blockCtx context.Context, txErr, writeErr error) error {
	if ctxErr := blockCtx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransactionFailure, ctxErr)
	}
	if writeErr != nil && errors.Is(txErr, writeErr) {
		return writeErr
	}
	if domain.Expected(txErr) {
		return txErr
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionFailure, txErr)
}

func describe[T any](req domain.Request[T], entity T, policy entitlementdomain.Policy) string {
	if req.Describe != nil {
		if d := strings.TrimSpace(req.Describe(entity)); d != "" {
			return d
		}
	}
	return policy.Category
}

func buildMetadata[T any](req domain.Request[T], entity T, decision entitlementdomain.Decision, principal *entitlementdomain.Principal) map[string]any {
	metadata := map[string]any{}
	if req.Metadata != nil {
		for k, v := range req.Metadata(entity) {
			metadata[k] = v
		}
	}
	metadata["action"] = decision.Policy.Action
	metadata["tier"] = string(principal.Tier)
	metadata["actor_id"] = principal.UserID.String()
	if decision.Policy.Direction == entitlementdomain.DirectionDebit {
		metadata["nominal_cost"] = decision.Policy.Cost
	}
	if decision.Legacy {
		metadata["legacy"] = true
	}
	return metadata
}
