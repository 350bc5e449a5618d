// Package refund implements the RefundEngine (spec §4.7): validates
// against the remaining refundable amount, debits the wallet, optionally
// restitutes fee, advances order state, and optionally invokes the
// upstream refund driver inside the same transaction (the one
// intentional exception to "never block on network inside a DB
// transaction", per spec §5).
package refund

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/driver"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/order"
	"github.com/plm/aggpay/wallet"
)

// OrderStore is the subset of order persistence RefundEngine needs.
type OrderStore interface {
	Lock(ctx context.Context, tx *sql.Tx, tradeNo string) (*domain.Order, error)
	Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	AccountConfig(ctx context.Context, tx *sql.Tx, accountID string) (map[string]string, error)
	Driver(ctx context.Context, tx *sql.Tx, accountID string) (driver.PaymentDriver, error)
}

// Repo persists OrderRefund rows.
type Repo interface {
	SumNonFailed(ctx context.Context, tx *sql.Tx, tradeNo string) (money.Money, error)
	FindByIdempotency(ctx context.Context, tx *sql.Tx, merchantID, outBizNo string) (*domain.OrderRefund, error)
	ExistsID(ctx context.Context, tx *sql.Tx, id string) (bool, error)
	Insert(ctx context.Context, tx *sql.Tx, r *domain.OrderRefund) error
}

// Engine is the RefundEngine.
type Engine struct {
	db     *sql.DB
	orders OrderStore
	repo   Repo
	wallet *wallet.Ledger
	now    func() time.Time
}

// New builds a RefundEngine.
func New(db *sql.DB, orders OrderStore, repo Repo, ledger *wallet.Ledger) *Engine {
	return &Engine{db: db, orders: orders, repo: repo, wallet: ledger, now: time.Now}
}

// HandleRequest carries spec §4.7's handle() inputs.
type HandleRequest struct {
	TradeNo      string
	Amount       money.Money
	InitiateType domain.RefundInitiateType
	Auto         bool
	FeeBearer    bool
	OutBizNo     string
	Reason       string
}

// Handle implements spec §4.7's handle() operation end to end.
func (e *Engine) Handle(ctx context.Context, req HandleRequest) (*domain.OrderRefund, error) {
	if !req.Amount.IsPositive() {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "refund amount must be positive")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	defer tx.Rollback()

	o, err := e.orders.Lock(ctx, tx, req.TradeNo)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if o == nil {
		return nil, gwerr.New(gwerr.CodeNotFound, "order not found")
	}
	if o.TradeState != domain.TradeSuccess && o.TradeState != domain.TradeRefund {
		return nil, gwerr.New(gwerr.CodeConflict, "order not refundable in its current state")
	}
	if o.SettleState == domain.SettleProcessing {
		return nil, gwerr.New(gwerr.CodeConflict, "order settlement in progress")
	}

	refunded, err := e.repo.SumNonFailed(ctx, tx, req.TradeNo)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	remaining := o.BuyerPayAmount.Sub(refunded)
	if req.Amount.Cmp(remaining) > 0 {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "refund amount exceeds remaining refundable amount")
	}

	if err := e.wallet.ChangeAvailable(ctx, tx, o.MerchantID, req.Amount.Neg(), domain.WalletChangeOrderRefund, o.TradeNo, req.Reason, false); err != nil {
		return nil, err
	}

	refundFee := money.Zero(money.ScaleAmount)
	if req.FeeBearer && o.FeeAmount.IsPositive() {
		ratio := req.Amount.Decimal().DivRound(o.TotalAmount.Decimal(), 8)
		refundFee = o.FeeAmount.MulScale(ratio, money.ScaleAmount)
		refundFee = money.Min(refundFee, o.FeeAmount)
		if refundFee.IsPositive() {
			if err := e.wallet.ChangeAvailable(ctx, tx, o.MerchantID, refundFee, domain.WalletChangeRefundFee, o.TradeNo, "refund fee restitution", false); err != nil {
				return nil, err
			}
		}
	}

	var refundID string
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := domain.NewRefundID(e.now())
		if err != nil {
			return nil, gwerr.Internal(err)
		}
		exists, err := e.repo.ExistsID(ctx, tx, candidate)
		if err != nil {
			return nil, gwerr.Internal(err)
		}
		if !exists {
			refundID = candidate
			break
		}
	}
	if refundID == "" {
		return nil, gwerr.Internal(fmt.Errorf("refund: could not allocate a unique refund id"))
	}

	r := &domain.OrderRefund{
		ID:              refundID,
		TradeNo:         o.TradeNo,
		MerchantID:      o.MerchantID,
		InitiateType:    req.InitiateType,
		RefundType:      req.Auto,
		Amount:          req.Amount,
		RefundFeeAmount: refundFee,
		FeeBearer:       req.FeeBearer,
		OutBizNo:        req.OutBizNo,
		Reason:          req.Reason,
		Status:          domain.RefundCompleted,
		CreatedAt:       e.now(),
	}

	newRefunded := refunded.Add(req.Amount)
	target := domain.TradeRefund
	if newRefunded.Cmp(o.BuyerPayAmount) >= 0 {
		target = domain.TradeFinish
	}
	if !order.CanTransitionTrade(o.TradeState, target, false) {
		return nil, gwerr.New(gwerr.CodeConflict, "order not refundable in its current state")
	}
	o.TradeState = target

	if req.Auto {
		if o.APITradeNo == "" {
			return nil, gwerr.New(gwerr.CodeInvalidRequest, "order has no api_trade_no, cannot auto-refund")
		}
		cfg, err := e.orders.AccountConfig(ctx, tx, o.PaymentChannelAccountID)
		if err != nil {
			return nil, gwerr.Internal(err)
		}
		d, err := e.orders.Driver(ctx, tx, o.PaymentChannelAccountID)
		if err != nil {
			return nil, gwerr.Internal(err)
		}
		result, err := d.Refund(ctx, o, cfg, r)
		if err != nil {
			return nil, gwerr.Wrap(gwerr.CodeGatewayError, "upstream refund call failed", err)
		}
		if !result.State {
			return nil, gwerr.New(gwerr.CodeGatewayError, result.Message)
		}
		r.APIRefundNo = result.APIRefundNo
	}

	if err := e.repo.Insert(ctx, tx, r); err != nil {
		return nil, gwerr.Internal(err)
	}
	if err := e.orders.Update(ctx, tx, o); err != nil {
		return nil, gwerr.Internal(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, gwerr.Internal(err)
	}
	return r, nil
}

// APIRefund implements spec §4.7's apiRefund: idempotent by
// (merchant_id, out_biz_no).
func (e *Engine) APIRefund(ctx context.Context, req HandleRequest) (*domain.OrderRefund, error) {
	if req.OutBizNo == "" {
		return e.Handle(ctx, req)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	merchantID, err := e.merchantIDFor(ctx, tx, req.TradeNo)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	existing, err := e.repo.FindByIdempotency(ctx, tx, merchantID, req.OutBizNo)
	tx.Rollback()
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if existing != nil {
		if existing.TradeNo != req.TradeNo || existing.Amount.Cmp(req.Amount) != 0 {
			return nil, gwerr.New(gwerr.CodeConflict, "IDEMPOTENCY_MISMATCH")
		}
		return existing, nil
	}
	return e.Handle(ctx, req)
}

func (e *Engine) merchantIDFor(ctx context.Context, tx *sql.Tx, tradeNo string) (string, error) {
	o, err := e.orders.Lock(ctx, tx, tradeNo)
	if err != nil {
		return "", gwerr.Internal(err)
	}
	if o == nil {
		return "", gwerr.New(gwerr.CodeNotFound, "order not found")
	}
	return o.MerchantID, nil
}
