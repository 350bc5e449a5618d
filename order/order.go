// Package order implements the OrderEngine (spec §4.6): idempotent
// creation, fee computation, state machine transitions and the
// settle/notify side effects of markPaid. Transaction wiring is
// grounded on storage/postgres/client.go's single-transaction,
// lock-then-mutate-then-insert shape.
package order

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/plm/aggpay/channel"
	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/risk"
	"github.com/plm/aggpay/wallet"
)

// Repo persists Order rows.
type Repo interface {
	// FindRecent returns the most recent order for (merchantID, outTradeNo)
	// created since `since`, or nil (spec §4.6 step 1).
	FindRecent(ctx context.Context, tx *sql.Tx, merchantID, outTradeNo string, since time.Time) (*domain.Order, error)
	ExistsTradeNo(ctx context.Context, tx *sql.Tx, tradeNo string) (bool, error)
	Insert(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	// Lock reads the order row FOR UPDATE.
	Lock(ctx context.Context, tx *sql.Tx, tradeNo string) (*domain.Order, error)
	Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	Get(ctx context.Context, db *sql.DB, tradeNo string) (*domain.Order, error)
}

// BuyerRepo persists OrderBuyer rows.
type BuyerRepo interface {
	Insert(ctx context.Context, tx *sql.Tx, b *domain.OrderBuyer) error
	Get(ctx context.Context, tx *sql.Tx, tradeNo string) (*domain.OrderBuyer, error)
	// PatchWhitelisted updates only ip, user_agent, user_id, buyer_open_id,
	// mobile (spec §4.6 markPaid step).
	PatchWhitelisted(ctx context.Context, tx *sql.Tx, tradeNo string, patch BuyerPatch) error
}

// BuyerPatch carries the whitelisted fields markPaid may update.
type BuyerPatch struct {
	IP          *string
	UserAgent   *string
	UserID      *string
	BuyerOpenID *string
	Mobile      *string
}

// SettleEnqueuer schedules the delayed order-settle job (spec §4.6).
type SettleEnqueuer interface {
	EnqueueSettle(ctx context.Context, tradeNo string, delay time.Duration) error
}

// NotifyEnqueuer schedules an order-notification job (spec §4.9).
type NotifyEnqueuer interface {
	EnqueueNotify(ctx context.Context, tradeNo string) error
}

// Engine is the OrderEngine.
type Engine struct {
	db       *sql.DB
	repo     Repo
	buyers   BuyerRepo
	selector *channel.Selector
	risk     *risk.Engine
	wallet   *wallet.Ledger
	settle   SettleEnqueuer
	notify   NotifyEnqueuer
	now      func() time.Time
}

// New builds an OrderEngine.
func New(db *sql.DB, repo Repo, buyers BuyerRepo, selector *channel.Selector, riskEngine *risk.Engine, ledger *wallet.Ledger, settle SettleEnqueuer, notify NotifyEnqueuer) *Engine {
	return &Engine{
		db: db, repo: repo, buyers: buyers, selector: selector,
		risk: riskEngine, wallet: ledger, settle: settle, notify: notify,
		now: time.Now,
	}
}

// CreateRequest carries the fields needed to create an order (spec §4.6).
type CreateRequest struct {
	Merchant    *domain.Merchant
	OutTradeNo  string
	PaymentType domain.PaymentType
	ChannelCode string
	Subject     string
	TotalAmount money.Money
	NotifyURL   string
	ReturnURL   string
	Attach      string
	SignType    domain.SignType
	Buyer       domain.OrderBuyer
}

const idempotencyWindow = 7 * 24 * time.Hour

// Create implements spec §4.6's create operation.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*domain.Order, *domain.PaymentChannelAccount, *domain.OrderBuyer, error) {
	if msg, err := e.risk.CreateOrderCheck(ctx, risk.CheckInput{
		MerchantID:        req.Merchant.ID,
		IP:                req.Buyer.IP,
		UserID:            req.Buyer.UserID,
		BuyerOpenID:       req.Buyer.BuyerOpenID,
		Mobile:            req.Buyer.Mobile,
		CertNo:            req.Buyer.CertNo,
		CertType:          req.Buyer.CertType,
		DeviceFingerprint: "",
	}, e.now()); err != nil {
		return nil, nil, nil, err
	} else if msg != "" {
		return nil, nil, nil, gwerr.New(gwerr.CodeRiskBlocked, msg)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, gwerr.Internal(err)
	}
	defer tx.Rollback()

	since := e.now().Add(-idempotencyWindow)
	existing, err := e.repo.FindRecent(ctx, tx, req.Merchant.ID, req.OutTradeNo, since)
	if err != nil {
		return nil, nil, nil, gwerr.Internal(err)
	}
	if existing != nil {
		switch existing.TradeState {
		case domain.TradeSuccess, domain.TradeFinish, domain.TradeFrozen:
			return nil, nil, nil, gwerr.New(gwerr.CodeConflict, "DUPLICATE_PAID")
		case domain.TradeClosed:
			return nil, nil, nil, gwerr.New(gwerr.CodeConflict, "DUPLICATE_CLOSED")
		}
		if existing.Subject != req.Subject ||
			existing.TotalAmount.Cmp(req.TotalAmount) != 0 ||
			existing.NotifyURL != req.NotifyURL ||
			existing.ReturnURL != req.ReturnURL ||
			existing.Attach != req.Attach {
			return nil, nil, nil, gwerr.New(gwerr.CodeConflict, "DUPLICATE_MISMATCH")
		}
		existingBuyer, err := e.buyers.Get(ctx, tx, existing.TradeNo)
		if err != nil {
			return nil, nil, nil, gwerr.Internal(err)
		}
		return existing, nil, existingBuyer, nil
	}

	sel, err := e.selector.Select(ctx, channel.Request{
		PaymentType: req.PaymentType,
		Code:        req.ChannelCode,
		Amount:      req.TotalAmount,
		Merchant:    req.Merchant,
		Now:         e.now(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	fees := ComputeFees(req.TotalAmount, req.Merchant, sel.Channel, sel.Account)
	buyerPay := BuyerPayAmount(req.TotalAmount, fees.Fee, req.Merchant.BuyerPayFee)

	var tradeNo string
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := domain.NewTradeNo(e.now())
		if err != nil {
			return nil, nil, nil, gwerr.Internal(err)
		}
		exists, err := e.repo.ExistsTradeNo(ctx, tx, candidate)
		if err != nil {
			return nil, nil, nil, gwerr.Internal(err)
		}
		if !exists {
			tradeNo = candidate
			break
		}
	}
	if tradeNo == "" {
		return nil, nil, nil, gwerr.Internal(fmt.Errorf("order: could not allocate a unique trade_no"))
	}

	o := &domain.Order{
		TradeNo:                 tradeNo,
		OutTradeNo:              req.OutTradeNo,
		MerchantID:              req.Merchant.ID,
		PaymentType:             req.PaymentType,
		PaymentChannelAccountID: sel.Account.ID,
		Subject:                 req.Subject,
		TotalAmount:             req.TotalAmount,
		BuyerPayAmount:          buyerPay,
		ReceiptAmount:           fees.Receipt,
		FeeAmount:               fees.Fee,
		ProfitAmount:            fees.Profit,
		NotifyURL:               req.NotifyURL,
		ReturnURL:               req.ReturnURL,
		Attach:                  req.Attach,
		SettleCycle:             sel.Channel.SettleCycle,
		SignType:                req.SignType,
		TradeState:              domain.TradeWaitPay,
		SettleState:             domain.SettlePending,
		NotifyState:             domain.NotifyWaiting,
		CreateTime:              e.now(),
	}
	if err := e.repo.Insert(ctx, tx, o); err != nil {
		return nil, nil, nil, gwerr.Internal(err)
	}

	buyer := req.Buyer
	buyer.TradeNo = tradeNo
	if err := e.buyers.Insert(ctx, tx, &buyer); err != nil {
		return nil, nil, nil, gwerr.Internal(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, gwerr.Internal(err)
	}

	if err := e.selector.RecordUsage(ctx, sel.Channel.ID, sel.Account.ID, req.TotalAmount, e.now()); err != nil {
		return nil, nil, nil, err
	}

	return o, sel.Account, &buyer, nil
}

// Get fetches an order by trade_no for read-only purposes.
func (e *Engine) Get(ctx context.Context, tradeNo string) (*domain.Order, error) {
	o, err := e.repo.Get(ctx, e.db, tradeNo)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if o == nil {
		return nil, gwerr.New(gwerr.CodeNotFound, "order not found")
	}
	return o, nil
}

// MarkNotifyResult records the outcome of one notification delivery
// attempt (spec §4.9), advancing notify_state and the retry schedule.
func (e *Engine) MarkNotifyResult(ctx context.Context, tradeNo string, state domain.NotifyState, nextRetry *time.Time, retryCount int) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return gwerr.Internal(err)
	}
	defer tx.Rollback()

	o, err := e.repo.Lock(ctx, tx, tradeNo)
	if err != nil {
		return gwerr.Internal(err)
	}
	if o == nil {
		return gwerr.New(gwerr.CodeNotFound, "order not found")
	}
	if !CanTransitionNotify(o.NotifyState, state) {
		return gwerr.New(gwerr.CodeConflict, "illegal notify_state transition")
	}
	o.NotifyState = state
	o.NotifyNextRetryTime = nextRetry
	o.NotifyRetryCount = retryCount
	if err := e.repo.Update(ctx, tx, o); err != nil {
		return gwerr.Internal(err)
	}
	return tx.Commit()
}

// AdminTransition performs an admin-initiated trade_state override
// (spec §4.6: "Admin override may perform any transition").
func (e *Engine) AdminTransition(ctx context.Context, tradeNo string, to domain.TradeState) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return gwerr.Internal(err)
	}
	defer tx.Rollback()

	o, err := e.repo.Lock(ctx, tx, tradeNo)
	if err != nil {
		return gwerr.Internal(err)
	}
	if o == nil {
		return gwerr.New(gwerr.CodeNotFound, "order not found")
	}
	if !CanTransitionTrade(o.TradeState, to, false) {
		log.Printf("order: admin override %s -> %s for %s bypasses the normal transition graph", o.TradeState, to, tradeNo)
	}
	o.TradeState = to
	if err := e.repo.Update(ctx, tx, o); err != nil {
		return gwerr.Internal(err)
	}
	return tx.Commit()
}
