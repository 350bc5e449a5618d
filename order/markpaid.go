package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
)

// UpstreamFields carries the driver-verified callback data markPaid
// applies to the order (spec §4.6, §6 driver.verify).
type UpstreamFields struct {
	APITradeNo     string
	BillTradeNo    string
	MchTradeNo     string
	PaymentTime    *time.Time
	BuyerPayAmount *money.Money // set only when the driver overrides it (spec §9 note 5)
}

// settleDelayUnit is the placeholder multiplier from spec §9 note 1:
// settle_cycle is treated as a count of 10-second units, NOT a real
// calendar day/business-day offset. A production settle-date calendar
// should replace this before go-live.
const settleDelayUnit = 10 * time.Second

// MarkPaid implements spec §4.6's markPaid. Duplicate upstream callbacks
// (order no longer WAIT_PAY) are tolerated by returning success without
// reapplying anything, per spec §5's idempotency requirement.
func (e *Engine) MarkPaid(ctx context.Context, tradeNo string, upstream UpstreamFields, buyerPatch BuyerPatch, async bool) error {
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

	if o.TradeState != domain.TradeWaitPay || !CanTransitionTrade(o.TradeState, domain.TradeSuccess, false) {
		// Duplicate callback: order already advanced. Rethrow nothing,
		// leave state untouched, report success (spec §5, §9 note 3).
		return nil
	}

	paymentTime := e.now()
	if upstream.PaymentTime != nil {
		paymentTime = *upstream.PaymentTime
	}

	o.TradeState = domain.TradeSuccess
	o.PaymentTime = &paymentTime
	o.APITradeNo = upstream.APITradeNo
	o.BillTradeNo = upstream.BillTradeNo
	o.MchTradeNo = upstream.MchTradeNo
	if upstream.BuyerPayAmount != nil {
		o.BuyerPayAmount = *upstream.BuyerPayAmount
	}

	if err := e.buyers.PatchWhitelisted(ctx, tx, tradeNo, buyerPatch); err != nil {
		return gwerr.Internal(err)
	}

	settleNow := false
	target := domain.SettleProcessing
	if o.SettleCycle <= domain.SettleInstant {
		target = domain.SettleCompleted
		if o.SettleCycle == domain.SettleInstant {
			settleNow = true
		}
	}
	// Instant settlement passes through PROCESSING on its way to COMPLETED.
	if !CanTransitionSettle(o.SettleState, domain.SettleProcessing) ||
		(target == domain.SettleCompleted && !CanTransitionSettle(domain.SettleProcessing, target)) {
		return gwerr.Internal(fmt.Errorf("order: illegal settle_state transition %s -> %s", o.SettleState, target))
	}
	o.SettleState = target

	if settleNow {
		if err := e.wallet.ChangeAvailable(ctx, tx, o.MerchantID, o.ReceiptAmount, domain.WalletChangeOrderSettle, o.TradeNo, "instant settlement", false); err != nil {
			return err
		}
	} else if o.SettleState == domain.SettleProcessing {
		if err := e.wallet.ChangeUnAvailable(ctx, tx, o.MerchantID, o.ReceiptAmount, domain.WalletChangeOrderSettle, o.TradeNo, "pending settlement", false); err != nil {
			return err
		}
	}

	if err := e.repo.Update(ctx, tx, o); err != nil {
		return gwerr.Internal(err)
	}

	if err := tx.Commit(); err != nil {
		return gwerr.Internal(err)
	}

	if o.SettleState == domain.SettleProcessing {
		delay := time.Duration(int(o.SettleCycle)) * settleDelayUnit
		if err := e.settle.EnqueueSettle(ctx, tradeNo, delay); err != nil {
			log.Printf("order: failed to enqueue settle job for %s: %v", tradeNo, err)
			if markErr := e.failSettle(ctx, tradeNo); markErr != nil {
				log.Printf("order: failed to mark settle_state FAILED for %s: %v", tradeNo, markErr)
			}
		}
	}

	if async {
		if err := e.notify.EnqueueNotify(ctx, tradeNo); err != nil {
			log.Printf("order: failed to enqueue notification for %s: %v", tradeNo, err)
		}
	}

	return nil
}

// CompleteSettle implements the delayed half of spec §4.6's settlement:
// the job enqueued by MarkPaid fires after settle_cycle's delay and moves
// the order's receipt amount from unavailable to available, transitioning
// settle_state PROCESSING -> COMPLETED. Orders no longer PROCESSING are
// tolerated as a no-op (duplicate or already-advanced delivery).
func (e *Engine) CompleteSettle(ctx context.Context, tradeNo string) error {
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
	if !CanTransitionSettle(o.SettleState, domain.SettleCompleted) {
		return nil
	}

	if err := e.wallet.ChangeAvailable(ctx, tx, o.MerchantID, o.ReceiptAmount, domain.WalletChangeOrderSettle, o.TradeNo, "scheduled settlement", true); err != nil {
		return err
	}

	o.SettleState = domain.SettleCompleted
	if err := e.repo.Update(ctx, tx, o); err != nil {
		return gwerr.Internal(err)
	}
	return tx.Commit()
}

func (e *Engine) failSettle(ctx context.Context, tradeNo string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	o, err := e.repo.Lock(ctx, tx, tradeNo)
	if err != nil {
		return err
	}
	if o == nil {
		return nil
	}
	if !CanTransitionSettle(o.SettleState, domain.SettleFailed) {
		return nil
	}
	o.SettleState = domain.SettleFailed
	if err := e.repo.Update(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit()
}
