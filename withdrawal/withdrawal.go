// Package withdrawal implements the WithdrawalEngine (spec §4.8):
// admin-initiated settle-account (clear balance to zero) and
// merchant-initiated withdrawal requests, plus the admin status machine
// that moves a withdrawal through PENDING/PROCESSING to a terminal state.
package withdrawal

import (
	"context"
	"database/sql"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/wallet"
)

// Repo persists MerchantWithdrawalRecord rows, named
// merchant_withdrawal_record per SPEC_FULL.md §5's Open Question
// resolution (the teacher's storage layer has no equivalent table name
// to preserve, so the spec's own identifier is used verbatim).
type Repo interface {
	ExistsID(ctx context.Context, tx *sql.Tx, id string) (bool, error)
	Insert(ctx context.Context, tx *sql.Tx, w *domain.MerchantWithdrawalRecord) error
	Lock(ctx context.Context, tx *sql.Tx, id string) (*domain.MerchantWithdrawalRecord, error)
	Update(ctx context.Context, tx *sql.Tx, w *domain.MerchantWithdrawalRecord) error
}

// Engine is the WithdrawalEngine.
type Engine struct {
	db     *sql.DB
	repo   Repo
	wallet *wallet.Ledger
	now    func() time.Time
}

// New builds a WithdrawalEngine.
func New(db *sql.DB, repo Repo, ledger *wallet.Ledger) *Engine {
	return &Engine{db: db, repo: repo, wallet: ledger, now: time.Now}
}

func (e *Engine) allocateID(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := domain.NewRefundID(e.now())
		if err != nil {
			return "", gwerr.Internal(err)
		}
		exists, err := e.repo.ExistsID(ctx, tx, candidate)
		if err != nil {
			return "", gwerr.Internal(err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", gwerr.Internal(errNoUniqueID)
}

var errNoUniqueID = gwerr.New(gwerr.CodeInternal, "withdrawal: could not allocate a unique withdrawal id")

// SettleAccount implements spec §4.8's settleAccount: an admin-initiated
// clear-to-zero of a merchant's available balance. When available is
// entirely covered by outstanding prepaid, both are simply debited with
// no withdrawal record created (there is nothing to pay out). Otherwise
// a PROCESSING withdrawal is created for the external portion.
func (e *Engine) SettleAccount(ctx context.Context, merchantID string, payeeInfo map[string]string) (*domain.MerchantWithdrawalRecord, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	defer tx.Rollback()

	w, err := e.wallet.Lock(ctx, tx, merchantID)
	if err != nil {
		return nil, err
	}
	available := w.AvailableBalance
	prepaid := w.Prepaid

	if !available.IsPositive() {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "no available balance to settle")
	}

	if available.Cmp(prepaid) <= 0 {
		if err := e.wallet.ChangeAvailable(ctx, tx, merchantID, available.Neg(), domain.WalletChangeClearAccount, "", "clear account: covered by prepaid", false); err != nil {
			return nil, err
		}
		if err := e.wallet.ChangePrepaid(ctx, tx, merchantID, available.Neg(), "clear account: covered by prepaid"); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, gwerr.Internal(err)
		}
		return nil, nil
	}

	received := available.Sub(prepaid)
	id, err := e.allocateID(ctx, tx)
	if err != nil {
		return nil, err
	}
	rec := &domain.MerchantWithdrawalRecord{
		ID:              id,
		MerchantID:      merchantID,
		PayeeInfo:       payeeInfo,
		Amount:          available,
		PrepaidDeducted: prepaid,
		ReceivedAmount:  received,
		Fee:             money.Zero(money.ScaleAmount),
		Status:          domain.WithdrawalProcessing,
		CreatedAt:       e.now(),
	}

	if err := e.wallet.ChangeAvailable(ctx, tx, merchantID, available.Neg(), domain.WalletChangeClearAccount, "", "clear account", false); err != nil {
		return nil, err
	}
	if prepaid.IsPositive() {
		if err := e.wallet.ChangePrepaid(ctx, tx, merchantID, prepaid.Neg(), "clear account"); err != nil {
			return nil, err
		}
	}
	if err := e.repo.Insert(ctx, tx, rec); err != nil {
		return nil, gwerr.Internal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, gwerr.Internal(err)
	}
	return rec, nil
}

// ApplyWithdrawal implements spec §4.8's applyWithdrawal: a
// merchant-initiated withdrawal request against available balance.
func (e *Engine) ApplyWithdrawal(ctx context.Context, merchantID string, amount money.Money, payeeInfo map[string]string) (*domain.MerchantWithdrawalRecord, error) {
	if !amount.IsPositive() {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "withdrawal amount must be positive")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	defer tx.Rollback()

	w, err := e.wallet.Lock(ctx, tx, merchantID)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(w.AvailableBalance) > 0 {
		return nil, gwerr.New(gwerr.CodeInsufficientFunds, "withdrawal amount exceeds available balance")
	}

	id, err := e.allocateID(ctx, tx)
	if err != nil {
		return nil, err
	}
	rec := &domain.MerchantWithdrawalRecord{
		ID:         id,
		MerchantID: merchantID,
		PayeeInfo:  payeeInfo,
		Amount:     amount,
		Fee:        money.Zero(money.ScaleAmount),
		Status:     domain.WithdrawalPending,
		CreatedAt:  e.now(),
	}

	if err := e.wallet.ChangeAvailable(ctx, tx, merchantID, amount.Neg(), domain.WalletChangeWithdrawal, "", "withdrawal request", false); err != nil {
		return nil, err
	}
	if err := e.repo.Insert(ctx, tx, rec); err != nil {
		return nil, gwerr.Internal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, gwerr.Internal(err)
	}
	return rec, nil
}

var withdrawalTransitions = map[domain.WithdrawalStatus][]domain.WithdrawalStatus{
	domain.WithdrawalPending:    {domain.WithdrawalProcessing, domain.WithdrawalRejected, domain.WithdrawalCanceled},
	domain.WithdrawalProcessing: {domain.WithdrawalCompleted, domain.WithdrawalFailed, domain.WithdrawalCanceled},
}

// CanTransition reports whether an admin-driven withdrawal status change
// is permitted (spec §4.8).
func CanTransition(from, to domain.WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

var reversingStatuses = map[domain.WithdrawalStatus]bool{
	domain.WithdrawalRejected: true,
	domain.WithdrawalCanceled: true,
	domain.WithdrawalFailed:   true,
}

// ChangeStatus implements spec §4.8's changeStatus: moves a withdrawal
// to a new status, crediting available and prepaid back on any terminal
// reversal (REJECTED, CANCELED, FAILED) and recording a reason for
// REJECTED/FAILED.
func (e *Engine) ChangeStatus(ctx context.Context, id string, to domain.WithdrawalStatus, reason string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return gwerr.Internal(err)
	}
	defer tx.Rollback()

	w, err := e.repo.Lock(ctx, tx, id)
	if err != nil {
		return gwerr.Internal(err)
	}
	if w == nil {
		return gwerr.New(gwerr.CodeNotFound, "withdrawal not found")
	}
	if !CanTransition(w.Status, to) {
		return gwerr.New(gwerr.CodeConflict, "illegal withdrawal status transition")
	}

	if reversingStatuses[to] {
		if err := e.wallet.ChangeAvailable(ctx, tx, w.MerchantID, w.Amount, domain.WalletChangeWithdrawalRev, w.ID, "withdrawal reversed", false); err != nil {
			return err
		}
		if w.PrepaidDeducted.IsPositive() {
			if err := e.wallet.ChangePrepaid(ctx, tx, w.MerchantID, w.PrepaidDeducted, "withdrawal reversed"); err != nil {
				return err
			}
		}
	}

	if to == domain.WithdrawalRejected || to == domain.WithdrawalFailed {
		w.RejectReason = reason
	}
	w.Status = to

	if err := e.repo.Update(ctx, tx, w); err != nil {
		return gwerr.Internal(err)
	}
	return tx.Commit()
}
