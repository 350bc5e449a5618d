// Package wallet implements the WalletLedger (spec §4.4): every mutation
// runs inside a caller-supplied database transaction with
// SELECT ... FOR UPDATE on the wallet row, followed by an append-only
// change-record insert. Grounded on storage/postgres/client.go's
// lock-read-then-insert transaction shape (there applied to a
// hash-chained ledger row; here applied to the four-balance wallet row).
package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
)

// Ledger performs row-locked wallet mutations. It holds no state of its
// own; every method takes the *sql.Tx the caller already opened, so
// wallet mutations and order/refund/withdrawal row writes compose into
// one outer transaction (spec §5's wallet → order → child-rows lock order).
type Ledger struct{}

// New builds a Ledger.
func New() *Ledger { return &Ledger{} }

// lockWallet reads the wallet row under FOR UPDATE. A missing row is not
// created here; it is reported as CodeNotFound.
func (l *Ledger) lockWallet(ctx context.Context, tx *sql.Tx, merchantID string) (*domain.MerchantWallet, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT merchant_id, available_balance, unavailable_balance, prepaid, margin
		FROM merchant_wallet WHERE merchant_id = $1 FOR UPDATE`, merchantID)

	var w domain.MerchantWallet
	var available, unavailable, prepaid, margin string
	err := row.Scan(&w.MerchantID, &available, &unavailable, &prepaid, &margin)
	if err == sql.ErrNoRows {
		return nil, gwerr.New(gwerr.CodeNotFound, "wallet not found for merchant")
	}
	if err != nil {
		return nil, gwerr.Internal(fmt.Errorf("lock wallet: %w", err))
	}

	w.AvailableBalance, err = money.FromString(available, money.ScaleAmount)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	w.UnavailableBalance, err = money.FromString(unavailable, money.ScaleAmount)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	w.Prepaid, err = money.FromString(prepaid, money.ScaleAmount)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	w.Margin, err = money.FromString(margin, money.ScaleAmount)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	return &w, nil
}

func (l *Ledger) saveWallet(ctx context.Context, tx *sql.Tx, w *domain.MerchantWallet) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE merchant_wallet
		SET available_balance = $2, unavailable_balance = $3, prepaid = $4, margin = $5
		WHERE merchant_id = $1`,
		w.MerchantID, w.AvailableBalance.String(), w.UnavailableBalance.String(), w.Prepaid.String(), w.Margin.String())
	if err != nil {
		return gwerr.Internal(fmt.Errorf("save wallet: %w", err))
	}
	return nil
}

// Lock reads the wallet row under FOR UPDATE for callers (e.g. the
// withdrawal engine) that need to inspect balances before deciding which
// mutation to apply, within the same transaction they'll mutate in.
func (l *Ledger) Lock(ctx context.Context, tx *sql.Tx, merchantID string) (*domain.MerchantWallet, error) {
	return l.lockWallet(ctx, tx, merchantID)
}

// ChangeAvailable implements spec §4.4's changeAvailable. A zero delta
// is a no-op. reduceUnavailable additionally decrements unavailable by
// |delta| when delta > 0 (used by settlement crediting available while
// releasing the matching unavailable hold).
func (l *Ledger) ChangeAvailable(ctx context.Context, tx *sql.Tx, merchantID string, delta money.Money, changeType domain.WalletChangeType, tradeNo, remark string, reduceUnavailable bool) error {
	if delta.IsZero() {
		return nil
	}

	w, err := l.lockWallet(ctx, tx, merchantID)
	if err != nil {
		return err
	}

	oldAvailable := w.AvailableBalance
	newAvailable := oldAvailable.Add(delta)
	if newAvailable.IsNegative() {
		return gwerr.New(gwerr.CodeInsufficientFunds, "insufficient available balance")
	}

	oldUnavailable := w.UnavailableBalance
	newUnavailable := oldUnavailable
	deltaUnavailable := money.Zero(money.ScaleAmount)
	if reduceUnavailable && delta.IsPositive() {
		deltaUnavailable = delta.Neg()
		newUnavailable = oldUnavailable.Add(deltaUnavailable)
		if newUnavailable.IsNegative() {
			return gwerr.New(gwerr.CodeInsufficientFunds, "insufficient unavailable balance")
		}
	}

	w.AvailableBalance = newAvailable
	w.UnavailableBalance = newUnavailable
	if err := l.saveWallet(ctx, tx, w); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merchant_wallet_record
			(merchant_id, type, old_available, delta_available, new_available,
			 old_unavailable, delta_unavailable, new_unavailable, trade_no, remark, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())`,
		merchantID, string(changeType),
		oldAvailable.String(), delta.String(), newAvailable.String(),
		oldUnavailable.String(), deltaUnavailable.String(), newUnavailable.String(),
		tradeNo, remark)
	if err != nil {
		return gwerr.Internal(fmt.Errorf("insert wallet record: %w", err))
	}
	return nil
}

// ChangeUnAvailable implements spec §4.4's changeUnAvailable, symmetric
// to ChangeAvailable: refuses when unavailable would go negative, or
// (if reduceAvailable) when available would go negative.
func (l *Ledger) ChangeUnAvailable(ctx context.Context, tx *sql.Tx, merchantID string, delta money.Money, changeType domain.WalletChangeType, tradeNo, remark string, reduceAvailable bool) error {
	if delta.IsZero() {
		return nil
	}

	w, err := l.lockWallet(ctx, tx, merchantID)
	if err != nil {
		return err
	}

	oldUnavailable := w.UnavailableBalance
	newUnavailable := oldUnavailable.Add(delta)
	if newUnavailable.IsNegative() {
		return gwerr.New(gwerr.CodeInsufficientFunds, "insufficient unavailable balance")
	}

	oldAvailable := w.AvailableBalance
	newAvailable := oldAvailable
	deltaAvailable := money.Zero(money.ScaleAmount)
	if reduceAvailable && delta.IsPositive() {
		deltaAvailable = delta.Neg()
		newAvailable = oldAvailable.Add(deltaAvailable)
		if newAvailable.IsNegative() {
			return gwerr.New(gwerr.CodeInsufficientFunds, "insufficient available balance")
		}
	}

	w.AvailableBalance = newAvailable
	w.UnavailableBalance = newUnavailable
	if err := l.saveWallet(ctx, tx, w); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merchant_wallet_record
			(merchant_id, type, old_available, delta_available, new_available,
			 old_unavailable, delta_unavailable, new_unavailable, trade_no, remark, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())`,
		merchantID, string(changeType),
		oldAvailable.String(), deltaAvailable.String(), newAvailable.String(),
		oldUnavailable.String(), delta.String(), newUnavailable.String(),
		tradeNo, remark)
	if err != nil {
		return gwerr.Internal(fmt.Errorf("insert wallet record: %w", err))
	}
	return nil
}

// ChangePrepaid implements spec §4.4's changePrepaid.
func (l *Ledger) ChangePrepaid(ctx context.Context, tx *sql.Tx, merchantID string, delta money.Money, remark string) error {
	if delta.IsZero() {
		return nil
	}

	w, err := l.lockWallet(ctx, tx, merchantID)
	if err != nil {
		return err
	}

	oldPrepaid := w.Prepaid
	newPrepaid := oldPrepaid.Add(delta)
	if newPrepaid.IsNegative() {
		return gwerr.New(gwerr.CodeInsufficientFunds, "insufficient prepaid balance")
	}

	w.Prepaid = newPrepaid
	if err := l.saveWallet(ctx, tx, w); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO merchant_wallet_prepaid_record
			(merchant_id, old_prepaid, delta, new_prepaid, remark, created_at)
		VALUES ($1,$2,$3,$4,$5, now())`,
		merchantID, oldPrepaid.String(), delta.String(), newPrepaid.String(), remark)
	if err != nil {
		return gwerr.Internal(fmt.Errorf("insert prepaid record: %w", err))
	}
	return nil
}

// Get reads the wallet without locking, for read-only display purposes.
func (l *Ledger) Get(ctx context.Context, db *sql.DB, merchantID string) (*domain.MerchantWallet, error) {
	row := db.QueryRowContext(ctx, `
		SELECT merchant_id, available_balance, unavailable_balance, prepaid, margin
		FROM merchant_wallet WHERE merchant_id = $1`, merchantID)

	var w domain.MerchantWallet
	var available, unavailable, prepaid, margin string
	if err := row.Scan(&w.MerchantID, &available, &unavailable, &prepaid, &margin); err != nil {
		if err == sql.ErrNoRows {
			return nil, gwerr.New(gwerr.CodeNotFound, "wallet not found for merchant")
		}
		return nil, gwerr.Internal(err)
	}
	w.AvailableBalance, _ = money.FromString(available, money.ScaleAmount)
	w.UnavailableBalance, _ = money.FromString(unavailable, money.ScaleAmount)
	w.Prepaid, _ = money.FromString(prepaid, money.ScaleAmount)
	w.Margin, _ = money.FromString(margin, money.ScaleAmount)
	return &w, nil
}
