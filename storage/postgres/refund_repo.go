package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

// RefundRepo implements refund.Repo against order_refunds.
type RefundRepo struct{}

// NewRefundRepo builds a RefundRepo.
func NewRefundRepo() *RefundRepo { return &RefundRepo{} }

// SumNonFailed implements refund.Repo.
func (r *RefundRepo) SumNonFailed(ctx context.Context, tx *sql.Tx, tradeNo string) (money.Money, error) {
	var sum sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount::numeric), 0)::text FROM order_refunds
		WHERE trade_no = $1 AND status NOT IN ($2, $3)`,
		tradeNo, domain.RefundFailed, domain.RefundRejected).Scan(&sum)
	if err != nil {
		return money.Money{}, err
	}
	if !sum.Valid {
		return money.Zero(money.ScaleAmount), nil
	}
	return money.FromString(sum.String, money.ScaleAmount)
}

// FindByIdempotency implements refund.Repo.
func (r *RefundRepo) FindByIdempotency(ctx context.Context, tx *sql.Tx, merchantID, outBizNo string) (*domain.OrderRefund, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, trade_no, merchant_id, initiate_type, refund_type, amount, refund_fee_amount,
			fee_bearer, out_biz_no, api_refund_no, reason, status, created_at
		FROM order_refunds WHERE merchant_id = $1 AND out_biz_no = $2`, merchantID, outBizNo)
	return scanRefund(row)
}

// ExistsID implements refund.Repo.
func (r *RefundRepo) ExistsID(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM order_refunds WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// Insert implements refund.Repo.
func (r *RefundRepo) Insert(ctx context.Context, tx *sql.Tx, ref *domain.OrderRefund) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_refunds
			(id, trade_no, merchant_id, initiate_type, refund_type, amount, refund_fee_amount,
			 fee_bearer, out_biz_no, api_refund_no, reason, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		ref.ID, ref.TradeNo, ref.MerchantID, ref.InitiateType, ref.RefundType, ref.Amount.String(), ref.RefundFeeAmount.String(),
		ref.FeeBearer, ref.OutBizNo, ref.APIRefundNo, ref.Reason, ref.Status, ref.CreatedAt)
	return err
}

func scanRefund(row *sql.Row) (*domain.OrderRefund, error) {
	var ref domain.OrderRefund
	var amount, fee string
	var createdAt time.Time

	err := row.Scan(&ref.ID, &ref.TradeNo, &ref.MerchantID, &ref.InitiateType, &ref.RefundType, &amount, &fee,
		&ref.FeeBearer, &ref.OutBizNo, &ref.APIRefundNo, &ref.Reason, &ref.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ref.CreatedAt = createdAt
	if ref.Amount, err = money.FromString(amount, money.ScaleAmount); err != nil {
		return nil, err
	}
	if ref.RefundFeeAmount, err = money.FromString(fee, money.ScaleAmount); err != nil {
		return nil, err
	}
	return &ref, nil
}
