package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/driver"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/order"
)

// OrderRepo implements order.Repo, and the account-config/driver lookups
// refund.OrderStore needs, against the orders/payment_channel_accounts tables.
type OrderRepo struct {
	drivers *driver.Registry
}

// NewOrderRepo builds an OrderRepo. drivers resolves a channel's gateway
// key to its PaymentDriver implementation for auto-refund dispatch.
func NewOrderRepo(drivers *driver.Registry) *OrderRepo { return &OrderRepo{drivers: drivers} }

func decodeConfig(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var cfg map[string]string
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("postgres: decode account config: %w", err)
	}
	return cfg, nil
}

func scanOrder(row interface {
	Scan(dest ...any) error
}) (*domain.Order, error) {
	var o domain.Order
	var totalAmount, buyerPay, receipt, fee, profit string
	var paymentTime, closeTime, notifyNextRetry sql.NullTime

	err := row.Scan(
		&o.TradeNo, &o.OutTradeNo, &o.MerchantID, &o.PaymentType, &o.PaymentChannelAccountID,
		&o.Subject, &totalAmount, &buyerPay, &receipt, &fee, &profit,
		&o.NotifyURL, &o.ReturnURL, &o.Attach, &o.SettleCycle, &o.SignType,
		&o.TradeState, &o.SettleState, &o.NotifyState, &o.NotifyRetryCount, &notifyNextRetry,
		&o.CreateTime, &paymentTime, &closeTime,
		&o.APITradeNo, &o.BillTradeNo, &o.MchTradeNo,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.TotalAmount, err = money.FromString(totalAmount, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	o.BuyerPayAmount, err = money.FromString(buyerPay, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	o.ReceiptAmount, err = money.FromString(receipt, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	o.FeeAmount, err = money.FromString(fee, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	o.ProfitAmount, err = money.FromString(profit, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	if paymentTime.Valid {
		t := paymentTime.Time
		o.PaymentTime = &t
	}
	if closeTime.Valid {
		t := closeTime.Time
		o.CloseTime = &t
	}
	if notifyNextRetry.Valid {
		t := notifyNextRetry.Time
		o.NotifyNextRetryTime = &t
	}
	return &o, nil
}

const orderColumns = `
	trade_no, out_trade_no, merchant_id, payment_type, payment_channel_account_id,
	subject, total_amount, buyer_pay_amount, receipt_amount, fee_amount, profit_amount,
	notify_url, return_url, attach, settle_cycle, sign_type,
	trade_state, settle_state, notify_state, notify_retry_count, notify_next_retry_time,
	create_time, payment_time, close_time,
	api_trade_no, bill_trade_no, mch_trade_no`

// FindRecent implements order.Repo.
func (r *OrderRepo) FindRecent(ctx context.Context, tx *sql.Tx, merchantID, outTradeNo string, since time.Time) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE merchant_id = $1 AND out_trade_no = $2 AND create_time >= $3
		ORDER BY create_time DESC LIMIT 1`, merchantID, outTradeNo, since)
	return scanOrder(row)
}

// ExistsTradeNo implements order.Repo.
func (r *OrderRepo) ExistsTradeNo(ctx context.Context, tx *sql.Tx, tradeNo string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE trade_no = $1)`, tradeNo).Scan(&exists)
	return exists, err
}

// Insert implements order.Repo.
func (r *OrderRepo) Insert(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)`,
		o.TradeNo, o.OutTradeNo, o.MerchantID, o.PaymentType, o.PaymentChannelAccountID,
		o.Subject, o.TotalAmount.String(), o.BuyerPayAmount.String(), o.ReceiptAmount.String(), o.FeeAmount.String(), o.ProfitAmount.String(),
		o.NotifyURL, o.ReturnURL, o.Attach, o.SettleCycle, o.SignType,
		o.TradeState, o.SettleState, o.NotifyState, o.NotifyRetryCount, o.NotifyNextRetryTime,
		o.CreateTime, o.PaymentTime, o.CloseTime,
		o.APITradeNo, o.BillTradeNo, o.MchTradeNo)
	return err
}

// Lock implements order.Repo (SELECT ... FOR UPDATE).
func (r *OrderRepo) Lock(ctx context.Context, tx *sql.Tx, tradeNo string) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE trade_no = $1 FOR UPDATE`, tradeNo)
	return scanOrder(row)
}

// Update implements order.Repo.
func (r *OrderRepo) Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			trade_state = $2, settle_state = $3, notify_state = $4,
			notify_retry_count = $5, notify_next_retry_time = $6,
			payment_time = $7, close_time = $8,
			api_trade_no = $9, bill_trade_no = $10, mch_trade_no = $11,
			buyer_pay_amount = $12
		WHERE trade_no = $1`,
		o.TradeNo, o.TradeState, o.SettleState, o.NotifyState,
		o.NotifyRetryCount, o.NotifyNextRetryTime,
		o.PaymentTime, o.CloseTime,
		o.APITradeNo, o.BillTradeNo, o.MchTradeNo,
		o.BuyerPayAmount.String())
	return err
}

// Get implements order.Repo for unlocked reads outside a transaction.
func (r *OrderRepo) Get(ctx context.Context, db *sql.DB, tradeNo string) (*domain.Order, error) {
	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE trade_no = $1`, tradeNo)
	return scanOrder(row)
}

// AccountConfig implements refund.OrderStore's account-config lookup.
func (r *OrderRepo) AccountConfig(ctx context.Context, tx *sql.Tx, accountID string) (map[string]string, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT config FROM payment_channel_accounts WHERE id = $1`, accountID).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return decodeConfig(raw)
}

// Driver implements refund.OrderStore: resolves the upstream driver for
// the channel an account belongs to.
func (r *OrderRepo) Driver(ctx context.Context, tx *sql.Tx, accountID string) (driver.PaymentDriver, error) {
	var gateway string
	err := tx.QueryRowContext(ctx, `
		SELECT pc.gateway FROM payment_channel_accounts pca
		JOIN payment_channels pc ON pc.id = pca.channel_id
		WHERE pca.id = $1`, accountID).Scan(&gateway)
	if err != nil {
		return nil, err
	}
	d, ok := r.drivers.Resolve(gateway)
	if !ok {
		return nil, fmt.Errorf("postgres: no driver registered for gateway %q", gateway)
	}
	return d, nil
}

// BuyerRepo implements order.BuyerRepo against the order_buyers table.
type BuyerRepo struct{}

// NewBuyerRepo builds a BuyerRepo.
func NewBuyerRepo() *BuyerRepo { return &BuyerRepo{} }

// Insert implements order.BuyerRepo.
func (r *BuyerRepo) Insert(ctx context.Context, tx *sql.Tx, b *domain.OrderBuyer) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_buyers
			(trade_no, ip, user_agent, user_id, buyer_open_id, mobile, real_name, cert_no, cert_type, min_age)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.TradeNo, b.IP, b.UserAgent, b.UserID, b.BuyerOpenID, b.Mobile, b.RealName, b.CertNo, b.CertType, b.MinAge)
	return err
}

// Get implements order.BuyerRepo.
func (r *BuyerRepo) Get(ctx context.Context, tx *sql.Tx, tradeNo string) (*domain.OrderBuyer, error) {
	var b domain.OrderBuyer
	err := tx.QueryRowContext(ctx, `
		SELECT trade_no, ip, user_agent, user_id, buyer_open_id, mobile, real_name, cert_no, cert_type, min_age
		FROM order_buyers WHERE trade_no = $1`, tradeNo).Scan(
		&b.TradeNo, &b.IP, &b.UserAgent, &b.UserID, &b.BuyerOpenID, &b.Mobile, &b.RealName, &b.CertNo, &b.CertType, &b.MinAge)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// PatchWhitelisted implements order.BuyerRepo.
func (r *BuyerRepo) PatchWhitelisted(ctx context.Context, tx *sql.Tx, tradeNo string, patch order.BuyerPatch) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE order_buyers SET
			ip = COALESCE($2, ip),
			user_agent = COALESCE($3, user_agent),
			user_id = COALESCE($4, user_id),
			buyer_open_id = COALESCE($5, buyer_open_id),
			mobile = COALESCE($6, mobile)
		WHERE trade_no = $1`,
		tradeNo, patch.IP, patch.UserAgent, patch.UserID, patch.BuyerOpenID, patch.Mobile)
	return err
}
