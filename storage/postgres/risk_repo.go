package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/plm/aggpay/domain"
)

// BlacklistRepo implements risk.BlacklistRepo against the blacklist table.
type BlacklistRepo struct{ db *sql.DB }

// NewBlacklistRepo builds a BlacklistRepo.
func NewBlacklistRepo(db *sql.DB) *BlacklistRepo { return &BlacklistRepo{db: db} }

// Find implements risk.BlacklistRepo: returns the entry if it exists and
// (expired_at IS NULL OR expired_at > now).
func (r *BlacklistRepo) Find(ctx context.Context, hash string, now time.Time) (*domain.Blacklist, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT entity_type, entity_value, entity_hash, reason, origin, expired_at
		FROM blacklist WHERE entity_hash = $1 AND (expired_at IS NULL OR expired_at > $2)`, hash, now)

	var b domain.Blacklist
	var expiredAt sql.NullTime
	err := row.Scan(&b.EntityType, &b.EntityValue, &b.EntityHash, &b.Reason, &b.Origin, &expiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiredAt.Valid {
		t := expiredAt.Time
		b.ExpiredAt = &t
	}
	return &b, nil
}

// OrderBuyerCounter implements risk.OrderBuyerCounter against order_buyers
// joined with orders, counting by field since a given instant.
type OrderBuyerCounter struct{ db *sql.DB }

// NewOrderBuyerCounter builds an OrderBuyerCounter.
func NewOrderBuyerCounter(db *sql.DB) *OrderBuyerCounter { return &OrderBuyerCounter{db: db} }

// CountSince implements risk.OrderBuyerCounter.
func (r *OrderBuyerCounter) CountSince(ctx context.Context, field, value string, since time.Time) (int, error) {
	var column string
	switch field {
	case "ip":
		column = "ob.ip"
	case "user_id":
		column = "ob.user_id"
	case "buyer_open_id":
		column = "ob.buyer_open_id"
	case "mobile":
		column = "ob.mobile"
	default:
		column = "ob.ip"
	}

	var count int
	query := `
		SELECT COUNT(*) FROM order_buyers ob
		JOIN orders o ON o.trade_no = ob.trade_no
		WHERE ` + column + ` = $1 AND o.create_time >= $2`
	err := r.db.QueryRowContext(ctx, query, value, since).Scan(&count)
	return count, err
}

// Summary implements risk.OrderBuyerCounter.
func (r *OrderBuyerCounter) Summary(ctx context.Context, ip, userID, buyerOpenID, mobile string) (total, paid int, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE o.trade_state IN ('SUCCESS','FINISHED'))
		FROM order_buyers ob
		JOIN orders o ON o.trade_no = ob.trade_no
		WHERE ob.ip = $1 OR ob.user_id = $2 OR ob.buyer_open_id = $3 OR ob.mobile = $4`,
		ip, userID, buyerOpenID, mobile)
	err = row.Scan(&total, &paid)
	return total, paid, err
}

// RiskLogWriter implements risk.RiskLogWriter against the risk_log table.
type RiskLogWriter struct{ db *sql.DB }

// NewRiskLogWriter builds a RiskLogWriter.
func NewRiskLogWriter(db *sql.DB) *RiskLogWriter { return &RiskLogWriter{db: db} }

// Write implements risk.RiskLogWriter.
func (r *RiskLogWriter) Write(ctx context.Context, log *domain.RiskLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO risk_log (merchant_id, type, content, created_at)
		VALUES ($1,$2,$3,$4)`, log.MerchantID, log.Type, log.Content, log.CreatedAt)
	return err
}
