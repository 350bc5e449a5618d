package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/plm/aggpay/domain"
)

// NotificationRepo implements notify.Repo against order_notification, the
// append-only delivery-attempt log spec §4.9 describes.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo builds a NotificationRepo.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Insert implements notify.Repo.
func (r *NotificationRepo) Insert(ctx context.Context, n *domain.OrderNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_notification (id, trade_no, status, request_duration, response_body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		n.ID, n.TradeNo, n.Status, n.RequestDuration, n.ResponseBody, n.CreatedAt)
	return err
}
