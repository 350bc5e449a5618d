package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/plm/aggpay/domain"
)

// MerchantRepo looks up merchants and their signing configuration. Unlike
// the order/channel/refund repos it has no consumer-defined interface of
// its own yet: it exists for the API layer, which authenticates a request
// by merchant number before any order/channel/refund engine is invoked.
type MerchantRepo struct{ db *sql.DB }

// NewMerchantRepo builds a MerchantRepo.
func NewMerchantRepo(db *sql.DB) *MerchantRepo { return &MerchantRepo{db: db} }

const merchantColumns = `
	id, merchant_number, email, mobile, status, risk_status, buyer_pay_fee,
	competence, channel_whitelist, password_salt, password_hash, created_at, deleted_at`

func scanMerchant(row interface{ Scan(dest ...any) error }) (*domain.Merchant, error) {
	var m domain.Merchant
	var competence, whitelist []byte
	var deletedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.MerchantNumber, &m.Email, &m.Mobile, &m.Status, &m.RiskStatus, &m.BuyerPayFee,
		&competence, &whitelist, &m.PasswordSalt, &m.PasswordHash, &m.CreatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	if len(competence) > 0 {
		if err := json.Unmarshal(competence, &m.Competence); err != nil {
			return nil, fmt.Errorf("postgres: decode competence: %w", err)
		}
	}
	if len(whitelist) > 0 {
		if err := json.Unmarshal(whitelist, &m.ChannelWhitelist); err != nil {
			return nil, fmt.Errorf("postgres: decode channel whitelist: %w", err)
		}
	}
	return &m, nil
}

// Get finds a merchant by primary key.
func (r *MerchantRepo) Get(ctx context.Context, id string) (*domain.Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanMerchant(row)
}

// GetByNumber finds a merchant by its externally-facing merchant_number,
// the identifier merchants present on inbound API requests.
func (r *MerchantRepo) GetByNumber(ctx context.Context, merchantNumber string) (*domain.Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE merchant_number = $1 AND deleted_at IS NULL`, merchantNumber)
	return scanMerchant(row)
}

// Encryption fetches the one-per-merchant signing configuration used to
// verify inbound signatures and encrypt admin-channel payloads.
func (r *MerchantRepo) Encryption(ctx context.Context, merchantID string) (*domain.MerchantEncryption, error) {
	var enc domain.MerchantEncryption
	enc.MerchantID = merchantID
	err := r.db.QueryRowContext(ctx, `
		SELECT mode, hash_key, aes_key, rsa_public_key
		FROM merchant_encryptions WHERE merchant_id = $1`, merchantID).Scan(
		&enc.Mode, &enc.HashKey, &enc.AESKey, &enc.RSAPublicKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enc, nil
}
