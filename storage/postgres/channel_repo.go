package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/money"
)

// ChannelRepo implements channel.ChannelRepo against payment_channels.
type ChannelRepo struct{ db *sql.DB }

// NewChannelRepo builds a ChannelRepo.
func NewChannelRepo(db *sql.DB) *ChannelRepo { return &ChannelRepo{db: db} }

func nullableMoney(ns sql.NullString) (*money.Money, error) {
	if !ns.Valid {
		return nil, nil
	}
	m, err := money.FromString(ns.String, money.ScaleAmount)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Find implements channel.ChannelRepo.
func (r *ChannelRepo) Find(ctx context.Context, paymentType domain.PaymentType, code string) ([]*domain.PaymentChannel, error) {
	query := `
		SELECT id, code, name, payment_type, gateway, costs, rate, fixed_costs, fixed_fee,
			min_fee, max_fee, min_amount, max_amount, daily_limit,
			earliest_time, latest_time, roll_mode, settle_cycle, status, diy_order_subject
		FROM payment_channels WHERE status = true`
	args := []any{}
	if code != "" {
		query += fmt.Sprintf(" AND code = $%d", len(args)+1)
		args = append(args, code)
	} else if paymentType != "" {
		query += fmt.Sprintf(" AND payment_type = $%d", len(args)+1)
		args = append(args, paymentType)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*domain.PaymentChannel
	for rows.Next() {
		var c domain.PaymentChannel
		var costs, rate, fixedCosts, fixedFee, minFee string
		var maxFee, minAmount, maxAmount, dailyLimit sql.NullString

		if err := rows.Scan(
			&c.ID, &c.Code, &c.Name, &c.PaymentType, &c.Gateway, &costs, &rate, &fixedCosts, &fixedFee,
			&minFee, &maxFee, &minAmount, &maxAmount, &dailyLimit,
			&c.EarliestTime, &c.LatestTime, &c.RollMode, &c.SettleCycle, &c.Status, &c.DiyOrderSubject,
		); err != nil {
			return nil, err
		}

		if c.Costs, err = money.FromString(costs, money.ScaleRate); err != nil {
			return nil, err
		}
		if c.Rate, err = money.FromString(rate, money.ScaleRate); err != nil {
			return nil, err
		}
		if c.FixedCosts, err = money.FromString(fixedCosts, money.ScaleAmount); err != nil {
			return nil, err
		}
		if c.FixedFee, err = money.FromString(fixedFee, money.ScaleAmount); err != nil {
			return nil, err
		}
		if c.MinFee, err = money.FromString(minFee, money.ScaleAmount); err != nil {
			return nil, err
		}
		if c.MaxFee, err = nullableMoney(maxFee); err != nil {
			return nil, err
		}
		if c.MinAmount, err = nullableMoney(minAmount); err != nil {
			return nil, err
		}
		if c.MaxAmount, err = nullableMoney(maxAmount); err != nil {
			return nil, err
		}
		if c.DailyLimit, err = nullableMoney(dailyLimit); err != nil {
			return nil, err
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

// AccountRepo implements channel.AccountRepo against payment_channel_accounts.
type AccountRepo struct{ db *sql.DB }

// NewAccountRepo builds an AccountRepo.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

// ListActive implements channel.AccountRepo.
func (r *AccountRepo) ListActive(ctx context.Context, channelID string) ([]*domain.PaymentChannelAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, name, inherit_config, roll_weight, rate,
			min_amount, max_amount, daily_limit, earliest_time, latest_time,
			config, status, maintenance, diy_order_subject
		FROM payment_channel_accounts WHERE channel_id = $1 AND status = true`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.PaymentChannelAccount
	for rows.Next() {
		var a domain.PaymentChannelAccount
		var rate string
		var minAmount, maxAmount, dailyLimit sql.NullString
		var rawConfig []byte

		if err := rows.Scan(
			&a.ID, &a.ChannelID, &a.Name, &a.InheritConfig, &a.RollWeight, &rate,
			&minAmount, &maxAmount, &dailyLimit, &a.EarliestTime, &a.LatestTime,
			&rawConfig, &a.Status, &a.Maintenance, &a.DiyOrderSubject,
		); err != nil {
			return nil, err
		}

		if a.Rate, err = money.FromString(rate, money.ScaleRate); err != nil {
			return nil, err
		}
		if a.MinAmount, err = nullableMoney(minAmount); err != nil {
			return nil, err
		}
		if a.MaxAmount, err = nullableMoney(maxAmount); err != nil {
			return nil, err
		}
		if a.DailyLimit, err = nullableMoney(dailyLimit); err != nil {
			return nil, err
		}
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &a.Config); err != nil {
				return nil, fmt.Errorf("postgres: decode account config: %w", err)
			}
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}
