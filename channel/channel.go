// Package channel implements the ChannelSelector (spec §4.5): filters
// channels and sub-accounts by payment type, amount, time-of-day and
// daily Redis limits, then picks one account per the channel's rotation
// strategy. Daily-limit counters and the sequential rotation pointer are
// grounded on storage/redis/rate_limiter.go's Lua-script-atomicity
// pattern, adapted from a sliding window to fixed daily buckets.
package channel

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
)

// ChannelRepo looks up PaymentChannel rows.
type ChannelRepo interface {
	// Find returns active channels matching payment_type (and code, if
	// non-empty), ordered by id ascending (spec §4.5 step 1).
	Find(ctx context.Context, paymentType domain.PaymentType, code string) ([]*domain.PaymentChannel, error)
}

// AccountRepo looks up PaymentChannelAccount rows for a channel.
type AccountRepo interface {
	// ListActive returns accounts with status=true and maintenance=false,
	// ordered by id ascending (spec §4.5 step 3's DB-layer filter).
	ListActive(ctx context.Context, channelID string) ([]*domain.PaymentChannelAccount, error)
}

// DailyLimitStore tracks per-day channel/account usage totals in Redis
// (spec §4.5: `PaymentDailyLimit:channel:{id}:{date}` /
// `PaymentDailyLimit:account:{id}:{date}`).
type DailyLimitStore interface {
	// GetDailyTotal returns today's accumulated amount for key.
	GetDailyTotal(ctx context.Context, key string, date string) (money.Money, error)
	// AddDailyTotal adds amount to today's accumulated exact-decimal total
	// for key, resetting a 24h TTL on every write.
	AddDailyTotal(ctx context.Context, key string, date string, amount money.Money) error
}

// RotationStore persists the sequential-rotation pointer.
type RotationStore interface {
	// NextSequential returns the account immediately following the last
	// used one (wraparound), given the eligible accounts sorted by id,
	// and atomically advances the pointer with a 24h TTL
	// (`PaymentChannelAccountSort:{channel_id}`, spec §4.5 step 6).
	NextSequential(ctx context.Context, channelID string, sortedAccountIDs []string) (string, error)
}

func dailyChannelKey(channelID string) string { return fmt.Sprintf("PaymentDailyLimit:channel:%s", channelID) }
func dailyAccountKey(accountID string) string { return fmt.Sprintf("PaymentDailyLimit:account:%s", accountID) }

// Selector is the ChannelSelector.
type Selector struct {
	channels    ChannelRepo
	accounts    AccountRepo
	dailyLimits DailyLimitStore
	rotation    RotationStore
}

// New builds a Selector.
func New(channels ChannelRepo, accounts AccountRepo, dailyLimits DailyLimitStore, rotation RotationStore) *Selector {
	return &Selector{channels: channels, accounts: accounts, dailyLimits: dailyLimits, rotation: rotation}
}

// Request carries the selector's inputs (spec §4.5).
type Request struct {
	PaymentType domain.PaymentType
	Code        string // optional explicit channel code
	Amount      money.Money
	Merchant    *domain.Merchant
	Now         time.Time
}

// Selection is the chosen channel + account.
type Selection struct {
	Channel *domain.PaymentChannel
	Account *domain.PaymentChannelAccount
}

func withinTimeWindow(now time.Time, earliest, latest string) bool {
	if earliest == "" && latest == "" {
		return true
	}
	hhmm := now.Format("15:04")
	if earliest != "" && hhmm < earliest {
		return false
	}
	if latest != "" && hhmm > latest {
		return false
	}
	return true
}

func withinAmountRange(amount money.Money, min, max *money.Money) bool {
	if min != nil && amount.Cmp(*min) < 0 {
		return false
	}
	if max != nil && amount.Cmp(*max) > 0 {
		return false
	}
	return true
}

// Select runs the full filter cascade and returns one channel+account.
func (s *Selector) Select(ctx context.Context, req Request) (*Selection, error) {
	channels, err := s.channels.Find(ctx, req.PaymentType, req.Code)
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	date := req.Now.Format("2006-01-02")

	var whitelistAllowed, useAllAccounts bool
	var whitelistAccounts map[string]bool
	if req.Merchant != nil && req.Merchant.HasWhitelist() {
		whitelistAllowed = false // computed per channel below
	}

	for _, ch := range channels {
		if !withinAmountRange(req.Amount, ch.MinAmount, ch.MaxAmount) {
			continue // "amount" failure -> skip to next channel
		}
		if !withinTimeWindow(req.Now, ch.EarliestTime, ch.LatestTime) {
			continue // "time" failure -> skip to next channel
		}
		if ch.DailyLimit != nil {
			used, err := s.dailyLimits.GetDailyTotal(ctx, dailyChannelKey(ch.ID), date)
			if err != nil {
				return nil, gwerr.Internal(err)
			}
			if used.Add(req.Amount).Cmp(*ch.DailyLimit) > 0 {
				// "other conditions" failure -> propagate.
				return nil, gwerr.New(gwerr.CodeNoAvailableChannel, "channel daily limit exceeded")
			}
		}

		if req.Merchant != nil && req.Merchant.HasWhitelist() {
			whitelistAllowed, useAllAccounts, whitelistAccounts = req.Merchant.WhitelistsChannel(ch.ID)
			if !whitelistAllowed {
				continue
			}
		} else {
			whitelistAllowed, useAllAccounts, whitelistAccounts = true, true, nil
		}

		accounts, err := s.accounts.ListActive(ctx, ch.ID)
		if err != nil {
			return nil, gwerr.Internal(err)
		}

		eligible := make([]*domain.PaymentChannelAccount, 0, len(accounts))
		for _, acc := range accounts {
			if !acc.InheritConfig {
				if !withinAmountRange(req.Amount, acc.MinAmount, acc.MaxAmount) {
					continue
				}
				if !withinTimeWindow(req.Now, acc.EarliestTime, acc.LatestTime) {
					continue
				}
			}
			if acc.DailyLimit != nil {
				used, err := s.dailyLimits.GetDailyTotal(ctx, dailyAccountKey(acc.ID), date)
				if err != nil {
					return nil, gwerr.Internal(err)
				}
				if used.Add(req.Amount).Cmp(*acc.DailyLimit) > 0 {
					continue
				}
			}
			if !useAllAccounts && whitelistAccounts != nil && !whitelistAccounts[acc.ID] {
				continue
			}
			eligible = append(eligible, acc)
		}

		if len(eligible) == 0 {
			continue // exhausted this channel's accounts -> next channel
		}

		chosen, err := s.pick(ctx, ch, eligible)
		if err != nil {
			return nil, err
		}
		return &Selection{Channel: ch, Account: chosen}, nil
	}

	return nil, gwerr.New(gwerr.CodeNoAvailableAccount, "no available channel/account")
}

func (s *Selector) pick(ctx context.Context, ch *domain.PaymentChannel, eligible []*domain.PaymentChannelAccount) (*domain.PaymentChannelAccount, error) {
	switch ch.RollMode {
	case 1: // random
		return eligible[mustRandIndex(len(eligible))], nil
	case 2: // weighted roulette, sequential fallback
		total := 0
		for _, a := range eligible {
			total += a.RollWeight
		}
		if total == 0 {
			return s.pickSequential(ctx, ch.ID, eligible)
		}
		r := mustRandIndex(total)
		cum := 0
		for _, a := range eligible {
			if a.RollWeight == 0 {
				continue
			}
			cum += a.RollWeight
			if r < cum {
				return a, nil
			}
		}
		return eligible[len(eligible)-1], nil
	case 3: // first
		return eligible[0], nil
	default: // sequential
		return s.pickSequential(ctx, ch.ID, eligible)
	}
}

func (s *Selector) pickSequential(ctx context.Context, channelID string, eligible []*domain.PaymentChannelAccount) (*domain.PaymentChannelAccount, error) {
	ids := make([]string, len(eligible))
	byID := make(map[string]*domain.PaymentChannelAccount, len(eligible))
	for i, a := range eligible {
		ids[i] = a.ID
		byID[a.ID] = a
	}
	chosenID, err := s.rotation.NextSequential(ctx, channelID, ids)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	acc, ok := byID[chosenID]
	if !ok {
		return eligible[0], nil
	}
	return acc, nil
}

func mustRandIndex(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// RecordUsage updates the daily counters after order persistence (spec
// §4.5: "occurs after order persistence in the same request cycle").
func (s *Selector) RecordUsage(ctx context.Context, channelID, accountID string, amount money.Money, now time.Time) error {
	date := now.Format("2006-01-02")
	if err := s.dailyLimits.AddDailyTotal(ctx, dailyChannelKey(channelID), date, amount); err != nil {
		return gwerr.Internal(err)
	}
	if err := s.dailyLimits.AddDailyTotal(ctx, dailyAccountKey(accountID), date, amount); err != nil {
		return gwerr.Internal(err)
	}
	return nil
}
