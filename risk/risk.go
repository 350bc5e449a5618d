// Package risk implements blacklist checks and per-day order caps ahead
// of order creation (spec §4.3). Hashing is grounded the same way
// signer hashes canonical strings — golang.org/x/crypto/sha3 at the
// spec-mandated SHA3-224 output size for blacklist entity hashes (a
// distinct use of SHA3 from signer's SHA3-256 sign type).
package risk

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/plm/aggpay/domain"
	"golang.org/x/crypto/sha3"
)

// EntityHash computes SHA3-224(type || value), the Blacklist.entity_hash
// column (spec §3).
func EntityHash(entityType domain.BlacklistEntityType, value string) string {
	sum := sha3.Sum224([]byte(string(entityType) + value))
	return hex.EncodeToString(sum[:])
}

// BlacklistRepo looks up active blacklist entries by hash.
type BlacklistRepo interface {
	// Find returns the entry if present and not expired (spec §3: expired_at
	// IS NULL OR expired_at > now()), nil otherwise.
	Find(ctx context.Context, hash string, now time.Time) (*domain.Blacklist, error)
}

// OrderBuyerCounter counts OrderBuyer rows matching an identifier since a
// given instant, and joins for the behavior summary (spec §4.3).
type OrderBuyerCounter interface {
	CountSince(ctx context.Context, field, value string, since time.Time) (int, error)
	// Summary returns (totalOrders, paidOrders) across every Order joined
	// to an OrderBuyer matching any of the given identifiers.
	Summary(ctx context.Context, ip, userID, buyerOpenID, mobile string) (total int, paid int, err error)
}

// RiskLogWriter appends a RiskLog row (spec §3, append-only).
type RiskLogWriter interface {
	Write(ctx context.Context, log *domain.RiskLog) error
}

// Config holds the configurable daily caps and timezone (spec §4.3, §6).
type Config struct {
	IPOrderLimit      int
	AccountOrderLimit int
	Location          *time.Location
}

// DefaultConfig returns permissive development defaults.
func DefaultConfig() *Config {
	return &Config{
		IPOrderLimit:      1000,
		AccountOrderLimit: 1000,
		Location:          time.UTC,
	}
}

// Engine is the RiskEngine (spec §4.3).
type Engine struct {
	blacklist BlacklistRepo
	counter   OrderBuyerCounter
	logs      RiskLogWriter
	cfg       *Config
}

// New builds a RiskEngine.
func New(blacklist BlacklistRepo, counter OrderBuyerCounter, logs RiskLogWriter, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{blacklist: blacklist, counter: counter, logs: logs, cfg: cfg}
}

// CheckInput carries the fields createOrderCheck inspects (spec §4.3 table).
type CheckInput struct {
	MerchantID  string
	IP          string
	UserID      string
	BuyerOpenID string
	Mobile      string
	CertNo      string
	CertType    domain.CertType
	DeviceFingerprint string
}

// midnightIn returns local midnight for now in loc ("since today 00:00").
func midnightIn(now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// CreateOrderCheck runs every check in spec §4.3's table, short-circuiting
// on the first hit and writing a RiskLog. Returns "" when no check fires.
func (e *Engine) CreateOrderCheck(ctx context.Context, in CheckInput, now time.Time) (string, error) {
	checks := []struct {
		entityType domain.BlacklistEntityType
		value      string
		applies    bool
	}{
		{domain.EntityIPAddress, in.IP, in.IP != ""},
		{domain.EntityUserID, in.UserID, in.UserID != ""},
		{domain.EntityUserID, in.BuyerOpenID, in.BuyerOpenID != "" && in.BuyerOpenID != in.UserID},
		{domain.EntityMobile, in.Mobile, in.Mobile != ""},
		{domain.EntityIDCard, in.CertNo, in.CertNo != "" && in.CertType == domain.CertIdentityCard},
		{domain.EntityDeviceFingerprint, in.DeviceFingerprint, in.DeviceFingerprint != ""},
	}

	for _, c := range checks {
		if !c.applies {
			continue
		}
		hash := EntityHash(c.entityType, c.value)
		entry, err := e.blacklist.Find(ctx, hash, now)
		if err != nil {
			return "", err
		}
		if entry != nil {
			msg := fmt.Sprintf("%s blacklisted: %s", c.entityType, entry.Reason)
			e.logRisk(ctx, in.MerchantID, domain.RiskLogBlacklist, msg, now)
			return msg, nil
		}
	}

	since := midnightIn(now, e.cfg.Location)

	if in.IP != "" && e.cfg.IPOrderLimit > 0 {
		n, err := e.counter.CountSince(ctx, "ip", in.IP, since)
		if err != nil {
			return "", err
		}
		if n >= e.cfg.IPOrderLimit {
			msg := "今日支付次数已达上限"
			e.logRisk(ctx, in.MerchantID, domain.RiskLogOrderSuccessRate, msg, now)
			return msg, nil
		}
	}

	acct := in.UserID
	if acct == "" {
		acct = in.BuyerOpenID
	}
	if acct != "" && e.cfg.AccountOrderLimit > 0 {
		n, err := e.counter.CountSince(ctx, "user_id", acct, since)
		if err != nil {
			return "", err
		}
		if n >= e.cfg.AccountOrderLimit {
			msg := "今日支付次数已达上限"
			e.logRisk(ctx, in.MerchantID, domain.RiskLogOrderSuccessRate, msg, now)
			return msg, nil
		}
	}

	return "", nil
}

func (e *Engine) logRisk(ctx context.Context, merchantID string, t domain.RiskLogType, content string, now time.Time) {
	if e.logs == nil {
		return
	}
	_ = e.logs.Write(ctx, &domain.RiskLog{
		MerchantID: merchantID,
		Type:       t,
		Content:    content,
		CreatedAt:  now,
	})
}

// BehaviorSummary is the buyer behavior summary used for risk display
// (spec §4.3).
type BehaviorSummary struct {
	TotalOrders int
	PaidOrders  int
	SuccessRate float64
	Blacklisted bool
}

// Summarize builds the buyer behavior summary for the given identifiers.
func (e *Engine) Summarize(ctx context.Context, ip, userID, buyerOpenID, mobile string, now time.Time) (*BehaviorSummary, error) {
	total, paid, err := e.counter.Summary(ctx, ip, userID, buyerOpenID, mobile)
	if err != nil {
		return nil, err
	}
	s := &BehaviorSummary{TotalOrders: total, PaidOrders: paid}
	if total > 0 {
		s.SuccessRate = float64(paid) / float64(total)
	}
	for _, pair := range []struct {
		t domain.BlacklistEntityType
		v string
	}{
		{domain.EntityIPAddress, ip},
		{domain.EntityUserID, userID},
		{domain.EntityUserID, buyerOpenID},
		{domain.EntityMobile, mobile},
	} {
		if pair.v == "" {
			continue
		}
		entry, err := e.blacklist.Find(ctx, EntityHash(pair.t, pair.v), now)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			s.Blacklisted = true
			break
		}
	}
	return s, nil
}
