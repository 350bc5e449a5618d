// Package domain defines the plain data-transfer types for every entity
// in §3 of the gateway's data model. These are deliberately not
// active-record models: no attribute mutators, no lazy relationship
// loading — repositories return and accept these structs directly, and
// any derived/view-only field (status text, avatar URL, ...) belongs in
// an API-layer mapper, never here.
package domain

import (
	"time"

	"github.com/plm/aggpay/money"
)

// PaymentType is the exact wire string for a payment method (spec §6).
type PaymentType string

const (
	PaymentTypeNone      PaymentType = "None"
	PaymentTypeAlipay    PaymentType = "Alipay"
	PaymentTypeWechatPay PaymentType = "WechatPay"
	PaymentTypeBank      PaymentType = "Bank"
	PaymentTypeUnionPay  PaymentType = "UnionPay"
	PaymentTypeQQWallet  PaymentType = "QQWallet"
	PaymentTypeJDPay     PaymentType = "JDPay"
	PaymentTypePayPal    PaymentType = "PayPal"
)

// SettleCycle is the integer enumeration from spec §6.
type SettleCycle int

const (
	SettleInstant SettleCycle = 0
	SettleD0      SettleCycle = 1
	SettleD1      SettleCycle = 2
	SettleD2      SettleCycle = 3
	SettleT0      SettleCycle = 4
	SettleT1      SettleCycle = 5
	SettleT2      SettleCycle = 6
	SettleD3      SettleCycle = 7
	SettleD7      SettleCycle = 8
	SettleD14     SettleCycle = 9
	SettleD30     SettleCycle = 10
	SettleT3      SettleCycle = 11
	SettleT7      SettleCycle = 12
	SettleT14     SettleCycle = 13
	SettleT30     SettleCycle = 14
	SettleTest    SettleCycle = 15
)

// EncryptionMode selects which sign types a merchant's requests may use.
type EncryptionMode string

const (
	EncModeOpen     EncryptionMode = "open"
	EncModeOnlyXXH  EncryptionMode = "only_xxh"
	EncModeOnlySHA3 EncryptionMode = "only_sha3"
	EncModeOnlySM3  EncryptionMode = "only_sm3"
	EncModeOnlyRSA2 EncryptionMode = "only_rsa2"
)

// SignType is one of the four supported signature algorithms.
type SignType string

const (
	SignXXH  SignType = "xxh"
	SignSHA3 SignType = "sha3"
	SignSM3  SignType = "sm3"
	SignRSA2 SignType = "rsa2"
)

// TradeState is the order lifecycle state (spec §4.6).
type TradeState string

const (
	TradeWaitPay TradeState = "WAIT_PAY"
	TradeSuccess TradeState = "SUCCESS"
	TradeRefund  TradeState = "REFUND"
	TradeFrozen  TradeState = "FROZEN"
	TradeClosed  TradeState = "CLOSED"
	TradeFinish  TradeState = "FINISHED"
)

// SettleState is the settlement sub-state machine.
type SettleState string

const (
	SettlePending    SettleState = "PENDING"
	SettleProcessing SettleState = "PROCESSING"
	SettleCompleted  SettleState = "COMPLETED"
	SettleFailed     SettleState = "FAILED"
)

// NotifyState is the notification delivery sub-state machine.
type NotifyState string

const (
	NotifyWaiting NotifyState = "WAITING"
	NotifySuccess NotifyState = "SUCCESS"
	NotifyFailed  NotifyState = "FAILED"
)

// CertType enumerates the six ID document kinds OrderBuyer may carry.
type CertType string

const (
	CertIdentityCard     CertType = "IDENTITY_CARD"
	CertPassport         CertType = "PASSPORT"
	CertOfficerCard      CertType = "OFFICER_CARD"
	CertSoldierCard      CertType = "SOLDIER_CARD"
	CertHouseholdRegister CertType = "HOUSEHOLD_REGISTER"
	CertOther            CertType = "OTHER"
)

// RefundInitiateType is who started a refund.
type RefundInitiateType string

const (
	RefundInitiateAdmin    RefundInitiateType = "admin"
	RefundInitiateAPI      RefundInitiateType = "api"
	RefundInitiateMerchant RefundInitiateType = "merchant"
	RefundInitiateSystem   RefundInitiateType = "system"
)

// RefundStatus is the OrderRefund status machine.
type RefundStatus string

const (
	RefundPending    RefundStatus = "PENDING"
	RefundProcessing RefundStatus = "PROCESSING"
	RefundCompleted  RefundStatus = "COMPLETED"
	RefundFailed     RefundStatus = "FAILED"
	RefundRejected   RefundStatus = "REJECTED"
	RefundCanceled   RefundStatus = "CANCELED"
)

// WithdrawalStatus is the MerchantWithdrawalRecord status machine.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
	WithdrawalCanceled   WithdrawalStatus = "CANCELED"
)

// BlacklistEntityType enumerates the blacklistable entity kinds.
type BlacklistEntityType string

const (
	EntityUserID             BlacklistEntityType = "USER_ID"
	EntityBankCard           BlacklistEntityType = "BANK_CARD"
	EntityIDCard             BlacklistEntityType = "ID_CARD"
	EntityMobile             BlacklistEntityType = "MOBILE"
	EntityIPAddress          BlacklistEntityType = "IP_ADDRESS"
	EntityDeviceFingerprint  BlacklistEntityType = "DEVICE_FINGERPRINT"
)

// BlacklistOrigin enumerates how a blacklist entry was created.
type BlacklistOrigin string

const (
	OriginManualReview   BlacklistOrigin = "MANUAL_REVIEW"
	OriginAutoDetection  BlacklistOrigin = "AUTO_DETECTION"
	OriginThirdParty     BlacklistOrigin = "THIRD_PARTY"
	OriginSystemAlert    BlacklistOrigin = "SYSTEM_ALERT"
	OriginMerchantReport BlacklistOrigin = "MERCHANT_REPORT"
)

// RiskLogType enumerates RiskLog.type values.
type RiskLogType int

const (
	RiskLogBlacklist        RiskLogType = 0
	RiskLogSubjectKeyword   RiskLogType = 1
	RiskLogOrderSuccessRate RiskLogType = 2
)

// WalletChangeType labels a wallet ledger movement for the remark/audit trail.
type WalletChangeType string

const (
	WalletChangeOrderSettle   WalletChangeType = "ORDER_SETTLE"
	WalletChangeOrderRefund   WalletChangeType = "ORDER_REFUND"
	WalletChangeRefundFee     WalletChangeType = "REFUND_FEE_RESTITUTION"
	WalletChangeWithdrawal    WalletChangeType = "WITHDRAWAL"
	WalletChangeWithdrawalRev WalletChangeType = "WITHDRAWAL_REVERSAL"
	WalletChangeClearAccount  WalletChangeType = "CLEAR_ACCOUNT"
)

// ChannelAccountRef is one sub-account entry in a merchant's whitelist.
type ChannelAccountRef struct {
	AccountID string       `json:"account_id"`
	Rate      *money.Money `json:"rate,omitempty"`
}

// ChannelWhitelistEntry is one channel entry in Merchant.channel_whitelist.
type ChannelWhitelistEntry struct {
	ChannelID      string              `json:"channel_id"`
	Rate           *money.Money        `json:"rate,omitempty"`
	UseAllAccounts bool                `json:"use_all_accounts"`
	Accounts       []ChannelAccountRef `json:"accounts,omitempty"`
}

// Merchant is a tenant of the platform.
type Merchant struct {
	ID             string
	MerchantNumber string
	Email          string
	Mobile         string
	Status         bool
	RiskStatus     bool
	BuyerPayFee    bool
	Competence     []string
	ChannelWhitelist []ChannelWhitelistEntry
	PasswordSalt   string
	PasswordHash   string
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// GetRate implements the 4-level rate priority lookup (spec §4.6):
// merchant override for (channel, account) beats everything else.
func (m *Merchant) GetRate(channelID, accountID string) (money.Money, bool) {
	for _, c := range m.ChannelWhitelist {
		if c.ChannelID != channelID {
			continue
		}
		for _, a := range c.Accounts {
			if a.AccountID == accountID && a.Rate != nil {
				return *a.Rate, true
			}
		}
		if c.Rate != nil {
			return *c.Rate, true
		}
	}
	return money.Zero(money.ScaleRate), false
}

// HasWhitelist reports whether the merchant has configured a channel
// whitelist at all (spec §4.5 step 4).
func (m *Merchant) HasWhitelist() bool { return len(m.ChannelWhitelist) > 0 }

// WhitelistsChannel reports whether channelID is permitted, and whether
// the merchant restricts to specific accounts under it.
func (m *Merchant) WhitelistsChannel(channelID string) (allowed bool, useAllAccounts bool, accounts map[string]bool) {
	for _, c := range m.ChannelWhitelist {
		if c.ChannelID != channelID {
			continue
		}
		accounts = make(map[string]bool, len(c.Accounts))
		for _, a := range c.Accounts {
			accounts[a.AccountID] = true
		}
		return true, c.UseAllAccounts, accounts
	}
	return false, false, nil
}

// MerchantWallet is the one-per-merchant balance row.
type MerchantWallet struct {
	MerchantID        string
	AvailableBalance  money.Money
	UnavailableBalance money.Money
	Prepaid           money.Money
	Margin            money.Money
}

// MerchantWalletRecord is an append-only available/unavailable change log row.
type MerchantWalletRecord struct {
	ID                 int64
	MerchantID         string
	Type               WalletChangeType
	OldAvailable       money.Money
	DeltaAvailable     money.Money
	NewAvailable       money.Money
	OldUnavailable     money.Money
	DeltaUnavailable   money.Money
	NewUnavailable     money.Money
	TradeNo            string
	Remark             string
	CreatedAt          time.Time
}

// MerchantWalletPrepaidRecord is the append-only prepaid change log row.
type MerchantWalletPrepaidRecord struct {
	ID         int64
	MerchantID string
	OldPrepaid money.Money
	Delta      money.Money
	NewPrepaid money.Money
	Remark     string
	CreatedAt  time.Time
}

// MerchantEncryption is the one-per-merchant signing configuration.
type MerchantEncryption struct {
	MerchantID   string
	Mode         EncryptionMode
	HashKey      []byte // 32 bytes
	AESKey       []byte // 32 bytes, optional
	RSAPublicKey string // base64, no PEM header
}

// Order is the central order row, pk = TradeNo.
type Order struct {
	TradeNo               string
	OutTradeNo            string
	MerchantID            string
	PaymentType           PaymentType
	PaymentChannelAccountID string
	Subject               string
	TotalAmount           money.Money
	BuyerPayAmount        money.Money
	ReceiptAmount         money.Money
	FeeAmount             money.Money
	ProfitAmount          money.Money
	NotifyURL             string
	ReturnURL             string
	Attach                string
	SettleCycle           SettleCycle
	SignType              SignType
	TradeState            TradeState
	SettleState           SettleState
	NotifyState           NotifyState
	NotifyRetryCount      int
	NotifyNextRetryTime   *time.Time
	CreateTime            time.Time
	PaymentTime           *time.Time
	CloseTime             *time.Time
	APITradeNo            string
	BillTradeNo           string
	MchTradeNo            string
}

// OrderBuyer is the one-per-order buyer sidecar row.
type OrderBuyer struct {
	TradeNo     string
	IP          string
	UserAgent   string
	UserID      string
	BuyerOpenID string
	Mobile      string
	RealName    string
	CertNo      string
	CertType    CertType
	MinAge      int
}

// OrderRefund is one refund against an order.
type OrderRefund struct {
	ID              string
	TradeNo         string
	MerchantID      string
	InitiateType    RefundInitiateType
	RefundType      bool // true = auto, false = manual
	Amount          money.Money
	RefundFeeAmount money.Money
	FeeBearer       bool
	OutBizNo        string
	APIRefundNo     string
	Reason          string
	Status          RefundStatus
	CreatedAt       time.Time
}

// OrderNotification is one delivery attempt log row.
type OrderNotification struct {
	ID              string
	TradeNo         string
	Status          bool
	RequestDuration int
	ResponseBody    string
	CreatedAt       time.Time
}

// PaymentChannel is a configured upstream provider.
type PaymentChannel struct {
	ID              string
	Code            string
	Name            string
	PaymentType     PaymentType
	Gateway         string
	Costs           money.Money // rate fraction, ScaleRate
	Rate            money.Money // rate fraction, ScaleRate
	FixedCosts      money.Money
	FixedFee        money.Money
	MinFee          money.Money
	MaxFee          *money.Money
	MinAmount       *money.Money
	MaxAmount       *money.Money
	DailyLimit      *money.Money
	EarliestTime    string // "HH:MM" or ""
	LatestTime      string
	RollMode        int // 0 sequential, 1 random, 2 weighted, 3 first
	SettleCycle     SettleCycle
	Status          bool
	DiyOrderSubject string
}

// PaymentChannelAccount is one sub-account under a channel.
type PaymentChannelAccount struct {
	ID              string
	ChannelID       string
	Name            string
	InheritConfig   bool
	RollWeight      int
	Rate            money.Money
	MinAmount       *money.Money
	MaxAmount       *money.Money
	DailyLimit      *money.Money
	EarliestTime    string
	LatestTime      string
	Config          map[string]string
	Status          bool
	Maintenance     bool
	DiyOrderSubject string
}

// Blacklist is one blocked entity.
type Blacklist struct {
	EntityType  BlacklistEntityType
	EntityValue string
	EntityHash  string
	Reason      string
	Origin      BlacklistOrigin
	ExpiredAt   *time.Time
}

// RiskLog is an append-only risk event row.
type RiskLog struct {
	ID         int64
	MerchantID string
	Type       RiskLogType
	Content    string
	CreatedAt  time.Time
}

// MerchantWithdrawalRecord is one withdrawal/settle-account row.
type MerchantWithdrawalRecord struct {
	ID              string
	MerchantID      string
	PayeeInfo       map[string]string
	Amount          money.Money
	PrepaidDeducted money.Money
	ReceivedAmount  money.Money
	Fee             money.Money
	FeeType         bool // true = fee borne by merchant (deducted from amount separately)
	Status          WithdrawalStatus
	RejectReason    string
	CreatedAt       time.Time
}
