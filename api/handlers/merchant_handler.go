package handlers

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/driver"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/notify"
	"github.com/plm/aggpay/order"
	"github.com/plm/aggpay/refund"
	"github.com/plm/aggpay/signer"
	"github.com/plm/aggpay/withdrawal"
)

// MerchantRepo is the subset of merchant persistence the handlers need.
type MerchantRepo interface {
	GetByNumber(ctx context.Context, merchantNumber string) (*domain.Merchant, error)
	Encryption(ctx context.Context, merchantID string) (*domain.MerchantEncryption, error)
}

// AccountDriverResolver resolves the upstream driver and wire config for
// a payment_channel_account inside the caller's transaction. The submit
// path opens a short transaction that it never commits, and the driver's
// Submit call runs while that transaction is still open.
type AccountDriverResolver interface {
	AccountConfig(ctx context.Context, tx *sql.Tx, accountID string) (map[string]string, error)
	Driver(ctx context.Context, tx *sql.Tx, accountID string) (driver.PaymentDriver, error)
}

// MerchantHandler serves the signed merchant-facing API surface
// (spec §4.10): order creation/query, refund, and withdrawal requests.
type MerchantHandler struct {
	db          *sql.DB
	merchants   MerchantRepo
	accounts    AccountDriverResolver
	orders      *order.Engine
	refunds     *refund.Engine
	withdrawals *withdrawal.Engine
	dispatcher  *notify.Dispatcher
}

// NewMerchantHandler builds a MerchantHandler.
func NewMerchantHandler(db *sql.DB, merchants MerchantRepo, accounts AccountDriverResolver, orders *order.Engine, refunds *refund.Engine, withdrawals *withdrawal.Engine, dispatcher *notify.Dispatcher) *MerchantHandler {
	return &MerchantHandler{
		db: db, merchants: merchants, accounts: accounts,
		orders: orders, refunds: refunds, withdrawals: withdrawals,
		dispatcher: dispatcher,
	}
}

// authenticate resolves the calling merchant and verifies the signed
// payload against its configured encryption mode (spec §4.2, §6).
func (h *MerchantHandler) authenticate(ctx context.Context, params map[string]string) (*domain.Merchant, error) {
	merchantNumber, err := requireField(params, "merchant_number")
	if err != nil {
		return nil, err
	}
	signTypeStr, err := requireField(params, "sign_type")
	if err != nil {
		return nil, err
	}
	sig, err := requireField(params, "sign")
	if err != nil {
		return nil, err
	}

	merchant, err := h.merchants.GetByNumber(ctx, merchantNumber)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	if merchant == nil {
		return nil, gwerr.New(gwerr.CodeNotFound, "merchant not found")
	}
	if !merchant.Status {
		return nil, gwerr.New(gwerr.CodeUnauthorized, "merchant is disabled")
	}

	enc, err := h.merchants.Encryption(ctx, merchant.ID)
	if err != nil {
		return nil, gwerr.Internal(err)
	}

	signType := domain.SignType(signTypeStr)
	if !signer.Allowed(enc.Mode, signType) {
		return nil, gwerr.New(gwerr.CodeUnauthorized, "sign type disallowed by merchant encryption mode")
	}
	if err := signer.Verify(params, signType, sig, enc.HashKey, enc.RSAPublicKey); err != nil {
		return nil, gwerr.New(gwerr.CodeUnauthorized, "signature verification failed")
	}
	return merchant, nil
}

// submitToDriver resolves and invokes the upstream driver for a freshly
// committed order. A short read-only transaction is used purely to
// reuse the same account-config/driver-resolution queries the refund
// path already exercises under write transactions.
func (h *MerchantHandler) submitToDriver(ctx context.Context, o *domain.Order, buyer *domain.OrderBuyer, subject, returnURL, notifyURL string) (*driver.SubmitResult, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	defer tx.Rollback()

	cfg, err := h.accounts.AccountConfig(ctx, tx, o.PaymentChannelAccountID)
	if err != nil {
		return nil, gwerr.Internal(err)
	}
	d, err := h.accounts.Driver(ctx, tx, o.PaymentChannelAccountID)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeGatewayError, "no driver available for account", err)
	}

	result, err := d.Submit(ctx, o, cfg, buyer, subject, returnURL, notifyURL)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeGatewayError, "upstream submit failed", err)
	}
	if result.Type == driver.SubmitError {
		return nil, gwerr.New(gwerr.CodeGatewayError, result.Message)
	}
	return result, nil
}

// HandleCreateOrder implements the create() half of spec §4.10's control
// flow: signature/decrypt -> RiskEngine -> ChannelSelector -> OrderEngine
// -> PaymentDriver.submit -> response.
func (h *MerchantHandler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := decodePayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	merchant, err := h.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}

	outTradeNo, err := requireField(params, "out_trade_no")
	if err != nil {
		writeErr(w, err)
		return
	}
	subject, err := requireField(params, "subject")
	if err != nil {
		writeErr(w, err)
		return
	}
	totalAmountStr, err := requireField(params, "total_amount")
	if err != nil {
		writeErr(w, err)
		return
	}
	totalAmount, err := money.FromString(totalAmountStr, money.ScaleAmount)
	if err != nil || !totalAmount.IsPositive() {
		writeErr(w, gwerr.New(gwerr.CodeInvalidRequest, "total_amount must be a positive decimal"))
		return
	}

	req := order.CreateRequest{
		Merchant:    merchant,
		OutTradeNo:  outTradeNo,
		PaymentType: domain.PaymentType(params["payment_type"]),
		ChannelCode: params["channel_code"],
		Subject:     subject,
		TotalAmount: totalAmount,
		NotifyURL:   params["notify_url"],
		ReturnURL:   params["return_url"],
		Attach:      params["attach"],
		SignType:    domain.SignType(params["sign_type"]),
		Buyer: domain.OrderBuyer{
			IP:        clientIP(r),
			UserAgent: r.UserAgent(),
		},
	}

	o, _, buyer, err := h.orders.Create(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	submitCtx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	result, err := h.submitToDriver(submitCtx, o, buyer, subject, o.ReturnURL, o.NotifyURL)
	if err != nil {
		log.Printf("merchant: submit failed for %s: %v", o.TradeNo, err)
		writeErr(w, err)
		return
	}

	returnURL, err := h.dispatcher.SignedReturnURL(o)
	if err != nil {
		log.Printf("merchant: failed to compose signed return_url for %s: %v", o.TradeNo, err)
	}

	writeOK(w, map[string]any{
		"trade_no":     o.TradeNo,
		"out_trade_no": o.OutTradeNo,
		"submit_type":  result.Type,
		"url":          result.URL,
		"data":         result.Data,
		"page":         result.Page,
		"return_url":   returnURL,
	})
}

// HandleQueryOrder returns a single order's current state.
func (h *MerchantHandler) HandleQueryOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := decodePayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	merchant, err := h.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}

	tradeNo, err := requireField(params, "trade_no")
	if err != nil {
		writeErr(w, err)
		return
	}

	o, err := h.orders.Get(r.Context(), tradeNo)
	if err != nil {
		writeErr(w, err)
		return
	}
	if o.MerchantID != merchant.ID {
		writeErr(w, gwerr.New(gwerr.CodeNotFound, "order not found"))
		return
	}

	writeOK(w, o)
}

// HandleApplyRefund implements spec §4.7's merchant-initiated refund
// entry point.
func (h *MerchantHandler) HandleApplyRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := decodePayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := h.authenticate(r.Context(), params); err != nil {
		writeErr(w, err)
		return
	}

	tradeNo, err := requireField(params, "trade_no")
	if err != nil {
		writeErr(w, err)
		return
	}
	amountStr, err := requireField(params, "amount")
	if err != nil {
		writeErr(w, err)
		return
	}
	amount, err := money.FromString(amountStr, money.ScaleAmount)
	if err != nil {
		writeErr(w, gwerr.New(gwerr.CodeInvalidRequest, "amount must be a valid decimal"))
		return
	}

	result, err := h.refunds.APIRefund(r.Context(), refund.HandleRequest{
		TradeNo:      tradeNo,
		Amount:       amount,
		InitiateType: domain.RefundInitiateAPI,
		Auto:         true,
		FeeBearer:    params["fee_bearer"] == "merchant",
		OutBizNo:     params["out_biz_no"],
		Reason:       params["reason"],
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeOK(w, result)
}

// HandleApplyWithdrawal implements spec §4.8's merchant-initiated
// withdrawal request.
func (h *MerchantHandler) HandleApplyWithdrawal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := decodePayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	merchant, err := h.authenticate(r.Context(), params)
	if err != nil {
		writeErr(w, err)
		return
	}

	amountStr, err := requireField(params, "amount")
	if err != nil {
		writeErr(w, err)
		return
	}
	amount, err := money.FromString(amountStr, money.ScaleAmount)
	if err != nil || !amount.IsPositive() {
		writeErr(w, gwerr.New(gwerr.CodeInvalidRequest, "amount must be a positive decimal"))
		return
	}

	payeeInfo := map[string]string{
		"account_name":   params["payee_account_name"],
		"account_number": params["payee_account_number"],
		"bank_name":      params["payee_bank_name"],
	}

	record, err := h.withdrawals.ApplyWithdrawal(r.Context(), merchant.ID, amount, payeeInfo)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeOK(w, record)
}

// CallbackHandler receives the upstream gateway's asynchronous payment
// notification and advances the order to SUCCESS via markPaid
// (spec §4.6, §4.9's trigger). Grounded on the same control flow as
// HandleCreateOrder's driver hop, mirrored for the inbound direction.
type CallbackHandler struct {
	db      *sql.DB
	orders  *order.Engine
	notify  *notify.Dispatcher
	drivers *driver.Registry
}

// NewCallbackHandler builds a CallbackHandler.
func NewCallbackHandler(db *sql.DB, orders *order.Engine, dispatcher *notify.Dispatcher, drivers *driver.Registry) *CallbackHandler {
	return &CallbackHandler{db: db, orders: orders, notify: dispatcher, drivers: drivers}
}

// HandleUpstreamCallback verifies and applies one gateway's async
// payment callback. Gateway is taken from the URL path so each upstream
// can mount its own webhook route against the same handler.
func (h *CallbackHandler) HandleUpstreamCallback(gateway string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "fail", http.StatusBadRequest)
			return
		}
		raw := make(map[string]string, len(r.Form))
		for k := range r.Form {
			raw[k] = r.Form.Get(k)
		}

		d, ok := h.drivers.Resolve(gateway)
		if !ok {
			http.Error(w, "fail", http.StatusBadRequest)
			return
		}

		result, err := d.Verify(r.Context(), raw)
		if err != nil || !result.Valid {
			http.Error(w, "fail", http.StatusBadRequest)
			return
		}

		var paymentTime *time.Time
		if result.PaymentTime != "" {
			if t, err := time.Parse(time.RFC3339, result.PaymentTime); err == nil {
				paymentTime = &t
			}
		}

		buyerPatch := order.BuyerPatch{}
		if result.Buyer.IP != "" {
			ip := result.Buyer.IP
			buyerPatch.IP = &ip
		}
		if result.Buyer.UserID != "" {
			uid := result.Buyer.UserID
			buyerPatch.UserID = &uid
		}

		err = h.orders.MarkPaid(r.Context(), result.TradeNo, order.UpstreamFields{
			APITradeNo:  result.APITradeNo,
			BillTradeNo: result.BillTradeNo,
			MchTradeNo:  result.MchTradeNo,
			PaymentTime: paymentTime,
		}, buyerPatch, true)
		if err != nil {
			log.Printf("callback: markPaid failed for %s: %v", result.TradeNo, err)
			http.Error(w, "fail", http.StatusInternalServerError)
			return
		}

		// MarkPaid(..., async=true) above already enqueued the
		// order-notification job (spec §4.6 step -> §4.9); no second
		// dispatch here.

		w.Write([]byte("success"))
	}
}
