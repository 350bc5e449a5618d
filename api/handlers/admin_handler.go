package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/plm/aggpay/auth"
	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/money"
	"github.com/plm/aggpay/order"
	"github.com/plm/aggpay/refund"
	"github.com/plm/aggpay/signer"
	"github.com/plm/aggpay/storage/users"
	"github.com/plm/aggpay/withdrawal"
)

// AdminHandler serves the admin-channel endpoints spec §4.10 names:
// admin-initiated refund, settle-account, withdrawal status changes and
// order state overrides. Full admin CRUD/list endpoints (merchant,
// channel, blacklist management) are explicitly out of scope (spec §1) —
// this handler covers only the operations the admin console's own
// engines expose. Every payload is XChaCha20-Poly1305 ciphertext
// (spec §6), decoded through signer.AdminCodec before use.
type AdminHandler struct {
	codec       *signer.AdminCodec
	users       *users.Store
	tokens      *auth.TokenManager
	orders      *order.Engine
	refunds     *refund.Engine
	withdrawals *withdrawal.Engine
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(codec *signer.AdminCodec, userStore *users.Store, tokens *auth.TokenManager, orders *order.Engine, refunds *refund.Engine, withdrawals *withdrawal.Engine) *AdminHandler {
	return &AdminHandler{
		codec: codec, users: userStore, tokens: tokens,
		orders: orders, refunds: refunds, withdrawals: withdrawals,
	}
}

// decodeAdminPayload reads the "payload" form field as an XChaCha20-
// Poly1305 ciphertext and unmarshals the decrypted JSON object into a
// flat string map, mirroring decodePayload's shape for merchant requests.
func (h *AdminHandler) decodeAdminPayload(r *http.Request) (map[string]string, error) {
	raw := r.FormValue("payload")
	if raw == "" {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "missing payload")
	}
	plaintext, err := h.codec.Decrypt(raw)
	if err != nil {
		return nil, err
	}
	var params map[string]string
	if err := json.Unmarshal(plaintext, &params); err != nil {
		return nil, gwerr.Wrap(gwerr.CodeInvalidRequest, "malformed admin payload body", err)
	}
	return params, nil
}

// HandleLogin authenticates an admin user with email/password (plain
// JSON body, not XChaCha-encoded — there is no platform key to decrypt
// with until a session exists) and issues a PASETO session token. Full
// session-issuance internals (MFA, password reset) are out of scope
// (spec §1); this is the thin ambient entry point auth.TokenManager needs.
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, gwerr.New(gwerr.CodeInvalidRequest, "malformed login body"))
		return
	}

	stored, err := h.users.Authenticate(body.Email, body.Password)
	if err != nil {
		writeErr(w, gwerr.New(gwerr.CodeUnauthorized, "invalid credentials"))
		return
	}

	token, claims, err := h.tokens.GenerateToken(stored.ToUser())
	if err != nil {
		writeErr(w, gwerr.Internal(err))
		return
	}

	writeOK(w, map[string]any{
		"token":      token,
		"expires_at": claims.ExpiresAt,
		"role":       claims.Role,
	})
}

// HandleAdminRefund implements an admin-initiated refund (spec §4.7,
// initiate_type=admin).
func (h *AdminHandler) HandleAdminRefund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := h.decodeAdminPayload(r)
	if err != nil {
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

	result, err := h.refunds.Handle(r.Context(), refund.HandleRequest{
		TradeNo:      tradeNo,
		Amount:       amount,
		InitiateType: domain.RefundInitiateAdmin,
		Auto:         params["auto"] == "true",
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

// HandleSettleAccount implements spec §4.8's admin clear-account.
func (h *AdminHandler) HandleSettleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := h.decodeAdminPayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	merchantID, err := requireField(params, "merchant_id")
	if err != nil {
		writeErr(w, err)
		return
	}

	payeeInfo := map[string]string{
		"account_name":   params["payee_account_name"],
		"account_number": params["payee_account_number"],
		"bank_name":      params["payee_bank_name"],
	}

	record, err := h.withdrawals.SettleAccount(r.Context(), merchantID, payeeInfo)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, record)
}

// HandleWithdrawalStatus implements spec §4.8's changeStatus.
func (h *AdminHandler) HandleWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := h.decodeAdminPayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := requireField(params, "id")
	if err != nil {
		writeErr(w, err)
		return
	}
	status, err := requireField(params, "status")
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := h.withdrawals.ChangeStatus(r.Context(), id, domain.WithdrawalStatus(status), params["reason"]); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

// HandleOrderTransition implements spec §4.6's admin trade_state override.
func (h *AdminHandler) HandleOrderTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	params, err := h.decodeAdminPayload(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	tradeNo, err := requireField(params, "trade_no")
	if err != nil {
		writeErr(w, err)
		return
	}
	to, err := requireField(params, "trade_state")
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := h.orders.AdminTransition(r.Context(), tradeNo, domain.TradeState(to)); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}
