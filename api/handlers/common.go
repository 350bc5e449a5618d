// Package handlers implements the gateway's HTTP API surface: signed
// merchant endpoints, the upstream-callback receiver, and the
// XChaCha20-Poly1305-encrypted admin endpoints (spec §4.10). Handler
// style (method check first, then auth, then decode, then engine call)
// is grounded on the teacher's payment_handler.go.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/plm/aggpay/gwerr"
)

// Envelope is the uniform {code, message, data?} response shape every
// endpoint returns with HTTP 200, per spec §4.10.
type Envelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, code gwerr.Code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Envelope{Code: string(code), Message: message, Data: data})
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, "SUCCESS", "ok", data)
}

// writeErr maps any error to the taxonomy envelope. Non-taxonomy errors
// are surfaced as INTERNAL without leaking their text (spec §7).
func writeErr(w http.ResponseWriter, err error) {
	if ge, ok := err.(*gwerr.Error); ok {
		writeEnvelope(w, ge.Code, ge.Message, nil)
		return
	}
	writeEnvelope(w, gwerr.CodeInternal, "internal error", nil)
}

// decodePayload reads the "payload" form field and unmarshals it into a
// flat string-keyed map suitable for signer.Canonicalize/Verify. A raw
// JSON request body without a "payload" field is rejected.
func decodePayload(r *http.Request) (map[string]string, error) {
	raw := r.FormValue("payload")
	if raw == "" {
		return nil, gwerr.New(gwerr.CodeInvalidRequest, "missing payload")
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, gwerr.Wrap(gwerr.CodeInvalidRequest, "malformed payload", err)
	}
	return params, nil
}

func requireField(params map[string]string, key string) (string, error) {
	v := params[key]
	if v == "" {
		return "", gwerr.New(gwerr.CodeInvalidRequest, key+" is required")
	}
	return v, nil
}

// clientIP extracts the caller's address the same way the risk engine
// expects it — no X-Forwarded-For trust beyond what net/http parses,
// since this gateway sits directly behind its own TLS terminator.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := lastColon(host); i >= 0 {
		return host[:i]
	}
	return host
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
