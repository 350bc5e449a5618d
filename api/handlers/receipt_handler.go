package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/plm/aggpay/domain"
	"github.com/plm/aggpay/gwerr"
	"github.com/plm/aggpay/receipts"
)

// WithdrawalRecordStore reads a withdrawal record outside a transaction.
type WithdrawalRecordStore interface {
	Get(ctx context.Context, db *sql.DB, id string) (*domain.MerchantWithdrawalRecord, error)
}

// ReceiptHandler serves the signed PDF withdrawal statement download,
// built on receipts.Generator.
type ReceiptHandler struct {
	db          *sql.DB
	withdrawals WithdrawalRecordStore
	generator   *receipts.Generator
}

// NewReceiptHandler builds a ReceiptHandler.
func NewReceiptHandler(db *sql.DB, withdrawals WithdrawalRecordStore, generator *receipts.Generator) *ReceiptHandler {
	return &ReceiptHandler{db: db, withdrawals: withdrawals, generator: generator}
}

// HandleDownloadReceipt serves GET /receipts/withdrawals?id=... as an
// application/pdf attachment.
func (h *ReceiptHandler) HandleDownloadReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeEnvelope(w, gwerr.CodeInvalidRequest, "method not allowed", nil)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeErr(w, gwerr.New(gwerr.CodeInvalidRequest, "missing id"))
		return
	}

	record, err := h.withdrawals.Get(r.Context(), h.db, id)
	if err != nil {
		writeErr(w, gwerr.Internal(err))
		return
	}
	if record == nil {
		writeErr(w, gwerr.New(gwerr.CodeNotFound, "withdrawal record not found"))
		return
	}

	pdf, err := h.generator.GeneratePDF(record)
	if err != nil {
		writeErr(w, gwerr.Internal(err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="withdrawal-%s.pdf"`, record.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

