// Package receipts generates PDF statements for merchant withdrawals,
// with an HMAC-signed footer so a merchant can offline-verify a statement
// came from this platform.
package receipts

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/plm/aggpay/domain"
)

// getSignatureSecretKey returns the HMAC signing key from environment.
// SECURITY: this MUST be set in production via RECEIPT_SIGNATURE_KEY.
func getSignatureSecretKey() []byte {
	key := os.Getenv("RECEIPT_SIGNATURE_KEY")
	if key == "" {
		log.Println("WARNING: RECEIPT_SIGNATURE_KEY not set - using insecure default (DEV ONLY)")
		return []byte("aggpay-dev-receipt-key-NOT-FOR-PRODUCTION")
	}
	return []byte(key)
}

// Generator generates PDF withdrawal/settlement statements.
type Generator struct {
	companyName string
}

// NewGenerator creates a new receipt generator.
func NewGenerator(companyName string) *Generator {
	return &Generator{companyName: companyName}
}

func statusLabel(status domain.WithdrawalStatus) (string, [3]int) {
	switch status {
	case domain.WithdrawalCompleted:
		return "WITHDRAWAL COMPLETED", [3]int{16, 185, 129}
	case domain.WithdrawalRejected, domain.WithdrawalFailed, domain.WithdrawalCanceled:
		return "WITHDRAWAL " + string(status), [3]int{239, 68, 68}
	default:
		return "WITHDRAWAL " + string(status), [3]int{234, 179, 8}
	}
}

// GeneratePDF renders a statement for one merchant withdrawal record.
func (g *Generator) GeneratePDF(w *domain.MerchantWithdrawalRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(16, 185, 129)
	pdf.CellFormat(190, 15, g.companyName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(190, 8, "Withdrawal Statement", "", 1, "C", false, 0, "")

	pdf.Ln(10)

	label, color := statusLabel(w.Status)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(color[0], color[1], color[2])
	pdf.CellFormat(190, 10, label, "", 1, "C", false, 0, "")

	pdf.Ln(10)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(248, 250, 252)

	startY := pdf.GetY()
	pdf.Rect(10, startY, 190, 37, "F")

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+5)
	pdf.Cell(45, 8, "Withdrawal ID:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, w.ID)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+13)
	pdf.Cell(45, 8, "Date:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, w.CreatedAt.Format("January 2, 2006 at 3:04 PM"))

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(15, startY+21)
	pdf.Cell(45, 8, "Merchant ID:")
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, w.MerchantID)

	if w.RejectReason != "" {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.SetXY(15, startY+29)
		pdf.Cell(45, 8, "Reject Reason:")
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 8, w.RejectReason)
	}

	pdf.Ln(47)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(190, 10, "Amount Summary", "", 1, "L", false, 0, "")

	pdf.SetFillColor(229, 231, 235)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(120, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(70, 8, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(120, 8, "Requested Amount", "1", 0, "L", false, 0, "")
	pdf.CellFormat(70, 8, fmt.Sprintf("%s", w.Amount.String()), "1", 1, "R", false, 0, "")

	if !w.PrepaidDeducted.IsZero() {
		pdf.CellFormat(120, 8, "Prepaid Deducted", "1", 0, "L", false, 0, "")
		pdf.SetTextColor(239, 68, 68)
		pdf.CellFormat(70, 8, fmt.Sprintf("-%s", w.PrepaidDeducted.String()), "1", 1, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	if !w.Fee.IsZero() {
		pdf.CellFormat(120, 8, "Withdrawal Fee", "1", 0, "L", false, 0, "")
		pdf.SetTextColor(239, 68, 68)
		pdf.CellFormat(70, 8, fmt.Sprintf("-%s", w.Fee.String()), "1", 1, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(16, 185, 129)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(120, 10, "Amount Received", "1", 0, "L", true, 0, "")
	pdf.CellFormat(70, 10, w.ReceivedAmount.String(), "1", 1, "R", true, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetTextColor(128, 128, 128)
	pdf.CellFormat(190, 6, "This is an automated statement from the payment gateway.", "", 1, "C", false, 0, "")
	pdf.CellFormat(190, 6, fmt.Sprintf("Generated on %s", time.Now().Format("January 2, 2006 at 3:04 PM")), "", 1, "C", false, 0, "")

	pdf.Ln(8)

	signature := generateDigitalSignature(w)
	verificationCode := generateVerificationCode(w)

	pdf.SetFillColor(30, 41, 59)
	sigY := pdf.GetY()
	pdf.Rect(10, sigY, 190, 33, "F")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(16, 185, 129)
	pdf.SetXY(15, sigY+5)
	pdf.Cell(180, 6, "DIGITAL SIGNATURE - Statement Integrity")

	pdf.SetFont("Courier", "", 7)
	pdf.SetTextColor(200, 200, 200)
	pdf.SetXY(15, sigY+13)
	pdf.Cell(180, 5, fmt.Sprintf("Signature: %s", signature))

	pdf.SetXY(15, sigY+20)
	pdf.Cell(180, 5, fmt.Sprintf("Verification Code: %s", verificationCode))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// generateDigitalSignature HMAC-SHA256-signs the withdrawal's identifying
// fields so a recipient can confirm the statement wasn't altered.
func generateDigitalSignature(w *domain.MerchantWithdrawalRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		w.ID,
		w.MerchantID,
		w.Amount.String(),
		w.ReceivedAmount.String(),
		w.CreatedAt.Format(time.RFC3339),
	)

	h := hmac.New(sha256.New, getSignatureSecretKey())
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// generateVerificationCode creates a short code for quick verification.
func generateVerificationCode(w *domain.MerchantWithdrawalRecord) string {
	data := fmt.Sprintf("%s|%s", w.ID, w.CreatedAt.Format("20060102150405"))
	h := sha256.Sum256([]byte(data))
	return fmt.Sprintf("AGGPAY-%s", hex.EncodeToString(h[:])[:16])
}
