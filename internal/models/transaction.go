package models

import (
	"fmt"
	"strings"
	"time"
)

// Transaction states. pending_payment and awaiting_verification are live;
// completed and cancelled are terminal.
const (
	TxPendingPayment       = "pending_payment"
	TxAwaitingVerification = "awaiting_verification"
	TxCompleted            = "completed"
	TxCancelled            = "cancelled"
)

// Transaction is the escrow record for a quest payment. Amounts are in the
// smallest currency unit. Transactions are never deleted; terminal records
// are retained for audit and export.
type Transaction struct {
	SchemaVersion int    `json:"schemaVersion"`
	ID            string `json:"id"`
	QuestID       string `json:"questId,omitempty"`
	PayerID       string `json:"payerId"`
	PayerEmail    string `json:"payerEmail"`
	Amount        int64  `json:"amount"`
	AdminFee      int64  `json:"adminFee"`
	WorkerAmount  int64  `json:"workerAmount"`
	Description   string `json:"description"`
	PaymentCode   string `json:"paymentCode"`
	Status        string `json:"status"`

	PaymentProof string `json:"paymentProof,omitempty"`
	PaymentNotes string `json:"paymentNotes,omitempty"`
	AdminNotes   string `json:"adminNotes,omitempty"`

	CreatedAt       time.Time  `json:"createdAt"`
	ProofUploadedAt *time.Time `json:"proofUploadedAt,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy     string     `json:"cancelledBy,omitempty"`
}

func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction: missing id")
	}
	if strings.TrimSpace(t.PayerID) == "" {
		return fmt.Errorf("transaction: missing payer")
	}
	if t.Amount <= 0 {
		return fmt.Errorf("transaction: non-positive amount %d", t.Amount)
	}
	if t.AdminFee+t.WorkerAmount != t.Amount {
		return fmt.Errorf("transaction: fee split %d+%d != %d", t.AdminFee, t.WorkerAmount, t.Amount)
	}
	switch t.Status {
	case TxPendingPayment, TxAwaitingVerification, TxCompleted, TxCancelled:
	default:
		return fmt.Errorf("transaction: unknown status %q", t.Status)
	}
	return nil
}

// Terminal reports whether no further transitions exist from the current state.
func (t *Transaction) Terminal() bool {
	return t.Status == TxCompleted || t.Status == TxCancelled
}
