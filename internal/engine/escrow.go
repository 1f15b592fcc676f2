package engine

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/realtime"
)

// Outcomes for Decide.
const (
	OutcomeApprove = "approve"
	OutcomeReject  = "reject"
)

const approveReputationReward = 10

// Alphabet without visually confusable characters (no 0/O, 1/I).
const paymentCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const paymentCodePrefix = "SB"

// CreateTransaction opens the escrow flow for a quest payment. The new
// transaction starts in pending_payment with the fee split computed up
// front: adminFee = round(amount × feeRate), workerAmount = the remainder.
func (e *Engine) CreateTransaction(questID, payerID string, amount int64, description string) (models.Transaction, error) {
	if payerID == "" {
		return models.Transaction{}, domain.ErrUnauthenticated
	}
	if amount < e.minAmount {
		return models.Transaction{}, fmt.Errorf("%w: minimum is %d", domain.ErrInvalidAmount, e.minAmount)
	}
	payer, err := e.store.GetUser(payerID)
	if err != nil {
		return models.Transaction{}, err
	}
	if questID != "" {
		if _, err := e.store.GetQuest(questID); err != nil {
			return models.Transaction{}, err
		}
		if active, ok := e.store.ActiveTransactionForQuest(questID); ok {
			return models.Transaction{}, fmt.Errorf("%w: quest already has active transaction %s",
				domain.ErrInvalidState, active.ID)
		}
	}

	adminFee := int64(math.Round(float64(amount) * e.feeRate))
	code, err := e.newPaymentCode()
	if err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		SchemaVersion: models.SchemaVersion,
		ID:            uuid.NewString(),
		QuestID:       questID,
		PayerID:       payer.ID,
		PayerEmail:    payer.Email,
		Amount:        amount,
		AdminFee:      adminFee,
		WorkerAmount:  amount - adminFee,
		Description:   description,
		PaymentCode:   code,
		Status:        models.TxPendingPayment,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.PutTransactionThen(tx, func(t models.Transaction) {
		e.hub.BroadcastAdmins(realtime.EventTransactionUpdated, t)
	}); err != nil {
		return models.Transaction{}, err
	}

	e.log.Infow("transaction created", "id", tx.ID, "payer", payerID, "amount", amount,
		"fee", adminFee, "code", code)
	return tx, nil
}

// SubmitProof attaches the payment proof reference and moves the transaction
// to awaiting_verification, then notifies admin sessions.
func (e *Engine) SubmitProof(txID, payerID, proofRef, notes string) (models.Transaction, error) {
	if payerID == "" {
		return models.Transaction{}, domain.ErrUnauthenticated
	}
	current, err := e.store.GetTransaction(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	if current.PayerID != payerID {
		return models.Transaction{}, domain.ErrForbidden
	}

	tx, err := e.transition(txID, []string{models.TxPendingPayment}, func(t *models.Transaction) error {
		now := time.Now().UTC()
		t.Status = models.TxAwaitingVerification
		t.PaymentProof = proofRef
		t.PaymentNotes = notes
		t.ProofUploadedAt = &now
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	e.log.Infow("payment proof submitted", "id", tx.ID, "payer", payerID)
	e.hub.BroadcastAdmins(realtime.EventAdminNotification, map[string]any{
		"type":          "payment_proof_uploaded",
		"transactionId": tx.ID,
		"userId":        payerID,
		"userEmail":     tx.PayerEmail,
		"message":       "New payment proof requires verification",
		"priority":      "high",
		"timestamp":     time.Now().UTC(),
	})
	return tx, nil
}

// Decide settles a transaction awaiting verification. Approve completes it
// and credits the payer's stats and reputation; reject cancels it with a
// reason and no reputation change. Settlement is irrevocable.
func (e *Engine) Decide(txID, adminID, outcome, reason string) (models.Transaction, error) {
	admin, err := e.store.GetUser(adminID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Transaction{}, domain.ErrForbidden
		}
		return models.Transaction{}, err
	}
	if !admin.IsAdmin() {
		return models.Transaction{}, domain.ErrForbidden
	}
	if outcome != OutcomeApprove && outcome != OutcomeReject {
		return models.Transaction{}, fmt.Errorf("%w: outcome %q", domain.ErrInvalidEntity, outcome)
	}

	tx, err := e.transition(txID, []string{models.TxAwaitingVerification}, func(t *models.Transaction) error {
		now := time.Now().UTC()
		if outcome == OutcomeApprove {
			t.Status = models.TxCompleted
			t.ApprovedAt = &now
			t.ApprovedBy = adminID
			t.AdminNotes = "Approved by admin"
			return nil
		}
		t.Status = models.TxCancelled
		t.CancelledAt = &now
		t.CancelledBy = adminID
		t.AdminNotes = reason
		return nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	if outcome == OutcomeApprove {
		if _, err := e.store.UpdateUser(tx.PayerID, func(u *models.User) error {
			u.Stats.CompletedTransactions++
			u.Stats.TotalSpent += tx.Amount
			u.Reputation = clampReputation(u.Reputation + approveReputationReward)
			u.UpdatedAt = time.Now().UTC()
			return nil
		}); err != nil {
			e.log.Warnw("payer stats update failed after settlement", "payer", tx.PayerID, "error", err)
		}
	}

	e.log.Infow("transaction decided", "id", tx.ID, "admin", adminID, "outcome", outcome)
	return tx, nil
}

// Cancel is the payer-initiated abort. Valid only pre-settlement; once
// Decide has run there is no cancellation path.
func (e *Engine) Cancel(txID, requesterID string) (models.Transaction, error) {
	if requesterID == "" {
		return models.Transaction{}, domain.ErrUnauthenticated
	}
	current, err := e.store.GetTransaction(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	if current.PayerID != requesterID {
		return models.Transaction{}, domain.ErrForbidden
	}

	tx, err := e.transition(txID,
		[]string{models.TxPendingPayment, models.TxAwaitingVerification},
		func(t *models.Transaction) error {
			now := time.Now().UTC()
			t.Status = models.TxCancelled
			t.CancelledAt = &now
			t.CancelledBy = requesterID
			return nil
		})
	if err != nil {
		return models.Transaction{}, err
	}

	e.log.Infow("transaction cancelled", "id", tx.ID, "by", requesterID)
	return tx, nil
}

// transition performs a compare-and-swap guarded state change: the observed
// status must still hold when the write happens, otherwise the caller lost a
// race and the attempt is retried once against the re-read state. Exactly
// one of two concurrent transitions on the same transaction can succeed.
// Every committed transition enqueues its transactionUpdated event inside the
// write's critical section, so admins see states in commit order.
func (e *Engine) transition(txID string, from []string, apply func(*models.Transaction) error) (models.Transaction, error) {
	for attempt := 0; ; attempt++ {
		observed, err := e.store.GetTransaction(txID)
		if err != nil {
			return models.Transaction{}, err
		}

		tx, err := e.store.UpdateTransactionThen(txID, func(t *models.Transaction) error {
			if t.Status != observed.Status {
				return domain.ErrConflict
			}
			if !statusIn(t.Status, from) {
				return fmt.Errorf("%w: cannot transition from %q", domain.ErrInvalidState, t.Status)
			}
			return apply(t)
		}, func(t models.Transaction) {
			e.hub.BroadcastAdmins(realtime.EventTransactionUpdated, t)
		})
		if errors.Is(err, domain.ErrConflict) && attempt == 0 {
			continue
		}
		return tx, err
	}
}

func statusIn(status string, allowed []string) bool {
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

// newPaymentCode generates the human-readable code customers put in their
// transfer note: fixed prefix plus six characters from the unambiguous
// alphabet, unique across all transactions.
func (e *Engine) newPaymentCode() (string, error) {
	for i := 0; i < 10; i++ {
		code, err := randomCode()
		if err != nil {
			return "", err
		}
		if !e.store.PaymentCodeExists(code) {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: payment code space exhausted", domain.ErrStorageFailure)
}

func randomCode() (string, error) {
	buf := make([]byte, 6)
	max := big.NewInt(int64(len(paymentCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = paymentCodeAlphabet[n.Int64()]
	}
	return paymentCodePrefix + string(buf), nil
}
