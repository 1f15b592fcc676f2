package engine

import (
	"time"

	"github.com/questmap/backend/internal/models"
)

const (
	minReputation = 0
	maxReputation = 100
)

func clampReputation(v int) int {
	if v < minReputation {
		return minReputation
	}
	if v > maxReputation {
		return maxReputation
	}
	return v
}

// AdjustReputation applies a bounded delta to a user's reputation score.
// The result always stays within [0, 100].
func (e *Engine) AdjustReputation(userID string, delta int) (models.User, error) {
	return e.store.UpdateUser(userID, func(u *models.User) error {
		u.Reputation = clampReputation(u.Reputation + delta)
		u.UpdatedAt = time.Now().UTC()
		return nil
	})
}