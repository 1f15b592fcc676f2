package engine

import (
	"math"
	"time"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/realtime"
)

const voteReputationReward = 2

// CastVote records one community vote on a marker. The (userId, markerId)
// pair is the authoritative server-side idempotency key; any client-side
// dedup cache is a UX hint only. On success the tally counter increments
// atomically and credibility is recomputed from the persisted tally.
func (e *Engine) CastVote(userID, markerID, voteType string) (models.Marker, error) {
	if userID == "" {
		return models.Marker{}, domain.ErrUnauthenticated
	}
	switch voteType {
	case models.VoteConfirmed, models.VoteFake, models.VoteUnsure:
	default:
		return models.Marker{}, domain.ErrInvalidEntity
	}
	// Key claim, tally increment, and broadcast enqueue share one critical
	// section: the duplicate check cannot race, a deleted marker leaves no
	// vote record, and markerUpdated events go out in commit order.
	vote := models.VoteRecord{
		UserID:    userID,
		MarkerID:  markerID,
		VoteType:  voteType,
		CreatedAt: time.Now().UTC(),
	}
	marker, err := e.store.RecordVoteAndUpdateMarker(vote, func(m *models.Marker) error {
		switch voteType {
		case models.VoteConfirmed:
			m.Verification.Community.Confirmed++
		case models.VoteFake:
			m.Verification.Community.Fake++
		case models.VoteUnsure:
			m.Verification.Community.Unsure++
		}
		m.Verification.Credibility = Credibility(m.Verification.Community, m.Verification.Credibility)
		m.UpdatedAt = time.Now().UTC()
		return nil
	}, func(m models.Marker) {
		e.hub.Broadcast(realtime.EventMarkerUpdated, m)
	})
	if err != nil {
		return models.Marker{}, err
	}

	if _, err := e.AdjustReputation(userID, voteReputationReward); err != nil {
		// The vote already committed; a missing voter record only costs the
		// reward.
		e.log.Warnw("voter reputation adjust failed", "user", userID, "error", err)
	}

	e.log.Infow("vote cast", "user", userID, "marker", markerID, "type", voteType,
		"credibility", marker.Verification.Credibility)
	return marker, nil
}

// Credibility computes the trust score from a community tally. It is a pure
// function of the tally, so re-running it after a crash always reproduces
// the stored score. With no votes the current score is kept.
func Credibility(tally models.CommunityTally, current int) int {
	total := tally.Total()
	if total == 0 {
		return current
	}
	ratio := float64(tally.Confirmed) / float64(total)

	var score float64
	switch {
	case ratio > 0.7:
		score = 80 + ratio*20
	case ratio > 0.4:
		score = 40 + ratio*40
	default:
		score = 20 + ratio*20
	}

	rounded := int(math.Round(score))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
