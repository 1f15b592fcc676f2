package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
	"github.com/questmap/backend/internal/realtime"
)

// QuestInput carries the user-supplied quest fields.
type QuestInput struct {
	Title       string
	Description string
	Category    string
}

// AddQuest creates an open quest owned by the caller and broadcasts it.
func (e *Engine) AddQuest(userID string, in QuestInput) (models.Quest, error) {
	if userID == "" {
		return models.Quest{}, domain.ErrUnauthenticated
	}
	owner, err := e.store.GetUser(userID)
	if err != nil {
		return models.Quest{}, err
	}

	now := time.Now().UTC()
	q := models.Quest{
		SchemaVersion: models.SchemaVersion,
		ID:            uuid.NewString(),
		UserID:        owner.ID,
		UserEmail:     owner.Email,
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Status:        models.QuestOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.PutQuestThen(q, func(q models.Quest) {
		e.hub.Broadcast(realtime.EventQuestAdded, q)
	}); err != nil {
		return models.Quest{}, err
	}
	if _, err := e.store.UpdateUser(userID, func(u *models.User) error {
		u.Stats.QuestsPosted++
		u.UpdatedAt = now
		return nil
	}); err != nil {
		e.log.Warnw("owner stats update failed", "user", userID, "error", err)
	}

	e.log.Infow("quest added", "id", q.ID, "user", userID)
	return q, nil
}

// UpdateQuestStatus moves a quest through its lifecycle. Only the owner or
// an admin may change it.
func (e *Engine) UpdateQuestStatus(questID, userID, status string) (models.Quest, error) {
	switch status {
	case models.QuestOpen, models.QuestTaken, models.QuestCompleted, models.QuestCancelled:
	default:
		return models.Quest{}, fmt.Errorf("%w: quest status %q", domain.ErrInvalidEntity, status)
	}
	if err := e.requireOwnerOrAdmin(userID, questOwner(e, questID)); err != nil {
		return models.Quest{}, err
	}

	q, err := e.store.UpdateQuestThen(questID, func(q *models.Quest) error {
		q.Status = status
		q.UpdatedAt = time.Now().UTC()
		return nil
	}, func(q models.Quest) {
		e.hub.Broadcast(realtime.EventQuestUpdated, q)
	})
	if err != nil {
		return models.Quest{}, err
	}
	return q, nil
}

// DeleteQuest removes a quest. Owner or admin only.
func (e *Engine) DeleteQuest(questID, userID string) error {
	if err := e.requireOwnerOrAdmin(userID, questOwner(e, questID)); err != nil {
		return err
	}
	if err := e.store.DeleteQuestThen(questID, func() {
		e.hub.Broadcast(realtime.EventQuestDeleted, map[string]any{"id": questID})
	}); err != nil {
		return err
	}
	e.log.Infow("quest deleted", "id", questID, "by", userID)
	return nil
}

// MarkerInput carries the user-supplied marker fields.
type MarkerInput struct {
	Title       string
	Description string
	Category    string
	Latitude    float64
	Longitude   float64
	Media       []string
}

// AddMarker creates a marker with a fresh trust block (no votes, default
// credibility, not admin-verified) and broadcasts it.
func (e *Engine) AddMarker(userID string, in MarkerInput) (models.Marker, error) {
	if userID == "" {
		return models.Marker{}, domain.ErrUnauthenticated
	}
	owner, err := e.store.GetUser(userID)
	if err != nil {
		return models.Marker{}, err
	}

	now := time.Now().UTC()
	m := models.Marker{
		SchemaVersion: models.SchemaVersion,
		ID:            uuid.NewString(),
		UserID:        owner.ID,
		UserEmail:     owner.Email,
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Media:         in.Media,
		Verification: models.Verification{
			Credibility: models.DefaultCredibility,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.PutMarkerThen(m, func(m models.Marker) {
		e.hub.Broadcast(realtime.EventMarkerAdded, m)
	}); err != nil {
		return models.Marker{}, err
	}
	if _, err := e.store.UpdateUser(userID, func(u *models.User) error {
		u.Stats.MarkersPosted++
		u.UpdatedAt = now
		return nil
	}); err != nil {
		e.log.Warnw("owner stats update failed", "user", userID, "error", err)
	}

	e.log.Infow("marker added", "id", m.ID, "user", userID)
	return m, nil
}

// DeleteMarker removes a marker. Owner or admin only.
func (e *Engine) DeleteMarker(markerID, userID string) error {
	if err := e.requireOwnerOrAdmin(userID, markerOwner(e, markerID)); err != nil {
		return err
	}
	if err := e.store.DeleteMarkerThen(markerID, func() {
		e.hub.Broadcast(realtime.EventMarkerDeleted, map[string]any{"id": markerID})
	}); err != nil {
		return err
	}
	e.log.Infow("marker deleted", "id", markerID, "by", userID)
	return nil
}

// ReportMarker files a report against a marker and bumps its report counter.
// Admins see reports in their initial data and via a notification.
func (e *Engine) ReportMarker(markerID, userID, reason string) (models.Report, error) {
	if userID == "" {
		return models.Report{}, domain.ErrUnauthenticated
	}
	if _, err := e.store.GetMarker(markerID); err != nil {
		return models.Report{}, err
	}

	r := models.Report{
		SchemaVersion: models.SchemaVersion,
		ID:            uuid.NewString(),
		MarkerID:      markerID,
		UserID:        userID,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.PutReport(r); err != nil {
		return models.Report{}, err
	}
	if _, err := e.store.UpdateMarkerThen(markerID, func(m *models.Marker) error {
		m.Reports++
		m.UpdatedAt = time.Now().UTC()
		return nil
	}, func(m models.Marker) {
		e.hub.Broadcast(realtime.EventMarkerUpdated, m)
	}); err != nil {
		return models.Report{}, err
	}

	e.log.Infow("marker reported", "marker", markerID, "user", userID)
	e.hub.BroadcastAdmins(realtime.EventAdminNotification, map[string]any{
		"type":      "marker_reported",
		"markerId":  markerID,
		"userId":    userID,
		"reason":    reason,
		"priority":  "normal",
		"timestamp": r.CreatedAt,
	})
	return r, nil
}

// VerifyMarker sets the admin-verified flag on a marker. Admin only.
func (e *Engine) VerifyMarker(markerID, adminID string, verified bool) (models.Marker, error) {
	admin, err := e.store.GetUser(adminID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Marker{}, domain.ErrForbidden
		}
		return models.Marker{}, err
	}
	if !admin.IsAdmin() {
		return models.Marker{}, domain.ErrForbidden
	}

	m, err := e.store.UpdateMarkerThen(markerID, func(m *models.Marker) error {
		m.Verification.AdminVerified = verified
		m.UpdatedAt = time.Now().UTC()
		return nil
	}, func(m models.Marker) {
		e.hub.Broadcast(realtime.EventMarkerUpdated, m)
	})
	if err != nil {
		return models.Marker{}, err
	}
	e.log.Infow("marker verification set", "id", markerID, "verified", verified, "admin", adminID)
	return m, nil
}

type ownerLookup func() (string, error)

func questOwner(e *Engine, id string) ownerLookup {
	return func() (string, error) {
		q, err := e.store.GetQuest(id)
		if err != nil {
			return "", err
		}
		return q.UserID, nil
	}
}

func markerOwner(e *Engine, id string) ownerLookup {
	return func() (string, error) {
		m, err := e.store.GetMarker(id)
		if err != nil {
			return "", err
		}
		return m.UserID, nil
	}
}

func (e *Engine) requireOwnerOrAdmin(userID string, owner ownerLookup) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	ownerID, err := owner()
	if err != nil {
		return err
	}
	if ownerID == userID {
		return nil
	}
	u, err := e.store.GetUser(userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrForbidden
		}
		return err
	}
	if !u.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}
