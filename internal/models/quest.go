package models

import (
	"fmt"
	"strings"
	"time"
)

// Quest lifecycle. Status drives visibility only; payments go through the
// escrow state machine on the associated transaction.
const (
	QuestOpen      = "open"
	QuestTaken     = "taken"
	QuestCompleted = "completed"
	QuestCancelled = "cancelled"
)

// Quest is a task offer that may have an associated paid transaction.
type Quest struct {
	SchemaVersion int       `json:"schemaVersion"`
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	UserEmail     string    `json:"userEmail"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Status        string    `json:"status"`
	Applicants    int       `json:"applicants"`
	Views         int       `json:"views"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (q *Quest) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("quest: missing id")
	}
	if strings.TrimSpace(q.UserID) == "" {
		return fmt.Errorf("quest: missing owner")
	}
	if strings.TrimSpace(q.Title) == "" {
		return fmt.Errorf("quest: missing title")
	}
	switch q.Status {
	case QuestOpen, QuestTaken, QuestCompleted, QuestCancelled:
	default:
		return fmt.Errorf("quest: unknown status %q", q.Status)
	}
	return nil
}

// Category groups quests and markers for browsing.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
