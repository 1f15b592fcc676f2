package models

import (
	"fmt"
	"strings"
	"time"
)

// Vote types accepted on a marker.
const (
	VoteConfirmed = "confirmed"
	VoteFake      = "fake"
	VoteUnsure    = "unsure"
)

const DefaultCredibility = 50

// CommunityTally accumulates community votes on a marker. Counters only ever
// increase; credibility is always recomputed from this tally, never stored
// independently of it.
type CommunityTally struct {
	Confirmed int `json:"confirmed"`
	Fake      int `json:"fake"`
	Unsure    int `json:"unsure"`
}

func (t CommunityTally) Total() int {
	return t.Confirmed + t.Fake + t.Unsure
}

// Verification is the trust block on a marker.
type Verification struct {
	Community     CommunityTally `json:"community"`
	AdminVerified bool           `json:"adminVerified"`
	Credibility   int            `json:"credibility"`
}

// Marker is a user-submitted geolocated report subject to community
// verification.
type Marker struct {
	SchemaVersion int          `json:"schemaVersion"`
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	UserEmail     string       `json:"userEmail"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	Latitude      float64      `json:"latitude"`
	Longitude     float64      `json:"longitude"`
	Verification  Verification `json:"verification"`
	Reports       int          `json:"reports"`
	Media         []string     `json:"media"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func (m *Marker) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("marker: missing id")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("marker: missing owner")
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("marker: missing title")
	}
	if m.Latitude < -90 || m.Latitude > 90 || m.Longitude < -180 || m.Longitude > 180 {
		return fmt.Errorf("marker: coordinates out of range")
	}
	c := m.Verification.Community
	if c.Confirmed < 0 || c.Fake < 0 || c.Unsure < 0 {
		return fmt.Errorf("marker: negative vote tally")
	}
	if m.Verification.Credibility < 0 || m.Verification.Credibility > 100 {
		return fmt.Errorf("marker: credibility %d out of range", m.Verification.Credibility)
	}
	return nil
}

// VoteRecord is the server-side idempotency key for marker votes: at most one
// per (userId, markerId), ever.
type VoteRecord struct {
	UserID    string    `json:"userId"`
	MarkerID  string    `json:"markerId"`
	VoteType  string    `json:"voteType"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key is the map key under which the record is stored.
func (v VoteRecord) Key() string {
	return v.UserID + "/" + v.MarkerID
}

func (v *VoteRecord) Validate() error {
	if v.UserID == "" || v.MarkerID == "" {
		return fmt.Errorf("vote: missing user or marker id")
	}
	switch v.VoteType {
	case VoteConfirmed, VoteFake, VoteUnsure:
	default:
		return fmt.Errorf("vote: unknown type %q", v.VoteType)
	}
	return nil
}

// Report is a user flag against a marker, reviewed by admins.
type Report struct {
	SchemaVersion int       `json:"schemaVersion"`
	ID            string    `json:"id"`
	MarkerID      string    `json:"markerId"`
	UserID        string    `json:"userId"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (r *Report) Validate() error {
	if r.ID == "" || r.MarkerID == "" || r.UserID == "" {
		return fmt.Errorf("report: missing id fields")
	}
	return nil
}
