package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
)

// Snapshot copies the full store state under the read lock.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.Snapshot {
	snap := models.Snapshot{
		Quests:       make([]models.Quest, 0, len(s.quests)),
		Markers:      make([]models.Marker, 0, len(s.markers)),
		Categories:   make([]models.Category, 0, len(s.categories)),
		Users:        make([]models.User, 0, len(s.users)),
		Transactions: make([]models.Transaction, 0, len(s.transactions)),
		Reports:      make([]models.Report, 0, len(s.reports)),
		Votes:        make([]models.VoteRecord, 0, len(s.votes)),
		LastUpdated:  s.lastUpdated,
	}
	for _, q := range s.quests {
		snap.Quests = append(snap.Quests, q)
	}
	for _, m := range s.markers {
		snap.Markers = append(snap.Markers, m)
	}
	for _, c := range s.categories {
		snap.Categories = append(snap.Categories, c)
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, u)
	}
	for _, t := range s.transactions {
		snap.Transactions = append(snap.Transactions, t)
	}
	for _, r := range s.reports {
		snap.Reports = append(snap.Reports, r)
	}
	for _, v := range s.votes {
		snap.Votes = append(snap.Votes, v)
	}
	return snap
}

// Save serializes the snapshot document and writes it atomically
// (temp file + rename). The archiver, when set, receives the same bytes;
// archive failures are logged and never fail the save.
//
// The dirty flag is cleared only when no write landed after the snapshot was
// captured. A write that slips in mid-save keeps the store dirty, so the
// next tick saves it.
func (s *Store) Save() error {
	s.mu.RLock()
	snap := s.snapshotLocked()
	seq := s.seq
	s.mu.RUnlock()

	doc, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal snapshot: %v", domain.ErrStorageFailure, err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if err := os.WriteFile(tmp, doc, 0o644); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveSnapshot(doc, snap.LastUpdated); err != nil {
			s.log.Warnw("snapshot archive failed", "error", err)
		}
	}

	s.markCleanAt(seq)
	s.log.Debugw("snapshot saved", "path", s.path, "bytes", len(doc))
	return nil
}

// markCleanAt clears the dirty flag unless a write landed after sequence
// number seq.
func (s *Store) markCleanAt(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq {
		s.dirty = false
	}
}

// Load replaces store state with the snapshot on disk. Callers treat every
// error as recoverable: the store keeps whatever state it had (empty on
// startup).
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no snapshot at %s", domain.ErrStorageFailure, s.path)
		}
		return fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: corrupt snapshot: %v", domain.ErrStorageFailure, err)
	}
	s.Restore(snap)
	s.log.Infow("snapshot loaded",
		"quests", len(snap.Quests), "markers", len(snap.Markers),
		"users", len(snap.Users), "transactions", len(snap.Transactions))
	return nil
}

// Restore replaces all collections with the snapshot contents.
func (s *Store) Restore(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quests = make(map[string]models.Quest, len(snap.Quests))
	for _, q := range snap.Quests {
		s.quests[q.ID] = q
	}
	s.markers = make(map[string]models.Marker, len(snap.Markers))
	for _, m := range snap.Markers {
		s.markers[m.ID] = m
	}
	s.categories = make(map[string]models.Category, len(snap.Categories))
	for _, c := range snap.Categories {
		s.categories[c.ID] = c
	}
	s.users = make(map[string]models.User, len(snap.Users))
	for _, u := range snap.Users {
		s.users[u.ID] = u
	}
	s.transactions = make(map[string]models.Transaction, len(snap.Transactions))
	for _, t := range snap.Transactions {
		s.transactions[t.ID] = t
	}
	s.reports = make(map[string]models.Report, len(snap.Reports))
	for _, r := range snap.Reports {
		s.reports[r.ID] = r
	}
	s.votes = make(map[string]models.VoteRecord, len(snap.Votes))
	for _, v := range snap.Votes {
		s.votes[v.Key()] = v
	}
	s.lastUpdated = snap.LastUpdated
	s.dirty = false
}

// ExportDocument is the admin full-data export.
type ExportDocument struct {
	ExportedAt   time.Time            `json:"exportedAt"`
	ExportedBy   string               `json:"exportedBy"`
	Users        []models.User        `json:"users"`
	Quests       []models.Quest       `json:"quests"`
	Markers      []models.Marker      `json:"markers"`
	Transactions []models.Transaction `json:"transactions"`
}

// Export builds the admin export document.
func (s *Store) Export(exportedBy string) ExportDocument {
	snap := s.Snapshot()
	return ExportDocument{
		ExportedAt:   time.Now().UTC(),
		ExportedBy:   exportedBy,
		Users:        snap.Users,
		Quests:       snap.Quests,
		Markers:      snap.Markers,
		Transactions: snap.Transactions,
	}
}
