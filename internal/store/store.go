// Package store is the single source of truth for persisted entities. All
// collections live in memory behind one RWMutex; durability comes from
// periodic JSON snapshots plus a forced snapshot on shutdown. Writes are
// atomic at single-entity granularity: an update callback runs under the
// lock, so a patch either fully applies or fails with no partial state
// visible to readers.
//
// The *Then write variants run a callback inside the critical section after
// the write commits. Callers use them to enqueue broadcasts, so events for
// the same entity are enqueued in commit order.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/questmap/backend/internal/domain"
	"github.com/questmap/backend/internal/models"
)

const DefaultSnapshotInterval = 30 * time.Second

// Archiver receives every saved snapshot document for off-box retention. The
// store treats archive failures as non-fatal.
type Archiver interface {
	ArchiveSnapshot(doc []byte, savedAt time.Time) error
}

type Store struct {
	mu           sync.RWMutex
	users        map[string]models.User
	quests       map[string]models.Quest
	markers      map[string]models.Marker
	transactions map[string]models.Transaction
	reports      map[string]models.Report
	votes        map[string]models.VoteRecord
	categories   map[string]models.Category
	lastUpdated  time.Time
	seq          uint64
	dirty        bool

	path     string
	interval time.Duration
	archiver Archiver
	log      *zap.SugaredLogger

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// Option configures a Store.
type Option func(*Store)

func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archiver = a }
}

// New creates a store backed by the snapshot file at path. An empty path
// disables persistence entirely (tests).
func New(path string, log *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{
		users:        map[string]models.User{},
		quests:       map[string]models.Quest{},
		markers:      map[string]models.Marker{},
		transactions: map[string]models.Transaction{},
		reports:      map[string]models.Report{},
		votes:        map[string]models.VoteRecord{},
		categories:   map[string]models.Category{},
		path:         path,
		interval:     DefaultSnapshotInterval,
		log:          log,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the most recent snapshot and launches the periodic saver. A
// missing or corrupt snapshot is recoverable: the store starts empty.
func (s *Store) Start() {
	if s.path != "" {
		if err := s.Load(); err != nil {
			s.log.Warnw("snapshot load failed, starting empty", "path", s.path, "error", err)
		}
	}
	s.started = true
	go s.saveLoop()
}

// Stop halts the saver and forces a final snapshot.
func (s *Store) Stop() {
	if !s.started {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	if s.path != "" {
		if err := s.Save(); err != nil {
			s.log.Errorw("final snapshot failed", "error", err)
		}
	}
}

func (s *Store) saveLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.path == "" || !s.snapshotDue() {
				continue
			}
			// A failed save is retried on the next tick; the unsaved
			// window is bounded by the interval.
			if err := s.Save(); err != nil {
				s.log.Errorw("periodic snapshot failed, will retry", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) snapshotDue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func (s *Store) touchLocked() {
	s.lastUpdated = time.Now().UTC()
	s.seq++
	s.dirty = true
}

// LastUpdated returns the commit time of the most recent write.
func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// --- users ---

func (s *Store) GetUser(id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, domain.ErrNotFound
	}
	return u, nil
}

// FindUserByEmail returns the user with the given email, if any.
func (s *Store) FindUserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return models.User{}, false
}

func (s *Store) PutUser(u models.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	s.touchLocked()
	return nil
}

// UpdateUser applies fn to the stored user under the write lock. The patch
// either fully applies or, when fn errors, leaves the entity untouched.
func (s *Store) UpdateUser(id string, fn func(*models.User) error) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, domain.ErrNotFound
	}
	if err := fn(&u); err != nil {
		return models.User{}, err
	}
	if err := u.Validate(); err != nil {
		return models.User{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.users[id] = u
	s.touchLocked()
	return u, nil
}

func (s *Store) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- quests ---

func (s *Store) GetQuest(id string) (models.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quests[id]
	if !ok {
		return models.Quest{}, domain.ErrNotFound
	}
	return q, nil
}

func (s *Store) PutQuest(q models.Quest) error {
	return s.PutQuestThen(q, nil)
}

// PutQuestThen inserts the quest and, while still holding the write lock,
// runs then with the committed entity.
func (s *Store) PutQuestThen(q models.Quest, then func(models.Quest)) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quests[q.ID] = q
	s.touchLocked()
	if then != nil {
		then(q)
	}
	return nil
}

func (s *Store) UpdateQuest(id string, fn func(*models.Quest) error) (models.Quest, error) {
	return s.UpdateQuestThen(id, fn, nil)
}

func (s *Store) UpdateQuestThen(id string, fn func(*models.Quest) error, then func(models.Quest)) (models.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quests[id]
	if !ok {
		return models.Quest{}, domain.ErrNotFound
	}
	if err := fn(&q); err != nil {
		return models.Quest{}, err
	}
	if err := q.Validate(); err != nil {
		return models.Quest{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.quests[id] = q
	s.touchLocked()
	if then != nil {
		then(q)
	}
	return q, nil
}

func (s *Store) DeleteQuest(id string) error {
	return s.DeleteQuestThen(id, nil)
}

func (s *Store) DeleteQuestThen(id string, then func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quests[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.quests, id)
	s.touchLocked()
	if then != nil {
		then()
	}
	return nil
}

func (s *Store) ListQuests() []models.Quest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Quest, 0, len(s.quests))
	for _, q := range s.quests {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- markers ---

func (s *Store) GetMarker(id string) (models.Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[id]
	if !ok {
		return models.Marker{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) PutMarker(m models.Marker) error {
	return s.PutMarkerThen(m, nil)
}

func (s *Store) PutMarkerThen(m models.Marker, then func(models.Marker)) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[m.ID] = m
	s.touchLocked()
	if then != nil {
		then(m)
	}
	return nil
}

// UpdateMarker is the per-marker atomic read-modify-write used for vote tally
// increments: fn runs under the write lock, so no increment is lost.
func (s *Store) UpdateMarker(id string, fn func(*models.Marker) error) (models.Marker, error) {
	return s.UpdateMarkerThen(id, fn, nil)
}

func (s *Store) UpdateMarkerThen(id string, fn func(*models.Marker) error, then func(models.Marker)) (models.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[id]
	if !ok {
		return models.Marker{}, domain.ErrNotFound
	}
	if err := fn(&m); err != nil {
		return models.Marker{}, err
	}
	if err := m.Validate(); err != nil {
		return models.Marker{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.markers[id] = m
	s.touchLocked()
	if then != nil {
		then(m)
	}
	return m, nil
}

func (s *Store) DeleteMarker(id string) error {
	return s.DeleteMarkerThen(id, nil)
}

func (s *Store) DeleteMarkerThen(id string, then func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markers[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.markers, id)
	s.touchLocked()
	if then != nil {
		then()
	}
	return nil
}

func (s *Store) ListMarkers() []models.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- transactions ---

func (s *Store) GetTransaction(id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return models.Transaction{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *Store) PutTransaction(t models.Transaction) error {
	return s.PutTransactionThen(t, nil)
}

func (s *Store) PutTransactionThen(t models.Transaction, then func(models.Transaction)) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
	s.touchLocked()
	if then != nil {
		then(t)
	}
	return nil
}

// UpdateTransaction serializes concurrent writers to the same transaction;
// state-machine callers implement compare-and-swap inside fn and return
// domain.ErrConflict when the observed status no longer matches.
func (s *Store) UpdateTransaction(id string, fn func(*models.Transaction) error) (models.Transaction, error) {
	return s.UpdateTransactionThen(id, fn, nil)
}

func (s *Store) UpdateTransactionThen(id string, fn func(*models.Transaction) error, then func(models.Transaction)) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return models.Transaction{}, domain.ErrNotFound
	}
	if err := fn(&t); err != nil {
		return models.Transaction{}, err
	}
	if err := t.Validate(); err != nil {
		return models.Transaction{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.transactions[id] = t
	s.touchLocked()
	if then != nil {
		then(t)
	}
	return t, nil
}

func (s *Store) ListTransactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveTransactionForQuest reports whether the quest already has a live
// (non-terminal) transaction.
func (s *Store) ActiveTransactionForQuest(questID string) (models.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.QuestID == questID && !t.Terminal() {
			return t, true
		}
	}
	return models.Transaction{}, false
}

// PaymentCodeExists reports whether any transaction already uses code.
func (s *Store) PaymentCodeExists(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.PaymentCode == code {
			return true
		}
	}
	return false
}

// --- votes ---

// RecordVote claims the (userId, markerId) idempotency key. The existence
// check and the insert happen under one lock acquisition, so two concurrent
// votes by the same user on the same marker cannot both succeed.
func (s *Store) RecordVote(v models.VoteRecord) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.Key()
	if _, ok := s.votes[key]; ok {
		return domain.ErrDuplicateVote
	}
	s.votes[key] = v
	s.touchLocked()
	return nil
}

// RecordVoteAndUpdateMarker claims the vote's idempotency key and applies the
// tally patch in one critical section. Either both commit or neither does: a
// missing marker leaves no vote record, and a claimed key always has its
// tally increment. then runs with the committed marker while the lock is
// still held.
func (s *Store) RecordVoteAndUpdateMarker(v models.VoteRecord, fn func(*models.Marker) error, then func(models.Marker)) (models.Marker, error) {
	if err := v.Validate(); err != nil {
		return models.Marker{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[v.MarkerID]
	if !ok {
		return models.Marker{}, domain.ErrNotFound
	}
	key := v.Key()
	if _, dup := s.votes[key]; dup {
		return models.Marker{}, domain.ErrDuplicateVote
	}
	if err := fn(&m); err != nil {
		return models.Marker{}, err
	}
	if err := m.Validate(); err != nil {
		return models.Marker{}, fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.votes[key] = v
	s.markers[v.MarkerID] = m
	s.touchLocked()
	if then != nil {
		then(m)
	}
	return m, nil
}

func (s *Store) HasVoted(userID, markerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.votes[userID+"/"+markerID]
	return ok
}

// --- reports ---

func (s *Store) PutReport(r models.Report) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = r
	s.touchLocked()
	return nil
}

func (s *Store) ListReports() []models.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Report, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- categories ---

func (s *Store) PutCategory(c models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
	s.touchLocked()
}

func (s *Store) ListCategories() []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns collection sizes for the stats endpoint.
func (s *Store) Counts() (users, quests, markers, transactions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.quests), len(s.markers), len(s.transactions)
}
