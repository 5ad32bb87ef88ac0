// Package store holds the in-memory derived state fed by server push:
// presence, typing indicators and reactions. Stores notify subscribers
// on change and are safe for concurrent use.
package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// reassertWindow suppresses redundant online re-assertions for a
	// user that was already marked online this recently.
	reassertWindow = 30 * time.Second

	// offlineAfter is how stale an online record may get before the
	// sweeper flips it to offline.
	offlineAfter = 5 * time.Minute

	// sweepInterval is how often the staleness sweep runs.
	sweepInterval = 30 * time.Second
)

// PresenceRecord is the tracked state for one user.
type PresenceRecord struct {
	Online     bool
	LastSeenAt *time.Time
	UpdatedAt  time.Time
}

// Presence is a view of one user's presence for callers that do not
// care about bookkeeping fields.
type Presence struct {
	IsOnline bool
	LastSeen *time.Time
}

// PresenceStore tracks which users are online and when offline users
// were last seen.
type PresenceStore struct {
	mu      sync.Mutex
	records map[int64]PresenceRecord
	subs    *subscribers
	logger  *slog.Logger

	reassertWindow time.Duration
	offlineAfter   time.Duration
	sweepInterval  time.Duration
}

// NewPresenceStore returns an empty presence store.
func NewPresenceStore(logger *slog.Logger) *PresenceStore {
	return &PresenceStore{
		records:        make(map[int64]PresenceRecord),
		subs:           newSubscribers(),
		logger:         logger,
		reassertWindow: reassertWindow,
		offlineAfter:   offlineAfter,
		sweepInterval:  sweepInterval,
	}
}

// SetOnline marks a user online. Transitions into online refresh
// LastSeenAt to now unless the server supplied a timestamp. Redundant
// re-assertions inside the re-assert window are dropped to limit churn.
func (s *PresenceStore) SetOnline(userID int64, lastSeen *time.Time) {
	if userID <= 0 {
		return
	}

	now := time.Now()

	s.mu.Lock()

	prev, exists := s.records[userID]
	if exists && prev.Online && now.Sub(prev.UpdatedAt) < s.reassertWindow {
		s.mu.Unlock()
		return
	}

	seen := now
	if lastSeen != nil {
		seen = *lastSeen
	}

	s.records[userID] = PresenceRecord{
		Online:     true,
		LastSeenAt: &seen,
		UpdatedAt:  now,
	}
	s.mu.Unlock()

	s.subs.notify()
}

// SetManyOnline applies a bulk online list, as delivered in response to
// a roster query.
func (s *PresenceStore) SetManyOnline(userIDs []int64) {
	now := time.Now()
	changed := false

	s.mu.Lock()

	for _, id := range userIDs {
		if id <= 0 {
			continue
		}

		prev, exists := s.records[id]
		if exists && prev.Online && now.Sub(prev.UpdatedAt) < s.reassertWindow {
			continue
		}

		seen := now
		s.records[id] = PresenceRecord{Online: true, LastSeenAt: &seen, UpdatedAt: now}
		changed = true
	}
	s.mu.Unlock()

	if changed {
		s.subs.notify()
	}
}

// SetOffline marks a user offline, keeping the previous LastSeenAt when
// the server did not supply one.
func (s *PresenceStore) SetOffline(userID int64, lastSeen *time.Time) {
	if userID <= 0 {
		return
	}

	now := time.Now()

	s.mu.Lock()

	prev := s.records[userID]

	seen := prev.LastSeenAt
	if lastSeen != nil {
		seen = lastSeen
	} else if seen == nil {
		seen = &now
	}

	s.records[userID] = PresenceRecord{
		Online:     false,
		LastSeenAt: seen,
		UpdatedAt:  now,
	}
	s.mu.Unlock()

	s.subs.notify()
}

// Get returns the raw record for a user.
func (s *PresenceStore) Get(userID int64) (PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]

	return rec, ok
}

// Presence returns the presence view for a user. Unknown users are
// offline with no last-seen information.
func (s *PresenceStore) Presence(userID int64) Presence {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Presence{IsOnline: false, LastSeen: nil}
	}

	return Presence{IsOnline: rec.Online, LastSeen: rec.LastSeenAt}
}

// OnlineUsers returns the ids of all users currently marked online.
func (s *PresenceStore) OnlineUsers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64

	for id, rec := range s.records {
		if rec.Online {
			ids = append(ids, id)
		}
	}

	return ids
}

// Subscribe registers a change callback and returns a cancel func.
func (s *PresenceStore) Subscribe(fn func()) func() {
	return s.subs.add(fn)
}

// Clear drops all records. Called on session teardown.
func (s *PresenceStore) Clear() {
	s.mu.Lock()
	s.records = make(map[int64]PresenceRecord)
	s.mu.Unlock()

	s.subs.notify()
}

// RunSweeper periodically flips stale online records to offline,
// treating the last update time as the best last-seen estimate. Runs
// until the context is cancelled.
func (s *PresenceStore) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *PresenceStore) sweep(now time.Time) {
	swept := 0

	s.mu.Lock()

	for id, rec := range s.records {
		if !rec.Online || now.Sub(rec.UpdatedAt) < s.offlineAfter {
			continue
		}

		seen := rec.UpdatedAt
		s.records[id] = PresenceRecord{
			Online:     false,
			LastSeenAt: &seen,
			UpdatedAt:  now,
		}
		swept++
	}
	s.mu.Unlock()

	if swept > 0 {
		s.logger.Debug("presence sweep marked stale users offline", slog.Int("count", swept))
		s.subs.notify()
	}
}
