package store

import (
	"sync"
	"time"
)

// typingTimeout is how long a typing indicator stays visible without a
// refresh before it is removed.
const typingTimeout = 15 * time.Second

type typingEntry struct {
	startedAt time.Time
	timer     *time.Timer
}

// TypingStore tracks who is typing in which chat. Each indicator
// expires on a per-entry timer unless refreshed.
type TypingStore struct {
	mu      sync.Mutex
	chats   map[int64]map[int64]*typingEntry
	subs    *subscribers
	timeout time.Duration
}

// NewTypingStore returns an empty typing store.
func NewTypingStore() *TypingStore {
	return &TypingStore{
		chats:   make(map[int64]map[int64]*typingEntry),
		subs:    newSubscribers(),
		timeout: typingTimeout,
	}
}

// SetTyping records or clears a typing indicator. A true indicator
// schedules its own expiry; repeating it resets the clock.
func (s *TypingStore) SetTyping(chatID, userID int64, isTyping bool) {
	if chatID <= 0 || userID <= 0 {
		return
	}

	s.mu.Lock()

	if !isTyping {
		s.removeLocked(chatID, userID)
		s.mu.Unlock()
		s.subs.notify()

		return
	}

	users, ok := s.chats[chatID]
	if !ok {
		users = make(map[int64]*typingEntry)
		s.chats[chatID] = users
	}

	if prev, ok := users[userID]; ok {
		prev.timer.Stop()
	}

	entry := &typingEntry{startedAt: time.Now()}
	entry.timer = time.AfterFunc(s.timeout, func() {
		s.expire(chatID, userID)
	})
	users[userID] = entry
	s.mu.Unlock()

	s.subs.notify()
}

// TypingUsers returns the users currently typing in a chat.
func (s *TypingStore) TypingUsers(chatID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64

	for id := range s.chats[chatID] {
		ids = append(ids, id)
	}

	return ids
}

// Subscribe registers a change callback and returns a cancel func.
func (s *TypingStore) Subscribe(fn func()) func() {
	return s.subs.add(fn)
}

// Clear drops all indicators and stops their timers.
func (s *TypingStore) Clear() {
	s.mu.Lock()

	for _, users := range s.chats {
		for _, entry := range users {
			entry.timer.Stop()
		}
	}

	s.chats = make(map[int64]map[int64]*typingEntry)
	s.mu.Unlock()

	s.subs.notify()
}

func (s *TypingStore) expire(chatID, userID int64) {
	s.mu.Lock()
	s.removeLocked(chatID, userID)
	s.mu.Unlock()

	s.subs.notify()
}

func (s *TypingStore) removeLocked(chatID, userID int64) {
	users, ok := s.chats[chatID]
	if !ok {
		return
	}

	if entry, ok := users[userID]; ok {
		entry.timer.Stop()
		delete(users, userID)
	}

	if len(users) == 0 {
		delete(s.chats, chatID)
	}
}
