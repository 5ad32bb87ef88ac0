package store

import (
	"sync"

	"github.com/mvoronin/pulsechat/internal/models"
)

// ReactionStore tracks reactions per message id. Entries are unique by
// reaction id; message keys with no reactions left are deleted.
type ReactionStore struct {
	mu        sync.Mutex
	reactions map[int64][]models.MessageReaction
	subs      *subscribers
}

// NewReactionStore returns an empty reaction store.
func NewReactionStore() *ReactionStore {
	return &ReactionStore{
		reactions: make(map[int64][]models.MessageReaction),
		subs:      newSubscribers(),
	}
}

// Add inserts a reaction, replacing any existing entry with the same
// reaction id. Duplicate pushes are idempotent.
func (s *ReactionStore) Add(messageID int64, reaction models.MessageReaction) {
	s.mu.Lock()

	list := s.reactions[messageID]
	replaced := false

	for i, r := range list {
		if r.ID == reaction.ID {
			list[i] = reaction
			replaced = true

			break
		}
	}

	if !replaced {
		list = append(list, reaction)
	}

	s.reactions[messageID] = list
	s.mu.Unlock()

	s.subs.notify()
}

// RemoveByID removes a reaction by its id. Unknown ids are a no-op.
func (s *ReactionStore) RemoveByID(messageID, reactionID int64) {
	s.mu.Lock()
	s.removeLocked(messageID, func(r models.MessageReaction) bool {
		return r.ID == reactionID
	})
	s.mu.Unlock()

	s.subs.notify()
}

// RemoveByUserEmoji removes a user's reaction with a given emoji, for
// servers that announce removals without the reaction id.
func (s *ReactionStore) RemoveByUserEmoji(messageID, userID int64, emoji string) {
	s.mu.Lock()
	s.removeLocked(messageID, func(r models.MessageReaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	s.mu.Unlock()

	s.subs.notify()
}

// Set replaces the reaction list for a message, as when a message
// window is refetched. An empty list deletes the key.
func (s *ReactionStore) Set(messageID int64, reactions []models.MessageReaction) {
	s.mu.Lock()

	if len(reactions) == 0 {
		delete(s.reactions, messageID)
	} else {
		s.reactions[messageID] = reactions
	}
	s.mu.Unlock()

	s.subs.notify()
}

// Get returns the reactions for a message.
func (s *ReactionStore) Get(messageID int64) []models.MessageReaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reactions[messageID]
}

// Has reports whether any reactions are tracked for a message.
func (s *ReactionStore) Has(messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.reactions[messageID]

	return ok
}

// Subscribe registers a change callback and returns a cancel func.
func (s *ReactionStore) Subscribe(fn func()) func() {
	return s.subs.add(fn)
}

// Clear drops all reactions.
func (s *ReactionStore) Clear() {
	s.mu.Lock()
	s.reactions = make(map[int64][]models.MessageReaction)
	s.mu.Unlock()

	s.subs.notify()
}

func (s *ReactionStore) removeLocked(messageID int64, match func(models.MessageReaction) bool) {
	list, ok := s.reactions[messageID]
	if !ok {
		return
	}

	kept := list[:0]

	for _, r := range list {
		if !match(r) {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		delete(s.reactions, messageID)
	} else {
		s.reactions[messageID] = kept
	}
}
