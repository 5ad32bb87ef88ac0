// Package reducer applies inbound server frames to the query cache and
// the derived stores. It is the single writer for cached chat state;
// every mutation happens under one mutex so pushes and refetch results
// cannot interleave, and cached values are never mutated in place, so a
// reader can hold a fetched slice across later updates.
package reducer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mvoronin/pulsechat/internal/cache"
	"github.com/mvoronin/pulsechat/internal/httpapi"
	"github.com/mvoronin/pulsechat/internal/models"
	"github.com/mvoronin/pulsechat/internal/protocol"
	"github.com/mvoronin/pulsechat/internal/store"
)

// messageWindowSize is how many messages a refetch pulls.
const messageWindowSize = 50

// API is the REST surface the reducer needs for refetches.
type API interface {
	GetMessages(ctx context.Context, chatID int64, query httpapi.MessageQuery) ([]models.Message, error)
	GetProfile(ctx context.Context, userID int64) (*models.UserPublic, error)
}

// Cache keys.

// MessagesKey is the cache key for a chat's message window.
func MessagesKey(chatID int64) string {
	return fmt.Sprintf("messages:%d", chatID)
}

// ChatsKey is the cache key for the chat preview list.
const ChatsKey = "chats"

// MembersKey is the cache key for a chat's membership.
func MembersKey(chatID int64) string {
	return fmt.Sprintf("members:%d", chatID)
}

// ProfileKey is the cache key for a user's public profile.
func ProfileKey(userID int64) string {
	return fmt.Sprintf("profile:%d", userID)
}

// ReadMarkersKey is the cache key for a chat's per-reader read markers.
func ReadMarkersKey(chatID int64) string {
	return fmt.Sprintf("reads:%d", chatID)
}

// messagesPrefix matches every message window key.
const messagesPrefix = "messages:"

// MembersPrefix matches every chat membership key.
const MembersPrefix = "members:"

// Reducer folds server frames into local state.
type Reducer struct {
	cache     *cache.Cache
	presence  *store.PresenceStore
	typing    *store.TypingStore
	reactions *store.ReactionStore
	api       API
	logger    *slog.Logger

	// mu serializes all read-modify-write cycles on cached chat state.
	mu sync.Mutex
}

// New creates a reducer over the given cache and stores.
func New(c *cache.Cache, presence *store.PresenceStore, typing *store.TypingStore, reactions *store.ReactionStore, api API, logger *slog.Logger) *Reducer {
	return &Reducer{
		cache:     c,
		presence:  presence,
		typing:    typing,
		reactions: reactions,
		api:       api,
		logger:    logger,
	}
}

// Apply folds one frame into local state. Unknown or session-level
// frames (pong, authenticated, error) are not the reducer's concern
// and are ignored.
func (r *Reducer) Apply(ctx context.Context, frame protocol.ServerFrame) {
	switch f := frame.(type) {
	case protocol.NewMessage:
		r.applyNewMessage(ctx, f.Message)
	case protocol.MessageEdited:
		r.applyMessageEdited(f.Message)
	case protocol.MessageDeleted:
		r.applyMessageDeleted(f)
	case protocol.ReactionAdded:
		r.applyReactionAdded(f)
	case protocol.ReactionRemoved:
		r.applyReactionRemoved(f)
	case protocol.UserTyping:
		r.typing.SetTyping(f.ChatID, f.UserID, f.IsTyping)
	case protocol.UserOnline:
		r.presence.SetOnline(f.UserID, nil)
	case protocol.UserOffline:
		r.presence.SetOffline(f.UserID, f.LastSeenAt)
	case protocol.OnlineList:
		r.presence.SetManyOnline(f.UserIDs)
	case protocol.MessageRead:
		r.applyMessageRead(f)
	case protocol.PollCreated:
		r.cache.Invalidate(MessagesKey(f.ChatID))
	case protocol.PollVoted:
		r.cache.Invalidate(MessagesKey(f.ChatID))
	case protocol.PollClosed:
		r.cache.Invalidate(MessagesKey(f.ChatID))
	}
}

// --- messages ---

func (r *Reducer) applyNewMessage(ctx context.Context, msg models.Message) {
	r.mu.Lock()

	list, loaded := r.messageWindow(msg.ChatID)
	wasEmpty := !loaded || len(list) == 0

	list = upsertMessage(list, msg)
	sortMessagesAsc(list)
	r.cache.Set(MessagesKey(msg.ChatID), list)
	r.mu.Unlock()

	r.updateChatPreview(ctx, msg)

	// A single pushed message is not a trustworthy window; pull the
	// real one and merge.
	if wasEmpty {
		go r.refetchMessages(ctx, msg.ChatID)
	}
}

func (r *Reducer) applyMessageEdited(msg models.Message) {
	r.mu.Lock()

	list, loaded := r.messageWindow(msg.ChatID)
	if loaded {
		for i := range list {
			if list[i].ID == msg.ID {
				list[i] = mergeMessage(list[i], msg)
				r.cache.Set(MessagesKey(msg.ChatID), list)

				break
			}
		}
	}

	chats, ok := r.chatSummaries()
	if ok {
		for i := range chats {
			if chats[i].LastMessage != nil && chats[i].LastMessage.ID == msg.ID {
				merged := mergeMessage(*chats[i].LastMessage, msg)
				chats[i].LastMessage = &merged
				r.cache.Set(ChatsKey, chats)

				break
			}
		}
	}
	r.mu.Unlock()
}

func (r *Reducer) applyMessageDeleted(f protocol.MessageDeleted) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chatID := f.ChatID
	if chatID == 0 {
		chatID = r.findChatForMessage(f.MessageID)
	}

	if chatID != 0 {
		if list, loaded := r.messageWindow(chatID); loaded {
			kept := list[:0]

			for _, m := range list {
				if m.ID != f.MessageID {
					kept = append(kept, m)
				}
			}

			r.cache.Set(MessagesKey(chatID), kept)
			r.refreshPreviewAfterDelete(chatID, f.MessageID, kept)
		}
	}

	r.reactions.Set(f.MessageID, nil)
}

// refreshPreviewAfterDelete repoints a preview whose last message was
// just deleted at the new tail of the window. Called with the state
// mutex held.
func (r *Reducer) refreshPreviewAfterDelete(chatID, deletedID int64, window []models.Message) {
	chats, ok := r.chatSummaries()
	if !ok {
		return
	}

	for i := range chats {
		if chats[i].Chat.ID != chatID {
			continue
		}

		if chats[i].LastMessage == nil || chats[i].LastMessage.ID != deletedID {
			return
		}

		if len(window) == 0 {
			chats[i].LastMessage = nil
			chats[i].LastSender = nil
		} else {
			tail := window[len(window)-1]
			chats[i].LastMessage = &tail
			chats[i].LastSender = r.cachedProfile(tail.SenderID)
		}

		r.cache.Set(ChatsKey, chats)

		return
	}
}

func (r *Reducer) refetchMessages(ctx context.Context, chatID int64) {
	fetched, err := r.api.GetMessages(ctx, chatID, httpapi.MessageQuery{Limit: messageWindowSize})
	if err != nil {
		r.logger.Warn("message window refetch failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Union with whatever pushes landed while the fetch was in flight,
	// so a stale fetch can never erase a newer push.
	current, _ := r.messageWindow(chatID)
	merged := fetched

	for _, m := range current {
		merged = upsertKeepExisting(merged, m)
	}

	sortMessagesAsc(merged)
	r.cache.Set(MessagesKey(chatID), merged)
}

// --- chat previews ---

func (r *Reducer) updateChatPreview(ctx context.Context, msg models.Message) {
	r.mu.Lock()

	chats, ok := r.chatSummaries()
	if !ok {
		r.mu.Unlock()
		return
	}

	idx := -1

	for i := range chats {
		if chats[i].Chat.ID == msg.ChatID {
			idx = i
			break
		}
	}

	if idx == -1 {
		r.mu.Unlock()
		return
	}

	last := msg
	chats[idx].LastMessage = &last
	chats[idx].UpdatedAt = msg.CreatedAt

	sender := r.cachedProfile(msg.SenderID)
	chats[idx].LastSender = sender

	sortSummariesDesc(chats)
	r.cache.Set(ChatsKey, chats)
	r.mu.Unlock()

	// Fill the sender snapshot asynchronously; the patch keeps list
	// order untouched.
	if sender == nil {
		go r.fetchSenderSnapshot(ctx, msg.ChatID, msg.SenderID, msg.ID)
	}
}

func (r *Reducer) fetchSenderSnapshot(ctx context.Context, chatID, senderID, messageID int64) {
	profile, err := r.api.GetProfile(ctx, senderID)
	if err != nil {
		r.logger.Warn("sender profile fetch failed",
			slog.Int64("user_id", senderID),
			slog.String("error", err.Error()))

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Set(ProfileKey(senderID), *profile)

	chats, ok := r.chatSummaries()
	if !ok {
		return
	}

	for i := range chats {
		if chats[i].Chat.ID != chatID {
			continue
		}

		// Only patch if this message is still the preview.
		if chats[i].LastMessage != nil && chats[i].LastMessage.ID == messageID {
			chats[i].LastSender = profile
			r.cache.Set(ChatsKey, chats)
		}

		return
	}
}

// --- reactions ---

func (r *Reducer) applyReactionAdded(f protocol.ReactionAdded) {
	r.reactions.Add(f.MessageID, f.Reaction)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.patchMessage(f.MessageID, func(m *models.Message) {
		reactions := append([]models.MessageReaction(nil), m.Reactions...)

		for i, existing := range reactions {
			if existing.ID == f.Reaction.ID {
				reactions[i] = f.Reaction
				m.Reactions = reactions

				return
			}
		}

		m.Reactions = append(reactions, f.Reaction)
	})
}

func (r *Reducer) applyReactionRemoved(f protocol.ReactionRemoved) {
	match := func(reaction models.MessageReaction) bool {
		return reaction.ID == f.ReactionID
	}

	if f.ReactionID != 0 {
		r.reactions.RemoveByID(f.MessageID, f.ReactionID)
	} else {
		r.reactions.RemoveByUserEmoji(f.MessageID, f.UserID, f.Emoji)

		match = func(reaction models.MessageReaction) bool {
			return reaction.UserID == f.UserID && reaction.Emoji == f.Emoji
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.patchMessage(f.MessageID, func(m *models.Message) {
		kept := make([]models.MessageReaction, 0, len(m.Reactions))

		for _, reaction := range m.Reactions {
			if !match(reaction) {
				kept = append(kept, reaction)
			}
		}

		m.Reactions = kept
	})
}

// patchMessage finds a message by id across every cached window and
// applies fn to a copy of it, then publishes the patched window. A
// message lives in exactly one chat, so the scan stops at the first
// hit. Called with the state mutex held.
func (r *Reducer) patchMessage(messageID int64, fn func(*models.Message)) {
	for _, key := range r.cache.Keys(messagesPrefix) {
		v, ok := r.cache.Get(key)
		if !ok {
			continue
		}

		list, ok := v.([]models.Message)
		if !ok {
			continue
		}

		for i := range list {
			if list[i].ID != messageID {
				continue
			}

			patched := append([]models.Message(nil), list...)
			fn(&patched[i])
			r.cache.Set(key, patched)

			return
		}
	}
}

// --- read markers ---

func (r *Reducer) applyMessageRead(f protocol.MessageRead) {
	r.mu.Lock()
	defer r.mu.Unlock()

	markers := make(map[int64]int64)

	if v, ok := r.cache.Get(ReadMarkersKey(f.ChatID)); ok {
		if existing, ok := v.(map[int64]int64); ok {
			for reader, msgID := range existing {
				markers[reader] = msgID
			}
		}
	}

	// Read markers only move forward.
	if markers[f.ReaderID] < f.MessageID {
		markers[f.ReaderID] = f.MessageID
		r.cache.Set(ReadMarkersKey(f.ChatID), markers)
	}
}

// --- helpers ---

// messageWindow returns a copy of a chat's cached window. Cached slices
// are shared with whoever read them from the cache, so every mutation
// works on a copy and publishes it with a fresh Set.
func (r *Reducer) messageWindow(chatID int64) ([]models.Message, bool) {
	v, ok := r.cache.Get(MessagesKey(chatID))
	if !ok {
		return nil, false
	}

	list, ok := v.([]models.Message)
	if !ok {
		return nil, false
	}

	return append([]models.Message(nil), list...), true
}

// chatSummaries returns a copy of the cached preview list, same rule as
// messageWindow.
func (r *Reducer) chatSummaries() ([]models.ChatSummary, bool) {
	v, ok := r.cache.Get(ChatsKey)
	if !ok {
		return nil, false
	}

	chats, ok := v.([]models.ChatSummary)
	if !ok {
		return nil, false
	}

	return append([]models.ChatSummary(nil), chats...), true
}

func (r *Reducer) cachedProfile(userID int64) *models.UserPublic {
	v, ok := r.cache.Get(ProfileKey(userID))
	if !ok {
		return nil
	}

	profile, ok := v.(models.UserPublic)
	if !ok {
		return nil
	}

	return &profile
}

func (r *Reducer) findChatForMessage(messageID int64) int64 {
	for _, key := range r.cache.Keys(messagesPrefix) {
		v, ok := r.cache.Get(key)
		if !ok {
			continue
		}

		list, ok := v.([]models.Message)
		if !ok {
			continue
		}

		for _, m := range list {
			if m.ID == messageID {
				return m.ChatID
			}
		}
	}

	return 0
}

// upsertMessage replaces an existing entry by id or appends.
func upsertMessage(list []models.Message, msg models.Message) []models.Message {
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return list
		}
	}

	return append(list, msg)
}

// upsertKeepExisting appends msg only if its id is absent.
func upsertKeepExisting(list []models.Message, msg models.Message) []models.Message {
	for i := range list {
		if list[i].ID == msg.ID {
			return list
		}
	}

	return append(list, msg)
}

// mergeMessage overlays the edited fields onto the cached message,
// keeping anything the edit frame did not carry.
func mergeMessage(dst, src models.Message) models.Message {
	dst.Content = src.Content
	dst.IsEdited = src.IsEdited
	dst.EditedAt = src.EditedAt

	if src.Attachments != nil {
		dst.Attachments = src.Attachments
	}

	if src.Reactions != nil {
		dst.Reactions = src.Reactions
	}

	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}

	if src.SenderID != 0 {
		dst.SenderID = src.SenderID
	}

	return dst
}

func sortMessagesAsc(list []models.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}

		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func sortSummariesDesc(list []models.ChatSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}
