package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvoronin/pulsechat/internal/models"
)

func reaction(id, userID int64, emoji string) models.MessageReaction {
	return models.MessageReaction{
		ID:        id,
		MessageID: 5,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestReactions_AddAndGet(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))

	got := s.Get(5)
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].ID)
}

func TestReactions_Add_IdempotentByID(t *testing.T) {
	s := NewReactionStore()

	r := reaction(11, 9, "👍")
	s.Add(5, r)
	s.Add(5, r)

	assert.Len(t, s.Get(5), 1, "duplicate push of the same reaction id should not duplicate")
}

func TestReactions_Add_SameIDReplacesEntry(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.Add(5, reaction(11, 9, "🎉"))

	got := s.Get(5)
	require.Len(t, got, 1)
	assert.Equal(t, "🎉", got[0].Emoji)
}

func TestReactions_RemoveByID(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.Add(5, reaction(12, 10, "🎉"))

	s.RemoveByID(5, 11)

	got := s.Get(5)
	require.Len(t, got, 1)
	assert.Equal(t, int64(12), got[0].ID)
}

func TestReactions_RemoveByUserEmoji(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.Add(5, reaction(12, 9, "🎉"))

	s.RemoveByUserEmoji(5, 9, "👍")

	got := s.Get(5)
	require.Len(t, got, 1)
	assert.Equal(t, "🎉", got[0].Emoji)
}

func TestReactions_LastRemovalDeletesKey(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.RemoveByID(5, 11)

	assert.False(t, s.Has(5), "empty reaction list should drop the message key")
}

func TestReactions_RemoveUnknown_NoOp(t *testing.T) {
	s := NewReactionStore()

	s.RemoveByID(5, 999)
	s.RemoveByUserEmoji(5, 9, "👍")

	assert.False(t, s.Has(5))
}

func TestReactions_Set_ReplacesList(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.Set(5, []models.MessageReaction{reaction(20, 2, "🔥"), reaction(21, 3, "🔥")})

	assert.Len(t, s.Get(5), 2)

	s.Set(5, nil)
	assert.False(t, s.Has(5))
}

func TestReactions_Clear(t *testing.T) {
	s := NewReactionStore()

	s.Add(5, reaction(11, 9, "👍"))
	s.Add(6, reaction(13, 9, "👍"))

	s.Clear()

	assert.False(t, s.Has(5))
	assert.False(t, s.Has(6))
}

func TestReactions_Subscribe_Notifies(t *testing.T) {
	s := NewReactionStore()

	calls := 0
	cancel := s.Subscribe(func() { calls++ })
	defer cancel()

	s.Add(5, reaction(11, 9, "👍"))
	s.RemoveByID(5, 11)

	assert.Equal(t, 2, calls)
}
