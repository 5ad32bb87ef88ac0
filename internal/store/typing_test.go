package store

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTyping_SetAndQuery(t *testing.T) {
	s := NewTypingStore()

	s.SetTyping(3, 8, true)

	assert.Equal(t, []int64{8}, s.TypingUsers(3))
	assert.Empty(t, s.TypingUsers(99), "other chats unaffected")
}

func TestTyping_InvalidIDs_Ignored(t *testing.T) {
	s := NewTypingStore()

	s.SetTyping(0, 8, true)
	s.SetTyping(3, 0, true)

	assert.Empty(t, s.TypingUsers(0))
	assert.Empty(t, s.TypingUsers(3))
}

func TestTyping_FalseClearsIndicator(t *testing.T) {
	s := NewTypingStore()

	s.SetTyping(3, 8, true)
	s.SetTyping(3, 8, false)

	assert.Empty(t, s.TypingUsers(3))
}

func TestTyping_ClearUnknown_NoOp(t *testing.T) {
	s := NewTypingStore()

	s.SetTyping(3, 8, false)

	assert.Empty(t, s.TypingUsers(3))
}

func TestTyping_ExpiresAfterTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := NewTypingStore()

		s.SetTyping(3, 8, true)

		time.Sleep(typingTimeout + time.Second)
		synctest.Wait()

		assert.Empty(t, s.TypingUsers(3), "indicator should expire without a refresh")
	})
}

func TestTyping_RefreshResetsExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := NewTypingStore()

		s.SetTyping(3, 8, true)

		// Refresh just before expiry, then confirm the indicator
		// survives past the original deadline.
		time.Sleep(typingTimeout - time.Second)
		s.SetTyping(3, 8, true)

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.Equal(t, []int64{8}, s.TypingUsers(3))

		time.Sleep(typingTimeout)
		synctest.Wait()
		assert.Empty(t, s.TypingUsers(3))
	})
}

func TestTyping_MultipleUsersPerChat(t *testing.T) {
	s := NewTypingStore()

	s.SetTyping(3, 8, true)
	s.SetTyping(3, 9, true)

	assert.ElementsMatch(t, []int64{8, 9}, s.TypingUsers(3))

	s.SetTyping(3, 8, false)
	assert.Equal(t, []int64{9}, s.TypingUsers(3))
}

func TestTyping_Subscribe_Notifies(t *testing.T) {
	s := NewTypingStore()

	calls := 0
	cancel := s.Subscribe(func() { calls++ })
	defer cancel()

	s.SetTyping(3, 8, true)
	assert.Equal(t, 1, calls)
}

func TestTyping_Clear_StopsPendingExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := NewTypingStore()

		s.SetTyping(3, 8, true)
		s.Clear()

		assert.Empty(t, s.TypingUsers(3))

		// No timers left to fire.
		time.Sleep(2 * typingTimeout)
		synctest.Wait()
	})
}
