package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := New()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("chats", []int{1, 2, 3})

	v, ok := c.Get("chats")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestCache_Invalidate(t *testing.T) {
	c := New()
	c.Set("messages:3", "window")

	c.Invalidate("messages:3")

	_, ok := c.Get("messages:3")
	assert.False(t, ok)
}

func TestCache_Keys_PrefixFilter(t *testing.T) {
	c := New()
	c.Set("messages:1", nil)
	c.Set("messages:2", nil)
	c.Set("chats", nil)

	keys := c.Keys("messages:")
	assert.Len(t, keys, 2)
	assert.ElementsMatch(t, []string{"messages:1", "messages:2"}, keys)
}

func TestCache_Fetch_LoadsOnMiss(t *testing.T) {
	c := New()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return "loaded", nil
	}

	v, err := c.Fetch(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, calls)

	// Second fetch hits the cache.
	v, err = c.Fetch(context.Background(), "k", loader)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)
	assert.Equal(t, 1, calls)
}

func TestCache_Fetch_ErrorNotCached(t *testing.T) {
	c := New()

	calls := 0
	failing := func(context.Context) (any, error) {
		calls++
		return nil, fmt.Errorf("upstream down")
	}

	_, err := c.Fetch(context.Background(), "k", failing)
	require.Error(t, err)

	_, ok := c.Get("k")
	assert.False(t, ok, "failed load should not populate the cache")

	_, err = c.Fetch(context.Background(), "k", failing)
	require.Error(t, err)
	assert.Equal(t, 2, calls, "errors should not be cached")
}

func TestCache_Fetch_ConcurrentDedup(t *testing.T) {
	c := New()

	var calls atomic.Int64

	started := make(chan struct{})
	gate := make(chan struct{})
	loader := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-gate
		return "shared", nil
	}

	const workers = 8

	var wg sync.WaitGroup

	results := make([]any, workers)

	fetch := func(i int) {
		defer wg.Done()
		v, err := c.Fetch(context.Background(), "k", loader)
		require.NoError(t, err)
		results[i] = v
	}

	// First fetch opens the flight; the rest join while it is blocked.
	wg.Add(1)

	go fetch(0)

	<-started

	for i := 1; i < workers; i++ {
		wg.Add(1)

		go fetch(i)
	}

	close(gate)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load(), "concurrent fetches should share one load")

	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestCache_Clear(t *testing.T) {
	c := New()
	c.Set("a", 1)
	c.Set("b", 2)
	require.Equal(t, 2, c.Len())

	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
