package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := NewMemoryCache(4, time.Minute)
	c.Set("a", 1, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := NewMemoryCache(4, time.Minute)
	c.Set("a", 1, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := NewMemoryCache(2, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3, 0)

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	c := NewMemoryCache(16, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("short-%d", i), i, 5*time.Millisecond)
	}
	c.Set("long", 99, time.Minute)

	time.Sleep(10 * time.Millisecond)
	removed := c.Sweep()

	assert.Equal(t, 5, removed)
	assert.Equal(t, 1, c.Len())
}

func TestNamespaceIsolation(t *testing.T) {
	c := NewMemoryCache(16, time.Minute)
	n1 := c.Namespace("tool_a", time.Minute)
	n2 := c.Namespace("tool_b", time.Minute)

	n1.Set("k", "from-a")
	n2.Set("k", "from-b")

	v1, ok := n1.Get("k")
	require.True(t, ok)
	v2, ok := n2.Get("k")
	require.True(t, ok)
	assert.Equal(t, "from-a", v1)
	assert.Equal(t, "from-b", v2)
}
