package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c, err := New[[]string](0)
	require.NoError(t, err)
	defer c.Close()

	c.Set("root", []string{"gopls"})
	v, ok := c.Get("root")
	require.True(t, ok)
	assert.Equal(t, []string{"gopls"}, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c, err := New[bool](50 * time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	c.Set("node", true)
	_, ok := c.Get("node")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := c.Get("node")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCache_ClearAndDelete(t *testing.T) {
	c, err := New[int](0)
	require.NoError(t, err)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_GetOrCompute(t *testing.T) {
	c, err := New[int](0)
	require.NoError(t, err)
	defer c.Close()

	calls := 0
	compute := func() int {
		calls++
		return 42
	}
	assert.Equal(t, 42, c.GetOrCompute("k", compute))
	assert.Equal(t, 42, c.GetOrCompute("k", compute))
	assert.Equal(t, 1, calls)
}
