package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter(t *testing.T) {
	_, err := NewCounter(1)
	require.Error(t, err)

	c, err := NewCounter(5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Threshold)
}

func TestIncrementDecrementInvertible(t *testing.T) {
	for _, threshold := range []int{2, 5, 6, 10} {
		c := Counter{Threshold: threshold}
		for p := 0; p < threshold; p++ {
			next, reset := c.Increment(p)
			back, undone := c.Decrement(next)

			assert.Equal(t, p, back, "threshold %d, start %d", threshold, p)
			assert.Equal(t, reset, undone, "threshold %d, start %d", threshold, p)
			assert.Equal(t, p == threshold-1, reset, "threshold %d, start %d", threshold, p)
		}
	}
}

func TestIncrementSequence(t *testing.T) {
	c := Counter{Threshold: DefaultThreshold}

	p, total, resets := 0, 0, 0
	for n := 1; n <= 20; n++ {
		var reset bool
		p, reset = c.Increment(p)
		total = IncrementTotal(total)
		if reset {
			resets++
		}

		assert.Equal(t, n%DefaultThreshold, p)
		assert.Equal(t, n, total)
	}
	assert.Equal(t, 20/DefaultThreshold, resets)
}

func TestDecrementFromZero(t *testing.T) {
	c := Counter{Threshold: 5}

	next, undone := c.Decrement(0)
	assert.Equal(t, 4, next)
	assert.True(t, undone)
}

func TestNormalizeOutOfRange(t *testing.T) {
	c := Counter{Threshold: 5}

	// значение, сохранённое при большем пороге
	next, reset := c.Increment(7)
	assert.Equal(t, 3, next)
	assert.False(t, reset)

	next, _ = c.Decrement(-1)
	assert.Equal(t, 3, next)
}

func TestDecrementTotal(t *testing.T) {
	assert.Equal(t, 0, DecrementTotal(0))
	assert.Equal(t, 4, DecrementTotal(5))
}
