// ABOUTME: Tests for the seen-event TTL cache.
// ABOUTME: Validates check/mark semantics, expiry, and size bounding.

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("$e1"), "first sighting is not a duplicate")
	assert.True(t, c.CheckAndMark("$e1"), "second sighting is a duplicate")
	assert.True(t, c.Check("$e1"))
	assert.False(t, c.Check("$e2"))
}

func TestExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	c.Mark("$e1")
	assert.True(t, c.Check("$e1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Check("$e1"), "entry must expire after TTL")
	assert.False(t, c.CheckAndMark("$e1"), "expired entry can be re-marked")
}

func TestSizeBound(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Mark(fmt.Sprintf("$e%d", i))
	}

	assert.False(t, c.Check("$e0"), "oldest entries evicted at capacity")
	assert.False(t, c.Check("$e1"))
	assert.True(t, c.Check("$e4"))
}

func TestCloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
