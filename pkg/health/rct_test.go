package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRCT_FailsAtCutoff(t *testing.T) {
	r := NewRCT(5, 0)
	for i := 0; i < 4; i++ {
		r.Feed(true)
		assert.False(t, r.Failed())
	}
	r.Feed(true)
	assert.True(t, r.Failed())
	assert.Equal(t, StatusFailed, r.Status())
}

func TestRCT_NonStuckResetsCount(t *testing.T) {
	r := NewRCT(5, 0)
	r.Feed(true)
	r.Feed(true)
	r.Feed(false)
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Failed())
}

func TestRCT_FailureIsSticky(t *testing.T) {
	r := NewRCT(2, 0)
	r.Feed(true)
	r.Feed(true)
	assert.True(t, r.Failed())
	r.Feed(false)
	assert.True(t, r.Failed(), "a permanent failure must never clear")
}

func TestRCT_IntermittentWarningBeforeFailure(t *testing.T) {
	r := NewRCT(100, 3)
	r.Feed(true)
	r.Feed(true)
	r.Feed(true)
	assert.Equal(t, StatusWarning, r.Status())
	assert.False(t, r.Failed())
}

func TestRCT_DefaultCutoffWhenNonPositive(t *testing.T) {
	r := NewRCT(0, 0)
	for i := 0; i < RCTCutoffFIPS-1; i++ {
		r.Feed(true)
	}
	assert.False(t, r.Failed())
	r.Feed(true)
	assert.True(t, r.Failed())
}
