package correlator

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecentEvictsOldest(t *testing.T) {
	r := newRecent(3)

	for i := range 4 {
		r.add(strconv.Itoa(i))
	}

	assert.False(t, r.has("0"))
	assert.True(t, r.has("1"))
	assert.True(t, r.has("3"))

	r.add("3")
	assert.True(t, r.has("1"), "re-adding a known id must not evict")
}
