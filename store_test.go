// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOutstanding(t *testing.T) {
	t.Parallel()

	t.Run("consume removes the entry", func(t *testing.T) {
		store := NewMemoryOutstanding()
		store.Add("_req1")
		store.Add("_req2")

		assert.ElementsMatch(t, []string{"_req1", "_req2"}, store.IDs())
		assert.True(t, store.Consume("_req1"))
		assert.False(t, store.Consume("_req1"), "a consumed ID must not match again")
		assert.Equal(t, []string{"_req2"}, store.IDs())
	})

	t.Run("unknown and empty IDs", func(t *testing.T) {
		store := NewMemoryOutstanding()
		assert.False(t, store.Consume("_never_added"))

		store.Add("")
		assert.Empty(t, store.IDs())
	})

	t.Run("entries expire", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		store := NewMemoryOutstanding(
			WithOutstandingTTL(time.Minute),
			WithClock(clock),
		)

		store.Add("_req")
		clock.Advance(59 * time.Second)
		require.Equal(t, []string{"_req"}, store.IDs())

		clock.Advance(2 * time.Second)
		assert.False(t, store.Consume("_req"))
		assert.Empty(t, store.IDs())
	})
}
