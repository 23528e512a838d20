// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAnomaly(t *testing.T) {
	t.Parallel()

	t.Run("known user-facing code", func(t *testing.T) {
		a, ok := LookupAnomaly(19)
		require.True(t, ok)
		assert.Equal(t, 19, a.Code)
		assert.Equal(t, "Autenticazione fallita per ripetuta sottomissione di credenziali errate", a.Message)
		assert.NotEmpty(t, a.Troubleshoot)
	})

	t.Run("known internal code carries no user text", func(t *testing.T) {
		a, ok := LookupAnomaly(5)
		require.True(t, ok)
		assert.Empty(t, a.Message)
		assert.Equal(t, "Accesso negato", a.UserMessage())
	})

	t.Run("unknown code", func(t *testing.T) {
		_, ok := LookupAnomaly(99)
		assert.False(t, ok)
	})
}

func TestFromStatusMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		message  string
		wantCode int
		wantOK   bool
	}{
		{
			name:     "bare token",
			message:  "ErrorCode nr19",
			wantCode: 19,
			wantOK:   true,
		},
		{
			name:     "token inside surrounding text",
			message:  "authentication failed: ErrorCode nr22 reported by IdP",
			wantCode: 22,
			wantOK:   true,
		},
		{
			name:    "no token",
			message: "no code here",
		},
		{
			name:    "token with unknown code",
			message: "ErrorCode nr99",
		},
		{
			name:    "empty message",
			message: "",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a, ok := FromStatusMessage(tt.message)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantCode, a.Code)
			}
		})
	}
}

func TestAnomalyRoundTrip(t *testing.T) {
	t.Parallel()

	// every registered code must resolve from its own token form
	for code := 1; code <= 30; code++ {
		a, ok := LookupAnomaly(code)
		if !ok {
			continue
		}
		got, ok := FromStatusMessage(a.StatusMessage())
		require.True(t, ok, "code %d", code)
		assert.Equal(t, code, got.Code)
	}
}

func TestAnomalyAsError(t *testing.T) {
	t.Parallel()

	a, ok := LookupAnomaly(21)
	require.True(t, ok)

	err := fmt.Errorf("authentication refused: %w", &a)

	var anomaly *Anomaly
	require.True(t, errors.As(err, &anomaly))
	assert.Equal(t, 21, anomaly.Code)
	assert.Contains(t, anomaly.Error(), "Timeout durante l'autenticazione utente")
}
