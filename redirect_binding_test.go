// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"encoding/base64"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeflateRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "simple", payload: "<samlp:AuthnRequest ID=\"_abc\"/>"},
		{name: "empty", payload: ""},
		{name: "unicode", payload: "già autenticato à è ì ò ù"},
		{name: "repetitive", payload: strings.Repeat("<Attribute/>", 500)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deflated, err := Deflate([]byte(tt.payload))
			require.NoError(t, err)
			inflated, err := Inflate(deflated)
			require.NoError(t, err)
			assert.Equal(t, []byte(tt.payload), inflated)
		})
	}
}

func TestDecodeRedirectMessage(t *testing.T) {
	t.Parallel()

	payload := []byte("<samlp:LogoutRequest/>")
	deflated, err := Deflate(payload)
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(deflated)

	decoded, err := DecodeRedirectMessage(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	_, err = DecodeRedirectMessage("not base64 at all!")
	require.Error(t, err)
}

func TestBuildRedirectURL(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t)
	messageXML := []byte(`<samlp:AuthnRequest ID="_req"/>`)

	redirectURL, err := sp.buildRedirectURL("https://idp.esempio.it/sso", "SAMLRequest", messageXML, "state")
	require.NoError(t, err)

	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	q := u.Query()

	t.Run("message round-trips through the query", func(t *testing.T) {
		decoded, err := DecodeRedirectMessage(q.Get("SAMLRequest"))
		require.NoError(t, err)
		assert.Equal(t, messageXML, decoded)
	})

	t.Run("signature parameters present", func(t *testing.T) {
		assert.Equal(t, "state", q.Get("RelayState"))
		assert.Equal(t, SignatureRSASHA256, q.Get("SigAlg"))
		assert.NotEmpty(t, q.Get("Signature"))
	})

	t.Run("signature verifies against the signer certificate", func(t *testing.T) {
		certB64 := base64.StdEncoding.EncodeToString(sp.keyPair.Certificate[0])
		require.NoError(t, VerifyRedirectSignature(u.RawQuery, []string{certB64}))
	})

	t.Run("tampering breaks the signature", func(t *testing.T) {
		certB64 := base64.StdEncoding.EncodeToString(sp.keyPair.Certificate[0])
		tampered := strings.Replace(u.RawQuery, "RelayState=state", "RelayState=evil", 1)
		require.Error(t, VerifyRedirectSignature(tampered, []string{certB64}))
	})

	t.Run("wrong certificate does not verify", func(t *testing.T) {
		other := newTestSP(t)
		certB64 := base64.StdEncoding.EncodeToString(other.keyPair.Certificate[0])
		require.Error(t, VerifyRedirectSignature(u.RawQuery, []string{certB64}))
	})
}

func TestVerifyRedirectSignatureMissingParameters(t *testing.T) {
	t.Parallel()

	err := VerifyRedirectSignature("SAMLRequest=abc&SigAlg=alg", nil)
	require.ErrorIs(t, err, ErrProtocolMessage)

	err = VerifyRedirectSignature("SAMLRequest=abc&Signature=sig", nil)
	require.ErrorIs(t, err, ErrProtocolMessage)
}

func TestBuildRedirectURLAppendsToExistingQuery(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t)
	redirectURL, err := sp.buildRedirectURL("https://idp.esempio.it/sso?tenant=1", "SAMLRequest",
		[]byte("<x/>"), "")
	require.NoError(t, err)
	assert.Contains(t, redirectURL, "sso?tenant=1&SAMLRequest=")
	assert.NotContains(t, redirectURL, "RelayState=")
}
