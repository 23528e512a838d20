// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spid-go/spidsaml/models/core"
)

func TestCreateAuthnRequest(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t, testIDP(t))

	ar, err := sp.CreateAuthnRequest(testIDPEntityID, core.ServiceBindingHTTPPost)
	require.NoError(t, err)

	assert.Equal(t, "_", ar.ID[:1])
	assert.Equal(t, core.SAMLVersion2, ar.Version)
	assert.False(t, ar.IssueInstant.IsZero())
	assert.Equal(t, testIDPEntityID+"/sso", ar.Destination)

	t.Run("issuer uses the entity format", func(t *testing.T) {
		require.NotNil(t, ar.Issuer)
		assert.Equal(t, testSPEntityID, ar.Issuer.Value)
		assert.Equal(t, testSPEntityID, ar.Issuer.NameQualifier)
		assert.Equal(t, core.NameIDFormatEntity, ar.Issuer.Format)
	})

	t.Run("force authn is always requested", func(t *testing.T) {
		assert.True(t, ar.ForceAuthn)
		assert.False(t, ar.IsPassive)
	})

	t.Run("context comparison is always exact", func(t *testing.T) {
		require.NotNil(t, ar.RequestedAuthnContext)
		assert.Equal(t, core.ComparisonExact, ar.RequestedAuthnContext.Comparison)
		assert.Equal(t, []string{AuthnContextSpidL2}, ar.RequestedAuthnContext.AuthnContextClassRef)
	})

	t.Run("references the primary attribute set", func(t *testing.T) {
		assert.Equal(t, "0", ar.AttributeConsumingServiceIndex)
	})

	t.Run("subject format is transient", func(t *testing.T) {
		require.NotNil(t, ar.NameIDPolicy)
		assert.Equal(t, core.NameIDFormatTransient, ar.NameIDPolicy.Format)
	})

	t.Run("response always returns over POST", func(t *testing.T) {
		assert.Equal(t, testACSURL, ar.AssertionConsumerServiceURL)
		assert.Equal(t, core.ServiceBindingHTTPPost, ar.ProtocolBinding)
	})
}

func TestCreateAuthnRequestLevelOverride(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t, testIDP(t))

	ar, err := sp.CreateAuthnRequest(testIDPEntityID, core.ServiceBindingHTTPPost,
		WithAuthnContextClass(AuthnContextSpidL3))
	require.NoError(t, err)
	assert.Equal(t, []string{AuthnContextSpidL3}, ar.RequestedAuthnContext.AuthnContextClassRef)
}

func TestCreateAuthnRequestUnknownIDP(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t)
	_, err := sp.CreateAuthnRequest("https://sconosciuto.esempio.it", core.ServiceBindingHTTPPost)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCreateAuthnRequestXML(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t, testIDP(t))
	ar, err := sp.CreateAuthnRequest(testIDPEntityID, core.ServiceBindingHTTPPost)
	require.NoError(t, err)

	raw, err := ar.CreateXMLDocument()
	require.NoError(t, err)

	doc := string(raw)
	assert.Contains(t, doc, `ForceAuthn="true"`)
	assert.Contains(t, doc, `AttributeConsumingServiceIndex="0"`)
	assert.Contains(t, doc, `Comparison="exact"`)
	assert.Contains(t, doc, AuthnContextSpidL2)
	assert.NotContains(t, doc, "IsPassive")
}

func TestAuthnRequestPost(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t, testIDP(t))
	page, id, err := sp.AuthnRequestPost(testIDPEntityID, "/landing")
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, `name="SAMLRequest"`)
	assert.Contains(t, html, `name="RelayState" value="/landing"`)
	assert.Contains(t, html, testIDPEntityID+"/sso")

	assert.True(t, sp.Outstanding().Consume(id), "the request ID must be recorded as outstanding")
}

func TestAuthnRequestRedirect(t *testing.T) {
	t.Parallel()

	sp := newTestSP(t, testIDP(t))
	redirectURL, id, err := sp.AuthnRequestRedirect(testIDPEntityID, "/landing")
	require.NoError(t, err)

	assert.Contains(t, redirectURL, testIDPEntityID+"/sso?")
	assert.Contains(t, redirectURL, "SAMLRequest=")
	assert.Contains(t, redirectURL, "RelayState=")
	assert.Contains(t, redirectURL, "SigAlg=")
	assert.Contains(t, redirectURL, "Signature=")

	assert.True(t, sp.Outstanding().Consume(id))
}
