// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPostForm(t *testing.T) {
	t.Parallel()

	messageXML := []byte(`<samlp:AuthnRequest ID="_req"/>`)
	page, err := renderPostForm("https://idp.esempio.it/sso", "SAMLRequest", messageXML, "/dopo-login")
	require.NoError(t, err)

	html := string(page)
	assert.Contains(t, html, `action="https://idp.esempio.it/sso"`)
	assert.Contains(t, html, `name="SAMLRequest"`)
	assert.Contains(t, html, `name="RelayState" value="/dopo-login"`)

	encoded := base64.StdEncoding.EncodeToString(messageXML)
	assert.Contains(t, html, encoded)
}

func TestRenderPostFormWithoutRelayState(t *testing.T) {
	t.Parallel()

	page, err := renderPostForm("https://idp.esempio.it/slo", "SAMLResponse", []byte("<x/>"), "")
	require.NoError(t, err)
	assert.NotContains(t, string(page), "RelayState")
	assert.Contains(t, string(page), `name="SAMLResponse"`)
}
