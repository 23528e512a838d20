// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spid-go/spidsaml/test"
)

func testIDPMetadataXML(t *testing.T, entityID string) []byte {
	t.Helper()

	_, certB64 := test.GenerateKeyPair(t, "test-idp")
	idp := test.NewIdentityProvider(entityID, entityID+"/sso", entityID+"/slo", certB64)
	raw, err := xml.Marshal(idp)
	require.NoError(t, err)
	return raw
}

func TestLoadIdentityProviders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "idp1.xml"),
		testIDPMetadataXML(t, "https://idp1.esempio.it"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "idp2.xml"),
		testIDPMetadataXML(t, "https://idp2.esempio.it"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("not metadata"), 0o600))

	store, err := LoadIdentityProviders(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://idp1.esempio.it", "https://idp2.esempio.it"}, store.EntityIDs())

	idp, ok := store.EntityDescriptor("https://idp1.esempio.it")
	require.True(t, ok)
	loc, ok := idp.SSOLocationForBinding("urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST")
	require.True(t, ok)
	assert.Equal(t, "https://idp1.esempio.it/sso", loc)
}

func TestLoadIdentityProvidersBrokenFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.xml"),
		testIDPMetadataXML(t, "https://idp.esempio.it"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xml"),
		[]byte("<EntityDescriptor"), 0o600))

	store, err := LoadIdentityProviders(dir)
	require.Error(t, err, "the broken file is reported")
	assert.Equal(t, []string{"https://idp.esempio.it"}, store.EntityIDs(),
		"the valid one still loads")
}

func TestParseIdentityProviderMetadata(t *testing.T) {
	t.Parallel()

	t.Run("rejects a document without IdP role", func(t *testing.T) {
		_, err := ParseIdentityProviderMetadata([]byte(
			`<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata" entityID="https://x"/>`))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("rejects a document without entityID", func(t *testing.T) {
		_, err := ParseIdentityProviderMetadata([]byte(
			`<EntityDescriptor xmlns="urn:oasis:names:tc:SAML:2.0:metadata"/>`))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})
}

func TestFetchIdentityProviderMetadata(t *testing.T) {
	t.Parallel()

	raw := testIDPMetadataXML(t, "https://idp.esempio.it")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(server.Close)

	idp, err := FetchIdentityProviderMetadata(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.esempio.it", idp.EntityID)

	t.Run("non-200 is an error", func(t *testing.T) {
		failing := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(failing.Close)
		_, err := FetchIdentityProviderMetadata(context.Background(), failing.Client(), failing.URL)
		require.Error(t, err)
	})
}

func TestRegistryIdentityProviders(t *testing.T) {
	t.Parallel()

	goodMeta := testIDPMetadataXML(t, "https://idp1.esempio.it")
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata/idp1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(goodMeta)
	})
	mux.HandleFunc("/metadata/idp2", http.NotFound)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/registry", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"entity_id":"https://idp1.esempio.it","metadata_url":"` + server.URL + `/metadata/idp1"},
			{"entity_id":"https://idp2.esempio.it","metadata_url":"` + server.URL + `/metadata/idp2"}
		]}`))
	})

	store, err := RegistryIdentityProviders(context.Background(), server.Client(), server.URL+"/registry")
	require.Error(t, err, "the unreachable IdP is reported")
	assert.Equal(t, []string{"https://idp1.esempio.it"}, store.EntityIDs(),
		"the reachable one still loads")

	t.Run("malformed registry body", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		t.Cleanup(bad.Close)
		_, err := RegistryIdentityProviders(context.Background(), bad.Client(), bad.URL)
		require.Error(t, err)
	})
}

func TestStaticStore(t *testing.T) {
	t.Parallel()

	store := NewStaticStore()
	require.Error(t, store.Add(nil))

	_, ok := store.EntityDescriptor("https://idp.esempio.it")
	assert.False(t, ok)
	assert.Empty(t, store.EntityIDs())
}
