// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package handler

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spidsaml "github.com/spid-go/spidsaml"
	"github.com/spid-go/spidsaml/test"
)

// memorySessions is a SessionStore keeping one session for the whole test.
type memorySessions struct {
	mu      sync.Mutex
	session *spidsaml.Session
}

func (m *memorySessions) Get(*http.Request) (*spidsaml.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

func (m *memorySessions) Set(_ http.ResponseWriter, _ *http.Request, s *spidsaml.Session, _ map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	return nil
}

func (m *memorySessions) Delete(http.ResponseWriter, *http.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *memorySessions, *test.TestProvider) {
	t.Helper()

	pair, _ := test.GenerateKeyPair(t, "test-sp")
	dir := t.TempDir()
	certFile := filepath.Join(dir, "sp.crt")
	keyFile := filepath.Join(dir, "sp.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: pair.Certificate[0]})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))
	key := pair.PrivateKey.(*rsa.PrivateKey)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	tp := test.StartTestProvider(t)

	store := spidsaml.NewStaticStore()
	require.NoError(t, store.Add(tp.EntityDescriptor()))

	sp, err := spidsaml.NewServiceProvider(&spidsaml.Config{
		Organization: spidsaml.Organization{
			Name:        "Comune di Esempio",
			DisplayName: "Comune di Esempio",
			URL:         "https://comune.esempio.it",
		},
		Contacts: []spidsaml.ContactPerson{
			{Type: "other", Email: "spid@comune.esempio.it", IPACode: "c_e123"},
		},
		CertFile: certFile,
		KeyFile:  keyFile,
	}, store)
	require.NoError(t, err)

	sessions := &memorySessions{}
	h, err := New(sp, sessions)
	require.NoError(t, err)
	return h, sessions, tp
}

func TestHandlerMetadata(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/metadata", nil)
	w := httptest.NewRecorder()
	h.Metadata(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "https://sp.esempio.it/metadata")
	assert.Contains(t, w.Body.String(), "Signature")
}

func TestHandlerMetadataFollowsHost(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "https://altro.esempio.it/metadata", nil)
	w := httptest.NewRecorder()
	h.Metadata(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://altro.esempio.it/metadata")
}

func TestHandlerLogin(t *testing.T) {
	t.Parallel()

	h, _, tp := newTestHandler(t)

	t.Run("missing idp parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/login", nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown idp", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet,
			"https://sp.esempio.it/login?idp=https%3A%2F%2Fsconosciuto.esempio.it", nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("POST binding serves the self-submitting form", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet,
			"https://sp.esempio.it/login?idp="+tp.EntityID(), nil)
		w := httptest.NewRecorder()
		h.Login(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `name="SAMLRequest"`)
		assert.Contains(t, w.Body.String(), tp.SSOURL())
	})
}

func TestHandlerACSMethod(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/acs", nil)
	w := httptest.NewRecorder()
	h.ACS(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSafeRelayState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		next string
		ok   bool
	}{
		{"", true},
		{"/", true},
		{"/area-riservata", true},
		{"/area-riservata?tab=1", true},
		{"https://evil.example.com/", false},
		{"//evil.example.com/", false},
		{"/\\evil.example.com", false},
		{"area-riservata", false},
		{"javascript:alert(1)", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, safeRelayState(tt.next), "RelayState %q", tt.next)
	}
}

func TestHandlerLogoutWithoutSession(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerLogoutWithSession(t *testing.T) {
	t.Parallel()

	h, sessions, tp := newTestHandler(t)
	require.NoError(t, sessions.Set(nil, nil, &spidsaml.Session{
		IDPEntityID:    tp.EntityID(),
		NameID:         "_transient_id",
		SessionIndexes: []string{"_session_1"},
	}, nil))

	r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `name="SAMLRequest"`)
	assert.Contains(t, w.Body.String(), tp.SLOURL())
}

func TestHandlerSLOWithoutMessage(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)

	r := httptest.NewRequest(http.MethodGet, "https://sp.esempio.it/slo", nil)
	w := httptest.NewRecorder()
	h.SLO(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
