// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

// Package test provides a minimal in-memory SPID identity provider for
// tests: generated key material, metadata, and an httptest server that
// records the requests it receives.
package test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	dsigtypes "github.com/russellhaering/goxmldsig/types"
	"github.com/stretchr/testify/require"

	"github.com/spid-go/spidsaml/models/core"
	"github.com/spid-go/spidsaml/models/metadata"
)

// GenerateKeyPair creates an RSA key with a self-signed certificate. It
// returns the pair in tls form plus the base64 DER certificate as published
// in metadata documents.
func GenerateKeyPair(t testing.TB, commonName string) (tls.Certificate, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	pair := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}
	return pair, base64.StdEncoding.EncodeToString(der)
}

// NewIdentityProvider builds an IdP entity descriptor publishing the given
// endpoints for both the POST and Redirect bindings.
func NewIdentityProvider(entityID, ssoURL, sloURL, certB64 string) *metadata.EntityDescriptorIDPSSO {
	keyInfo := metadata.KeyInfo{}
	keyInfo.X509Data.X509Certificates = []dsigtypes.X509Certificate{{Data: certB64}}

	return &metadata.EntityDescriptorIDPSSO{
		EntityDescriptor: metadata.EntityDescriptor{
			EntityID: entityID,
		},
		IDPSSODescriptor: []*metadata.IDPSSODescriptor{
			{
				SSODescriptor: metadata.SSODescriptor{
					RoleDescriptor: metadata.RoleDescriptor{
						ProtocolSupportEnumeration: metadata.ProtocolSupportEnumerationProtocol,
						KeyDescriptor: []metadata.KeyDescriptor{
							{Use: metadata.KeyTypeSigning, KeyInfo: keyInfo},
						},
					},
					SingleLogoutService: []metadata.Endpoint{
						{Binding: core.ServiceBindingHTTPPost, Location: sloURL},
						{Binding: core.ServiceBindingHTTPRedirect, Location: sloURL},
					},
					NameIDFormat: []core.NameIDFormat{core.NameIDFormatTransient},
				},
				WantAuthnRequestsSigned: true,
				SingleSignOnService: []metadata.Endpoint{
					{Binding: core.ServiceBindingHTTPPost, Location: ssoURL},
					{Binding: core.ServiceBindingHTTPRedirect, Location: ssoURL},
				},
			},
		},
	}
}

// TestProvider is an httptest-backed identity provider recording what it
// receives on its SSO and SLO endpoints.
type TestProvider struct {
	t       testing.TB
	server  *httptest.Server
	keyPair tls.Certificate
	certB64 string

	mu       sync.Mutex
	received []ReceivedMessage
}

// ReceivedMessage is one message delivered to the provider, either as form
// fields (POST binding) or query parameters (redirect binding).
type ReceivedMessage struct {
	Endpoint   string
	Query      url.Values
	RawQuery   string
	Form       url.Values
	SAMLField  string
	RelayState string
}

// StartTestProvider boots the fake IdP. The server is torn down with the
// test.
func StartTestProvider(t testing.TB) *TestProvider {
	t.Helper()

	keyPair, certB64 := GenerateKeyPair(t, "test-idp")
	tp := &TestProvider{t: t, keyPair: keyPair, certB64: certB64}

	mux := http.NewServeMux()
	mux.HandleFunc("/sso", tp.record("/sso"))
	mux.HandleFunc("/slo", tp.record("/slo"))
	tp.server = httptest.NewServer(mux)
	t.Cleanup(tp.server.Close)

	return tp
}

func (tp *TestProvider) record(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.NoError(tp.t, r.ParseForm())

		msg := ReceivedMessage{
			Endpoint: endpoint,
			Query:    r.URL.Query(),
			RawQuery: r.URL.RawQuery,
			Form:     r.PostForm,
		}
		for _, field := range []string{"SAMLRequest", "SAMLResponse"} {
			if msg.Form.Get(field) != "" || msg.Query.Get(field) != "" {
				msg.SAMLField = field
			}
		}
		msg.RelayState = msg.Form.Get("RelayState")
		if msg.RelayState == "" {
			msg.RelayState = msg.Query.Get("RelayState")
		}

		tp.mu.Lock()
		tp.received = append(tp.received, msg)
		tp.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

// EntityID returns the provider's entity identifier.
func (tp *TestProvider) EntityID() string {
	return tp.server.URL + "/metadata"
}

// SSOURL and SLOURL return the provider's endpoint locations.
func (tp *TestProvider) SSOURL() string { return tp.server.URL + "/sso" }
func (tp *TestProvider) SLOURL() string { return tp.server.URL + "/slo" }

// KeyPair returns the provider's signing key pair.
func (tp *TestProvider) KeyPair() tls.Certificate { return tp.keyPair }

// Certificate returns the base64 DER signing certificate.
func (tp *TestProvider) Certificate() string { return tp.certB64 }

// EntityDescriptor returns the provider's metadata.
func (tp *TestProvider) EntityDescriptor() *metadata.EntityDescriptorIDPSSO {
	return NewIdentityProvider(tp.EntityID(), tp.SSOURL(), tp.SLOURL(), tp.certB64)
}

// Received returns a copy of the messages delivered so far.
func (tp *TestProvider) Received() []ReceivedMessage {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	out := make([]ReceivedMessage, len(tp.received))
	copy(out, tp.received)
	return out
}
