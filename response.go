// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"

	dsig "github.com/russellhaering/goxmldsig"

	"github.com/spid-go/spidsaml/models/core"
	"github.com/spid-go/spidsaml/models/metadata"
)

// ParseResponse handles the form body POSTed to the ACS endpoint. It
// decodes the SAMLResponse field, resolves the issuing IdP, verifies the
// XML signatures against the IdP's published certificates, maps failure
// statuses to SPID anomalies and finally runs the conformance battery. The
// correlated request ID is consumed so a replay cannot validate twice.
func (sp *ServiceProvider) ParseResponse(form url.Values) (*core.Response, error) {
	const op = "spidsaml.ServiceProvider.ParseResponse"

	encoded := form.Get("SAMLResponse")
	if encoded == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrProtocolMessage)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot decode SAMLResponse: %w", op, err)
	}

	resp := &core.Response{}
	if err := xml.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("%s: cannot parse response: %w", op, err)
	}
	if resp.Issuer == nil || resp.Issuer.Value == "" {
		return nil, fmt.Errorf("%s: response has no Issuer: %w", op, ErrProtocolMessage)
	}

	idp, ok := sp.idps.EntityDescriptor(resp.Issuer.Value)
	if !ok {
		return nil, fmt.Errorf("%s: issuer %q: %w", op, resp.Issuer.Value, ErrUnknownProvider)
	}

	// Failure statuses carry the anomaly identifier in the status message
	// and no assertion, so they are mapped before signature checks.
	if !resp.Status.Success() {
		if anomaly, found := FromStatusMessage(resp.Status.StatusMessage); found {
			sp.logger.Info("authentication refused", "idp", resp.Issuer.Value,
				"anomaly", anomaly.Code)
			return resp, &anomaly
		}
		return resp, fmt.Errorf("%s: authentication failed with status %s",
			op, resp.Status.StatusCode.Value)
	}

	if err := sp.verifySignedResponse(encoded, idp); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx := sp.cfg.ValidationContext("", resp.Issuer.Value)
	ctx.Outstanding = sp.outstanding.IDs()
	if outcome := Validate(resp, ctx); !outcome.Valid {
		return nil, fmt.Errorf("%s: check %s failed: %w", op, outcome.CheckName, outcome.Err)
	}

	if !sp.outstanding.Consume(resp.InResponseTo) {
		return nil, fmt.Errorf("%s: %w: %q already consumed", op, ErrInResponseToMismatch,
			resp.InResponseTo)
	}

	sp.logger.Debug("response accepted", "idp", resp.Issuer.Value, "in_response_to", resp.InResponseTo)
	return resp, nil
}

// verifySignedResponse delegates XML signature verification (and
// EncryptedAssertion handling) to gosaml2 with the IdP's signing
// certificates as trust roots.
func (sp *ServiceProvider) verifySignedResponse(encodedResponse string, idp *metadata.EntityDescriptorIDPSSO) error {
	const op = "spidsaml.ServiceProvider.verifySignedResponse"

	verifier, err := sp.samlVerifier(idp)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := verifier.ValidateEncodedResponse(encodedResponse); err != nil {
		return fmt.Errorf("%s: signature validation failed: %w", op, err)
	}
	return nil
}

// certificateStore parses the IdP's signing certificates into a verification
// trust store.
func certificateStore(idp *metadata.EntityDescriptorIDPSSO) (*dsig.MemoryX509CertificateStore, error) {
	const op = "spidsaml.certificateStore"

	store := &dsig.MemoryX509CertificateStore{}
	for _, certData := range idp.SigningCertificates() {
		der, err := base64.StdEncoding.DecodeString(removeWhitespace(certData))
		if err != nil {
			return nil, fmt.Errorf("%s: cannot decode certificate of %q: %w", op, idp.EntityID, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%s: cannot parse certificate of %q: %w", op, idp.EntityID, err)
		}
		store.Roots = append(store.Roots, cert)
	}
	if len(store.Roots) == 0 {
		return nil, fmt.Errorf("%s: %q publishes no signing certificate: %w",
			op, idp.EntityID, ErrConfiguration)
	}
	return store, nil
}
