// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"encoding/xml"

	"github.com/spid-go/spidsaml/models/core"
)

// IDPSSODescriptor contains the profiles of an identity provider supporting
// SSO. It extends SSODescriptor.
// See 2.4.3 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type IDPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`

	SSODescriptor

	WantAuthnRequestsSigned bool `xml:",attr"`
	SingleSignOnService     []Endpoint
}

// EntityDescriptorIDPSSO is an EntityDescriptor restricted to identity
// provider roles, the shape of every document in the SPID metadata store.
type EntityDescriptorIDPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	IDPSSODescriptor []*IDPSSODescriptor
}

// SSOLocationForBinding returns the single-sign-on location advertised for
// the given binding.
func (e *EntityDescriptorIDPSSO) SSOLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, desc := range e.IDPSSODescriptor {
		for _, sso := range desc.SingleSignOnService {
			if sso.Binding == b {
				return sso.Location, true
			}
		}
	}
	return "", false
}

// SLOLocationForBinding returns the single-logout location advertised for
// the given binding.
func (e *EntityDescriptorIDPSSO) SLOLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, desc := range e.IDPSSODescriptor {
		if loc, ok := desc.SSODescriptor.SLOLocationForBinding(b); ok {
			return loc, true
		}
	}
	return "", false
}

// SigningCertificates returns the base64 X509 certificate data usable for
// signature verification. Keys without an explicit use also count, as the
// metadata schema allows.
func (e *EntityDescriptorIDPSSO) SigningCertificates() []string {
	var certs []string
	for _, desc := range e.IDPSSODescriptor {
		for _, kd := range desc.KeyDescriptor {
			if kd.Use != "" && kd.Use != KeyTypeSigning {
				continue
			}
			for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
				certs = append(certs, xcert.Data)
			}
		}
	}
	return certs
}
