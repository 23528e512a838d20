// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"time"
)

const (
	// ComparisonExact requests an authentication context that exactly matches
	// one of the supplied class references. SPID mandates exact comparison.
	ComparisonExact = "exact"

	// ComparisonMinimum requests a context at least as strong as the supplied
	// ones. Kept for completeness; SPID requests never use it.
	ComparisonMinimum = "minimum"
)

// AuthnRequest is the SP-to-IdP message initiating authentication.
// See 3.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`

	RequestResponseCommon

	NameIDPolicy          *NameIDPolicy
	RequestedAuthnContext *RequestedAuthnContext

	// ForceAuthn tells the identity provider it MUST authenticate the
	// presenter directly rather than rely on a previous security context.
	// SPID sets it on every request.
	ForceAuthn bool `xml:",attr"`
	IsPassive  bool `xml:",attr,omitempty"`

	AssertionConsumerServiceURL string `xml:",attr,omitempty"`

	// ProtocolBinding identifies the binding to be used when returning the
	// Response message.
	ProtocolBinding ServiceBinding `xml:",attr,omitempty"`

	// AttributeConsumingServiceIndex selects the requested-attributes set
	// published in the SP metadata. The primary set has index "0".
	AttributeConsumingServiceIndex string `xml:",attr,omitempty"`

	ProviderName string `xml:",attr,omitempty"`
}

// NameIDPolicy constrains the name identifier used to represent the subject.
// See 3.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDPolicy struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`

	Format          NameIDFormat `xml:",attr,omitempty"`
	SPNameQualifier string       `xml:",attr,omitempty"`
	AllowCreate     bool         `xml:",attr,omitempty"`
}

// RequestedAuthnContext specifies the authentication context requirements the
// requester places on the responding provider.
type RequestedAuthnContext struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol RequestedAuthnContext"`

	Comparison           string   `xml:",attr,omitempty"`
	AuthnContextClassRef []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// Subject specifies the requested subject of the resulting assertion(s).
// See 2.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Subject struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`

	NameID              *NameID
	EncryptedID         *EncryptedID
	SubjectConfirmation []*SubjectConfirmation
}

// See 2.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmation struct {
	Method ConfirmationMethod `xml:",attr"` // required

	SubjectConfirmationData *SubjectConfirmationData
}

// See 2.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmationData struct {
	NotBefore    time.Time `xml:",attr,omitempty"`
	NotOnOrAfter time.Time `xml:",attr,omitempty"`
	Recipient    string    `xml:",attr,omitempty"`
	InResponseTo string    `xml:",attr,omitempty"`
	Address      string    `xml:",attr,omitempty"`
}

// CreateXMLDocument marshals the request.
func (a *AuthnRequest) CreateXMLDocument() ([]byte, error) {
	return xml.Marshal(a)
}
