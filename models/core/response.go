// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"time"
)

// Response is the IdP-to-SP message carrying the authentication result and
// zero or more assertions.
// See 3.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Response struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`

	StatusResponseType

	Assertion []*Assertion
}

// StatusResponseType is the base type of all SAML responses.
// See 3.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusResponseType struct {
	RequestResponseCommon

	InResponseTo string `xml:",attr,omitempty"`
	Status       Status
}

// See 3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Status struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`

	StatusCode    StatusCode
	StatusMessage string `xml:"StatusMessage,omitempty"`
}

// See 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`

	Value StatusCodeType `xml:",attr"`

	// Second-level code, present on some failure responses.
	StatusCode *StatusCode
}

// Success reports whether the top-level status code is the success URN.
func (s *Status) Success() bool {
	return s.StatusCode.Value == StatusCodeSuccess
}

// Assertion is a signed IdP statement about a subject.
// See 2.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Assertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`

	Version      string    `xml:",attr"` // required
	ID           string    `xml:",attr"` // required
	IssueInstant time.Time `xml:",attr"` // required

	Issuer     *Issuer
	Subject    *Subject
	Conditions *Conditions

	AuthnStatement     []*AuthnStatement
	AttributeStatement []*AttributeStatement
}

// Conditions bounds the validity of an assertion.
// See 2.5.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Conditions struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`

	NotBefore    time.Time `xml:",attr,omitempty"`
	NotOnOrAfter time.Time `xml:",attr,omitempty"`

	AudienceRestriction []*AudienceRestriction
}

// See 2.5.1.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AudienceRestriction struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`

	Audience []string `xml:"Audience"`
}

// AuthnStatement describes the act of authentication performed at the IdP.
// See 2.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`

	AuthnInstant        time.Time `xml:",attr"`
	SessionIndex        string    `xml:",attr,omitempty"`
	SessionNotOnOrAfter time.Time `xml:",attr,omitempty"`

	AuthnContext *AuthnContext
}

// AuthnContext carries the context-class URI the IdP asserts for the
// authentication, e.g. https://www.spid.gov.it/SpidL2.
type AuthnContext struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContext"`

	AuthnContextClassRef string `xml:"AuthnContextClassRef"`
}

// See 2.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`

	Attribute []*Attribute
}

// See 2.7.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Attribute struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`

	FriendlyName string     `xml:",attr,omitempty"`
	Name         string     `xml:",attr"`
	NameFormat   NameFormat `xml:",attr,omitempty"`

	AttributeValue []AttributeValue
}

type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`

	Value string `xml:",chardata"`
}

// GetAssertion returns the first assertion, or nil when the response
// carries none.
func (r *Response) GetAssertion() *Assertion {
	if len(r.Assertion) == 0 {
		return nil
	}
	return r.Assertion[0]
}

// Attributes flattens the attribute statements of every assertion into a
// name-to-values map.
func (r *Response) Attributes() map[string][]string {
	attrs := make(map[string][]string)
	for _, assertion := range r.Assertion {
		for _, stmt := range assertion.AttributeStatement {
			for _, attr := range stmt.Attribute {
				for _, v := range attr.AttributeValue {
					attrs[attr.Name] = append(attrs[attr.Name], v.Value)
				}
			}
		}
	}
	return attrs
}

// SessionIndexes collects the session index of every authentication
// statement, in document order. The values are recorded at login and echoed
// back in a LogoutRequest.
func (r *Response) SessionIndexes() []string {
	var indexes []string
	for _, assertion := range r.Assertion {
		for _, stmt := range assertion.AuthnStatement {
			if stmt.SessionIndex != "" {
				indexes = append(indexes, stmt.SessionIndex)
			}
		}
	}
	return indexes
}
