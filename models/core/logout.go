// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package core

import (
	"encoding/xml"
	"time"
)

// LogoutRequest asks a session authority to terminate a principal's session.
// See 3.7.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`

	RequestResponseCommon

	NotOnOrAfter time.Time `xml:",attr,omitempty"`
	Reason       string    `xml:",attr,omitempty"`

	NameID       *NameID
	SessionIndex []SessionIndex
}

// SessionIndex references one session established between the principal and
// the identity provider. A LogoutRequest carries one element per session
// index recorded at login.
type SessionIndex struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol SessionIndex"`

	Value string `xml:",chardata"`
}

// LogoutResponse reports the outcome of a LogoutRequest.
// See 3.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutResponse struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`

	StatusResponseType
}

// CreateXMLDocument marshals the request.
func (r *LogoutRequest) CreateXMLDocument() ([]byte, error) {
	return xml.Marshal(r)
}

// CreateXMLDocument marshals the response.
func (r *LogoutResponse) CreateXMLDocument() ([]byte, error) {
	return xml.Marshal(r)
}
