// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

// Package metadata models the SAML v2.0 metadata elements this service
// provider produces and consumes, including the SPID contact-person
// extensions from Avviso n.29 v3.
// See http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
package metadata

import (
	"bytes"
	"encoding/xml"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig/types"

	"github.com/spid-go/spidsaml/models/core"
)

type ContactType string

const (
	ContactTypeTechnical      ContactType = "technical"
	ContactTypeSupport        ContactType = "support"
	ContactTypeAdministrative ContactType = "administrative"

	// ContactTypeOther is the SPID "individual" contact flavor, extended
	// with flat spid-namespace elements (IPACode, VATNumber, ...).
	ContactTypeOther ContactType = "other"

	// ContactTypeBilling is the SPID invoicing contact flavor, extended
	// with the nested fpa-namespace fiscal/registered-office structure.
	ContactTypeBilling ContactType = "billing"
)

// Namespaces of the SPID metadata extension elements (Avviso 29v3).
const (
	SPIDExtensionNamespace = "https://spid.gov.it/saml-extensions"
	FPAExtensionNamespace  = "https://spid.gov.it/invoicing-extensions"
)

type ProtocolSupportEnumeration string

const (
	ProtocolSupportEnumerationProtocol ProtocolSupportEnumeration = "urn:oasis:names:tc:SAML:2.0:protocol"
)

// KeyType defines what a described key is used for.
type KeyType string

const (
	KeyTypeEncryption KeyType = "encryption"
	KeyTypeSigning    KeyType = "signing"
)

// DescriptorCommon defines the attributes shared by descriptor elements.
type DescriptorCommon struct {
	ID            string     `xml:",attr,omitempty"`
	ValidUntil    *time.Time `xml:"validUntil,attr,omitempty"`
	CacheDuration string     `xml:"cacheDuration,attr,omitempty"`
	Signature     *dsig.Signature
}

// EntityDescriptor describes a single SAML system entity.
// See 2.3.2 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type EntityDescriptor struct {
	DescriptorCommon

	EntityID string `xml:"entityID,attr"`

	Organization  *Organization
	ContactPerson []ContactPerson
}

// Organization names the organization responsible for a SAML entity.
type Organization struct {
	OrganizationName        []Localized
	OrganizationDisplayName []Localized
	OrganizationURL         []Localized
}

// ContactPerson carries contact information for a SAML entity. SPID profiles
// attach extension elements under Extensions and, for aggregators, the
// spid:entityType attribute.
type ContactPerson struct {
	ContactType     ContactType `xml:"contactType,attr"`
	EntityType      string      `xml:"spid:entityType,attr,omitempty"`
	Extensions      *Extensions
	Company         string `xml:",omitempty"`
	EmailAddress    []string
	TelephoneNumber []string
}

// Extensions wraps arbitrary extension elements, built with etree so the
// profile-specific subtrees keep their namespaces. encoding/xml cannot
// serialize etree nodes itself, so the marshaler renders the children with
// etree and splices the raw bytes into the document.
type Extensions struct {
	Children []*etree.Element `xml:",any"`
}

func (e *Extensions) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	if e == nil || len(e.Children) == 0 {
		return nil
	}
	doc := etree.NewDocument()
	for _, child := range e.Children {
		doc.AddChild(child.Copy())
	}
	raw, err := doc.WriteToBytes()
	if err != nil {
		return err
	}
	wrapper := struct {
		Inner []byte `xml:",innerxml"`
	}{Inner: raw}
	return enc.EncodeElement(wrapper, start)
}

func (e *Extensions) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var wrapper struct {
		Inner []byte `xml:",innerxml"`
	}
	if err := dec.DecodeElement(&wrapper, &start); err != nil {
		return err
	}
	if len(bytes.TrimSpace(wrapper.Inner)) == 0 {
		return nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(append(append([]byte("<x>"), wrapper.Inner...), "</x>"...)); err != nil {
		return err
	}
	for _, child := range doc.Root().ChildElements() {
		e.Children = append(e.Children, child.Copy())
	}
	return nil
}

// RoleDescriptor holds the descriptive information shared by entity roles.
type RoleDescriptor struct {
	DescriptorCommon

	ProtocolSupportEnumeration ProtocolSupportEnumeration `xml:"protocolSupportEnumeration,attr,omitempty"`
	ErrorURL                   string                     `xml:"errorURL,attr,omitempty"`
	KeyDescriptor              []KeyDescriptor
}

// KeyDescriptor provides the cryptographic keys an entity uses to sign data
// or receive encrypted keys.
type KeyDescriptor struct {
	Use              KeyType `xml:"use,attr,omitempty"`
	KeyInfo          KeyInfo
	EncryptionMethod []EncryptionMethod
}

// KeyInfo identifies a key per the XML Signature <ds:KeyInfo> element.
type KeyInfo struct {
	dsig.KeyInfo
	KeyName string `xml:",omitempty"`
}

// EncryptionMethod names the algorithm applied to cipher data.
type EncryptionMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

// SSODescriptor is the common base of IDPSSODescriptor and SPSSODescriptor.
type SSODescriptor struct {
	RoleDescriptor

	SingleLogoutService []Endpoint
	NameIDFormat        []core.NameIDFormat
}

// Endpoint describes a protocol binding endpoint of a SAML entity.
type Endpoint struct {
	Binding          core.ServiceBinding `xml:",attr"`
	Location         string              `xml:",attr"`
	ResponseLocation string              `xml:",attr,omitempty"`
}

// IndexedEndpoint extends Endpoint so otherwise identical endpoints can be
// referenced by protocol messages. SPID numbers them from zero with index 0
// as the default.
type IndexedEndpoint struct {
	Endpoint
	Index     int  `xml:"index,attr"`
	IsDefault bool `xml:"isDefault,attr"`
}

// Localized represents the localizedName and localizedURI metadata types.
type Localized struct {
	Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Value string `xml:",chardata"`
}

// SLOLocationForBinding returns the single-logout location advertised for
// the given binding.
func (s *SSODescriptor) SLOLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, sls := range s.SingleLogoutService {
		if sls.Binding == b {
			return sls.Location, true
		}
	}
	return "", false
}
