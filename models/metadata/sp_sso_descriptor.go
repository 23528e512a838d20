// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package metadata

import (
	"encoding/xml"
)

// EntityDescriptorSPSSO is an EntityDescriptor restricted to service
// provider roles, the shape of the metadata document this SP publishes.
type EntityDescriptorSPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	SPSSODescriptor []*SPSSODescriptor
}

// SPSSODescriptor contains the profiles of a service provider. It extends
// SSODescriptor.
// See 2.4.4 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type SPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`

	SSODescriptor

	AuthnRequestsSigned       bool `xml:",attr"`
	WantAssertionsSigned      bool `xml:",attr"`
	AssertionConsumerService  []IndexedEndpoint
	AttributeConsumingService []*AttributeConsumingService
}

// AttributeConsumingService describes one requested-attributes set. The
// primary set carries index 0 and is referenced by the
// AttributeConsumingServiceIndex attribute of every AuthnRequest.
type AttributeConsumingService struct {
	Index              int  `xml:"index,attr"`
	IsDefault          bool `xml:"isDefault,attr,omitempty"`
	ServiceName        []Localized
	ServiceDescription []Localized
	RequestedAttribute []RequestedAttribute
}

// RequestedAttribute declares the SP's interest in one SAML attribute.
type RequestedAttribute struct {
	FriendlyName string `xml:",attr,omitempty"`
	Name         string `xml:",attr"`
	NameFormat   string `xml:",attr,omitempty"`
	IsRequired   bool   `xml:"isRequired,attr"`
}
