// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

// The attribute names an identity provider may assert for a SPID subject.
// See the SPID attribute table plus Avviso n.25 (domicile split) and
// Avviso n.27/n.15 (companyFiscalNumber).
var SPIDAttributes = []string{
	"spidCode",
	"name",
	"familyName",
	"placeOfBirth",
	"countyOfBirth",
	"dateOfBirth",
	"gender",
	"companyName",
	"registeredOffice",
	"fiscalNumber",
	"ivaCode",
	"idCard",
	"mobilePhone",
	"email",
	"address",
	"digitalAddress",
	"expirationDate",
	"companyFiscalNumber",
	"domicileStreetAddress",
	"domicilePostalCode",
	"domicileMunicipality",
	"domicileProvince",
	"domicileNation",
}

// DefaultRequiredAttributes is the attribute set this SP asks for when the
// deployment does not override it.
func DefaultRequiredAttributes() []string {
	return []string{"spidCode", "name", "familyName", "fiscalNumber", "email"}
}

// DefaultOptionalAttributes returns every known SPID attribute that is not in
// the default required set.
func DefaultOptionalAttributes() []string {
	required := map[string]bool{}
	for _, name := range DefaultRequiredAttributes() {
		required[name] = true
	}

	var optional []string
	for _, name := range SPIDAttributes {
		if !required[name] {
			optional = append(optional, name)
		}
	}
	return optional
}
