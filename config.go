// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-uuid"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/spid-go/spidsaml/models/core"
)

// Signing and digest algorithm identifiers accepted by the profile.
const (
	SignatureRSASHA256 = dsig.RSASHA256SignatureMethod
	SignatureRSASHA512 = dsig.RSASHA512SignatureMethod

	DigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	DigestSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"
)

// DefaultClockSkew is applied when a config does not set AcceptedClockSkew.
const DefaultClockSkew = 300 * time.Second

type GenerateMessageIDFunc func() (string, error)

// Organization identifies the entity operating this service provider.
// Mandatory: a config without a named organization is rejected at startup.
type Organization struct {
	Name        string `toml:"name"`
	DisplayName string `toml:"display_name"`
	URL         string `toml:"url"`
}

// ContactPerson is one SPID metadata contact. The "other" flavor carries the
// flat spid-namespace extension fields; the "billing" flavor carries the
// nested invoicing structure.
type ContactPerson struct {
	Type       string `toml:"type"` // "other" or "billing"
	Email      string `toml:"email"`
	Telephone  string `toml:"telephone"`
	Company    string `toml:"company"`
	IPACode    string `toml:"ipa_code"`
	VATNumber  string `toml:"vat_number"`
	FiscalCode string `toml:"fiscal_code"`

	// Aggregator marks an "other" contact of an aggregator entity
	// (Avviso n.19 v4: spid:entityType="spid:aggregator").
	Aggregator bool `toml:"aggregator"`

	Billing *BillingInfo `toml:"billing"`
}

// BillingInfo is the fpa-namespace CessionarioCommittente content of a
// billing contact.
type BillingInfo struct {
	IDPaese       string `toml:"id_paese"`
	IDCodice      string `toml:"id_codice"`
	CodiceFiscale string `toml:"codice_fiscale"`
	Denominazione string `toml:"denominazione"`

	// Sede (registered office).
	Indirizzo    string `toml:"indirizzo"`
	NumeroCivico string `toml:"numero_civico"`
	CAP          string `toml:"cap"`
	Comune       string `toml:"comune"`
	Provincia    string `toml:"provincia"`
	Nazione      string `toml:"nazione"`
}

// Config carries the SP settings. The organizational part is validated once
// at process start by NewConfig; the endpoint part (EntityID, ACSURL,
// SLOURL) is resolved per inbound request by Derive and never cached across
// hosts, since the entity ID is host-dependent.
type Config struct {
	// BaseURL, when set, wins over the per-request origin. Deployments
	// behind reverse proxies with mismatched advertised hosts set it.
	BaseURL string `toml:"base_url"`

	Organization Organization    `toml:"organization"`
	Contacts     []ContactPerson `toml:"contacts"`

	NameIDFormat         core.NameIDFormat   `toml:"name_id_format"`
	AllowedNameIDFormats []core.NameIDFormat `toml:"allowed_name_id_formats"`

	RequiredAttributes []string `toml:"required_attributes"`
	OptionalAttributes []string `toml:"optional_attributes"`

	SigningAlgorithm string `toml:"signing_algorithm"`
	DigestAlgorithm  string `toml:"digest_algorithm"`

	// AuthnContextClass is the requested SPID level, SpidL2 by default.
	AuthnContextClass string `toml:"authn_context_class"`

	AcceptedClockSkew time.Duration `toml:"accepted_clock_skew"`

	DefaultBinding core.ServiceBinding `toml:"default_binding"`
	LogoutBinding  core.ServiceBinding `toml:"logout_binding"`

	// LandingURL is the post-login destination used when a login flow
	// starts without an explicit RelayState.
	LandingURL string `toml:"landing_url"`

	// MetadataDirs are the local directories scanned for IdP metadata
	// documents.
	MetadataDirs []string `toml:"metadata_dirs"`

	KeyFile  string `toml:"key_file"`
	CertFile string `toml:"cert_file"`

	// StrictInResponseTo additionally compares every subject-confirmation
	// InResponseTo against the expected request ID. Off by default: with
	// unsolicited responses disallowed the recipient check already
	// constrains acceptance.
	StrictInResponseTo bool `toml:"strict_in_response_to"`

	// Endpoint fields resolved by Derive.
	EntityID string `toml:"-"`
	ACSURL   string `toml:"-"`
	SLOURL   string `toml:"-"`

	GenerateMessageID GenerateMessageIDFunc `toml:"-"`
}

// NewConfig validates the organizational part of cfg and fills in the
// profile defaults. Missing mandatory organization data is fatal here, so
// per-request derivation cannot fail on it later.
func NewConfig(cfg *Config) (*Config, error) {
	const op = "spidsaml.NewConfig"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no config provided: %w", op, ErrInvalidParameter)
	}

	if cfg.Organization.Name == "" || cfg.Organization.DisplayName == "" || cfg.Organization.URL == "" {
		return nil, fmt.Errorf("%s: organization name, display name and URL are mandatory: %w",
			op, ErrConfiguration)
	}
	if len(cfg.Contacts) == 0 {
		return nil, fmt.Errorf("%s: at least one contact person is mandatory: %w", op, ErrConfiguration)
	}
	for i, contact := range cfg.Contacts {
		switch contact.Type {
		case "other", "billing":
		default:
			return nil, fmt.Errorf("%s: contact %d has unknown type %q: %w",
				op, i, contact.Type, ErrConfiguration)
		}
		if contact.Type == "billing" && contact.Billing == nil {
			return nil, fmt.Errorf("%s: contact %d is billing but has no invoicing data: %w",
				op, i, ErrConfiguration)
		}
	}

	out := *cfg

	if out.NameIDFormat == "" {
		out.NameIDFormat = core.NameIDFormatTransient
	}
	if len(out.AllowedNameIDFormats) == 0 {
		out.AllowedNameIDFormats = []core.NameIDFormat{core.NameIDFormatTransient}
	}
	if len(out.RequiredAttributes) == 0 {
		out.RequiredAttributes = DefaultRequiredAttributes()
	}
	if len(out.OptionalAttributes) == 0 {
		out.OptionalAttributes = DefaultOptionalAttributes()
	}
	if out.SigningAlgorithm == "" {
		out.SigningAlgorithm = SignatureRSASHA256
	}
	if out.DigestAlgorithm == "" {
		out.DigestAlgorithm = DigestSHA256
	}
	if out.AuthnContextClass == "" {
		out.AuthnContextClass = AuthnContextSpidL2
	}
	if out.AcceptedClockSkew <= 0 {
		out.AcceptedClockSkew = DefaultClockSkew
	}
	if out.DefaultBinding == "" {
		out.DefaultBinding = core.ServiceBindingHTTPPost
	}
	if out.LogoutBinding == "" {
		out.LogoutBinding = core.ServiceBindingHTTPPost
	}
	if out.GenerateMessageID == nil {
		out.GenerateMessageID = GenerateMessageID
	}

	return &out, nil
}

// Derive resolves the per-request configuration for the origin the message
// arrived on. The static BaseURL wins when present. The result is immutable
// for the request; a different host derives a different entity ID.
func (c *Config) Derive(requestOrigin string) (*Config, error) {
	const op = "spidsaml.Config.Derive"

	base := c.BaseURL
	if base == "" {
		base = requestOrigin
	}

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot parse base URL %q: %w", op, base, ErrConfiguration)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%s: base URL %q is not an absolute http(s) URL: %w",
			op, base, ErrConfiguration)
	}

	derived := *c
	prefix := strings.TrimRight(u.String(), "/")
	derived.EntityID = prefix + "/metadata"
	derived.ACSURL = prefix + "/acs"
	derived.SLOURL = prefix + "/slo"

	return &derived, nil
}

// GenerateMessageID generates an xsd:ID conform message identifier: a UUID
// prefixed with an underscore, since xsd:IDs must not start with a digit.
func GenerateMessageID() (string, error) {
	newID, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("_%s", newID), nil
}
