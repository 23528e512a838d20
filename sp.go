// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-hclog"
	dsig "github.com/russellhaering/goxmldsig"
	dsigtypes "github.com/russellhaering/goxmldsig/types"

	"github.com/spid-go/spidsaml/models/core"
	"github.com/spid-go/spidsaml/models/metadata"
)

// IdentityProviderStore resolves SPID identity providers by entity ID. The
// in-tree implementations load metadata from local directories and from the
// AgID registry.
type IdentityProviderStore interface {
	EntityDescriptor(entityID string) (*metadata.EntityDescriptorIDPSSO, bool)
	EntityIDs() []string
}

// ServiceProvider is a SPID service provider instance. It is built once from
// a validated Config; per-request instances bound to a concrete origin are
// obtained with ForOrigin.
type ServiceProvider struct {
	cfg         *Config
	idps        IdentityProviderStore
	outstanding OutstandingRequests
	logger      hclog.Logger

	// keyPair is nil when the config names no key material. Operations
	// that sign fail with ErrConfiguration in that case.
	keyPair *tls.Certificate
}

func NewServiceProvider(cfg *Config, idps IdentityProviderStore, opt ...Option) (*ServiceProvider, error) {
	const op = "spidsaml.NewServiceProvider"

	cfg, err := NewConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if idps == nil {
		return nil, fmt.Errorf("%s: no identity provider store provided: %w", op, ErrInvalidParameter)
	}

	opts := getSPOpts(opt...)

	sp := &ServiceProvider{
		cfg:         cfg,
		idps:        idps,
		outstanding: opts.withOutstanding,
		logger:      opts.withLogger,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		keyPair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%s: cannot load SP key pair: %v: %w", op, err, ErrConfiguration)
		}
		sp.keyPair = &keyPair
	}

	return sp, nil
}

// Config returns the provider's configuration. For origin-bound instances it
// includes the derived endpoint URLs.
func (sp *ServiceProvider) Config() *Config {
	return sp.cfg
}

// Providers returns the identity provider store.
func (sp *ServiceProvider) Providers() IdentityProviderStore {
	return sp.idps
}

// Outstanding returns the request tracker shared by all origin-bound
// instances of this provider.
func (sp *ServiceProvider) Outstanding() OutstandingRequests {
	return sp.outstanding
}

// ForOrigin returns an instance bound to the given request origin, with the
// entity ID and endpoint URLs derived from it. The underlying stores are
// shared with the receiver.
func (sp *ServiceProvider) ForOrigin(origin string) (*ServiceProvider, error) {
	const op = "spidsaml.ServiceProvider.ForOrigin"

	derived, err := sp.cfg.Derive(origin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	bound := *sp
	bound.cfg = derived
	return &bound, nil
}

// ssoDestination resolves the single-sign-on endpoint of the named IdP for
// the given binding.
func (sp *ServiceProvider) ssoDestination(idpEntityID string, binding core.ServiceBinding) (string, *metadata.EntityDescriptorIDPSSO, error) {
	const op = "spidsaml.ServiceProvider.ssoDestination"

	idp, ok := sp.idps.EntityDescriptor(idpEntityID)
	if !ok {
		return "", nil, fmt.Errorf("%s: %q: %w", op, idpEntityID, ErrUnknownProvider)
	}
	loc, ok := idp.SSOLocationForBinding(binding)
	if !ok {
		return "", nil, fmt.Errorf("%s: %q has no SSO endpoint for %s: %w",
			op, idpEntityID, binding, ErrBindingUnsupported)
	}
	return loc, idp, nil
}

// sloDestination resolves the single-logout endpoint of the named IdP for
// the given binding.
func (sp *ServiceProvider) sloDestination(idpEntityID string, binding core.ServiceBinding) (string, *metadata.EntityDescriptorIDPSSO, error) {
	const op = "spidsaml.ServiceProvider.sloDestination"

	idp, ok := sp.idps.EntityDescriptor(idpEntityID)
	if !ok {
		return "", nil, fmt.Errorf("%s: %q: %w", op, idpEntityID, ErrUnknownProvider)
	}
	loc, ok := idp.SLOLocationForBinding(binding)
	if !ok {
		return "", nil, fmt.Errorf("%s: %q has no SLO endpoint for %s: %w",
			op, idpEntityID, binding, ErrBindingUnsupported)
	}
	return loc, idp, nil
}

// signingContext prepares a goxmldsig context over the SP key pair with the
// configured signature method.
func (sp *ServiceProvider) signingContext() (*dsig.SigningContext, error) {
	const op = "spidsaml.ServiceProvider.signingContext"

	if sp.keyPair == nil {
		return nil, fmt.Errorf("%s: no SP key pair configured: %w", op, ErrConfiguration)
	}
	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(*sp.keyPair))
	if err := ctx.SetSignatureMethod(sp.cfg.SigningAlgorithm); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrConfiguration)
	}
	return ctx, nil
}

// SignXML parses rawXML and produces the same document with an enveloped
// XML signature on the root element.
func (sp *ServiceProvider) SignXML(rawXML []byte) ([]byte, error) {
	const op = "spidsaml.ServiceProvider.SignXML"

	ctx, err := sp.signingContext()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawXML); err != nil {
		return nil, fmt.Errorf("%s: cannot parse document: %w", op, err)
	}
	signed, err := ctx.SignEnveloped(doc.Root())
	if err != nil {
		return nil, fmt.Errorf("%s: cannot sign document: %w", op, err)
	}

	out := etree.NewDocument()
	out.SetRoot(signed)
	res, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// CreateMetadata builds the SP metadata document for an origin-bound
// instance. The primary ACS endpoint and the primary attribute set both
// carry index 0, which every AuthnRequest references.
func (sp *ServiceProvider) CreateMetadata() (*metadata.EntityDescriptorSPSSO, error) {
	const op = "spidsaml.ServiceProvider.CreateMetadata"

	cfg := sp.cfg
	if cfg.EntityID == "" {
		return nil, fmt.Errorf("%s: config has no derived entity ID: %w", op, ErrConfiguration)
	}

	desc := &metadata.SPSSODescriptor{
		SSODescriptor: metadata.SSODescriptor{
			RoleDescriptor: metadata.RoleDescriptor{
				ProtocolSupportEnumeration: metadata.ProtocolSupportEnumerationProtocol,
			},
			SingleLogoutService: []metadata.Endpoint{
				{Binding: core.ServiceBindingHTTPPost, Location: cfg.SLOURL},
				{Binding: core.ServiceBindingHTTPRedirect, Location: cfg.SLOURL},
			},
			NameIDFormat: []core.NameIDFormat{cfg.NameIDFormat},
		},
		AuthnRequestsSigned:  true,
		WantAssertionsSigned: true,
		AssertionConsumerService: []metadata.IndexedEndpoint{
			{
				Endpoint:  metadata.Endpoint{Binding: core.ServiceBindingHTTPPost, Location: cfg.ACSURL},
				Index:     0,
				IsDefault: true,
			},
		},
		AttributeConsumingService: []*metadata.AttributeConsumingService{
			sp.attributeConsumingService(),
		},
	}

	if sp.keyPair != nil && len(sp.keyPair.Certificate) > 0 {
		certData := base64.StdEncoding.EncodeToString(sp.keyPair.Certificate[0])
		keyInfo := metadata.KeyInfo{}
		keyInfo.X509Data.X509Certificates = []dsigtypes.X509Certificate{{Data: certData}}
		desc.KeyDescriptor = []metadata.KeyDescriptor{
			{Use: metadata.KeyTypeSigning, KeyInfo: keyInfo},
		}
	}

	ed := &metadata.EntityDescriptorSPSSO{
		EntityDescriptor: metadata.EntityDescriptor{
			EntityID: cfg.EntityID,
			Organization: &metadata.Organization{
				OrganizationName:        []metadata.Localized{{Lang: "it", Value: cfg.Organization.Name}},
				OrganizationDisplayName: []metadata.Localized{{Lang: "it", Value: cfg.Organization.DisplayName}},
				OrganizationURL:         []metadata.Localized{{Lang: "it", Value: cfg.Organization.URL}},
			},
		},
		SPSSODescriptor: []*metadata.SPSSODescriptor{desc},
	}

	id, err := cfg.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ed.ID = id

	for _, contact := range cfg.Contacts {
		ed.ContactPerson = append(ed.ContactPerson, buildContactPerson(contact))
	}

	return ed, nil
}

// Metadata renders and signs the SP metadata document.
func (sp *ServiceProvider) Metadata() ([]byte, error) {
	const op = "spidsaml.ServiceProvider.Metadata"

	ed, err := sp.CreateMetadata()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := xml.Marshal(ed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	signed, err := sp.SignXML(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

func (sp *ServiceProvider) attributeConsumingService() *metadata.AttributeConsumingService {
	acs := &metadata.AttributeConsumingService{
		Index:       0,
		IsDefault:   true,
		ServiceName: []metadata.Localized{{Lang: "it", Value: sp.cfg.Organization.DisplayName}},
	}
	for _, name := range sp.cfg.RequiredAttributes {
		acs.RequestedAttribute = append(acs.RequestedAttribute, metadata.RequestedAttribute{
			Name:       name,
			NameFormat: string(core.NameFormatBasic),
			IsRequired: true,
		})
	}
	for _, name := range sp.cfg.OptionalAttributes {
		acs.RequestedAttribute = append(acs.RequestedAttribute, metadata.RequestedAttribute{
			Name:       name,
			NameFormat: string(core.NameFormatBasic),
		})
	}
	return acs
}

// buildContactPerson maps a configured contact to its metadata element with
// the Avviso 29v3 extension subtree.
func buildContactPerson(contact ContactPerson) metadata.ContactPerson {
	out := metadata.ContactPerson{
		ContactType: metadata.ContactType(contact.Type),
	}
	if contact.Email != "" {
		out.EmailAddress = []string{contact.Email}
	}
	if contact.Telephone != "" {
		out.TelephoneNumber = []string{contact.Telephone}
	}
	out.Company = contact.Company

	switch contact.Type {
	case "billing":
		out.Extensions = billingExtensions(contact)
	default:
		if contact.Aggregator {
			out.EntityType = "spid:aggregator"
		}
		out.Extensions = spidExtensions(contact)
	}
	return out
}

// spidExtensions builds the flat spid-namespace extension elements of an
// "other" contact. Public bodies are qualified by IPA code, private ones by
// VAT number or fiscal code.
func spidExtensions(contact ContactPerson) *metadata.Extensions {
	var children []*etree.Element

	newEl := func(tag, text string) *etree.Element {
		el := etree.NewElement("spid:" + tag)
		el.CreateAttr("xmlns:spid", metadata.SPIDExtensionNamespace)
		if text != "" {
			el.SetText(text)
		}
		return el
	}

	if contact.IPACode != "" {
		children = append(children, newEl("IPACode", contact.IPACode))
		children = append(children, newEl("Public", ""))
	} else {
		if contact.VATNumber != "" {
			children = append(children, newEl("VATNumber", contact.VATNumber))
		}
		if contact.FiscalCode != "" {
			children = append(children, newEl("FiscalCode", contact.FiscalCode))
		}
		children = append(children, newEl("Private", ""))
	}
	if contact.Aggregator {
		children = append(children, newEl("PublicServicesFullAggregator", ""))
	}

	if len(children) == 0 {
		return nil
	}
	return &metadata.Extensions{Children: children}
}

// billingExtensions builds the fpa:CessionarioCommittente subtree of a
// billing contact.
func billingExtensions(contact ContactPerson) *metadata.Extensions {
	if contact.Billing == nil {
		return nil
	}
	b := contact.Billing

	cc := etree.NewElement("fpa:CessionarioCommittente")
	cc.CreateAttr("xmlns:fpa", metadata.FPAExtensionNamespace)

	dati := cc.CreateElement("fpa:DatiAnagrafici")
	if b.IDPaese != "" || b.IDCodice != "" {
		idFiscale := dati.CreateElement("fpa:IdFiscaleIVA")
		idFiscale.CreateElement("fpa:IdPaese").SetText(b.IDPaese)
		idFiscale.CreateElement("fpa:IdCodice").SetText(b.IDCodice)
	}
	if b.CodiceFiscale != "" {
		dati.CreateElement("fpa:CodiceFiscale").SetText(b.CodiceFiscale)
	}
	anagrafica := dati.CreateElement("fpa:Anagrafica")
	anagrafica.CreateElement("fpa:Denominazione").SetText(b.Denominazione)

	sede := cc.CreateElement("fpa:Sede")
	sede.CreateElement("fpa:Indirizzo").SetText(b.Indirizzo)
	if b.NumeroCivico != "" {
		sede.CreateElement("fpa:NumeroCivico").SetText(b.NumeroCivico)
	}
	sede.CreateElement("fpa:CAP").SetText(b.CAP)
	sede.CreateElement("fpa:Comune").SetText(b.Comune)
	if b.Provincia != "" {
		sede.CreateElement("fpa:Provincia").SetText(b.Provincia)
	}
	sede.CreateElement("fpa:Nazione").SetText(b.Nazione)

	return &metadata.Extensions{Children: []*etree.Element{cc}}
}

type spOptions struct {
	withLogger      hclog.Logger
	withOutstanding OutstandingRequests
}

func spDefaults() spOptions {
	return spOptions{
		withLogger:      hclog.NewNullLogger(),
		withOutstanding: NewMemoryOutstanding(),
	}
}

func getSPOpts(opt ...Option) spOptions {
	opts := spDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger sets the provider's structured logger. Logging is off by
// default.
func WithLogger(logger hclog.Logger) Option {
	return func(o interface{}) {
		if opts, ok := o.(*spOptions); ok && logger != nil {
			opts.withLogger = logger
		}
	}
}

// WithOutstandingRequests overrides the store tracking unanswered request
// IDs, e.g. to share one across processes.
func WithOutstandingRequests(store OutstandingRequests) Option {
	return func(o interface{}) {
		if opts, ok := o.(*spOptions); ok && store != nil {
			opts.withOutstanding = store
		}
	}
}
