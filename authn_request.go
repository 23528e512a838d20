// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"fmt"
	"time"

	"github.com/spid-go/spidsaml/models/core"
)

// CreateAuthnRequest builds an AuthnRequest towards the named IdP, destined
// to its SSO endpoint for the given binding. The request always carries
// ForceAuthn, exact context comparison and a reference to the primary
// attribute set, regardless of configuration: SPID forbids session reuse
// and minimum matching.
func (sp *ServiceProvider) CreateAuthnRequest(idpEntityID string, binding core.ServiceBinding, opt ...Option) (*core.AuthnRequest, error) {
	const op = "spidsaml.ServiceProvider.CreateAuthnRequest"

	cfg := sp.cfg
	if cfg.EntityID == "" {
		return nil, fmt.Errorf("%s: config has no derived entity ID: %w", op, ErrConfiguration)
	}

	destination, _, err := sp.ssoDestination(idpEntityID, binding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	opts := getAuthnRequestOpts(opt...)
	authnContextClass := cfg.AuthnContextClass
	if opts.withAuthnContextClass != "" {
		authnContextClass = opts.withAuthnContextClass
	}

	id, err := cfg.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ar := &core.AuthnRequest{
		RequestResponseCommon: core.RequestResponseCommon{
			ID:           id,
			Version:      core.SAMLVersion2,
			IssueInstant: time.Now().UTC(),
			Destination:  destination,
			Issuer: &core.Issuer{
				NameIDType: core.NameIDType{
					Format:        core.NameIDFormatEntity,
					NameQualifier: cfg.EntityID,
					Value:         cfg.EntityID,
				},
			},
		},
		NameIDPolicy: &core.NameIDPolicy{
			Format: cfg.NameIDFormat,
		},
		RequestedAuthnContext: &core.RequestedAuthnContext{
			Comparison:           core.ComparisonExact,
			AuthnContextClassRef: []string{authnContextClass},
		},
		ForceAuthn:                  true,
		AssertionConsumerServiceURL: cfg.ACSURL,
		ProtocolBinding:             core.ServiceBindingHTTPPost,

		// "0" selects the primary requested-attributes set of the SP
		// metadata.
		AttributeConsumingServiceIndex: "0",
	}

	return ar, nil
}

// AuthnRequestPost creates, signs and wraps an AuthnRequest for the
// HTTP-POST binding. It returns the self-submitting HTML page and the
// request ID, which is also recorded as outstanding.
func (sp *ServiceProvider) AuthnRequestPost(idpEntityID, relayState string, opt ...Option) ([]byte, string, error) {
	const op = "spidsaml.ServiceProvider.AuthnRequestPost"

	ar, err := sp.CreateAuthnRequest(idpEntityID, core.ServiceBindingHTTPPost, opt...)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	raw, err := ar.CreateXMLDocument()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	signed, err := sp.SignXML(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	page, err := renderPostForm(ar.Destination, "SAMLRequest", signed, relayState)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	sp.outstanding.Add(ar.ID)
	sp.logger.Debug("created authn request", "id", ar.ID, "idp", idpEntityID,
		"binding", core.ServiceBindingHTTPPost)
	return page, ar.ID, nil
}

// AuthnRequestRedirect creates an AuthnRequest for the HTTP-Redirect
// binding and returns the signed redirect URL and the request ID, which is
// also recorded as outstanding. The signature rides in the query string, so
// the XML itself is unsigned.
func (sp *ServiceProvider) AuthnRequestRedirect(idpEntityID, relayState string, opt ...Option) (string, string, error) {
	const op = "spidsaml.ServiceProvider.AuthnRequestRedirect"

	ar, err := sp.CreateAuthnRequest(idpEntityID, core.ServiceBindingHTTPRedirect, opt...)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	raw, err := ar.CreateXMLDocument()
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	redirectURL, err := sp.buildRedirectURL(ar.Destination, "SAMLRequest", raw, relayState)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	sp.outstanding.Add(ar.ID)
	sp.logger.Debug("created authn request", "id", ar.ID, "idp", idpEntityID,
		"binding", core.ServiceBindingHTTPRedirect)
	return redirectURL, ar.ID, nil
}

type authnRequestOptions struct {
	withAuthnContextClass string
}

func getAuthnRequestOpts(opt ...Option) authnRequestOptions {
	opts := authnRequestOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithAuthnContextClass overrides the configured SPID level for one
// request.
func WithAuthnContextClass(class string) Option {
	return func(o interface{}) {
		if opts, ok := o.(*authnRequestOptions); ok {
			opts.withAuthnContextClass = class
		}
	}
}
