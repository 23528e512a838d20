// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	saml2 "github.com/russellhaering/gosaml2"

	"github.com/spid-go/spidsaml/models/core"
	"github.com/spid-go/spidsaml/models/metadata"
)

// Session is the SPID session state an application must record at login to
// be able to log out later: the transient name identifier exactly as issued
// and every session index, in order.
type Session struct {
	IDPEntityID string

	NameID          string
	NameIDFormat    core.NameIDFormat
	NameQualifier   string
	SPNameQualifier string

	SessionIndexes []string
}

// SessionFromResponse extracts the session state from a validated response.
func SessionFromResponse(resp *core.Response) (*Session, error) {
	const op = "spidsaml.SessionFromResponse"

	assertion := resp.GetAssertion()
	if assertion == nil || assertion.Subject == nil || assertion.Subject.NameID == nil {
		return nil, fmt.Errorf("%s: response carries no subject: %w", op, ErrProtocolMessage)
	}
	if resp.Issuer == nil {
		return nil, fmt.Errorf("%s: response carries no issuer: %w", op, ErrProtocolMessage)
	}

	nameID := assertion.Subject.NameID
	return &Session{
		IDPEntityID:     resp.Issuer.Value,
		NameID:          nameID.Value,
		NameIDFormat:    nameID.Format,
		NameQualifier:   nameID.NameQualifier,
		SPNameQualifier: nameID.SPNameQualifier,
		SessionIndexes:  resp.SessionIndexes(),
	}, nil
}

// CreateLogoutRequest builds a LogoutRequest terminating the given session,
// destined to its IdP's SLO endpoint for the given binding. The name
// identifier and every recorded session index are echoed back verbatim.
func (sp *ServiceProvider) CreateLogoutRequest(session *Session, binding core.ServiceBinding) (*core.LogoutRequest, error) {
	const op = "spidsaml.ServiceProvider.CreateLogoutRequest"

	if session == nil || session.NameID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoActiveSession)
	}
	if sp.cfg.EntityID == "" {
		return nil, fmt.Errorf("%s: config has no derived entity ID: %w", op, ErrConfiguration)
	}

	destination, _, err := sp.sloDestination(session.IDPEntityID, binding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, err := sp.cfg.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	lr := &core.LogoutRequest{
		RequestResponseCommon: core.RequestResponseCommon{
			ID:           id,
			Version:      core.SAMLVersion2,
			IssueInstant: now,
			Destination:  destination,
			Issuer: &core.Issuer{
				NameIDType: core.NameIDType{
					Format:        core.NameIDFormatEntity,
					NameQualifier: sp.cfg.EntityID,
					Value:         sp.cfg.EntityID,
				},
			},
		},
		NotOnOrAfter: now.Add(5 * time.Minute),
		NameID: &core.NameID{
			NameIDType: core.NameIDType{
				Format:          session.NameIDFormat,
				NameQualifier:   session.NameQualifier,
				SPNameQualifier: session.SPNameQualifier,
				Value:           session.NameID,
			},
		},
	}
	for _, index := range session.SessionIndexes {
		lr.SessionIndex = append(lr.SessionIndex, core.SessionIndex{Value: index})
	}

	return lr, nil
}

// LogoutRequestPost creates and signs a LogoutRequest for the HTTP-POST
// binding. It returns the self-submitting HTML page and the request ID,
// which is also recorded as outstanding.
func (sp *ServiceProvider) LogoutRequestPost(session *Session, relayState string) ([]byte, string, error) {
	const op = "spidsaml.ServiceProvider.LogoutRequestPost"

	lr, err := sp.CreateLogoutRequest(session, core.ServiceBindingHTTPPost)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	raw, err := lr.CreateXMLDocument()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	signed, err := sp.SignXML(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	page, err := renderPostForm(lr.Destination, "SAMLRequest", signed, relayState)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	sp.outstanding.Add(lr.ID)
	return page, lr.ID, nil
}

// LogoutRequestRedirect creates a LogoutRequest for the HTTP-Redirect
// binding and returns the signed redirect URL and the request ID, which is
// also recorded as outstanding.
func (sp *ServiceProvider) LogoutRequestRedirect(session *Session, relayState string) (string, string, error) {
	const op = "spidsaml.ServiceProvider.LogoutRequestRedirect"

	lr, err := sp.CreateLogoutRequest(session, core.ServiceBindingHTTPRedirect)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	raw, err := lr.CreateXMLDocument()
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	redirectURL, err := sp.buildRedirectURL(lr.Destination, "SAMLRequest", raw, relayState)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	sp.outstanding.Add(lr.ID)
	return redirectURL, lr.ID, nil
}

// LogoutResult tells the HTTP layer how to conclude a single-logout
// exchange: redirect the user agent, serve a POST-binding page, or nothing
// further when the exchange is complete.
type LogoutResult struct {
	Redirect string
	Page     []byte
}

// ProcessSingleLogout handles an inbound message on the SLO endpoint, for
// both directions of the flow:
//
//   - a LogoutResponse concludes an SP-initiated logout: its signature and
//     correlation are verified and deleteSession is invoked;
//   - a LogoutRequest is an IdP-initiated logout: deleteSession is invoked
//     and a signed LogoutResponse is returned over the inbound binding.
//
// query and rawQuery describe the GET request (redirect binding), form the
// POST body. deleteSession must be idempotent: it runs even when the remote
// status reports a partial logout.
func (sp *ServiceProvider) ProcessSingleLogout(query url.Values, rawQuery string, form url.Values, deleteSession func() error) (*LogoutResult, error) {
	const op = "spidsaml.ServiceProvider.ProcessSingleLogout"

	switch {
	case form.Get("SAMLResponse") != "" || query.Get("SAMLResponse") != "":
		err := sp.handleLogoutResponse(query, rawQuery, form, deleteSession)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &LogoutResult{}, nil

	case form.Get("SAMLRequest") != "" || query.Get("SAMLRequest") != "":
		// a partial logout still produces a reply for the IdP, so the
		// result rides along with the error
		result, err := sp.handleLogoutRequest(query, rawQuery, form, deleteSession)
		if err != nil {
			err = fmt.Errorf("%s: %w", op, err)
		}
		return result, err
	}

	return nil, fmt.Errorf("%s: %w", op, ErrProtocolMessage)
}

// handleLogoutResponse verifies the LogoutResponse concluding an
// SP-initiated logout. The local session is terminated in every verified
// case; a non-success status is still reported as ErrLogoutFailed.
func (sp *ServiceProvider) handleLogoutResponse(query url.Values, rawQuery string, form url.Values, deleteSession func() error) error {
	const op = "spidsaml.ServiceProvider.handleLogoutResponse"

	lr := &core.LogoutResponse{}
	switch {
	case form.Get("SAMLResponse") != "":
		if _, err := decodePostMessage(form.Get("SAMLResponse"), lr); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		idp, err := sp.issuerIDP(lr.Issuer)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		verifier, err := sp.samlVerifier(idp)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := verifier.ValidateEncodedLogoutResponsePOST(form.Get("SAMLResponse")); err != nil {
			return fmt.Errorf("%s: signature validation failed: %w", op, err)
		}

	default:
		messageXML, err := DecodeRedirectMessage(query.Get("SAMLResponse"))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := xml.Unmarshal(messageXML, lr); err != nil {
			return fmt.Errorf("%s: cannot parse logout response: %w", op, err)
		}
		idp, err := sp.issuerIDP(lr.Issuer)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := VerifyRedirectSignature(rawQuery, idp.SigningCertificates()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if lr.InResponseTo == "" || !sp.outstanding.Consume(lr.InResponseTo) {
		return fmt.Errorf("%s: %w: %q", op, ErrInResponseToMismatch, lr.InResponseTo)
	}

	var result error
	if err := deleteSession(); err != nil {
		result = multierror.Append(result, fmt.Errorf("%s: deleting session: %w", op, err))
	}

	switch lr.Status.StatusCode.Value {
	case core.StatusCodeSuccess:
	case core.StatusCodePartialLogout:
		sp.logger.Warn("partial logout", "idp", issuerValue(lr.Issuer))
		result = multierror.Append(result,
			fmt.Errorf("%s: %w: partial logout", op, ErrLogoutFailed))
	default:
		result = multierror.Append(result,
			fmt.Errorf("%s: %w: status %s", op, ErrLogoutFailed, lr.Status.StatusCode.Value))
	}
	return result
}

// handleLogoutRequest terminates the local session on an IdP-initiated
// logout and builds the signed LogoutResponse to return. A failing session
// deletion is reported to the IdP as a partial logout instead of aborting
// the exchange.
func (sp *ServiceProvider) handleLogoutRequest(query url.Values, rawQuery string, form url.Values, deleteSession func() error) (*LogoutResult, error) {
	const op = "spidsaml.ServiceProvider.handleLogoutRequest"

	request := &core.LogoutRequest{}
	binding := core.ServiceBindingHTTPPost
	relayState := form.Get("RelayState")

	switch {
	case form.Get("SAMLRequest") != "":
		if _, err := decodePostMessage(form.Get("SAMLRequest"), request); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		idp, err := sp.issuerIDP(request.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		verifier, err := sp.samlVerifier(idp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := verifier.ValidateEncodedLogoutRequestPOST(form.Get("SAMLRequest")); err != nil {
			return nil, fmt.Errorf("%s: signature validation failed: %w", op, err)
		}

	default:
		binding = core.ServiceBindingHTTPRedirect
		relayState = query.Get("RelayState")
		messageXML, err := DecodeRedirectMessage(query.Get("SAMLRequest"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := xml.Unmarshal(messageXML, request); err != nil {
			return nil, fmt.Errorf("%s: cannot parse logout request: %w", op, err)
		}
		idp, err := sp.issuerIDP(request.Issuer)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := VerifyRedirectSignature(rawQuery, idp.SigningCertificates()); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	status := core.StatusCodeSuccess
	var errs error
	if err := deleteSession(); err != nil {
		status = core.StatusCodePartialLogout
		errs = multierror.Append(errs, fmt.Errorf("%s: deleting session: %w", op, err))
	}

	result, err := sp.logoutResponseFor(request, status, binding, relayState)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
		return nil, errs
	}
	return result, errs
}

// logoutResponseFor builds, signs and encodes the reply to an IdP-initiated
// LogoutRequest over the given binding.
func (sp *ServiceProvider) logoutResponseFor(request *core.LogoutRequest, status core.StatusCodeType, binding core.ServiceBinding, relayState string) (*LogoutResult, error) {
	const op = "spidsaml.ServiceProvider.logoutResponseFor"

	issuer := issuerValue(request.Issuer)
	destination, _, err := sp.sloDestination(issuer, binding)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, err := sp.cfg.GenerateMessageID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	response := &core.LogoutResponse{
		StatusResponseType: core.StatusResponseType{
			RequestResponseCommon: core.RequestResponseCommon{
				ID:           id,
				Version:      core.SAMLVersion2,
				IssueInstant: time.Now().UTC(),
				Destination:  destination,
				Issuer: &core.Issuer{
					NameIDType: core.NameIDType{
						Format:        core.NameIDFormatEntity,
						NameQualifier: sp.cfg.EntityID,
						Value:         sp.cfg.EntityID,
					},
				},
			},
			InResponseTo: request.ID,
			Status: core.Status{
				StatusCode: core.StatusCode{Value: status},
			},
		},
	}

	raw, err := response.CreateXMLDocument()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if binding == core.ServiceBindingHTTPRedirect {
		redirectURL, err := sp.buildRedirectURL(destination, "SAMLResponse", raw, relayState)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &LogoutResult{Redirect: redirectURL}, nil
	}

	signed, err := sp.SignXML(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	page, err := renderPostForm(destination, "SAMLResponse", signed, relayState)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &LogoutResult{Page: page}, nil
}

// samlVerifier prepares a gosaml2 verifier trusting the IdP's published
// signing certificates.
func (sp *ServiceProvider) samlVerifier(idp *metadata.EntityDescriptorIDPSSO) (*saml2.SAMLServiceProvider, error) {
	certStore, err := certificateStore(idp)
	if err != nil {
		return nil, err
	}
	return &saml2.SAMLServiceProvider{
		IdentityProviderIssuer:      idp.EntityID,
		ServiceProviderIssuer:       sp.cfg.EntityID,
		AssertionConsumerServiceURL: sp.cfg.ACSURL,
		AudienceURI:                 sp.cfg.EntityID,
		IDPCertificateStore:         certStore,
		AllowMissingAttributes:      true,
	}, nil
}

func (sp *ServiceProvider) issuerIDP(issuer *core.Issuer) (*metadata.EntityDescriptorIDPSSO, error) {
	if issuer == nil || issuer.Value == "" {
		return nil, fmt.Errorf("message has no Issuer: %w", ErrProtocolMessage)
	}
	idp, ok := sp.idps.EntityDescriptor(issuer.Value)
	if !ok {
		return nil, fmt.Errorf("issuer %q: %w", issuer.Value, ErrUnknownProvider)
	}
	return idp, nil
}

func issuerValue(issuer *core.Issuer) string {
	if issuer == nil {
		return ""
	}
	return issuer.Value
}

// decodePostMessage base64-decodes a POST-binding field and unmarshals it
// into msg.
func decodePostMessage(encoded string, msg interface{}) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("cannot decode message: %w", err)
	}
	if err := xml.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("cannot parse message: %w", err)
	}
	return raw, nil
}
