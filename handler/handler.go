// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

// Package handler provides net/http glue for the SPID endpoints an SP must
// expose: metadata, login initiation, assertion consumer and single logout.
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"

	spidsaml "github.com/spid-go/spidsaml"
	"github.com/spid-go/spidsaml/models/core"
)

// SessionStore persists the SPID session state between the ACS and the
// logout endpoints. Implementations decide the transport (cookies, server
// side store).
type SessionStore interface {
	Get(r *http.Request) (*spidsaml.Session, bool)
	Set(w http.ResponseWriter, r *http.Request, s *spidsaml.Session, attributes map[string][]string) error
	Delete(w http.ResponseWriter, r *http.Request) error
}

type Handler struct {
	sp       *spidsaml.ServiceProvider
	sessions SessionStore
	logger   hclog.Logger
}

func New(sp *spidsaml.ServiceProvider, sessions SessionStore, opt ...Option) (*Handler, error) {
	const op = "handler.New"

	if sp == nil {
		return nil, fmt.Errorf("%s: no service provider", op)
	}
	if sessions == nil {
		return nil, fmt.Errorf("%s: no session store", op)
	}
	opts := getOpts(opt...)
	return &Handler{sp: sp, sessions: sessions, logger: opts.withLogger}, nil
}

// RegisterRoutes attaches the SPID endpoints to mux. The metadata, ACS and
// SLO paths must stay in sync with the URLs the config derives.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/metadata", h.Metadata)
	mux.HandleFunc("/login", h.Login)
	mux.HandleFunc("/acs", h.ACS)
	mux.HandleFunc("/logout", h.Logout)
	mux.HandleFunc("/slo", h.SLO)
}

// Metadata serves the signed SP metadata for the origin the request arrived
// on.
func (h *Handler) Metadata(w http.ResponseWriter, r *http.Request) {
	bound, err := h.sp.ForOrigin(requestOrigin(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	doc, err := bound.Metadata()
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(doc)
}

// Login starts the authentication flow towards the IdP named by the "idp"
// query parameter. The optional "next" parameter rides as RelayState.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	idpEntityID := r.URL.Query().Get("idp")
	if idpEntityID == "" {
		h.fail(w, http.StatusBadRequest, errors.New("missing idp parameter"))
		return
	}
	relayState := r.URL.Query().Get("next")
	if relayState == "" {
		relayState = h.sp.Config().LandingURL
	}

	bound, err := h.sp.ForOrigin(requestOrigin(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	switch bound.Config().DefaultBinding {
	case core.ServiceBindingHTTPRedirect:
		redirectURL, _, err := bound.AuthnRequestRedirect(idpEntityID, relayState)
		if err != nil {
			h.failLogin(w, err)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	default:
		page, _, err := bound.AuthnRequestPost(idpEntityID, relayState)
		if err != nil {
			h.failLogin(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}
}

// ACS consumes the IdP response. A refused authentication renders the
// anomaly's user message; a validated one records the session and follows
// the RelayState.
func (h *Handler) ACS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, http.StatusMethodNotAllowed, errors.New("ACS accepts POST only"))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	bound, err := h.sp.ForOrigin(requestOrigin(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	resp, err := bound.ParseResponse(r.PostForm)
	if err != nil {
		var anomaly *spidsaml.Anomaly
		if errors.As(err, &anomaly) {
			h.logger.Info("authentication refused", "anomaly", anomaly.Code)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, anomaly.UserMessage())
			return
		}
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	session, err := spidsaml.SessionFromResponse(resp)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := h.sessions.Set(w, r, session, resp.Attributes()); err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	next := r.PostForm.Get("RelayState")
	if !safeRelayState(next) {
		h.logger.Warn("discarding RelayState outside this site", "relay_state", next)
		next = ""
	}
	if next == "" {
		next = bound.Config().LandingURL
	}
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

// safeRelayState accepts only site-relative redirect targets. The relay
// state comes back from the IdP verbatim, so an absolute or
// protocol-relative URL here would be an open redirect.
func safeRelayState(next string) bool {
	if next == "" {
		return true
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return false
	}
	return !strings.Contains(next, "\\")
}

// Logout initiates an SP-initiated single logout for the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(r)
	if !ok {
		h.fail(w, http.StatusForbidden, spidsaml.ErrNoActiveSession)
		return
	}

	bound, err := h.sp.ForOrigin(requestOrigin(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	relayState := r.URL.Query().Get("next")
	switch bound.Config().LogoutBinding {
	case core.ServiceBindingHTTPRedirect:
		redirectURL, _, err := bound.LogoutRequestRedirect(session, relayState)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, err)
			return
		}
		http.Redirect(w, r, redirectURL, http.StatusFound)
	default:
		page, _, err := bound.LogoutRequestPost(session, relayState)
		if err != nil {
			h.fail(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}
}

// SLO is the single-logout endpoint, receiving both the LogoutResponse that
// concludes our own logout and IdP-initiated LogoutRequests.
func (h *Handler) SLO(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, http.StatusBadRequest, err)
		return
	}

	bound, err := h.sp.ForOrigin(requestOrigin(r))
	if err != nil {
		h.fail(w, http.StatusInternalServerError, err)
		return
	}

	deleteSession := func() error { return h.sessions.Delete(w, r) }
	result, err := bound.ProcessSingleLogout(r.URL.Query(), r.URL.RawQuery, r.PostForm, deleteSession)
	if err != nil {
		h.logger.Warn("single logout", "error", err)
	}
	if result == nil {
		h.fail(w, http.StatusBadRequest, errors.New("logout failed"))
		return
	}

	switch {
	case result.Redirect != "":
		http.Redirect(w, r, result.Redirect, http.StatusFound)
	case result.Page != nil:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(result.Page)
	default:
		next := bound.Config().LandingURL
		if next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusFound)
	}
}

func (h *Handler) failLogin(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, spidsaml.ErrUnknownProvider):
		h.fail(w, http.StatusNotFound, err)
	case errors.Is(err, spidsaml.ErrBindingUnsupported):
		h.fail(w, http.StatusBadRequest, err)
	default:
		h.fail(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, status int, err error) {
	h.logger.Error("request failed", "status", status, "error", err)
	http.Error(w, http.StatusText(status), status)
}

// requestOrigin reconstructs the scheme and host the client used, honoring
// the X-Forwarded-Proto of a terminating proxy.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

type options struct {
	withLogger hclog.Logger
}

func getOpts(opt ...Option) options {
	opts := options{withLogger: hclog.NewNullLogger()}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

type Option func(*options)

// WithLogger sets the handler's structured logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.withLogger = logger
		}
	}
}
