// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import "errors"

var (
	ErrInternal           = errors.New("internal error")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrUnknownProvider    = errors.New("unknown identity provider")
	ErrBindingUnsupported = errors.New("binding unsupported by the IDP")
	ErrNoActiveSession    = errors.New("no active SPID session")
	ErrProtocolMessage    = errors.New("no SAML message found in the request")
	ErrMissingAssertions  = errors.New("response carries no assertions")
	ErrLogoutFailed       = errors.New("logout response did not report success")
)
