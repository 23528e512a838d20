// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
)

//go:embed post_binding.gohtml
var postBindingTemplate string

// postBindingData feeds the self-submitting form of the HTTP-POST binding.
type postBindingData struct {
	Destination string

	// SAMLField is "SAMLRequest" for SP-issued messages and "SAMLResponse"
	// for the LogoutResponse an SP returns on IdP-initiated logout.
	SAMLField string

	// SAMLValue is the base64 of the signed message XML.
	SAMLValue string

	RelayState string
}

// renderPostForm produces the HTML page that delivers a message over the
// HTTP-POST binding. The message XML is carried base64-encoded in a hidden
// form field and submitted to the destination on load.
func renderPostForm(destination, samlField string, messageXML []byte, relayState string) ([]byte, error) {
	const op = "spidsaml.renderPostForm"

	tmpl, err := template.New("post_binding").Parse(postBindingTemplate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, postBindingData{
		Destination: destination,
		SAMLField:   samlField,
		SAMLValue:   base64.StdEncoding.EncodeToString(messageXML),
		RelayState:  relayState,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return buf.Bytes(), nil
}
