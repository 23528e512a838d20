// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Deflate compresses messageXML with raw DEFLATE as the HTTP-Redirect
// binding requires (no zlib header).
func Deflate(messageXML []byte) ([]byte, error) {
	const op = "spidsaml.Deflate"

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := w.Write(messageXML); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return buf.Bytes(), nil
}

// Inflate reverses Deflate.
func Inflate(deflated []byte) ([]byte, error) {
	const op = "spidsaml.Inflate"

	r := flate.NewReader(bytes.NewReader(deflated))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// DecodeRedirectMessage decodes a SAMLRequest/SAMLResponse query parameter
// value back to the message XML.
func DecodeRedirectMessage(encoded string) ([]byte, error) {
	const op = "spidsaml.DecodeRedirectMessage"

	deflated, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	messageXML, err := Inflate(deflated)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return messageXML, nil
}

// buildRedirectURL assembles a signed HTTP-Redirect binding URL. The
// signature covers the exact encoded query string, parameters in the
// SAMLRequest, RelayState, SigAlg order.
func (sp *ServiceProvider) buildRedirectURL(destination, samlField string, messageXML []byte, relayState string) (string, error) {
	const op = "spidsaml.ServiceProvider.buildRedirectURL"

	ctx, err := sp.signingContext()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	deflated, err := Deflate(messageXML)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	encoded := base64.StdEncoding.EncodeToString(deflated)

	var query strings.Builder
	query.WriteString(samlField + "=" + url.QueryEscape(encoded))
	if relayState != "" {
		query.WriteString("&RelayState=" + url.QueryEscape(relayState))
	}
	query.WriteString("&SigAlg=" + url.QueryEscape(ctx.GetSignatureMethodIdentifier()))

	sig, err := ctx.SignString(query.String())
	if err != nil {
		return "", fmt.Errorf("%s: cannot sign query: %w", op, err)
	}
	query.WriteString("&Signature=" + url.QueryEscape(base64.StdEncoding.EncodeToString(sig)))

	sep := "?"
	if strings.Contains(destination, "?") {
		sep = "&"
	}
	return destination + sep + query.String(), nil
}

// VerifyRedirectSignature checks the SigAlg/Signature of an inbound
// HTTP-Redirect message against the given base64 DER certificates. rawQuery
// must be the query string exactly as received, since the signature covers
// the sender's encoding.
func VerifyRedirectSignature(rawQuery string, certs []string) error {
	const op = "spidsaml.VerifyRedirectSignature"

	params := splitRawQuery(rawQuery)

	signedParts := make([]string, 0, 3)
	for _, name := range []string{"SAMLRequest", "SAMLResponse", "RelayState", "SigAlg"} {
		if raw, ok := params[name]; ok {
			signedParts = append(signedParts, name+"="+raw)
		}
	}
	rawSig, ok := params["Signature"]
	if !ok {
		return fmt.Errorf("%s: no Signature parameter: %w", op, ErrProtocolMessage)
	}
	if _, ok := params["SigAlg"]; !ok {
		return fmt.Errorf("%s: no SigAlg parameter: %w", op, ErrProtocolMessage)
	}

	sigAlg, err := url.QueryUnescape(params["SigAlg"])
	if err != nil {
		return fmt.Errorf("%s: malformed SigAlg: %w", op, err)
	}
	sigB64, err := url.QueryUnescape(rawSig)
	if err != nil {
		return fmt.Errorf("%s: malformed Signature: %w", op, err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("%s: cannot decode Signature: %w", op, err)
	}

	hash, err := hashForSigAlg(sigAlg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	h := hash.New()
	h.Write([]byte(strings.Join(signedParts, "&")))
	digest := h.Sum(nil)

	for _, certData := range certs {
		der, err := base64.StdEncoding.DecodeString(removeWhitespace(certData))
		if err != nil {
			continue
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			continue
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if rsa.VerifyPKCS1v15(pub, hash, digest, sig) == nil {
			return nil
		}
	}
	return fmt.Errorf("%s: signature does not verify against any signing certificate", op)
}

// splitRawQuery indexes the query parameters without decoding their values.
func splitRawQuery(rawQuery string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		params[name] = value
	}
	return params
}

func hashForSigAlg(sigAlg string) (crypto.Hash, error) {
	switch sigAlg {
	case "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256":
		return crypto.SHA256, nil
	case "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512":
		return crypto.SHA512, nil
	case "http://www.w3.org/2000/09/xmldsig#rsa-sha1":
		return crypto.SHA1, nil
	}
	return 0, errors.New("unsupported signature algorithm: " + sigAlg)
}

func removeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
