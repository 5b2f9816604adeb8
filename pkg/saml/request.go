// Package saml implements the identity-provider half of SAML2 Web Browser
// SSO: parsing inbound authentication requests and building signed,
// time-bounded response documents for POST-binding delivery.
package saml

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"
)

// ErrParse is returned for any malformed authentication request: bad
// base64, an invalid deflate stream, or XML that does not carry the fields
// the rest of the pipeline needs. Callers surface it as a generic failure
// and keep the underlying detail out of responses.
var ErrParse = errors.New("saml: malformed authentication request")

// maxRequestSize bounds the inflated request so a hostile deflate stream
// cannot exhaust memory.
const maxRequestSize = 1 << 20

// AuthnRequest is the parsed form of an inbound authentication request. It
// lives only for the duration of one assertion build and is never persisted.
type AuthnRequest struct {
	ID          string
	ConsumerURL string
	Issuer      string
}

// ParseAuthnRequest decodes a redirect-binding SAMLRequest parameter:
// base64, then raw DEFLATE (no zlib header), then XML.
func ParseAuthnRequest(raw string) (*AuthnRequest, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty request", ErrParse)
	}

	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrParse, err)
	}

	inflater := flate.NewReader(bytes.NewReader(compressed))
	defer inflater.Close()
	xmlBytes, err := io.ReadAll(io.LimitReader(inflater, maxRequestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid deflate stream: %v", ErrParse, err)
	}

	// Reject documents that survive decoding but would not round-trip
	// cleanly through an XML parser.
	if err := xrv.Validate(bytes.NewReader(xmlBytes)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "AuthnRequest" {
		return nil, fmt.Errorf("%w: document is not an AuthnRequest", ErrParse)
	}

	req := &AuthnRequest{
		ID:          root.SelectAttrValue("ID", ""),
		ConsumerURL: root.SelectAttrValue("AssertionConsumerServiceURL", ""),
	}
	if issuer := root.FindElement("./Issuer"); issuer != nil {
		req.Issuer = issuer.Text()
	}

	// Without a consumer URL nothing downstream can resolve trust.
	if req.ConsumerURL == "" {
		return nil, fmt.Errorf("%w: missing AssertionConsumerServiceURL", ErrParse)
	}

	return req, nil
}
