package saml

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"

	"github.com/fedgate/fedgate/pkg/identity"
	"github.com/fedgate/fedgate/pkg/trust"
)

// Errors surfaced by Build. All are terminal for the request.
var (
	ErrUnknownServiceProvider = errors.New("saml: unknown service provider")
	ErrNotAuthenticated       = errors.New("saml: no authenticated identity")
)

// SAML protocol constants.
const (
	samlpNamespace = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlNamespace  = "urn:oasis:names:tc:SAML:2.0:assertion"

	statusSuccess      = "urn:oasis:names:tc:SAML:2.0:status:Success"
	nameIDFormatEmail  = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	confirmationBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"

	// The authn context class tells the SP how the subject was originally
	// authenticated. Fallback identities get the unspecified class so they
	// are always distinguishable from a real login.
	authnContextPassword    = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
	authnContextUnspecified = "urn:oasis:names:tc:SAML:2.0:ac:classes:unspecified"

	attrNameEmail      = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"
	attrNameCommonName = "http://schemas.xmlsoap.org/claims/CommonName"
	attrNameRole       = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/role"
)

// Assertion validity windows. Fixed by protocol policy, not configurable
// per request.
const (
	subjectConfirmationWindow = 2 * time.Minute
	conditionsWindow          = 1 * time.Minute
	authnInstantBackdate      = 10 * time.Minute
)

const timeFormat = "2006-01-02T15:04:05Z"

// BuilderOptions tune assertion construction.
type BuilderOptions struct {
	// ForwardRoles adds the identity's role list as an attribute.
	ForwardRoles bool
	// AllowFallbackIdentity permits an unauthenticated request to name its
	// own subject via an email parameter. Testing/bootstrap only; the
	// resulting assertion carries a placeholder display name and a
	// downgraded authn context class.
	AllowFallbackIdentity bool
	// DebugRequests traces built response documents to the log sink.
	// Never reflected in HTTP responses.
	DebugRequests bool
}

// BuildInput is everything one assertion build needs: the parsed request,
// the authenticated identity (nil when the browser session is anonymous),
// and the browser session key for relay staging.
type BuildInput struct {
	Request       *AuthnRequest
	Identity      *identity.Identity
	FallbackEmail string
	SessionID     string
}

// BuiltResponse is the generated response document plus its metadata. It is
// created once per authentication event, staged for POST delivery, and
// never stored beyond that.
type BuiltResponse struct {
	ResponseID          string
	XML                 string
	Destination         string
	Audience            string
	Recipient           string
	IssueInstant        time.Time
	NotBefore           time.Time
	NotOnOrAfter        time.Time
	SubjectNotOnOrAfter time.Time
	AuthnInstant        time.Time
	Envelope            Envelope
}

// Builder turns parsed authentication requests into signed response
// documents staged for browser POST delivery.
type Builder struct {
	trust   *trust.Store
	keys    *KeyStore
	carrier RelayCarrier
	clock   clockwork.Clock
	opts    BuilderOptions
	log     *logrus.Logger
}

// NewBuilder creates a Builder. A nil clock uses the wall clock; a nil log
// falls back to the standard logrus logger.
func NewBuilder(ts *trust.Store, keys *KeyStore, carrier RelayCarrier, clock clockwork.Clock, opts BuilderOptions, log *logrus.Logger) *Builder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Builder{
		trust:   ts,
		keys:    keys,
		carrier: carrier,
		clock:   clock,
		opts:    opts,
		log:     log,
	}
}

// Build resolves the requesting service provider, assembles and signs the
// response document, and stages it (with any pending relay state) for the
// browser session. Every failure is terminal for the request.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*BuiltResponse, error) {
	sp, ok := b.trust.ProviderForConsumerURL(in.Request.ConsumerURL)
	if !ok {
		b.log.WithField("consumer_url", in.Request.ConsumerURL).Warn("authentication request from untrusted service provider")
		return nil, ErrUnknownServiceProvider
	}
	if b.keys == nil {
		return nil, ErrConfiguration
	}

	email, displayName, roles, authnContext, err := b.subject(in)
	if err != nil {
		return nil, err
	}

	now := b.clock.Now().UTC()
	resp := &BuiltResponse{
		ResponseID:          newID(),
		Destination:         sp.Destination,
		Audience:            sp.Audience(),
		Recipient:           in.Request.ConsumerURL,
		IssueInstant:        now,
		NotBefore:           now,
		NotOnOrAfter:        now.Add(conditionsWindow),
		SubjectNotOnOrAfter: now.Add(subjectConfirmationWindow),
		AuthnInstant:        now.Add(-authnInstantBackdate),
	}

	doc, err := b.buildDocument(resp, in.Request, email, displayName, roles, authnContext)
	if err != nil {
		return nil, err
	}
	xml, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	resp.XML = xml

	if b.opts.DebugRequests {
		b.log.WithFields(logrus.Fields{
			"response_id":  resp.ResponseID,
			"consumer_url": in.Request.ConsumerURL,
			"destination":  resp.Destination,
			"audience":     resp.Audience,
		}).Debug(xml)
	}

	resp.Envelope = Envelope{
		Destination: resp.Destination,
		Fields: []FormField{
			{Name: "SAMLResponse", Value: base64.StdEncoding.EncodeToString([]byte(xml))},
		},
	}

	// Single read: a pending relay state rides along exactly once.
	state, err := b.carrier.TakeRelayState(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume relay state: %w", err)
	}
	if state != "" {
		resp.Envelope.Fields = append(resp.Envelope.Fields, FormField{Name: "RelayState", Value: state})
	}

	if err := b.carrier.StageEnvelope(ctx, in.SessionID, resp.Envelope); err != nil {
		return nil, fmt.Errorf("failed to stage envelope: %w", err)
	}
	return resp, nil
}

// subject picks the assertion subject: the authenticated identity, or the
// explicitly gated testing fallback.
func (b *Builder) subject(in BuildInput) (email, displayName string, roles []string, authnContext string, err error) {
	if in.Identity != nil {
		roles = nil
		if b.opts.ForwardRoles {
			roles = in.Identity.Roles
		}
		return in.Identity.Email, in.Identity.DisplayName, roles, authnContextPassword, nil
	}

	if b.opts.AllowFallbackIdentity && in.FallbackEmail != "" {
		b.log.WithField("email", in.FallbackEmail).Warn("issuing assertion for unverified fallback identity")
		return in.FallbackEmail, "Place Holder", nil, authnContextUnspecified, nil
	}

	return "", "", nil, "", ErrNotAuthenticated
}

// buildDocument assembles the response tree and signs the assertion
// (enveloped signature, RSA-SHA256, exclusive canonicalization).
func (b *Builder) buildDocument(resp *BuiltResponse, req *AuthnRequest, email, displayName string, roles []string, authnContext string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	sp, _ := b.trust.ProviderForConsumerURL(req.ConsumerURL)

	response := doc.CreateElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlpNamespace)
	response.CreateAttr("xmlns:saml", samlNamespace)
	response.CreateAttr("ID", resp.ResponseID)
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", resp.IssueInstant.Format(timeFormat))
	response.CreateAttr("Destination", resp.Destination)
	response.CreateAttr("InResponseTo", req.ID)

	response.CreateElement("saml:Issuer").SetText(sp.Issuer)

	status := response.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", statusSuccess)

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlNamespace)
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", resp.IssueInstant.Format(timeFormat))

	assertion.CreateElement("saml:Issuer").SetText(sp.Issuer)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDFormatEmail)
	nameID.SetText(email)
	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", confirmationBearer)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("InResponseTo", req.ID)
	confirmationData.CreateAttr("NotOnOrAfter", resp.SubjectNotOnOrAfter.Format(timeFormat))
	confirmationData.CreateAttr("Recipient", resp.Recipient)

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", resp.NotBefore.Format(timeFormat))
	conditions.CreateAttr("NotOnOrAfter", resp.NotOnOrAfter.Format(timeFormat))
	restriction := conditions.CreateElement("saml:AudienceRestriction")
	restriction.CreateElement("saml:Audience").SetText(resp.Audience)

	attributes := assertion.CreateElement("saml:AttributeStatement")
	addAttribute(attributes, attrNameEmail, email)
	addAttribute(attributes, attrNameCommonName, displayName)
	if len(roles) > 0 {
		addAttribute(attributes, attrNameRole, roles...)
	}

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", resp.AuthnInstant.Format(timeFormat))
	authnStatement.CreateAttr("SessionIndex", newID())
	authnStatement.CreateElement("saml:AuthnContext").
		CreateElement("saml:AuthnContextClassRef").SetText(authnContext)

	signed, err := b.signAssertion(assertion)
	if err != nil {
		return nil, err
	}
	response.AddChild(signed)

	return doc, nil
}

// The canonicalizer prefix list must stay empty; implementations commonly
// reject non-empty prefix lists in exclusive XML canonicalization.
const canonicalizerPrefixList = ""

func (b *Builder) signAssertion(assertion *etree.Element) (*etree.Element, error) {
	signingContext := dsig.NewDefaultSigningContext(b.keys.SigningStore())
	signingContext.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList(canonicalizerPrefixList)
	if err := signingContext.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	signed, err := signingContext.SignEnveloped(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	// The schema wants ds:Signature directly after saml:Issuer. The
	// enveloped-signature transform excludes the signature from its own
	// digest, so relocating it does not invalidate the signature.
	children := signed.ChildElements()
	sig := children[len(children)-1]
	signed.RemoveChild(sig)
	signed.InsertChildAt(1, sig)

	return signed, nil
}

func addAttribute(statement *etree.Element, name string, values ...string) {
	attr := statement.CreateElement("saml:Attribute")
	attr.CreateAttr("Name", name)
	for _, v := range values {
		attr.CreateElement("saml:AttributeValue").SetText(v)
	}
}

// newID generates a SAML-safe unique identifier (IDs must not begin with a
// digit).
func newID() string {
	return "_" + uuid.NewString()
}
