// Copyright (c) The spid-go Authors
// SPDX-License-Identifier: MPL-2.0

package spidsaml

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/spid-go/spidsaml/models/core"
)

// The SPID authentication levels, ordered by strength. The trailing digit of
// the class URI is the level ordinal.
const (
	AuthnContextSpidL1 = "https://www.spid.gov.it/SpidL1"
	AuthnContextSpidL2 = "https://www.spid.gov.it/SpidL2"
	AuthnContextSpidL3 = "https://www.spid.gov.it/SpidL3"
)

// AllowedAuthnContextClasses returns the context classes the profile admits.
func AllowedAuthnContextClasses() []string {
	return []string{AuthnContextSpidL1, AuthnContextSpidL2, AuthnContextSpidL3}
}

// Distinct validation failure reasons. Failures that matter for audit carry
// their own sentinel so callers can tell them apart with errors.Is.
var (
	ErrInResponseToMissing  = errors.New("InResponseTo not provided")
	ErrInResponseToMismatch = errors.New("InResponseTo does not match an outstanding request")
	ErrAuthnContextUnknown  = errors.New("authn context class is not an allowed SPID level")
	ErrAuthnContextTooLow   = errors.New("authn context level lower than requested")
)

// ValidationContext is the expectation set a response is validated against.
// It is derived from the per-request Config plus the outstanding-request
// state owned by the caller.
type ValidationContext struct {
	// Recipient is the SP's own ACS endpoint for the binding used.
	Recipient string

	// InResponseTo is the request ID the response must correlate to.
	// Outstanding may list further acceptable IDs when the caller matches
	// against its whole outstanding-request set.
	InResponseTo string
	Outstanding  []string

	// Issuer, when set, is the entity ID the response issuer must match.
	Issuer string

	// Audience is the SP entity ID every audience restriction must name.
	Audience string

	// AuthnContextClass is the SPID level that was requested.
	AuthnContextClass string

	AllowedNameIDFormats []core.NameIDFormat

	AcceptedClockSkew time.Duration

	// StrictInResponseTo additionally compares each subject-confirmation
	// InResponseTo with the expected request ID, falling back to the
	// response's own InResponseTo when none is set, instead of only
	// requiring its presence.
	StrictInResponseTo bool

	Clock clockwork.Clock
}

// ValidationContext builds the expectation set for a response to the given
// outstanding request, using this (derived) config's endpoints and policy.
func (c *Config) ValidationContext(requestID, idpEntityID string) *ValidationContext {
	return &ValidationContext{
		Recipient:            c.ACSURL,
		InResponseTo:         requestID,
		Issuer:               idpEntityID,
		Audience:             c.EntityID,
		AuthnContextClass:    c.AuthnContextClass,
		AllowedNameIDFormats: c.AllowedNameIDFormats,
		AcceptedClockSkew:    c.AcceptedClockSkew,
		StrictInResponseTo:   c.StrictInResponseTo,
	}
}

func (ctx *ValidationContext) withDefaults() *ValidationContext {
	out := *ctx
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	if out.AcceptedClockSkew <= 0 {
		out.AcceptedClockSkew = DefaultClockSkew
	}
	if len(out.AllowedNameIDFormats) == 0 {
		out.AllowedNameIDFormats = []core.NameIDFormat{core.NameIDFormatTransient}
	}
	return &out
}

// CheckFunc is a side-effect-free predicate over a parsed response. It must
// not mutate the response.
type CheckFunc func(resp *core.Response, ctx *ValidationContext) error

// Check is one named entry of the conformance battery.
type Check struct {
	Name string
	Fn   CheckFunc
}

// ResponseChecks returns the ordered conformance battery. The set and order
// of checks is a compile-time contract: Validate runs them in this exact
// sequence and stops at the first failure, since any single nonconformance
// invalidates the response.
func ResponseChecks() []Check {
	return []Check{
		{Name: "in_response_to", Fn: checkInResponseTo},
		{Name: "destination", Fn: checkDestination},
		{Name: "issuer", Fn: checkIssuer},
		{Name: "assertion_version", Fn: checkAssertionVersion},
		{Name: "issue_instant", Fn: checkIssueInstant},
		{Name: "name_qualifier", Fn: checkNameQualifier},
		{Name: "subject_confirmation", Fn: checkSubjectConfirmation},
		{Name: "conditions", Fn: checkConditions},
		{Name: "authn_statement", Fn: checkAuthnStatement},
		{Name: "attribute_statement", Fn: checkAttributeStatement},
	}
}

// ValidationOutcome reports the result of the battery: either valid, or the
// name of the first failing check with its reason.
type ValidationOutcome struct {
	Valid     bool
	CheckName string
	Err       error
}

func (o ValidationOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Validate runs the full ordered battery against resp. The first failing
// check aborts the run; later checks are not evaluated. A response without
// assertions fails outright, since every per-assertion check would pass
// vacuously over an empty set.
func Validate(resp *core.Response, ctx *ValidationContext) ValidationOutcome {
	if len(resp.Assertion) == 0 {
		return ValidationOutcome{CheckName: "assertions", Err: ErrMissingAssertions}
	}
	ctx = ctx.withDefaults()
	for _, check := range ResponseChecks() {
		if err := check.Fn(resp, ctx); err != nil {
			return ValidationOutcome{CheckName: check.Name, Err: err}
		}
	}
	return ValidationOutcome{Valid: true}
}

// RunChecks runs only the named checks, in battery order, for test
// isolation. An unknown name is an error, not a failed outcome.
func RunChecks(resp *core.Response, ctx *ValidationContext, names ...string) (ValidationOutcome, error) {
	const op = "spidsaml.RunChecks"

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	ctx = ctx.withDefaults()
	for _, check := range ResponseChecks() {
		if !wanted[check.Name] {
			continue
		}
		delete(wanted, check.Name)
		if err := check.Fn(resp, ctx); err != nil {
			return ValidationOutcome{CheckName: check.Name, Err: err}, nil
		}
	}

	for name := range wanted {
		return ValidationOutcome{}, fmt.Errorf("%s: unknown check %q: %w", op, name, ErrInvalidParameter)
	}
	return ValidationOutcome{Valid: true}, nil
}

func checkInResponseTo(resp *core.Response, ctx *ValidationContext) error {
	if resp.InResponseTo == "" {
		return ErrInResponseToMissing
	}
	if ctx.InResponseTo != "" && resp.InResponseTo == ctx.InResponseTo {
		return nil
	}
	for _, id := range ctx.Outstanding {
		if resp.InResponseTo == id {
			return nil
		}
	}
	return fmt.Errorf("%w: got %q, expected %q", ErrInResponseToMismatch, resp.InResponseTo, ctx.InResponseTo)
}

func checkDestination(resp *core.Response, ctx *ValidationContext) error {
	if resp.Destination == "" {
		return errors.New("Destination not provided")
	}
	if resp.Destination != ctx.Recipient {
		return fmt.Errorf("Destination is not valid: %q != %q", resp.Destination, ctx.Recipient)
	}
	return nil
}

func checkIssuer(resp *core.Response, ctx *ValidationContext) error {
	if ctx.Issuer != "" {
		if resp.Issuer == nil || resp.Issuer.Value != ctx.Issuer {
			return fmt.Errorf("Issuer does not match the expected entity %q", ctx.Issuer)
		}
	}

	// The format attribute is optional on the response issuer, but when
	// present it must be the entity format.
	if resp.Issuer != nil && resp.Issuer.Format != "" && resp.Issuer.Format != core.NameIDFormatEntity {
		return fmt.Errorf("Issuer NameFormat is invalid: %q", resp.Issuer.Format)
	}

	for _, assertion := range resp.Assertion {
		if assertion.Issuer == nil || assertion.Issuer.Format != core.NameIDFormatEntity {
			return errors.New("assertion Issuer format is not the entity format")
		}
	}
	return nil
}

func checkAssertionVersion(resp *core.Response, _ *ValidationContext) error {
	for _, assertion := range resp.Assertion {
		if assertion.Version != core.SAMLVersion2 {
			return fmt.Errorf("assertion version is not 2.0: %q", assertion.Version)
		}
	}
	return nil
}

func checkIssueInstant(resp *core.Response, ctx *ValidationContext) error {
	now := ctx.Clock.Now()
	for _, assertion := range resp.Assertion {
		if assertion.IssueInstant.IsZero() {
			return errors.New("assertion IssueInstant not provided")
		}
		diff := now.Sub(assertion.IssueInstant)
		if diff < 0 {
			diff = -diff
		}
		if diff > ctx.AcceptedClockSkew {
			return fmt.Errorf("assertion IssueInstant %s outside the accepted clock skew (%s)",
				assertion.IssueInstant.Format(time.RFC3339), ctx.AcceptedClockSkew)
		}
	}
	return nil
}

func checkNameQualifier(resp *core.Response, ctx *ValidationContext) error {
	for _, assertion := range resp.Assertion {
		if assertion.Subject == nil || assertion.Subject.NameID == nil {
			return errors.New("assertion Subject NameID not provided")
		}

		nameID := assertion.Subject.NameID
		if nameID.NameQualifier == "" {
			return errors.New("subject NameID NameQualifier not provided")
		}
		if nameID.Format == "" {
			return errors.New("subject NameID Format not provided")
		}

		allowed := false
		for _, format := range ctx.AllowedNameIDFormats {
			if nameID.Format == format {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("subject NameID Format is not allowed: %q", nameID.Format)
		}
	}
	return nil
}

func checkSubjectConfirmation(resp *core.Response, ctx *ValidationContext) error {
	for _, assertion := range resp.Assertion {
		if assertion.Subject == nil {
			return errors.New("assertion Subject not provided")
		}
		for _, sc := range assertion.Subject.SubjectConfirmation {
			data := sc.SubjectConfirmationData
			if data == nil {
				return errors.New("SubjectConfirmationData not provided")
			}
			if data.InResponseTo == "" {
				return errors.New("SubjectConfirmationData InResponseTo not provided")
			}
			if ctx.StrictInResponseTo {
				expected := ctx.InResponseTo
				if expected == "" {
					// The response InResponseTo has already been matched
					// against the outstanding set by the first check.
					expected = resp.InResponseTo
				}
				if data.InResponseTo != expected {
					return fmt.Errorf("SubjectConfirmationData InResponseTo is not valid: %q != %q",
						data.InResponseTo, expected)
				}
			}
			if data.Recipient != ctx.Recipient {
				return fmt.Errorf("SubjectConfirmationData Recipient is not valid: %q", data.Recipient)
			}
			if data.NotOnOrAfter.IsZero() {
				return errors.New("SubjectConfirmationData NotOnOrAfter not provided")
			}
		}
	}
	return nil
}

func checkConditions(resp *core.Response, ctx *ValidationContext) error {
	now := ctx.Clock.Now()
	for _, assertion := range resp.Assertion {
		conditions := assertion.Conditions
		if conditions == nil {
			return errors.New("assertion Conditions not provided")
		}
		if conditions.NotBefore.IsZero() {
			return errors.New("assertion Conditions NotBefore not provided")
		}
		if conditions.NotOnOrAfter.IsZero() {
			return errors.New("assertion Conditions NotOnOrAfter not provided")
		}

		if now.Add(ctx.AcceptedClockSkew).Before(conditions.NotBefore) {
			return fmt.Errorf("assertion not yet valid: NotBefore is %s",
				conditions.NotBefore.Format(time.RFC3339))
		}
		if !now.Add(-ctx.AcceptedClockSkew).Before(conditions.NotOnOrAfter) {
			return fmt.Errorf("assertion expired: NotOnOrAfter is %s",
				conditions.NotOnOrAfter.Format(time.RFC3339))
		}

		if len(conditions.AudienceRestriction) == 0 {
			return errors.New("assertion Conditions without AudienceRestriction")
		}
		for _, restriction := range conditions.AudienceRestriction {
			if len(restriction.Audience) == 0 {
				return errors.New("AudienceRestriction without Audience")
			}
			found := false
			for _, audience := range restriction.Audience {
				if strings.TrimSpace(audience) == ctx.Audience {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("AudienceRestriction does not include the SP entity ID %q", ctx.Audience)
			}
		}
	}
	return nil
}

func checkAuthnStatement(resp *core.Response, ctx *ValidationContext) error {
	for _, assertion := range resp.Assertion {
		if len(assertion.AuthnStatement) == 0 {
			return errors.New("assertion AuthnStatement not provided")
		}
		for _, stmt := range assertion.AuthnStatement {
			if stmt.AuthnContext == nil || stmt.AuthnContext.AuthnContextClassRef == "" {
				return errors.New("AuthnStatement AuthnContextClassRef not provided")
			}

			got := strings.TrimSpace(stmt.AuthnContext.AuthnContextClassRef)

			allowed := false
			for _, class := range AllowedAuthnContextClasses() {
				if got == class {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("%w: %q", ErrAuthnContextUnknown, got)
			}

			if got == ctx.AuthnContextClass {
				continue
			}

			gotLevel, err := spidLevel(got)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrAuthnContextUnknown, got)
			}
			wantLevel, err := spidLevel(ctx.AuthnContextClass)
			if err != nil {
				return fmt.Errorf("%w: requested %q", ErrAuthnContextUnknown, ctx.AuthnContextClass)
			}
			if gotLevel < wantLevel {
				return fmt.Errorf("%w: requested %q, got %q", ErrAuthnContextTooLow,
					ctx.AuthnContextClass, got)
			}
		}
	}
	return nil
}

func checkAttributeStatement(resp *core.Response, _ *ValidationContext) error {
	for _, assertion := range resp.Assertion {
		if len(assertion.AttributeStatement) == 0 {
			return errors.New("assertion AttributeStatement not provided")
		}
		for _, stmt := range assertion.AttributeStatement {
			if len(stmt.Attribute) == 0 {
				return errors.New("AttributeStatement without Attribute")
			}
		}
	}
	return nil
}

// spidLevel extracts the strength ordinal from a context-class URI. The
// levels are lexically suffix-ordered ("...L1" < "...L2" < "...L3").
func spidLevel(classRef string) (int, error) {
	if classRef == "" {
		return 0, fmt.Errorf("empty class reference")
	}
	return strconv.Atoi(classRef[len(classRef)-1:])
}
