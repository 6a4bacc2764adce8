package extai

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPolicyViolation is the common ancestor of every gate refusal: scope
// denials, missing justifications, budget overruns and human denials all
// match it with errors.Is.
var ErrPolicyViolation = errors.New("external AI policy violation")

// ErrJustificationRequired is returned when a request carries no
// justification text. The gate never invents one.
var ErrJustificationRequired = fmt.Errorf("%w: request carries no justification", ErrPolicyViolation)

// ScopeDeniedError reports a request whose purpose is categorically denied.
type ScopeDeniedError struct {
	Purpose string
	Reason  string
}

func (e *ScopeDeniedError) Error() string {
	return fmt.Sprintf("purpose %q denied: %s", e.Purpose, e.Reason)
}

func (e *ScopeDeniedError) Unwrap() error { return ErrPolicyViolation }

// Policy decides which external AI purposes are allowed at all.
//
// Two categories are always denied regardless of configuration: generating
// primary source code (local agents own authorship) and handling secret
// material (credentials never leave the process).
type Policy struct {
	deniedPurposes map[string]string
}

// NewPolicy creates the default scope policy.
func NewPolicy() *Policy {
	return &Policy{
		deniedPurposes: map[string]string{
			"generate_source":  "primary source authorship stays with local agents",
			"handle_secrets":   "secret material must not leave the process",
			"rotate_secrets":   "secret material must not leave the process",
			"credential_audit": "secret material must not leave the process",
		},
	}
}

// Deny adds a purpose to the denied set.
func (p *Policy) Deny(purpose, reason string) {
	p.deniedPurposes[normalizePurpose(purpose)] = reason
}

// Check validates a request against the policy. It returns
// ErrJustificationRequired for empty justifications and *ScopeDeniedError for
// denied purposes.
func (p *Policy) Check(req Request) error {
	if strings.TrimSpace(req.Justification) == "" {
		return ErrJustificationRequired
	}
	purpose := normalizePurpose(req.Purpose)
	if reason, denied := p.deniedPurposes[purpose]; denied {
		return &ScopeDeniedError{Purpose: req.Purpose, Reason: reason}
	}
	return nil
}

func normalizePurpose(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
