package relay

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ghks18g/eip712/pkg/eip712"
	"github.com/ghks18g/eip712/pkg/sign"
)

var (
	ErrDomainConflict    = errors.New("domain conflict")
	ErrUnknownDomain     = errors.New("unknown domain")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrReplay            = errors.New("nonce already used")
	ErrExpired           = errors.New("request expired")
	// ErrInternal wraps nonce storage failures. The request itself may be
	// valid and can be retried.
	ErrInternal = errors.New("internal error")
)

// State is a step of request validation. Steps are passed in declaration
// order; a Decision records the last one reached.
type State uint8

const (
	StateReceived State = iota
	StateDomainResolved
	StateTypeResolved
	StateDigestComputed
	StateSignatureVerified
	StateNonceChecked
	StateExpiryChecked
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDomainResolved:
		return "domain_resolved"
	case StateTypeResolved:
		return "type_resolved"
	case StateDigestComputed:
		return "digest_computed"
	case StateSignatureVerified:
		return "signature_verified"
	case StateNonceChecked:
		return "nonce_checked"
	case StateExpiryChecked:
		return "expiry_checked"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Reason is a stable, machine-readable rejection cause.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonMalformedInput         Reason = "malformed_input"
	ReasonUnknownDomain          Reason = "unknown_domain"
	ReasonUnknownType            Reason = "unknown_type"
	ReasonTypeConflict           Reason = "type_conflict"
	ReasonTypeMismatch           Reason = "type_mismatch"
	ReasonInvalidSignatureLength Reason = "invalid_signature_length"
	ReasonInvalidRecoveryID      Reason = "invalid_recovery_id"
	ReasonRecoveryFailed         Reason = "recovery_failed"
	ReasonMalleableSignature     Reason = "malleable_signature"
	ReasonSignatureMismatch      Reason = "signature_mismatch"
	ReasonReplay                 Reason = "replay"
	ReasonExpired                Reason = "expired"
	ReasonInternal               Reason = "internal"
)

// reasons is checked in order; more specific errors come first.
var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrUnknownDomain, ReasonUnknownDomain},
	{eip712.ErrUnknownType, ReasonUnknownType},
	{eip712.ErrTypeConflict, ReasonTypeConflict},
	{eip712.ErrTypeMismatch, ReasonTypeMismatch},
	{eip712.ErrMalformedInput, ReasonMalformedInput},
	{sign.ErrInvalidSignatureLength, ReasonInvalidSignatureLength},
	{sign.ErrInvalidRecoveryID, ReasonInvalidRecoveryID},
	{sign.ErrMalleableSignature, ReasonMalleableSignature},
	{sign.ErrRecoveryFailed, ReasonRecoveryFailed},
	{ErrSignatureMismatch, ReasonSignatureMismatch},
	{ErrReplay, ReasonReplay},
	{ErrExpired, ReasonExpired},
}

// ReasonFor classifies err. Unclassified errors are internal.
func ReasonFor(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// Decision is the outcome of validating one request.
type Decision struct {
	// ID correlates the decision with log entries.
	ID string `json:"id"`
	// State is StateAccepted or StateRejected.
	State State `json:"-"`
	// Reached is the last state passed before the decision was made.
	Reached State  `json:"-"`
	Reason  Reason `json:"reason,omitempty"`
	Err     error  `json:"-"`

	DomainID string         `json:"domainId,omitempty"`
	Digest   common.Hash    `json:"digest"`
	Signer   common.Address `json:"signer"`
}

// Accepted reports whether the request passed every check.
func (d Decision) Accepted() bool {
	return d.State == StateAccepted
}
