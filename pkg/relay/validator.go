package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/ghks18g/eip712/pkg/eip712"
	"github.com/ghks18g/eip712/pkg/log"
	"github.com/ghks18g/eip712/pkg/nonce"
	"github.com/ghks18g/eip712/pkg/sign"
)

// Config names the request fields the validator reads and sets the
// signature policy.
type Config struct {
	SignerField string `env:"RELAY_SIGNER_FIELD" env-default:"from"`
	NonceField  string `env:"RELAY_NONCE_FIELD" env-default:"nonce"`
	ExpiryField string `env:"RELAY_EXPIRY_FIELD" env-default:"validUntil"`
	RequireLowS bool   `env:"RELAY_REQUIRE_LOW_S" env-default:"true"`
}

// DefaultConfig returns the field names of the common ForwardRequest shape.
func DefaultConfig() Config {
	return Config{
		SignerField: "from",
		NonceField:  "nonce",
		ExpiryField: "validUntil",
		RequireLowS: true,
	}
}

// Request is a structured request to validate.
type Request struct {
	Domain      eip712.Domain
	PrimaryType string
	Message     eip712.Message
}

type registeredDomain struct {
	domain    eip712.Domain
	separator common.Hash
}

// Validator decides whether signed requests may be relayed. It is safe for
// concurrent use.
type Validator struct {
	cfg      Config
	registry *eip712.Registry
	verifier sign.Verifier
	nonces   nonce.Store
	metrics  *Metrics
	logger   log.Logger

	mu           sync.RWMutex
	domains      map[string]registeredDomain
	bySeparator  map[common.Hash]string
	requestTypes map[string]struct{}
}

// NewValidator returns a validator with an empty registry. metrics may be nil;
// a nil nonces falls back to an in-memory store.
func NewValidator(cfg Config, nonces nonce.Store, metrics *Metrics, logger log.Logger) *Validator {
	defaults := DefaultConfig()
	if cfg.SignerField == "" {
		cfg.SignerField = defaults.SignerField
	}
	if cfg.NonceField == "" {
		cfg.NonceField = defaults.NonceField
	}
	if cfg.ExpiryField == "" {
		cfg.ExpiryField = defaults.ExpiryField
	}
	if nonces == nil {
		nonces = nonce.NewMemoryStore()
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	return &Validator{
		cfg:          cfg,
		registry:     eip712.NewRegistry(),
		verifier:     sign.Verifier{RequireLowS: cfg.RequireLowS},
		nonces:       nonces,
		metrics:      metrics,
		logger:       logger.WithName("relay"),
		domains:      make(map[string]registeredDomain),
		bySeparator:  make(map[common.Hash]string),
		requestTypes: make(map[string]struct{}),
	}
}

// Registry exposes the type registry, for audits and read access.
func (v *Validator) Registry() *eip712.Registry {
	return v.registry
}

// RegisterType registers an auxiliary struct type referenced by request types.
func (v *Validator) RegisterType(name string, fields []eip712.Property) error {
	return v.registry.Register(name, fields)
}

// RegisterRequestType registers a type that may be a request's primary type.
// It must carry the configured signer, nonce and expiry fields.
func (v *Validator) RegisterRequestType(name string, fields []eip712.Property) error {
	if err := v.checkRequestFields(name, fields); err != nil {
		return err
	}
	if err := v.registry.Register(name, fields); err != nil {
		return err
	}

	v.mu.Lock()
	v.requestTypes[name] = struct{}{}
	types, domains := len(v.requestTypes), len(v.domains)
	v.mu.Unlock()

	v.metrics.setRegistered(types, domains)
	v.logger.Info("registered request type", "type", name)
	return nil
}

func (v *Validator) checkRequestFields(name string, fields []eip712.Property) error {
	required := []struct {
		field string
		kind  eip712.Kind
	}{
		{v.cfg.SignerField, eip712.KindAddress},
		{v.cfg.NonceField, eip712.KindUint},
		{v.cfg.ExpiryField, eip712.KindUint},
	}

	for _, req := range required {
		idx := -1
		for i, f := range fields {
			if f.Name == req.field {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: request type %s has no %q field", eip712.ErrMalformedType, name, req.field)
		}
		if kind, err := eip712.KindOf(fields[idx].Type); err != nil || kind != req.kind {
			return fmt.Errorf("%w: %s.%s must be a %s field, got %s", eip712.ErrMalformedType, name, req.field, req.kind, fields[idx].Type)
		}
	}
	return nil
}

// RegisterDomain binds id to domain. Re-registering the same domain under the
// same id is a no-op; binding a different domain to id, or the same domain to
// another id, is ErrDomainConflict.
func (v *Validator) RegisterDomain(id string, domain eip712.Domain) error {
	if id == "" {
		return fmt.Errorf("%w: empty domain id", eip712.ErrMalformedInput)
	}
	separator, err := eip712.DomainSeparator(domain)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if existing, ok := v.domains[id]; ok {
		v.mu.Unlock()
		if existing.separator == separator {
			return nil
		}
		return fmt.Errorf("%w: %s is already registered with separator %s", ErrDomainConflict, id, existing.separator)
	}
	if other, ok := v.bySeparator[separator]; ok {
		v.mu.Unlock()
		return fmt.Errorf("%w: domain is already registered as %s", ErrDomainConflict, other)
	}
	v.domains[id] = registeredDomain{domain: domain, separator: separator}
	v.bySeparator[separator] = id
	types, domains := len(v.requestTypes), len(v.domains)
	v.mu.Unlock()

	v.metrics.setRegistered(types, domains)
	v.logger.Info("registered domain", "id", id, "separator", separator)
	return nil
}

// Domain returns the domain registered under id.
func (v *Validator) Domain(id string) (eip712.Domain, common.Hash, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	d, ok := v.domains[id]
	return d.domain, d.separator, ok
}

// ValidateTypedData validates a wire payload. The types carried by the
// payload must agree with the registered definitions; that is checked once
// the domain and primary type are resolved.
func (v *Validator) ValidateTypedData(ctx context.Context, td eip712.TypedData, sig sign.Signature, now time.Time) Decision {
	req := Request{Domain: td.Domain, PrimaryType: td.PrimaryType}
	return v.run(ctx, req, sig, now, func() (eip712.Message, error) {
		if err := td.CheckTypes(v.registry); err != nil {
			return nil, err
		}
		return v.registry.DecodeMessage(td.PrimaryType, td.Message)
	})
}

// Validate runs a request through every check and, when all pass, consumes
// its nonce. A rejected request never consumes a nonce.
func (v *Validator) Validate(ctx context.Context, req Request, sig sign.Signature, now time.Time) Decision {
	return v.run(ctx, req, sig, now, func() (eip712.Message, error) {
		return req.Message, nil
	})
}

// run drives the state machine. message is called after the primary type is
// resolved.
func (v *Validator) run(ctx context.Context, req Request, sig sign.Signature, now time.Time, message func() (eip712.Message, error)) Decision {
	start := time.Now()
	d := Decision{ID: uuid.NewString(), Reached: StateReceived}

	err := v.validate(ctx, req, sig, now, message, &d)
	if err != nil {
		d.State = StateRejected
		d.Reason = ReasonFor(err)
		d.Err = err
	} else {
		d.State = StateAccepted
		d.Reached = StateAccepted
	}

	v.record(ctx, d, time.Since(start).Seconds())
	return d
}

func (v *Validator) validate(ctx context.Context, req Request, sig sign.Signature, now time.Time, message func() (eip712.Message, error), d *Decision) error {
	separator, err := eip712.DomainSeparator(req.Domain)
	if err != nil {
		return err
	}
	v.mu.RLock()
	domainID, ok := v.bySeparator[separator]
	_, isRequestType := v.requestTypes[req.PrimaryType]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: separator %s", ErrUnknownDomain, separator)
	}
	d.DomainID = domainID
	d.Reached = StateDomainResolved

	if !isRequestType {
		return fmt.Errorf("%w: %q is not a request type", eip712.ErrUnknownType, req.PrimaryType)
	}
	d.Reached = StateTypeResolved

	req.Message, err = message()
	if err != nil {
		return err
	}

	structHash, err := v.registry.HashStruct(req.PrimaryType, req.Message)
	if err != nil {
		return err
	}
	d.Digest = eip712.Digest(separator, structHash)
	d.Reached = StateDigestComputed

	// Hashing has checked that these fields exist with the registered kinds.
	from, _ := req.Message[v.cfg.SignerField].AsAddress()
	nonceValue, _ := req.Message[v.cfg.NonceField].AsUint()
	validUntil, _ := req.Message[v.cfg.ExpiryField].AsUint()

	recovered, err := v.verifier.Recover(d.Digest, sig)
	if err != nil {
		return err
	}
	d.Signer = recovered
	if recovered != from {
		return fmt.Errorf("%w: recovered %s, request is from %s", ErrSignatureMismatch, recovered.Hex(), from.Hex())
	}
	d.Reached = StateSignatureVerified

	key := nonce.Key{Namespace: domainID, Signer: from, Nonce: nonceValue}
	used, err := v.nonces.IsUsed(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if used {
		return fmt.Errorf("%w: nonce %s of %s", ErrReplay, nonceValue.Dec(), from.Hex())
	}
	d.Reached = StateNonceChecked

	if validUntil.Lt(unixSeconds(now)) {
		return fmt.Errorf("%w: valid until %s, now %d", ErrExpired, validUntil.Dec(), now.Unix())
	}
	d.Reached = StateExpiryChecked

	if err := v.nonces.Consume(ctx, key); err != nil {
		if errors.Is(err, nonce.ErrNonceUsed) {
			return fmt.Errorf("%w: nonce %s of %s", ErrReplay, nonceValue.Dec(), from.Hex())
		}
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

func unixSeconds(t time.Time) *uint256.Int {
	if s := t.Unix(); s > 0 {
		return uint256.NewInt(uint64(s))
	}
	return new(uint256.Int)
}

func (v *Validator) record(ctx context.Context, d Decision, seconds float64) {
	v.metrics.observe(d, seconds)

	lg := log.FromContext(ctx)
	if _, isNoop := lg.(log.NoopLogger); isNoop {
		lg = v.logger
	}
	lg = lg.WithKV("validationId", d.ID)

	if d.Accepted() {
		lg.Info("request accepted", "domain", d.DomainID, "signer", d.Signer, "digest", d.Digest)
		return
	}
	if d.Reason == ReasonInternal {
		lg.Error("validation failed", "reached", d.Reached, "error", d.Err)
		return
	}
	lg.Warn("request rejected", "reason", d.Reason, "reached", d.Reached, "error", d.Err)
}
