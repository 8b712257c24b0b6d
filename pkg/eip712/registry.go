package eip712

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// encodedType is the memoised canonical form of a registered type.
type encodedType struct {
	typeString string
	typeHash   common.Hash
}

// Registry stores struct type definitions and memoises their canonical type
// strings and type hashes. Definitions are immutable once registered, so a
// cached entry never goes stale. Registry is safe for concurrent use; reads do
// not block each other.
type Registry struct {
	mu      sync.RWMutex
	types   map[string][]Property
	encoded map[string]encodedType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string][]Property),
		encoded: make(map[string]encodedType),
	}
}

// Register adds a struct type definition. Registering the same name again
// with an identical field list is a no-op; any other re-registration fails
// with ErrTypeConflict. Referenced struct types may be registered later.
func (r *Registry) Register(name string, fields []Property) error {
	if err := validateDefinition(name, fields); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[name]; ok {
		if slices.Equal(existing, fields) {
			return nil
		}
		return fmt.Errorf("%w: %s is already registered as %s", ErrTypeConflict, name, formatStruct(name, existing))
	}

	r.types[name] = slices.Clone(fields)
	return nil
}

// Lookup returns a copy of the fields registered under name.
func (r *Registry) Lookup(name string) ([]Property, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields, ok := r.types[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(fields), true
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CanonicalTypeString returns the EIP-712 encodeType of name: the primary
// struct followed by every transitively referenced struct, sorted by name.
func (r *Registry) CanonicalTypeString(name string) (string, error) {
	enc, err := r.encode(name)
	if err != nil {
		return "", err
	}
	return enc.typeString, nil
}

// TypeHash returns keccak256(CanonicalTypeString(name)).
func (r *Registry) TypeHash(name string) (common.Hash, error) {
	enc, err := r.encode(name)
	if err != nil {
		return common.Hash{}, err
	}
	return enc.typeHash, nil
}

// Audit recomputes every cached type string and hash and compares it with the
// cached value.
func (r *Registry) Audit() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, cached := range r.encoded {
		typeString, err := r.typeStringLocked(name)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrRegistryCorrupt, name, err)
		}
		if typeString != cached.typeString || crypto.Keccak256Hash([]byte(typeString)) != cached.typeHash {
			return fmt.Errorf("%w: cached encoding of %s differs from its definition", ErrRegistryCorrupt, name)
		}
	}
	return nil
}

func (r *Registry) encode(name string) (encodedType, error) {
	r.mu.RLock()
	enc, ok := r.encoded[name]
	if ok {
		r.mu.RUnlock()
		return enc, nil
	}
	typeString, err := r.typeStringLocked(name)
	r.mu.RUnlock()
	if err != nil {
		return encodedType{}, err
	}

	enc = encodedType{
		typeString: typeString,
		typeHash:   crypto.Keccak256Hash([]byte(typeString)),
	}

	r.mu.Lock()
	if cached, ok := r.encoded[name]; ok {
		enc = cached
	} else {
		r.encoded[name] = enc
	}
	r.mu.Unlock()

	return enc, nil
}

// typeStringLocked builds the canonical type string. The caller holds r.mu.
func (r *Registry) typeStringLocked(name string) (string, error) {
	fields, ok := r.types[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	deps := make(map[string]struct{})
	if err := r.collectDepsLocked(name, deps); err != nil {
		return "", err
	}
	delete(deps, name)

	sorted := make([]string, 0, len(deps))
	for dep := range deps {
		sorted = append(sorted, dep)
	}
	slices.Sort(sorted)

	var b strings.Builder
	b.WriteString(formatStruct(name, fields))
	for _, dep := range sorted {
		b.WriteString(formatStruct(dep, r.types[dep]))
	}
	return b.String(), nil
}

func (r *Registry) collectDepsLocked(name string, seen map[string]struct{}) error {
	if _, ok := seen[name]; ok {
		return nil
	}
	fields, ok := r.types[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	seen[name] = struct{}{}

	for _, field := range fields {
		dep, ok := baseStructName(field.Type)
		if !ok {
			continue
		}
		if err := r.collectDepsLocked(dep, seen); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) fields(name string) ([]Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return fields, nil
}

func formatStruct(name string, fields []Property) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(field.String())
	}
	b.WriteByte(')')
	return b.String()
}

func validateDefinition(name string, fields []Property) error {
	if !isIdentifier(name) {
		return fmt.Errorf("%w: invalid type name %q", ErrMalformedType, name)
	}
	if name == DomainTypeName {
		return fmt.Errorf("%w: %s is reserved", ErrMalformedType, DomainTypeName)
	}
	if spec, err := parseType(name); err != nil || spec.category != categoryStruct {
		return fmt.Errorf("%w: type name %q collides with an elementary type", ErrMalformedType, name)
	}

	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if !isIdentifier(field.Name) {
			return fmt.Errorf("%w: invalid field name %q in %s", ErrMalformedType, field.Name, name)
		}
		if _, dup := seen[field.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q in %s", ErrMalformedType, field.Name, name)
		}
		seen[field.Name] = struct{}{}

		if _, err := parseType(field.Type); err != nil {
			return fmt.Errorf("%s.%s: %w", name, field.Name, err)
		}
	}
	return nil
}
