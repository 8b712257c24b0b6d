package eip712

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
)

var validate = validator.New()

// TypedData is the JSON payload wallets sign with eth_signTypedData_v4.
type TypedData struct {
	Types       map[string][]Property      `json:"types" validate:"required,dive,dive"`
	PrimaryType string                     `json:"primaryType" validate:"required"`
	Domain      Domain                     `json:"domain"`
	Message     map[string]json.RawMessage `json:"message" validate:"required"`
}

// ParseTypedData decodes and validates a typed data JSON document.
func ParseTypedData(data []byte) (TypedData, error) {
	var td TypedData
	if err := json.Unmarshal(data, &td); err != nil {
		return TypedData{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if err := validate.Struct(td); err != nil {
		return TypedData{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return td, nil
}

// CheckTypes verifies that the type definitions carried by the payload agree
// with the registry for the primary type and everything it references, and
// that an embedded EIP712Domain type matches the fields of the domain.
func (td TypedData) CheckTypes(r *Registry) error {
	if fields, ok := td.Types[DomainTypeName]; ok && !slices.Equal(fields, td.Domain.Type()) {
		return fmt.Errorf("%w: %s does not match the domain fields", ErrTypeConflict, DomainTypeName)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	deps := make(map[string]struct{})
	if err := r.collectDepsLocked(td.PrimaryType, deps); err != nil {
		return err
	}
	for name := range deps {
		carried, ok := td.Types[name]
		if !ok {
			return fmt.Errorf("%w: payload does not define %s", ErrTypeConflict, name)
		}
		if !slices.Equal(carried, r.types[name]) {
			return fmt.Errorf("%w: payload defines %s differently", ErrTypeConflict, name)
		}
	}
	return nil
}

// DecodeMessage converts a JSON message into tagged values using the field
// types registered for typeName. Unregistered fields are dropped; missing
// fields are left out and reported when the message is hashed.
func (r *Registry) DecodeMessage(typeName string, raw map[string]json.RawMessage) (Message, error) {
	return r.decodeMessage(typeName, raw, 0)
}

func (r *Registry) decodeMessage(typeName string, raw map[string]json.RawMessage, depth int) (Message, error) {
	fields, err := r.fields(typeName)
	if err != nil {
		return nil, err
	}
	msg := make(Message, len(fields))
	for _, field := range fields {
		data, ok := raw[field.Name]
		if !ok {
			continue
		}
		value, err := r.decodeValue(field.Type, data, depth)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typeName, field.Name, err)
		}
		msg[field.Name] = value
	}
	return msg, nil
}

func (r *Registry) decodeValue(typ string, data json.RawMessage, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedInput, maxDepth)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Value{}, fmt.Errorf("%w: null %s", ErrMalformedInput, typ)
	}
	spec, err := parseType(typ)
	if err != nil {
		return Value{}, err
	}

	switch spec.category {
	case categoryAddress:
		s, err := decodeString(typ, data)
		if err != nil {
			return Value{}, err
		}
		if !common.IsHexAddress(s) {
			return Value{}, fmt.Errorf("%w: invalid address %q", ErrMalformedInput, s)
		}
		return Address(common.HexToAddress(s)), nil

	case categoryBool:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return Value{}, fmt.Errorf("%w: %s expects a JSON bool", ErrTypeMismatch, typ)
		}
		return Bool(b), nil

	case categoryUint:
		n, err := decodeInteger(typ, data)
		if err != nil {
			return Value{}, err
		}
		u, overflow := uint256.FromBig(n)
		if overflow || n.Sign() < 0 {
			return Value{}, fmt.Errorf("%w: %s is not a %s", ErrMalformedInput, n, typ)
		}
		return Uint(u), nil

	case categoryInt:
		n, err := decodeInteger(typ, data)
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil

	case categoryFixedBytes, categoryBytes:
		s, err := decodeString(typ, data)
		if err != nil {
			return Value{}, err
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s: %v", ErrMalformedInput, typ, err)
		}
		if spec.category == categoryFixedBytes {
			return FixedBytes(b), nil
		}
		return Bytes(b), nil

	case categoryString:
		s, err := decodeString(typ, data)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil

	case categoryStruct:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return Value{}, fmt.Errorf("%w: %s expects a JSON object", ErrTypeMismatch, typ)
		}
		msg, err := r.decodeMessage(spec.elem, obj, depth+1)
		if err != nil {
			return Value{}, err
		}
		return Struct(msg), nil

	case categoryArray:
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return Value{}, fmt.Errorf("%w: %s expects a JSON array", ErrTypeMismatch, typ)
		}
		elems := make([]Value, len(items))
		for i, item := range items {
			elem, err := r.decodeValue(spec.elem, item, depth+1)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			elems[i] = elem
		}
		return Array(elems...), nil
	}

	return Value{}, fmt.Errorf("%w: %s", ErrMalformedType, typ)
}

func decodeString(typ string, data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("%w: %s expects a JSON string", ErrTypeMismatch, typ)
	}
	return s, nil
}

// decodeInteger accepts a JSON number or a decimal or 0x-prefixed hex string.
func decodeInteger(typ string, data json.RawMessage) (*big.Int, error) {
	if data[0] == '"' {
		s, err := decodeString(typ, data)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, fmt.Errorf("%w: empty integer for %s", ErrMalformedInput, typ)
		}
		n, ok := math.ParseBig256(s)
		if !ok {
			return nil, fmt.Errorf("%w: invalid integer %q for %s", ErrMalformedInput, s, typ)
		}
		return n, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var num json.Number
	if err := dec.Decode(&num); err != nil {
		return nil, fmt.Errorf("%w: %s expects an integer", ErrTypeMismatch, typ)
	}
	n, ok := new(big.Int).SetString(num.String(), 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid integer %s for %s", ErrMalformedInput, num, typ)
	}
	return n, nil
}
