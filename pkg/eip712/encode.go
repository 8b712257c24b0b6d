package eip712

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// maxDepth bounds struct and array nesting during hashing.
const maxDepth = 64

// HashStruct returns keccak256(typeHash(typeName) ‖ encodeData(message)).
// Fields are encoded in registered order; values for unregistered fields are
// ignored and a missing registered field fails with ErrMissingField.
func (r *Registry) HashStruct(typeName string, message Message) (common.Hash, error) {
	return r.hashStruct(typeName, message, 0)
}

// EncodeData returns the encodeData of message without the leading type hash.
func (r *Registry) EncodeData(typeName string, message Message) ([]byte, error) {
	fields, err := r.fields(typeName)
	if err != nil {
		return nil, err
	}
	return r.encodeFields(typeName, fields, message, 0)
}

// EncodeValue encodes a single field value into its 32-byte word: a padded
// static value, the hash of dynamic content, or a struct hash.
func (r *Registry) EncodeValue(typ string, value Value) (common.Hash, error) {
	return r.encodeValue(typ, value, 0)
}

func (r *Registry) hashStruct(typeName string, message Message, depth int) (common.Hash, error) {
	typeHash, err := r.TypeHash(typeName)
	if err != nil {
		return common.Hash{}, err
	}
	fields, err := r.fields(typeName)
	if err != nil {
		return common.Hash{}, err
	}
	data, err := r.encodeFields(typeName, fields, message, depth)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(typeHash.Bytes(), data), nil
}

func (r *Registry) encodeFields(typeName string, fields []Property, message Message, depth int) ([]byte, error) {
	buf := make([]byte, 0, 32*len(fields))
	for _, field := range fields {
		value, ok := message[field.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingField, typeName, field.Name)
		}
		word, err := r.encodeValue(field.Type, value, depth)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", typeName, field.Name, err)
		}
		buf = append(buf, word.Bytes()...)
	}
	return buf, nil
}

func (r *Registry) encodeValue(typ string, value Value, depth int) (common.Hash, error) {
	if depth > maxDepth {
		return common.Hash{}, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedInput, maxDepth)
	}
	spec, err := parseType(typ)
	if err != nil {
		return common.Hash{}, err
	}

	var word common.Hash
	switch spec.category {
	case categoryAddress:
		if err := expectKind(typ, value, KindAddress); err != nil {
			return word, err
		}
		copy(word[12:], value.addr.Bytes())

	case categoryBool:
		if err := expectKind(typ, value, KindBool); err != nil {
			return word, err
		}
		if value.flag {
			word[31] = 1
		}

	case categoryUint:
		if err := expectKind(typ, value, KindUint); err != nil {
			return word, err
		}
		if value.u.BitLen() > spec.size {
			return word, fmt.Errorf("%w: %s overflows %s", ErrMalformedInput, value.u.Dec(), typ)
		}
		word = value.u.Bytes32()

	case categoryInt:
		if err := expectKind(typ, value, KindInt); err != nil {
			return word, err
		}
		limit := new(big.Int).Lsh(big.NewInt(1), uint(spec.size-1))
		if value.i.Cmp(limit) >= 0 || value.i.Cmp(new(big.Int).Neg(limit)) < 0 {
			return word, fmt.Errorf("%w: %s overflows %s", ErrMalformedInput, value.i, typ)
		}
		copy(word[:], math.U256Bytes(new(big.Int).Set(value.i)))

	case categoryFixedBytes:
		if err := expectKind(typ, value, KindFixedBytes); err != nil {
			return word, err
		}
		if len(value.raw) != spec.size {
			return word, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedInput, typ, spec.size, len(value.raw))
		}
		copy(word[:], value.raw)

	case categoryBytes:
		if err := expectKind(typ, value, KindBytes); err != nil {
			return word, err
		}
		word = crypto.Keccak256Hash(value.raw)

	case categoryString:
		if err := expectKind(typ, value, KindString); err != nil {
			return word, err
		}
		word = crypto.Keccak256Hash([]byte(value.str))

	case categoryStruct:
		if err := expectKind(typ, value, KindStruct); err != nil {
			return word, err
		}
		return r.hashStruct(spec.elem, value.msg, depth+1)

	case categoryArray:
		if err := expectKind(typ, value, KindArray); err != nil {
			return word, err
		}
		if spec.size >= 0 && len(value.elems) != spec.size {
			return word, fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedInput, typ, spec.size, len(value.elems))
		}
		buf := make([]byte, 0, 32*len(value.elems))
		for i, elem := range value.elems {
			w, err := r.encodeValue(spec.elem, elem, depth+1)
			if err != nil {
				return common.Hash{}, fmt.Errorf("[%d]: %w", i, err)
			}
			buf = append(buf, w.Bytes()...)
		}
		word = crypto.Keccak256Hash(buf)
	}

	return word, nil
}

func expectKind(typ string, value Value, kind Kind) error {
	if value.kind != kind {
		return fmt.Errorf("%w: %s field given a %s value", ErrTypeMismatch, typ, value.kind)
	}
	return nil
}
