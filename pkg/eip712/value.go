package eip712

import (
	"bytes"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAddress
	KindBool
	KindUint
	KindInt
	KindFixedBytes
	KindBytes
	KindString
	KindStruct
	KindArray
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindFixedBytes:
		return "fixed bytes"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Message holds the field values of a struct, keyed by field name. Field
// order comes from the registry, never from the map.
type Message map[string]Value

// Value is a tagged field value. The zero Value is invalid and never encodes.
type Value struct {
	kind Kind

	addr  common.Address
	flag  bool
	u     uint256.Int
	i     *big.Int
	raw   []byte
	str   string
	msg   Message
	elems []Value
}

// Address returns an address value.
func Address(a common.Address) Value { return Value{kind: KindAddress, addr: a} }

// Bool returns a bool value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Uint returns an unsigned integer value for any uintN field. A nil x is zero.
func Uint(x *uint256.Int) Value {
	v := Value{kind: KindUint}
	if x != nil {
		v.u.Set(x)
	}
	return v
}

// Uint64 is a shorthand for Uint(uint256.NewInt(x)).
func Uint64(x uint64) Value { return Uint(uint256.NewInt(x)) }

// Int returns a signed integer value for any intN field. A nil x is zero.
func Int(x *big.Int) Value {
	v := Value{kind: KindInt, i: new(big.Int)}
	if x != nil {
		v.i.Set(x)
	}
	return v
}

// FixedBytes returns a value for a bytesN field. The length is checked
// against N at encode time.
func FixedBytes(b []byte) Value { return Value{kind: KindFixedBytes, raw: bytes.Clone(b)} }

// Bytes returns a value for a dynamic bytes field.
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: bytes.Clone(b)} }

// String returns a value for a string field.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Struct returns a nested struct value.
func Struct(m Message) Value { return Value{kind: KindStruct, msg: m} }

// Array returns an array value.
func Array(elems ...Value) Value { return Value{kind: KindArray, elems: slices.Clone(elems)} }

// Kind returns the tag of v.
func (v Value) Kind() Kind { return v.kind }

// AsAddress returns the address held by v.
func (v Value) AsAddress() (common.Address, bool) {
	return v.addr, v.kind == KindAddress
}

// AsUint returns a copy of the unsigned integer held by v.
func (v Value) AsUint() (*uint256.Int, bool) {
	if v.kind != KindUint {
		return nil, false
	}
	return new(uint256.Int).Set(&v.u), true
}

// AsStruct returns the nested message held by v.
func (v Value) AsStruct() (Message, bool) {
	return v.msg, v.kind == KindStruct
}

func (v Value) String() string {
	switch v.kind {
	case KindAddress:
		return v.addr.Hex()
	case KindBool:
		if v.flag {
			return "true"
		}
		return "false"
	case KindUint:
		return v.u.Dec()
	case KindInt:
		return v.i.String()
	case KindFixedBytes, KindBytes:
		return hexutil.Encode(v.raw)
	case KindString:
		return v.str
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}
