package eip712

import (
	"fmt"
	"strconv"
	"strings"
)

// DomainTypeName is the reserved name of the domain struct type.
const DomainTypeName = "EIP712Domain"

// Property is one field of a struct type definition.
type Property struct {
	Name string `json:"name" yaml:"name" validate:"required"`
	Type string `json:"type" yaml:"type" validate:"required"`
}

func (p Property) String() string {
	return p.Type + " " + p.Name
}

type category uint8

const (
	categoryAddress category = iota + 1
	categoryBool
	categoryUint
	categoryInt
	categoryFixedBytes
	categoryBytes
	categoryString
	categoryStruct
	categoryArray
)

func (c category) String() string {
	switch c {
	case categoryAddress:
		return "address"
	case categoryBool:
		return "bool"
	case categoryUint:
		return "uint"
	case categoryInt:
		return "int"
	case categoryFixedBytes:
		return "fixed bytes"
	case categoryBytes:
		return "bytes"
	case categoryString:
		return "string"
	case categoryStruct:
		return "struct"
	case categoryArray:
		return "array"
	default:
		return "unknown"
	}
}

// typeSpec is a parsed Solidity type name.
type typeSpec struct {
	category category
	// size is the bit width of uintN/intN, the byte length of bytesN and the
	// length of a fixed array (-1 for dynamic arrays).
	size int
	// elem is the element type of an array or the name of a struct.
	elem string
}

// parseType classifies a field type. It does not check that struct names are
// registered, only that they are well formed.
func parseType(typ string) (typeSpec, error) {
	if strings.HasSuffix(typ, "]") {
		open := strings.LastIndexByte(typ, '[')
		if open <= 0 {
			return typeSpec{}, fmt.Errorf("%w: %q", ErrMalformedType, typ)
		}
		length := -1
		if inner := typ[open+1 : len(typ)-1]; inner != "" {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 || strconv.Itoa(n) != inner {
				return typeSpec{}, fmt.Errorf("%w: bad array length in %q", ErrMalformedType, typ)
			}
			length = n
		}
		elem := typ[:open]
		if _, err := parseType(elem); err != nil {
			return typeSpec{}, err
		}
		return typeSpec{category: categoryArray, size: length, elem: elem}, nil
	}

	switch typ {
	case "address":
		return typeSpec{category: categoryAddress}, nil
	case "bool":
		return typeSpec{category: categoryBool}, nil
	case "string":
		return typeSpec{category: categoryString}, nil
	case "bytes":
		return typeSpec{category: categoryBytes}, nil
	case "uint", "int", "byte":
		// Aliases are not canonical and would change the type hash.
		return typeSpec{}, fmt.Errorf("%w: non-canonical alias %q", ErrMalformedType, typ)
	}

	for _, prefix := range []string{"uint", "int", "bytes"} {
		digits, ok := strings.CutPrefix(typ, prefix)
		if !ok || digits == "" || !isDigits(digits) {
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil || strconv.Itoa(n) != digits {
			return typeSpec{}, fmt.Errorf("%w: %q", ErrMalformedType, typ)
		}
		if prefix == "bytes" {
			if n < 1 || n > 32 {
				return typeSpec{}, fmt.Errorf("%w: bytes width %d", ErrMalformedType, n)
			}
			return typeSpec{category: categoryFixedBytes, size: n}, nil
		}
		if n < 8 || n > 256 || n%8 != 0 {
			return typeSpec{}, fmt.Errorf("%w: integer width %d", ErrMalformedType, n)
		}
		if prefix == "uint" {
			return typeSpec{category: categoryUint, size: n}, nil
		}
		return typeSpec{category: categoryInt, size: n}, nil
	}

	if !isIdentifier(typ) {
		return typeSpec{}, fmt.Errorf("%w: %q", ErrMalformedType, typ)
	}
	return typeSpec{category: categoryStruct, elem: typ}, nil
}

// KindOf returns the Kind of value a field of type typ accepts. It does not
// check that struct types are registered.
func KindOf(typ string) (Kind, error) {
	spec, err := parseType(typ)
	if err != nil {
		return KindInvalid, err
	}
	switch spec.category {
	case categoryAddress:
		return KindAddress, nil
	case categoryBool:
		return KindBool, nil
	case categoryUint:
		return KindUint, nil
	case categoryInt:
		return KindInt, nil
	case categoryFixedBytes:
		return KindFixedBytes, nil
	case categoryBytes:
		return KindBytes, nil
	case categoryString:
		return KindString, nil
	case categoryStruct:
		return KindStruct, nil
	default:
		return KindArray, nil
	}
}

// baseStructName strips array suffixes and reports the struct name a field
// type refers to, if any.
func baseStructName(typ string) (string, bool) {
	for strings.HasSuffix(typ, "]") {
		open := strings.LastIndexByte(typ, '[')
		if open <= 0 {
			return "", false
		}
		typ = typ[:open]
	}
	spec, err := parseType(typ)
	if err != nil || spec.category != categoryStruct {
		return "", false
	}
	return spec.elem, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '$':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
