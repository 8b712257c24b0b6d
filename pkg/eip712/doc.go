// Package eip712 implements EIP-712 typed structured data hashing.
//
// The package is organised around an explicit Registry of struct type
// definitions. The registry owns the canonical encodeType strings and type
// hashes, and every hashing operation resolves field order and field types
// from it, never from the shape of caller-supplied data.
//
// # Types
//
// A struct type is an ordered list of Property values:
//
//	reg := eip712.NewRegistry()
//	err := reg.Register("ForwardRequest", []eip712.Property{
//	    {Name: "from", Type: "address"},
//	    {Name: "to", Type: "address"},
//	    {Name: "value", Type: "uint256"},
//	    {Name: "gas", Type: "uint256"},
//	    {Name: "nonce", Type: "uint256"},
//	    {Name: "data", Type: "bytes"},
//	    {Name: "validUntil", Type: "uint256"},
//	})
//
// Nested struct types may be registered in any order. The canonical type
// string of a type lists the type itself and then every referenced struct
// sorted by name, as the EIP requires.
//
// # Values
//
// Field values are tagged with their category (Address, Uint, Bytes, String,
// Struct, ...). A value whose tag does not match the registered field type is
// rejected with ErrTypeMismatch rather than coerced.
//
//	msg := eip712.Message{
//	    "from":  eip712.Address(from),
//	    "nonce": eip712.Uint64(0),
//	    "data":  eip712.Bytes(calldata),
//	    // ...
//	}
//	digest, err := reg.HashTypedData(domain, "ForwardRequest", msg)
//
// # Wire format
//
// ParseTypedData decodes the eth_signTypedData_v4 JSON document. Its message
// is converted into tagged values with Registry.DecodeMessage, using the
// registered definitions as the schema.
package eip712
