package eip712

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Domain identifies the signing context. A nil field is absent: it is left
// out of the EIP712Domain type string as well as of the encoded data.
type Domain struct {
	Name              *string               `json:"name,omitempty"`
	Version           *string               `json:"version,omitempty"`
	ChainID           *math.HexOrDecimal256 `json:"chainId,omitempty"`
	VerifyingContract *common.Address       `json:"verifyingContract,omitempty"`
	Salt              *common.Hash          `json:"salt,omitempty"`
}

// NewDomain returns the common four-field domain.
func NewDomain(name, version string, chainID *big.Int, verifyingContract common.Address) Domain {
	return Domain{
		Name:              &name,
		Version:           &version,
		ChainID:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: &verifyingContract,
	}
}

// Type returns the EIP712Domain fields present in d, in canonical order.
func (d Domain) Type() []Property {
	var fields []Property
	if d.Name != nil {
		fields = append(fields, Property{Name: "name", Type: "string"})
	}
	if d.Version != nil {
		fields = append(fields, Property{Name: "version", Type: "string"})
	}
	if d.ChainID != nil {
		fields = append(fields, Property{Name: "chainId", Type: "uint256"})
	}
	if d.VerifyingContract != nil {
		fields = append(fields, Property{Name: "verifyingContract", Type: "address"})
	}
	if d.Salt != nil {
		fields = append(fields, Property{Name: "salt", Type: "bytes32"})
	}
	return fields
}

// TypeString returns the canonical EIP712Domain type string for d.
func (d Domain) TypeString() string {
	return formatStruct(DomainTypeName, d.Type())
}

// Message returns the domain as a struct value keyed by field name.
func (d Domain) Message() (Message, error) {
	m := make(Message, 5)
	if d.Name != nil {
		m["name"] = String(*d.Name)
	}
	if d.Version != nil {
		m["version"] = String(*d.Version)
	}
	if d.ChainID != nil {
		chainID, overflow := uint256.FromBig((*big.Int)(d.ChainID))
		if overflow || (*big.Int)(d.ChainID).Sign() < 0 {
			return nil, fmt.Errorf("%w: chainId %s is not a uint256", ErrMalformedInput, (*big.Int)(d.ChainID))
		}
		m["chainId"] = Uint(chainID)
	}
	if d.VerifyingContract != nil {
		m["verifyingContract"] = Address(*d.VerifyingContract)
	}
	if d.Salt != nil {
		m["salt"] = FixedBytes(d.Salt.Bytes())
	}
	return m, nil
}

// Equal reports whether d and other describe the same domain.
func (d Domain) Equal(other Domain) bool {
	a, errA := DomainSeparator(d)
	b, errB := DomainSeparator(other)
	return errA == nil && errB == nil && a == b
}

// DomainSeparator returns hashStruct(EIP712Domain, d) where the domain type
// is restricted to the fields present in d.
func DomainSeparator(d Domain) (common.Hash, error) {
	m, err := d.Message()
	if err != nil {
		return common.Hash{}, err
	}

	// The domain type never references other structs, so a private registry
	// holding only EIP712Domain encodes it without touching caller state.
	reg := &Registry{
		types:   map[string][]Property{DomainTypeName: d.Type()},
		encoded: make(map[string]encodedType, 1),
	}
	typeHash := crypto.Keccak256Hash([]byte(d.TypeString()))
	data, err := reg.encodeFields(DomainTypeName, reg.types[DomainTypeName], m, 0)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(typeHash.Bytes(), data), nil
}
