package sign

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignatureLength is the size of an r ‖ s ‖ v secp256k1 signature.
const SignatureLength = 65

// Signer signs 32-byte digests. Implementations never expose key material.
type Signer interface {
	Address() common.Address                   // Address derived from the signer's public key.
	Sign(digest common.Hash) (Signature, error) // Sign returns r ‖ s ‖ v with v in {27, 28}.
}

// Recoverer recovers the address that produced a signature over a digest.
type Recoverer interface {
	Recover(digest common.Hash, sig Signature) (common.Address, error)
}

// Signature is a raw r ‖ s ‖ v signature.
type Signature []byte

// Type represents the signature scheme a signature was produced with.
type Type uint8

const (
	TypeEthereum Type = iota
	TypeUnknown  Type = 255
)

// String returns the string representation of the scheme.
func (t Type) String() string {
	switch t {
	case TypeEthereum:
		return "Ethereum"
	default:
		return "Unknown"
	}
}

// Type guesses the signature scheme from its length.
func (s Signature) Type() Type {
	if len(s) == SignatureLength {
		return TypeEthereum
	}
	return TypeUnknown
}

// MarshalJSON encodes the signature as a 0x-prefixed hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	decoded, err := hexutil.Decode(hexStr)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

func (s Signature) String() string {
	return hexutil.Encode(s)
}
