package sign

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrSignature is wrapped by every error this file returns.
	ErrSignature = errors.New("signature error")

	ErrInvalidSignatureLength = fmt.Errorf("%w: invalid signature length", ErrSignature)
	ErrInvalidRecoveryID      = fmt.Errorf("%w: invalid recovery id", ErrSignature)
	ErrRecoveryFailed         = fmt.Errorf("%w: recovery failed", ErrSignature)
	ErrMalleableSignature     = fmt.Errorf("%w: s is in the upper half of the curve order", ErrSignature)
	ErrInvalidHashLength      = fmt.Errorf("%w: invalid hash length", ErrSignature)
)

var _ Recoverer = Verifier{}

// Components is a parsed signature. V is the recovery id, 0 or 1.
type Components struct {
	R common.Hash
	S common.Hash
	V byte
}

// Bytes returns r ‖ s ‖ v with v as a recovery id.
func (c Components) Bytes() []byte {
	out := make([]byte, 0, SignatureLength)
	out = append(out, c.R.Bytes()...)
	out = append(out, c.S.Bytes()...)
	return append(out, c.V)
}

// ParseSignature splits a 65-byte signature and normalises v. Both the
// 27/28 wallet convention and bare 0/1 recovery ids are accepted.
func ParseSignature(sig []byte) (Components, error) {
	if Signature(sig).Type() != TypeEthereum {
		return Components{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSignatureLength, len(sig), SignatureLength)
	}

	v := sig[64]
	switch v {
	case 27, 28:
		v -= 27
	case 0, 1:
	default:
		return Components{}, fmt.Errorf("%w: v = %d", ErrInvalidRecoveryID, v)
	}

	return Components{
		R: common.BytesToHash(sig[:32]),
		S: common.BytesToHash(sig[32:64]),
		V: v,
	}, nil
}

// Verifier recovers signers from digests. The zero value accepts any s below
// the curve order; set RequireLowS to reject malleable high-s signatures.
type Verifier struct {
	RequireLowS bool
}

// Recover parses sig and recovers the address that signed digest.
func (v Verifier) Recover(digest common.Hash, sig Signature) (common.Address, error) {
	c, err := ParseSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	return v.RecoverComponents(digest, c)
}

// RecoverComponents recovers the signer from an already parsed signature.
func (v Verifier) RecoverComponents(digest common.Hash, c Components) (common.Address, error) {
	r := new(big.Int).SetBytes(c.R.Bytes())
	s := new(big.Int).SetBytes(c.S.Bytes())

	if !ethcrypto.ValidateSignatureValues(c.V, r, s, false) {
		return common.Address{}, fmt.Errorf("%w: r or s out of range", ErrRecoveryFailed)
	}
	if v.RequireLowS && !ethcrypto.ValidateSignatureValues(c.V, r, s, true) {
		return common.Address{}, ErrMalleableSignature
	}

	pub, err := ethcrypto.SigToPub(digest.Bytes(), c.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify reports whether sig over digest was produced by expected.
func (v Verifier) Verify(expected common.Address, digest common.Hash, sig Signature) bool {
	addr, err := v.Recover(digest, sig)
	return err == nil && addr == expected
}

// RecoverAddressFromHash recovers the signer of a pre-computed 32-byte hash
// without the low-s policy.
func RecoverAddressFromHash(hash []byte, sig Signature) (common.Address, error) {
	if len(hash) != common.HashLength {
		return common.Address{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHashLength, len(hash), common.HashLength)
	}
	return Verifier{}.Recover(common.BytesToHash(hash), sig)
}
