package eip712

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// digestPrefix distinguishes typed data digests from personal_sign messages.
var digestPrefix = []byte{0x19, 0x01}

// Digest returns keccak256(0x19 ‖ 0x01 ‖ domainSeparator ‖ structHash).
func Digest(domainSeparator, structHash common.Hash) common.Hash {
	preimage := make([]byte, 0, 66)
	preimage = append(preimage, digestPrefix...)
	preimage = append(preimage, domainSeparator.Bytes()...)
	preimage = append(preimage, structHash.Bytes()...)
	return crypto.Keccak256Hash(preimage)
}

// HashTypedData computes the signing digest of message under domain.
func (r *Registry) HashTypedData(domain Domain, primaryType string, message Message) (common.Hash, error) {
	domainSeparator, err := DomainSeparator(domain)
	if err != nil {
		return common.Hash{}, err
	}
	structHash, err := r.HashStruct(primaryType, message)
	if err != nil {
		return common.Hash{}, err
	}
	return Digest(domainSeparator, structHash), nil
}
