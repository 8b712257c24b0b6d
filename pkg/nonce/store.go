// Package nonce tracks consumed request nonces for replay protection.
//
// A nonce is consumed at most once per (namespace, signer). The relay uses the
// registered domain id as namespace, so the same signer may reuse a nonce
// value against a different forwarder.
package nonce

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNonceUsed is returned by Consume when the nonce was already consumed.
var ErrNonceUsed = errors.New("nonce already used")

// Key identifies one nonce.
type Key struct {
	Namespace string
	Signer    common.Address
	Nonce     *uint256.Int
}

// String renders the key as namespace:signer:nonce with a lowercase address
// and a decimal nonce.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Namespace, lowerHex(k.Signer), k.nonce())
}

func (k Key) nonce() string {
	if k.Nonce == nil {
		return "0"
	}
	return k.Nonce.Dec()
}

func lowerHex(a common.Address) string {
	return "0x" + common.Bytes2Hex(a.Bytes())
}

// Store is a set of consumed nonces. Implementations must make Consume atomic:
// of several concurrent calls with the same key exactly one succeeds.
type Store interface {
	// IsUsed reports whether key was consumed. It is advisory; only Consume
	// decides.
	IsUsed(ctx context.Context, key Key) (bool, error)
	// Consume marks key as used, or returns ErrNonceUsed.
	Consume(ctx context.Context, key Key) error
}
