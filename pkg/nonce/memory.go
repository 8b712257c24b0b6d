package nonce

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps consumed nonces in process memory. Each signer has its
// own lock so unrelated signers never contend.
type MemoryStore struct {
	signers sync.Map // signerKey -> *signerNonces
}

type signerKey struct {
	namespace string
	signer    common.Address
}

type signerNonces struct {
	mu   sync.Mutex
	used map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) entry(key Key) *signerNonces {
	sk := signerKey{namespace: key.Namespace, signer: key.Signer}
	if v, ok := m.signers.Load(sk); ok {
		return v.(*signerNonces)
	}
	v, _ := m.signers.LoadOrStore(sk, &signerNonces{used: make(map[string]struct{})})
	return v.(*signerNonces)
}

func (m *MemoryStore) IsUsed(_ context.Context, key Key) (bool, error) {
	e := m.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.used[key.nonce()]
	return ok, nil
}

func (m *MemoryStore) Consume(_ context.Context, key Key) error {
	e := m.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	n := key.nonce()
	if _, ok := e.used[n]; ok {
		return ErrNonceUsed
	}
	e.used[n] = struct{}{}
	return nil
}
