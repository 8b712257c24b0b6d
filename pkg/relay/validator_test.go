package relay_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghks18g/eip712/pkg/eip712"
	"github.com/ghks18g/eip712/pkg/log"
	"github.com/ghks18g/eip712/pkg/nonce"
	"github.com/ghks18g/eip712/pkg/relay"
	"github.com/ghks18g/eip712/pkg/sign"
)

const (
	// Well-known development accounts.
	eoa1Key     = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	eoa2Key     = "0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	erc20ABI    = `[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`
	domainID    = "gasfree-erc20"
	validFromTS = 1_700_000_000
)

var (
	eoa1      = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	forwarder = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	now       = time.Unix(validFromTS, 0)

	forwardRequestType = []eip712.Property{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "gas", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "validUntil", Type: "uint256"},
	}
)

func gasFreeDomain() eip712.Domain {
	return eip712.NewDomain("GasFreeERC20", "1", big.NewInt(31337), forwarder)
}

type fixture struct {
	validator *relay.Validator
	metrics   *relay.Metrics
	signer    *sign.EthereumSigner
	calldata  []byte
}

func setupValidator(t *testing.T, store nonce.Store) *fixture {
	t.Helper()

	metrics := relay.NewMetricsWithRegistry(prometheus.NewRegistry())
	v := relay.NewValidator(relay.DefaultConfig(), store, metrics, log.NewNoopLogger())
	require.NoError(t, v.RegisterRequestType("ForwardRequest", forwardRequestType))
	require.NoError(t, v.RegisterDomain(domainID, gasFreeDomain()))

	signer, err := sign.NewEthereumSigner(eoa1Key)
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	calldata, err := parsed.Pack("approve", forwarder, new(big.Int).Lsh(big.NewInt(1), 128))
	require.NoError(t, err)

	return &fixture{validator: v, metrics: metrics, signer: signer, calldata: calldata}
}

func (f *fixture) message(nonceValue uint64, validUntil *uint256.Int) eip712.Message {
	return eip712.Message{
		"from":       eip712.Address(f.signer.Address()),
		"to":         eip712.Address(forwarder),
		"value":      eip712.Uint64(0),
		"gas":        eip712.Uint64(21000),
		"nonce":      eip712.Uint64(nonceValue),
		"data":       eip712.Bytes(f.calldata),
		"validUntil": eip712.Uint(validUntil),
	}
}

func (f *fixture) request(nonceValue uint64) relay.Request {
	return relay.Request{
		Domain:      gasFreeDomain(),
		PrimaryType: "ForwardRequest",
		Message:     f.message(nonceValue, new(uint256.Int).SetAllOne()),
	}
}

func signRequest(t *testing.T, v *relay.Validator, signer sign.Signer, req relay.Request) sign.Signature {
	t.Helper()
	digest, err := v.Registry().HashTypedData(req.Domain, req.PrimaryType, req.Message)
	require.NoError(t, err)
	sig, err := signer.Sign(digest)
	require.NoError(t, err)
	return sig
}

func TestValidateForwardRequest(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())
	require.Equal(t, eoa1, f.signer.Address())
	require.Equal(t, hexutil.MustDecode("0x095ea7b3"), f.calldata[:4])

	req := f.request(0)
	sig := signRequest(t, f.validator, f.signer, req)

	d := f.validator.Validate(context.Background(), req, sig, now)
	require.NoError(t, d.Err)
	assert.True(t, d.Accepted())
	assert.Equal(t, relay.StateAccepted, d.Reached)
	assert.Equal(t, relay.ReasonNone, d.Reason)
	assert.Equal(t, domainID, d.DomainID)
	assert.Equal(t, eoa1, d.Signer)
	assert.NotEmpty(t, d.ID)

	digest, err := f.validator.Registry().HashTypedData(req.Domain, req.PrimaryType, req.Message)
	require.NoError(t, err)
	assert.Equal(t, digest, d.Digest)

	recovered, err := sign.Verifier{RequireLowS: true}.Recover(d.Digest, sig)
	require.NoError(t, err)
	assert.Equal(t, eoa1, recovered)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Validations.WithLabelValues("accepted", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegisteredTypes))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RegisteredDomains))
}

func TestValidateReplay(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())
	req := f.request(0)
	sig := signRequest(t, f.validator, f.signer, req)

	first := f.validator.Validate(context.Background(), req, sig, now)
	require.True(t, first.Accepted())

	second := f.validator.Validate(context.Background(), req, sig, now)
	assert.False(t, second.Accepted())
	assert.Equal(t, relay.StateRejected, second.State)
	assert.Equal(t, relay.ReasonReplay, second.Reason)
	assert.ErrorIs(t, second.Err, relay.ErrReplay)
	assert.Equal(t, relay.StateSignatureVerified, second.Reached)

	next := f.request(1)
	assert.True(t, f.validator.Validate(context.Background(), next, signRequest(t, f.validator, f.signer, next), now).Accepted())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Validations.WithLabelValues("rejected", "replay")))
}

func TestValidateExpiry(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())

	expired := relay.Request{
		Domain:      gasFreeDomain(),
		PrimaryType: "ForwardRequest",
		Message:     f.message(0, uint256.NewInt(validFromTS-1)),
	}
	d := f.validator.Validate(context.Background(), expired, signRequest(t, f.validator, f.signer, expired), now)
	assert.Equal(t, relay.ReasonExpired, d.Reason)
	assert.ErrorIs(t, d.Err, relay.ErrExpired)
	assert.Equal(t, relay.StateNonceChecked, d.Reached)

	// The deadline itself is still valid.
	boundary := relay.Request{
		Domain:      gasFreeDomain(),
		PrimaryType: "ForwardRequest",
		Message:     f.message(0, uint256.NewInt(validFromTS)),
	}
	d = f.validator.Validate(context.Background(), boundary, signRequest(t, f.validator, f.signer, boundary), now)
	assert.True(t, d.Accepted(), "rejected expired requests must not consume the nonce")
}

func TestValidateRejections(t *testing.T) {
	other, err := sign.NewEthereumSigner(eoa2Key)
	require.NoError(t, err)

	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) (relay.Request, sign.Signature)
		reason  relay.Reason
		err     error
		reached relay.State
	}{
		{
			name: "Unknown domain",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				req.Domain = eip712.NewDomain("GasFreeERC20", "1", big.NewInt(1), forwarder)
				return req, signRequest(t, f.validator, f.signer, req)
			},
			reason:  relay.ReasonUnknownDomain,
			err:     relay.ErrUnknownDomain,
			reached: relay.StateReceived,
		},
		{
			name: "Unknown type",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				req.PrimaryType = "MetaTransaction"
				return req, make(sign.Signature, 65)
			},
			reason:  relay.ReasonUnknownType,
			err:     eip712.ErrUnknownType,
			reached: relay.StateDomainResolved,
		},
		{
			name: "Auxiliary type as primary type",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				require.NoError(t, f.validator.RegisterType("Call", []eip712.Property{{Name: "data", Type: "bytes"}}))
				req := relay.Request{Domain: gasFreeDomain(), PrimaryType: "Call", Message: eip712.Message{"data": eip712.Bytes(nil)}}
				return req, make(sign.Signature, 65)
			},
			reason:  relay.ReasonUnknownType,
			err:     eip712.ErrUnknownType,
			reached: relay.StateDomainResolved,
		},
		{
			name: "Missing field",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				delete(req.Message, "gas")
				return req, make(sign.Signature, 65)
			},
			reason:  relay.ReasonMalformedInput,
			err:     eip712.ErrMissingField,
			reached: relay.StateTypeResolved,
		},
		{
			name: "Wrong value kind",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				req.Message["nonce"] = eip712.String("0")
				return req, make(sign.Signature, 65)
			},
			reason:  relay.ReasonTypeMismatch,
			err:     eip712.ErrTypeMismatch,
			reached: relay.StateTypeResolved,
		},
		{
			name: "Short signature",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				return req, signRequest(t, f.validator, f.signer, req)[:64]
			},
			reason:  relay.ReasonInvalidSignatureLength,
			err:     sign.ErrInvalidSignatureLength,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Bad recovery id",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				sig[64] = 35
				return req, sig
			},
			reason:  relay.ReasonInvalidRecoveryID,
			err:     sign.ErrInvalidRecoveryID,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Zero r",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				copy(sig[:32], make([]byte, 32))
				return req, sig
			},
			reason:  relay.ReasonRecoveryFailed,
			err:     sign.ErrRecoveryFailed,
			reached: relay.StateDigestComputed,
		},
		{
			name: "High s",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				n := ethcrypto.S256().Params().N
				s := new(big.Int).SetBytes(sig[32:64])
				copy(sig[32:64], common.BigToHash(new(big.Int).Sub(n, s)).Bytes())
				sig[64] = 55 - sig[64] // 27 <-> 28
				return req, sig
			},
			reason:  relay.ReasonMalleableSignature,
			err:     sign.ErrMalleableSignature,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Signed by someone else",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				return req, signRequest(t, f.validator, other, req)
			},
			reason:  relay.ReasonSignatureMismatch,
			err:     relay.ErrSignatureMismatch,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Tampered value",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				req.Message["value"] = eip712.Uint64(1)
				return req, sig
			},
			reason:  relay.ReasonSignatureMismatch,
			err:     relay.ErrSignatureMismatch,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Tampered calldata",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				data := bytes.Clone(f.calldata)
				data[len(data)-1] ^= 0x01
				req.Message["data"] = eip712.Bytes(data)
				return req, sig
			},
			reason:  relay.ReasonSignatureMismatch,
			err:     relay.ErrSignatureMismatch,
			reached: relay.StateDigestComputed,
		},
		{
			name: "Tampered domain version",
			prepare: func(t *testing.T, f *fixture) (relay.Request, sign.Signature) {
				req := f.request(0)
				sig := signRequest(t, f.validator, f.signer, req)
				req.Domain = eip712.NewDomain("GasFreeERC20", "2", big.NewInt(31337), forwarder)
				require.NoError(t, f.validator.RegisterDomain("gasfree-v2", req.Domain))
				return req, sig
			},
			reason:  relay.ReasonSignatureMismatch,
			err:     relay.ErrSignatureMismatch,
			reached: relay.StateDigestComputed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			store := nonce.NewMemoryStore()
			f := setupValidator(t, store)
			req, sig := test.prepare(t, f)

			d := f.validator.Validate(context.Background(), req, sig, now)
			assert.False(t, d.Accepted())
			assert.Equal(t, test.reason, d.Reason)
			assert.ErrorIs(t, d.Err, test.err)
			assert.Equal(t, test.reached, d.Reached)

			used, err := store.IsUsed(context.Background(), nonce.Key{Namespace: domainID, Signer: eoa1, Nonce: uint256.NewInt(0)})
			require.NoError(t, err)
			assert.False(t, used, "rejected requests must not consume the nonce")
		})
	}
}

func TestValidateConcurrentSameNonce(t *testing.T) {
	const workers = 32

	f := setupValidator(t, nonce.NewMemoryStore())
	req := f.request(7)
	sig := signRequest(t, f.validator, f.signer, req)

	decisions := make([]relay.Decision, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decisions[i] = f.validator.Validate(context.Background(), req, sig, now)
		}()
	}
	wg.Wait()

	accepted := 0
	for _, d := range decisions {
		if d.Accepted() {
			accepted++
			continue
		}
		assert.Equal(t, relay.ReasonReplay, d.Reason)
	}
	assert.Equal(t, 1, accepted)
}

type failingStore struct{}

func (failingStore) IsUsed(context.Context, nonce.Key) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Consume(context.Context, nonce.Key) error {
	return errors.New("connection refused")
}

func TestValidateStoreFailure(t *testing.T) {
	f := setupValidator(t, failingStore{})
	req := f.request(0)

	d := f.validator.Validate(context.Background(), req, signRequest(t, f.validator, f.signer, req), now)
	assert.Equal(t, relay.ReasonInternal, d.Reason)
	assert.ErrorIs(t, d.Err, relay.ErrInternal)
	assert.Equal(t, relay.StateSignatureVerified, d.Reached)
}

func TestRegisterDomain(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())

	assert.NoError(t, f.validator.RegisterDomain(domainID, gasFreeDomain()), "identical re-registration")

	err := f.validator.RegisterDomain(domainID, eip712.NewDomain("GasFreeERC20", "2", big.NewInt(31337), forwarder))
	assert.ErrorIs(t, err, relay.ErrDomainConflict)

	err = f.validator.RegisterDomain("alias", gasFreeDomain())
	assert.ErrorIs(t, err, relay.ErrDomainConflict)

	err = f.validator.RegisterDomain("", gasFreeDomain())
	assert.ErrorIs(t, err, eip712.ErrMalformedInput)

	domain, separator, ok := f.validator.Domain(domainID)
	require.True(t, ok)
	assert.True(t, domain.Equal(gasFreeDomain()))
	want, err := eip712.DomainSeparator(gasFreeDomain())
	require.NoError(t, err)
	assert.Equal(t, want, separator)
}

func TestRegisterRequestType(t *testing.T) {
	v := relay.NewValidator(relay.Config{}, nonce.NewMemoryStore(), nil, nil)

	withField := func(name, typ string) []eip712.Property {
		fields := make([]eip712.Property, 0, len(forwardRequestType))
		for _, f := range forwardRequestType {
			if f.Name == name {
				if typ == "" {
					continue
				}
				f.Type = typ
			}
			fields = append(fields, f)
		}
		return fields
	}

	invalid := map[string][]eip712.Property{
		"No signer":        withField("from", ""),
		"No nonce":         withField("nonce", ""),
		"No expiry":        withField("validUntil", ""),
		"Signer not addr":  withField("from", "bytes20"),
		"Signed nonce":     withField("nonce", "int256"),
		"Expiry as string": withField("validUntil", "string"),
	}
	for name, fields := range invalid {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, v.RegisterRequestType("ForwardRequest", fields), eip712.ErrMalformedType)
		})
	}

	require.NoError(t, v.RegisterRequestType("ForwardRequest", withField("nonce", "uint64")))
	assert.ErrorIs(t, v.RegisterRequestType("ForwardRequest", forwardRequestType), eip712.ErrTypeConflict)

	custom := relay.NewValidator(relay.Config{SignerField: "signer", NonceField: "salt", ExpiryField: "deadline"}, nonce.NewMemoryStore(), nil, nil)
	assert.NoError(t, custom.RegisterRequestType("Permit", []eip712.Property{
		{Name: "signer", Type: "address"},
		{Name: "salt", Type: "uint256"},
		{Name: "deadline", Type: "uint48"},
	}))
}

func typedDataJSON(f *fixture, nonceValue uint64, gasType, chainID string) string {
	return fmt.Sprintf(`{
		"types": {
			"EIP712Domain": [
				{"name":"name","type":"string"},{"name":"version","type":"string"},
				{"name":"chainId","type":"uint256"},{"name":"verifyingContract","type":"address"}
			],
			"ForwardRequest": [
				{"name":"from","type":"address"},{"name":"to","type":"address"},
				{"name":"value","type":"uint256"},{"name":"gas","type":"%s"},
				{"name":"nonce","type":"uint256"},{"name":"data","type":"bytes"},
				{"name":"validUntil","type":"uint256"}
			]
		},
		"primaryType": "ForwardRequest",
		"domain": {"name":"GasFreeERC20","version":"1","chainId":"%s","verifyingContract":"%s"},
		"message": {
			"from": "%s", "to": "%s", "value": "0", "gas": 21000, "nonce": %d,
			"data": "%s",
			"validUntil": "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
		}
	}`, gasType, chainID, forwarder.Hex(), f.signer.Address().Hex(), forwarder.Hex(), nonceValue, hexutil.Encode(f.calldata))
}

func TestValidateTypedData(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())

	req := f.request(0)
	sig := signRequest(t, f.validator, f.signer, req)

	td, err := eip712.ParseTypedData([]byte(typedDataJSON(f, 0, "uint256", "0x7a69")))
	require.NoError(t, err)

	d := f.validator.ValidateTypedData(context.Background(), td, sig, now)
	require.NoError(t, d.Err)
	assert.True(t, d.Accepted())
	assert.Equal(t, eoa1, d.Signer)

	d = f.validator.ValidateTypedData(context.Background(), td, sig, now)
	assert.Equal(t, relay.ReasonReplay, d.Reason)

	conflicting, err := eip712.ParseTypedData([]byte(typedDataJSON(f, 1, "uint128", "0x7a69")))
	require.NoError(t, err)
	d = f.validator.ValidateTypedData(context.Background(), conflicting, sig, now)
	assert.Equal(t, relay.ReasonTypeConflict, d.Reason)
	assert.Equal(t, relay.StateTypeResolved, d.Reached)
}

func TestValidateTypedDataCheckOrder(t *testing.T) {
	f := setupValidator(t, nonce.NewMemoryStore())
	sig := make(sign.Signature, 65)

	t.Run("Unknown domain before type conflict", func(t *testing.T) {
		td, err := eip712.ParseTypedData([]byte(typedDataJSON(f, 0, "uint128", "0x1")))
		require.NoError(t, err)

		d := f.validator.ValidateTypedData(context.Background(), td, sig, now)
		assert.Equal(t, relay.ReasonUnknownDomain, d.Reason)
		assert.ErrorIs(t, d.Err, relay.ErrUnknownDomain)
		assert.Equal(t, relay.StateReceived, d.Reached)
	})

	t.Run("Unknown domain before unknown type", func(t *testing.T) {
		td, err := eip712.ParseTypedData([]byte(typedDataJSON(f, 0, "uint256", "0x1")))
		require.NoError(t, err)
		td.PrimaryType = "MetaTransaction"

		d := f.validator.ValidateTypedData(context.Background(), td, sig, now)
		assert.Equal(t, relay.ReasonUnknownDomain, d.Reason)
	})

	t.Run("Unknown type before type conflict", func(t *testing.T) {
		td, err := eip712.ParseTypedData([]byte(typedDataJSON(f, 0, "uint128", "0x7a69")))
		require.NoError(t, err)
		td.PrimaryType = "MetaTransaction"

		d := f.validator.ValidateTypedData(context.Background(), td, sig, now)
		assert.Equal(t, relay.ReasonUnknownType, d.Reason)
		assert.Equal(t, relay.StateDomainResolved, d.Reached)
		assert.Equal(t, domainID, d.DomainID)
	})
}

func TestNewValidatorDefaultsNonceStore(t *testing.T) {
	v := relay.NewValidator(relay.DefaultConfig(), nil, nil, nil)
	require.NoError(t, v.RegisterRequestType("ForwardRequest", forwardRequestType))
	require.NoError(t, v.RegisterDomain(domainID, gasFreeDomain()))

	signer, err := sign.NewEthereumSigner(eoa1Key)
	require.NoError(t, err)
	f := &fixture{validator: v, signer: signer}
	req := f.request(0)
	sig := signRequest(t, v, signer, req)

	assert.True(t, v.Validate(context.Background(), req, sig, now).Accepted())
	assert.Equal(t, relay.ReasonReplay, v.Validate(context.Background(), req, sig, now).Reason)
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, relay.ReasonNone, relay.ReasonFor(nil))
	assert.Equal(t, relay.ReasonInternal, relay.ReasonFor(errors.New("boom")))
	assert.Equal(t, relay.ReasonMalformedInput, relay.ReasonFor(fmt.Errorf("wrapped: %w", eip712.ErrMalformedType)))
	assert.Equal(t, relay.ReasonInvalidRecoveryID, relay.ReasonFor(fmt.Errorf("wrapped: %w", sign.ErrInvalidRecoveryID)))
}
