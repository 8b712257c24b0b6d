package eip712_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghks18g/eip712/pkg/eip712"
)

var (
	cowWallet = common.HexToAddress("0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826")
	bobWallet = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	mailBox   = common.HexToAddress("0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC")
)

func newMailRegistry(t *testing.T) *eip712.Registry {
	t.Helper()
	reg := eip712.NewRegistry()
	require.NoError(t, reg.Register("Person", []eip712.Property{
		{Name: "name", Type: "string"},
		{Name: "wallet", Type: "address"},
	}))
	require.NoError(t, reg.Register("Mail", []eip712.Property{
		{Name: "from", Type: "Person"},
		{Name: "to", Type: "Person"},
		{Name: "contents", Type: "string"},
	}))
	return reg
}

func mailMessage() eip712.Message {
	return eip712.Message{
		"from": eip712.Struct(eip712.Message{
			"name":   eip712.String("Cow"),
			"wallet": eip712.Address(cowWallet),
		}),
		"to": eip712.Struct(eip712.Message{
			"name":   eip712.String("Bob"),
			"wallet": eip712.Address(bobWallet),
		}),
		"contents": eip712.String("Hello, Bob!"),
	}
}

func TestHashTypedDataMail(t *testing.T) {
	reg := newMailRegistry(t)
	domain := eip712.NewDomain("Ether Mail", "1", big.NewInt(1), mailBox)

	separator, err := eip712.DomainSeparator(domain)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xf2cee375fa42b42143804025fc449deafd50cc031ca257e0b194a650a912090f"), separator)

	structHash, err := reg.HashStruct("Mail", mailMessage())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xc52c0ee5d84264471806290a3f2c4cecfc5490626bf912d01f240d7a274b371e"), structHash)

	digest, err := reg.HashTypedData(domain, "Mail", mailMessage())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2"), digest)
	assert.Equal(t, eip712.Digest(separator, structHash), digest)
}

func TestHashStruct(t *testing.T) {
	t.Run("Extra fields are ignored", func(t *testing.T) {
		reg := newMailRegistry(t)
		msg := mailMessage()
		want, err := reg.HashStruct("Mail", msg)
		require.NoError(t, err)

		msg["cc"] = eip712.String("Alice")
		got, err := reg.HashStruct("Mail", msg)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("Missing field", func(t *testing.T) {
		reg := newMailRegistry(t)
		msg := mailMessage()
		delete(msg, "contents")

		_, err := reg.HashStruct("Mail", msg)
		assert.ErrorIs(t, err, eip712.ErrMissingField)
		assert.ErrorIs(t, err, eip712.ErrMalformedInput)
		assert.Contains(t, err.Error(), "Mail.contents")
	})

	t.Run("Missing nested field", func(t *testing.T) {
		reg := newMailRegistry(t)
		msg := mailMessage()
		msg["to"] = eip712.Struct(eip712.Message{"name": eip712.String("Bob")})

		_, err := reg.HashStruct("Mail", msg)
		assert.ErrorIs(t, err, eip712.ErrMissingField)
		assert.Contains(t, err.Error(), "Person.wallet")
	})

	t.Run("Unknown type", func(t *testing.T) {
		_, err := eip712.NewRegistry().HashStruct("Mail", mailMessage())
		assert.ErrorIs(t, err, eip712.ErrUnknownType)
	})

	t.Run("Wrong value kind", func(t *testing.T) {
		reg := newMailRegistry(t)
		msg := mailMessage()
		msg["contents"] = eip712.Bytes([]byte("Hello, Bob!"))

		_, err := reg.HashStruct("Mail", msg)
		assert.ErrorIs(t, err, eip712.ErrTypeMismatch)
	})

	t.Run("Field order follows the registry", func(t *testing.T) {
		reg := newMailRegistry(t)
		data, err := reg.EncodeData("Mail", mailMessage())
		require.NoError(t, err)
		require.Len(t, data, 96)
		assert.Equal(t, crypto.Keccak256([]byte("Hello, Bob!")), data[64:])
	})
}

func TestEncodeValue(t *testing.T) {
	reg := eip712.NewRegistry()

	word := func(hex string) common.Hash { return common.HexToHash(hex) }
	minusOne := common.BytesToHash(common.FromHex("0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"))

	valid := []struct {
		name  string
		typ   string
		value eip712.Value
		want  common.Hash
	}{
		{"Address is left padded", "address", eip712.Address(bobWallet), common.BytesToHash(bobWallet.Bytes())},
		{"Bool true", "bool", eip712.Bool(true), word("0x01")},
		{"Bool false", "bool", eip712.Bool(false), common.Hash{}},
		{"uint8 max", "uint8", eip712.Uint64(255), word("0xff")},
		{"uint256 max", "uint256", eip712.Uint(new(uint256.Int).SetAllOne()), minusOne},
		{"int8 minus one", "int8", eip712.Int(big.NewInt(-1)), minusOne},
		{"int16 positive", "int16", eip712.Int(big.NewInt(300)), word("0x012c")},
		{"bytes4 right padded", "bytes4", eip712.FixedBytes([]byte{0xde, 0xad, 0xbe, 0xef}), word("0xdeadbeef00000000000000000000000000000000000000000000000000000000")},
		{"bytes hashed", "bytes", eip712.Bytes([]byte{0x01, 0x02}), crypto.Keccak256Hash([]byte{0x01, 0x02})},
		{"Empty bytes hashed", "bytes", eip712.Bytes(nil), crypto.Keccak256Hash(nil)},
		{"string hashed", "string", eip712.String("gm"), crypto.Keccak256Hash([]byte("gm"))},
		{"Dynamic array", "uint8[]", eip712.Array(eip712.Uint64(1), eip712.Uint64(2)), crypto.Keccak256Hash(word("0x01").Bytes(), word("0x02").Bytes())},
		{"Empty array", "bool[]", eip712.Array(), crypto.Keccak256Hash(nil)},
		{"Fixed array", "string[2]", eip712.Array(eip712.String("a"), eip712.String("b")), crypto.Keccak256Hash(crypto.Keccak256([]byte("a")), crypto.Keccak256([]byte("b")))},
	}
	for _, test := range valid {
		t.Run(test.name, func(t *testing.T) {
			got, err := reg.EncodeValue(test.typ, test.value)
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}

	invalid := []struct {
		name  string
		typ   string
		value eip712.Value
		err   error
	}{
		{"uint8 overflow", "uint8", eip712.Uint64(256), eip712.ErrMalformedInput},
		{"int8 overflow", "int8", eip712.Int(big.NewInt(128)), eip712.ErrMalformedInput},
		{"int8 underflow", "int8", eip712.Int(big.NewInt(-129)), eip712.ErrMalformedInput},
		{"bytes4 too short", "bytes4", eip712.FixedBytes([]byte{0x01}), eip712.ErrMalformedInput},
		{"bytes4 too long", "bytes4", eip712.FixedBytes(make([]byte, 5)), eip712.ErrMalformedInput},
		{"Fixed array length", "bool[2]", eip712.Array(eip712.Bool(true)), eip712.ErrMalformedInput},
		{"Array element kind", "bool[]", eip712.Array(eip712.String("true")), eip712.ErrTypeMismatch},
		{"Uint for int", "int256", eip712.Uint64(1), eip712.ErrTypeMismatch},
		{"String for address", "address", eip712.String(bobWallet.Hex()), eip712.ErrTypeMismatch},
		{"Zero value", "bool", eip712.Value{}, eip712.ErrTypeMismatch},
		{"Unknown struct", "Person", eip712.Struct(eip712.Message{}), eip712.ErrUnknownType},
		{"Malformed type", "uint", eip712.Uint64(1), eip712.ErrMalformedType},
	}
	for _, test := range invalid {
		t.Run(test.name, func(t *testing.T) {
			_, err := reg.EncodeValue(test.typ, test.value)
			assert.ErrorIs(t, err, test.err)
		})
	}
}

// TestHashTypedDataAgainstAPITypes cross-checks digests with go-ethereum's
// signer implementation on a type that exercises every value category.
func TestHashTypedDataAgainstAPITypes(t *testing.T) {
	reg := eip712.NewRegistry()
	require.NoError(t, reg.Register("Order", []eip712.Property{
		{Name: "maker", Type: "address"},
		{Name: "legs", Type: "Leg[]"},
		{Name: "expiry", Type: "uint64"},
		{Name: "offset", Type: "int32"},
		{Name: "partial", Type: "bool"},
		{Name: "ref", Type: "bytes32"},
		{Name: "memo", Type: "string"},
		{Name: "payload", Type: "bytes"},
		{Name: "tags", Type: "string[]"},
	}))
	require.NoError(t, reg.Register("Leg", []eip712.Property{
		{Name: "asset", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "allowed", Type: "address[]"},
	}))

	asset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ref := crypto.Keccak256Hash([]byte("ref"))
	amount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	msg := eip712.Message{
		"maker": eip712.Address(cowWallet),
		"legs": eip712.Array(
			eip712.Struct(eip712.Message{
				"asset":   eip712.Address(asset),
				"amount":  eip712.Uint(uint256.MustFromBig(amount)),
				"allowed": eip712.Array(eip712.Address(bobWallet), eip712.Address(mailBox)),
			}),
			eip712.Struct(eip712.Message{
				"asset":   eip712.Address(mailBox),
				"amount":  eip712.Uint64(1),
				"allowed": eip712.Array(),
			}),
		),
		"expiry":  eip712.Uint64(1700000000),
		"offset":  eip712.Int(big.NewInt(-42)),
		"partial": eip712.Bool(true),
		"ref":     eip712.FixedBytes(ref.Bytes()),
		"memo":    eip712.String("limit order"),
		"payload": eip712.Bytes([]byte{0xca, 0xfe}),
		"tags":    eip712.Array(eip712.String("spot"), eip712.String("gtc")),
	}

	salt := crypto.Keccak256Hash([]byte("salt"))
	domain := eip712.NewDomain("Exchange", "2", big.NewInt(31337), mailBox)
	domain.Salt = &salt

	digest, err := reg.HashTypedData(domain, "Order", msg)
	require.NoError(t, err)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
				{Name: "salt", Type: "bytes32"},
			},
			"Order": {
				{Name: "maker", Type: "address"},
				{Name: "legs", Type: "Leg[]"},
				{Name: "expiry", Type: "uint64"},
				{Name: "offset", Type: "int32"},
				{Name: "partial", Type: "bool"},
				{Name: "ref", Type: "bytes32"},
				{Name: "memo", Type: "string"},
				{Name: "payload", Type: "bytes"},
				{Name: "tags", Type: "string[]"},
			},
			"Leg": {
				{Name: "asset", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "allowed", Type: "address[]"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "2",
			ChainId:           math.NewHexOrDecimal256(31337),
			VerifyingContract: mailBox.Hex(),
			Salt:              salt.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker": cowWallet.Hex(),
			"legs": []interface{}{
				map[string]interface{}{
					"asset":   asset.Hex(),
					"amount":  amount,
					"allowed": []interface{}{bobWallet.Hex(), mailBox.Hex()},
				},
				map[string]interface{}{
					"asset":   mailBox.Hex(),
					"amount":  big.NewInt(1),
					"allowed": []interface{}{},
				},
			},
			"expiry":  big.NewInt(1700000000),
			"offset":  big.NewInt(-42),
			"partial": true,
			"ref":     ref.Hex(),
			"memo":    "limit order",
			"payload": "0xcafe",
			"tags":    []interface{}{"spot", "gtc"},
		},
	}
	want, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)
	assert.Equal(t, common.BytesToHash(want), digest)

	typeString, err := reg.CanonicalTypeString("Order")
	require.NoError(t, err)
	assert.Equal(t, string(typedData.EncodeType("Order")), typeString)
}
