// Package sign signs EIP-712 digests and recovers their signers.
//
// A signature is the 65-byte r ‖ s ‖ v encoding produced by wallets. Parsing
// accepts v as 27/28 or as a bare 0/1 recovery id, and rejects anything else.
//
// Recovery goes through a Verifier. With RequireLowS set, signatures whose s
// lies in the upper half of the curve order are rejected with
// ErrMalleableSignature so that each message has exactly one valid encoding.
//
// Usage
//
//	signer, err := sign.NewEthereumSigner(privateKeyHex)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sig, err := signer.Sign(digest)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	verifier := sign.Verifier{RequireLowS: true}
//	from, err := verifier.Recover(digest, sig)
package sign
