// Package relay decides whether a signed typed data request may be relayed.
//
// A Validator recomputes the request's digest and recovers its signer, then
// checks the nonce and expiry before consuming the nonce. Every call returns
// a Decision; rejections carry a Reason.
package relay
