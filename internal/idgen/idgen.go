// Package idgen provides cryptographically random ID generation.
//
// Every aggregate gets a typed prefix so IDs are self-describing in logs
// and support tickets: trd_ (trades), ord_ (orders), sub_ (webhook
// subscriptions), rcp_ (settlement receipts).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix generates a random ID with a prefix (e.g. "trd_", "ord_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Trade returns a new trade ID.
func Trade() string { return WithPrefix("trd_") }

// Order returns a new order ID.
func Order() string { return WithPrefix("ord_") }

// Subscription returns a new webhook subscription ID.
func Subscription() string { return WithPrefix("sub_") }

// Receipt returns a new settlement receipt ID.
func Receipt() string { return WithPrefix("rcp_") }
