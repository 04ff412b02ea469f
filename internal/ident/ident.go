// Package ident holds the hex-encoded value types shared by the ledger
// components: 32-byte hashes (session ids, manifest hashes, Merkle roots)
// and 20-byte account addresses.
package ident

import "strings"

// Hash is a 32-byte value encoded as 64 lowercase hex characters.
type Hash string

// Address is a 20-byte account identifier encoded as 40 lowercase hex
// characters, derived from a public key.
type Address string

const (
	hashLen    = 64
	addressLen = 40
)

// Valid reports whether h is well-formed (length and character set).
func (h Hash) Valid() bool {
	return len(h) == hashLen && isHex(string(h))
}

// IsZero reports whether h is empty or the all-zero value. A zero hash is
// rejected as input everywhere.
func (h Hash) IsZero() bool {
	if h == "" {
		return true
	}
	return allZero(string(h))
}

// Valid reports whether a is well-formed.
func (a Address) Valid() bool {
	return len(a) == addressLen && isHex(string(a))
}

// IsZero reports whether a is empty or the all-zero address.
func (a Address) IsZero() bool {
	if a == "" {
		return true
	}
	return allZero(string(a))
}

// ParseHash normalizes s (case, optional 0x prefix) and validates it.
func ParseHash(s string) (Hash, bool) {
	h := Hash(normalize(s))
	if !h.Valid() {
		return "", false
	}
	return h, true
}

// ParseAddress normalizes s and validates it.
func ParseAddress(s string) (Address, bool) {
	a := Address(normalize(s))
	if !a.Valid() {
		return "", false
	}
	return a, true
}

func normalize(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return strings.ToLower(s)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func allZero(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}
