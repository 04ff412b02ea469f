// Package keys implements the compliance signature scheme: ed25519 over a
// domain-separated sha3-256 digest, and address derivation from public keys.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/HamiGames/Lucid-sub008/internal/ident"
)

// kycDomain separates KYC payout digests from any other signed payload.
// The deployment id is mixed in as well so a signature from one deployment
// can never authorize a payout on another.
const kycDomain = "lucid/kyc/v1"

// AddressOf derives the account address for a public key: the first
// 20 bytes of sha3-256 over the raw key, hex-encoded.
func AddressOf(pub ed25519.PublicKey) ident.Address {
	sum := sha3.Sum256(pub)
	return ident.Address(hex.EncodeToString(sum[:20]))
}

// KYCDigest computes the signed digest for a KYC payout authorization over
// the canonical tuple (recipient, kycHash, expiry).
func KYCDigest(deploymentID string, recipient ident.Address, kycHash ident.Hash, expiry int64) []byte {
	h := sha3.New256()
	h.Write([]byte(kycDomain))
	h.Write([]byte{0})
	h.Write([]byte(deploymentID))
	h.Write([]byte{0})
	h.Write([]byte(recipient))
	h.Write([]byte(kycHash))
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(expiry))
	h.Write(be[:])
	return h.Sum(nil)
}

// SignKYC signs the KYC digest for the given tuple.
func SignKYC(priv ed25519.PrivateKey, deploymentID string, recipient ident.Address, kycHash ident.Hash, expiry int64) []byte {
	return ed25519.Sign(priv, KYCDigest(deploymentID, recipient, kycHash, expiry))
}

// VerifyKYC reports whether sig is a valid signature by pub over the KYC
// digest for the given tuple.
func VerifyKYC(pub ed25519.PublicKey, deploymentID string, recipient ident.Address, kycHash ident.Hash, expiry int64, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, KYCDigest(deploymentID, recipient, kycHash, expiry), sig)
}

// Generate returns a fresh compliance-signer keypair.
func Generate() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// ParsePublicKey decodes a base64 ed25519 public key (config format).
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeKey renders a key as base64 for config files and CLI output.
func EncodeKey(k []byte) string {
	return base64.StdEncoding.EncodeToString(k)
}
