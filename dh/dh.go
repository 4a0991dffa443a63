// Package dh implements the Diffie-Hellman key agreement and AEAD
// construction the VSS dealer/verifier use to seal a Deal to a single
// recipient (spec.md §6): a deterministic HKDF context string binding
// the participant set, and an AES-256-GCM cipher keyed from an
// ephemeral-static DH exchange via HKDF, in the manner of drand's
// ecies package.
package dh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"

	"github.com/drand/pedersen-vss/group"
	"golang.org/x/crypto/hkdf"
)

// Exchange computes the Diffie-Hellman shared point scalar*point.
func Exchange(scalar group.Scalar, point group.Point) group.Point {
	return point.Mul(scalar)
}

// Context derives a deterministic domain-separation string binding the
// dealer's long-term public key and the ordered verifier list. Dealer
// and Verifier must compute byte-identical contexts without
// communicating (spec.md §6: dh::context).
func Context(dealerPub group.Point, verifiers []group.Point) []byte {
	h := sha256.New()
	h.Write([]byte("vss-hkdf-context"))
	h.Write(dealerPub.Bytes())
	for _, v := range verifiers {
		h.Write(v.Bytes())
	}
	return h.Sum(nil)
}

// NewAEAD derives an AES-256-GCM cipher from the DH shared point via
// HKDF (salt = none, ikm = shared point encoding, info = ctx), the
// construction spec.md §6 requires (dh::new_aead).
func NewAEAD(shared group.Point, ctx []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, shared.Bytes(), nil, ctx)
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ZeroNonce is the fixed 12-byte all-zero nonce used to seal every
// EncryptedDeal. This is only safe because the AEAD key is derived from
// a fresh ephemeral DH scalar for each recipient (spec.md §4.3,
// "Security note"); implementers must preserve that invariant.
var ZeroNonce = make([]byte, 12)
