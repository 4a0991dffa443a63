// Package schnorr implements a Schnorr signature scheme over the
// Ristretto255 group, with an associated-data parameter mixed into the
// transcript but not into the signed message (spec.md §6:
// sign::sign_msg/verify_signature). It follows the same commit-challenge-
// response construction as the vendored kyber.v1 sign/schnorr package,
// generalized with the aad parameter the VSS Response/Justification
// transcripts require for domain separation between message types.
package schnorr

import (
	"crypto/sha512"
	"errors"
	"io"

	"github.com/drand/pedersen-vss/group"
)

// SignatureSize is the length in bytes of a Sign output: a point R
// followed by a scalar response s.
const SignatureSize = group.PointSize + group.ScalarSize

// Sign produces a signature over msg under private key sk, binding aad
// into the transcript without including it in the signed message
// itself. aad may be nil.
func Sign(rnd io.Reader, sk group.Scalar, msg, aad []byte) ([]byte, error) {
	k, err := group.RandomScalar(rnd)
	if err != nil {
		return nil, err
	}
	R := group.Base().Mul(k)
	pub := group.Base().Mul(sk)

	c, err := challenge(pub, R, msg, aad)
	if err != nil {
		return nil, err
	}

	s := k.Add(sk.Mul(c))

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, R.Bytes()...)
	sig = append(sig, s.Bytes()...)
	return sig, nil
}

// Verify reports an error unless sig is a valid signature over msg and
// aad under public key pub.
func Verify(pub group.Point, msg, aad, sig []byte) error {
	if len(sig) != SignatureSize {
		return errors.New("schnorr: signature has wrong length")
	}
	R, err := group.Point{}.SetBytes(sig[:group.PointSize])
	if err != nil {
		return err
	}
	s, err := group.Scalar{}.SetBytes(sig[group.PointSize:])
	if err != nil {
		return err
	}

	c, err := challenge(pub, R, msg, aad)
	if err != nil {
		return err
	}

	// S = s*G must equal R + c*pub
	S := group.Base().Mul(s)
	RcA := R.Add(pub.Mul(c))
	if !S.Equal(RcA) {
		return errors.New("schnorr: invalid signature")
	}
	return nil
}

func challenge(pub, r group.Point, msg, aad []byte) (group.Scalar, error) {
	h := sha512.New()
	h.Write(r.Bytes())
	h.Write(pub.Bytes())
	h.Write(msg)
	if len(aad) > 0 {
		h.Write([]byte("aad"))
		h.Write(aad)
	}
	return group.HashToScalar(h.Sum(nil))
}
