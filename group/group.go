// Package group wraps the Ristretto255 prime-order group behind the
// narrow scalar/point contract the vss package needs (spec.md §6:
// ECScalar/ECPoint). The actual field and curve arithmetic lives in
// github.com/gtank/ristretto255; this package only adds canonical
// 32-byte encoding, constant-time group ops, and the handful of
// convenience constructors (ZeroScalar, OneScalar, ScalarFromUint64) the VSS and
// polynomial code relies on.
package group

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/gtank/ristretto255"
)

// ScalarSize and PointSize are the canonical Ristretto255 encoding
// lengths; every wire artifact in package vss assumes these.
const (
	ScalarSize = 32
	PointSize  = 32
)

// Scalar is an element of the Ristretto255 scalar field.
type Scalar struct {
	s *ristretto255.Scalar
}

// Point is an element of the Ristretto255 group.
type Point struct {
	p *ristretto255.Element
}

// ZeroScalar returns the additive identity.
func ZeroScalar() Scalar {
	return Scalar{ristretto255.NewScalar()}
}

// OneScalar returns the multiplicative identity.
func OneScalar() Scalar {
	return scalarFromSmallInt(1)
}

// ScalarFromUint64 encodes v as a scalar. Used to build the x-coordinate
// i+1 of share index i for polynomial evaluation and Lagrange recovery.
func ScalarFromUint64(v uint64) Scalar {
	return scalarFromSmallInt(v)
}

func scalarFromSmallInt(v uint64) Scalar {
	var buf [ScalarSize]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	s, err := ristretto255.NewScalar().SetCanonicalBytes(buf[:])
	if err != nil {
		// buf encodes a value far smaller than the group order; this
		// can only fail if the ristretto255 encoding rules changed.
		panic("group: small integer scalar rejected: " + err.Error())
	}
	return Scalar{s}
}

// RandomScalar samples a uniform scalar from rnd. Used for the blinding
// polynomial's coefficients and the per-recipient ephemeral DH scalar
// (spec.md §5): both must come from a cryptographically secure source.
func RandomScalar(rnd io.Reader) (Scalar, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	var buf [64]byte
	if _, err := io.ReadFull(rnd, buf[:]); err != nil {
		return Scalar{}, err
	}
	s, err := ristretto255.NewScalar().SetUniformBytes(buf[:])
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{s}, nil
}

// Add returns s + o.
func (s Scalar) Add(o Scalar) Scalar {
	return Scalar{ristretto255.NewScalar().Add(s.s, o.s)}
}

// Sub returns s - o.
func (s Scalar) Sub(o Scalar) Scalar {
	return Scalar{ristretto255.NewScalar().Subtract(s.s, o.s)}
}

// Mul returns s * o.
func (s Scalar) Mul(o Scalar) Scalar {
	return Scalar{ristretto255.NewScalar().Multiply(s.s, o.s)}
}

// Div returns s / o, i.e. s * o^-1.
func (s Scalar) Div(o Scalar) Scalar {
	inv := ristretto255.NewScalar().Invert(o.s)
	return Scalar{ristretto255.NewScalar().Multiply(s.s, inv)}
}

// Neg returns -s.
func (s Scalar) Neg() Scalar {
	return Scalar{ristretto255.NewScalar().Negate(s.s)}
}

// Equal reports whether s and o encode the same scalar.
func (s Scalar) Equal(o Scalar) bool {
	return s.s.Equal(o.s) == 1
}

// IsZero reports whether s is the additive identity.
func (s Scalar) IsZero() bool {
	return s.Equal(ZeroScalar())
}

// Bytes returns the canonical 32-byte little-endian encoding of s.
func (s Scalar) Bytes() []byte {
	return s.s.Bytes()
}

// SetBytes decodes the canonical 32-byte encoding produced by Bytes.
// It returns an error (a cryptographic decoding failure per spec.md §7)
// if buf does not encode a scalar reduced modulo the group order.
func (s Scalar) SetBytes(buf []byte) (Scalar, error) {
	v, err := ristretto255.NewScalar().SetCanonicalBytes(buf)
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{v}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler so go.dedis.ch/protobuf
// can encode a Scalar field as a plain length-prefixed byte blob.
func (s Scalar) MarshalBinary() ([]byte, error) {
	return s.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the counterpart
// protobuf uses when decoding a Deal back from the wire.
func (s *Scalar) UnmarshalBinary(buf []byte) error {
	v, err := s.SetBytes(buf)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// HashToScalar derives a scalar from an arbitrary-length digest, used to
// turn a SHA-512 transcript hash into the Schnorr challenge scalar.
func HashToScalar(digest []byte) (Scalar, error) {
	s, err := ristretto255.NewScalar().SetUniformBytes(wideningPad(digest))
	if err != nil {
		return Scalar{}, err
	}
	return Scalar{s}, nil
}

// wideningPad zero-pads or truncates digest to the 64 bytes
// SetUniformBytes requires. Every caller already passes a 64-byte
// SHA-512 sum; the padding only guards against a shorter digest being
// passed by mistake.
func wideningPad(digest []byte) []byte {
	if len(digest) >= 64 {
		return digest[:64]
	}
	buf := make([]byte, 64)
	copy(buf, digest)
	return buf
}

// Base returns the fixed generator G.
func Base() Point {
	one := OneScalar()
	return Point{ristretto255.NewElement().ScalarBaseMult(one.s)}
}

// Identity returns the group identity element.
func Identity() Point {
	return Point{ristretto255.NewIdentityElement()}
}

// Add returns p + o.
func (p Point) Add(o Point) Point {
	return Point{ristretto255.NewElement().Add(p.p, o.p)}
}

// Mul returns s*p, i.e. p scaled by scalar s.
func (p Point) Mul(s Scalar) Point {
	return Point{ristretto255.NewElement().ScalarMult(s.s, p.p)}
}

// Equal reports whether p and o encode the same point.
func (p Point) Equal(o Point) bool {
	if p.p == nil || o.p == nil {
		return p.p == o.p
	}
	return p.p.Equal(o.p) == 1
}

// Bytes returns the canonical 32-byte encoding of p.
func (p Point) Bytes() []byte {
	return p.p.Bytes()
}

// SetBytes decodes the canonical 32-byte encoding produced by Bytes. It
// fails (point decoding failure, spec.md §7) on roughly half of random
// 32-byte strings, which is what makes DeriveH (package vss) a rejection
// sampling loop over a XOF stream rather than a single hash.
func (p Point) SetBytes(buf []byte) (Point, error) {
	if len(buf) != PointSize {
		return Point{}, errors.New("group: point encoding must be 32 bytes")
	}
	v, err := ristretto255.NewElement().SetCanonicalBytes(buf)
	if err != nil {
		return Point{}, err
	}
	return Point{v}, nil
}

// MarshalBinary implements encoding.BinaryMarshaler so go.dedis.ch/protobuf
// can encode a Point field as a plain length-prefixed byte blob.
func (p Point) MarshalBinary() ([]byte, error) {
	return p.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler, the counterpart
// protobuf uses when decoding a Deal back from the wire.
func (p *Point) UnmarshalBinary(buf []byte) error {
	v, err := p.SetBytes(buf)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
