// Package poly implements the private and public secret-sharing
// polynomials and the Lagrange interpolation used to recover a shared
// secret, the "polynomial evaluation / Lagrange recovery primitives"
// spec.md §1 and §6 name as an external collaborator of the VSS core.
//
// The design mirrors DeDiS-crypto's share.PriPoly/PubPoly: a private
// polynomial of degree t-1 whose constant term is the shared secret (or
// a fresh random value for the blinding polynomial), and its public
// commitment polynomial obtained by multiplying every coefficient by a
// base point.
package poly

import (
	"errors"
	"io"

	"github.com/drand/pedersen-vss/group"
)

// PriShare is an evaluation p(i) of a private polynomial.
type PriShare struct {
	I int
	V group.Scalar
}

// PriPoly is a polynomial over the scalar field, used to share a secret
// (or, for the blinding polynomial, a random value) among n participants.
type PriPoly struct {
	coeffs []group.Scalar
}

// NewPriPoly creates a degree t-1 polynomial. If constant is non-nil, it
// becomes the constant term (the shared secret); otherwise the constant
// term is sampled uniformly at random, which is how the Dealer builds
// its blinding polynomial g (spec.md §4.3 step 3).
func NewPriPoly(t int, constant *group.Scalar, rnd io.Reader) (*PriPoly, error) {
	if t < 1 {
		return nil, errors.New("poly: threshold must be at least 1")
	}
	coeffs := make([]group.Scalar, t)
	var err error
	if constant != nil {
		coeffs[0] = *constant
	} else if coeffs[0], err = group.RandomScalar(rnd); err != nil {
		return nil, err
	}
	for i := 1; i < t; i++ {
		if coeffs[i], err = group.RandomScalar(rnd); err != nil {
			return nil, err
		}
	}
	return &PriPoly{coeffs}, nil
}

// Threshold returns the polynomial's degree plus one, t.
func (p *PriPoly) Threshold() int {
	return len(p.coeffs)
}

// Secret returns the constant term p(0).
func (p *PriPoly) Secret() group.Scalar {
	return p.coeffs[0]
}

// Eval evaluates p at the 1-based x-coordinate corresponding to index i,
// using Horner's method.
func (p *PriPoly) Eval(i int) PriShare {
	xi := group.ScalarFromUint64(uint64(i) + 1)
	v := group.ZeroScalar()
	for j := p.Threshold() - 1; j >= 0; j-- {
		v = v.Mul(xi).Add(p.coeffs[j])
	}
	return PriShare{I: i, V: v}
}

// Commit builds the public commitment polynomial C(X) = sum coeffs[j]*base^X^j,
// i.e. the coefficient-wise commitment of p to the given base point.
func (p *PriPoly) Commit(base group.Point) *PubPoly {
	commits := make([]group.Point, p.Threshold())
	for i, c := range p.coeffs {
		commits[i] = base.Mul(c)
	}
	return &PubPoly{commits}
}

// PubShare is an evaluation P(i) of a public commitment polynomial.
type PubShare struct {
	I int
	V group.Point
}

// PubPoly is a public commitment polynomial: the coefficient-wise
// commitment of a PriPoly under some base point.
type PubPoly struct {
	commits []group.Point
}

// NewPubPoly builds a public polynomial directly from its commitments,
// used by a Verifier reconstructing C(X) from a Deal's wire encoding.
func NewPubPoly(commits []group.Point) *PubPoly {
	return &PubPoly{commits}
}

// Threshold returns t, the number of commitments.
func (p *PubPoly) Threshold() int {
	return len(p.commits)
}

// Commits returns the ordered coefficient commitments C_0..C_{t-1}.
func (p *PubPoly) Commits() []group.Point {
	return p.commits
}

// Add returns the coefficient-wise sum of p and q. Used to combine the
// secret polynomial's commitment F with the blinding polynomial's
// commitment G into the Pedersen commitment polynomial C = F + G.
func (p *PubPoly) Add(q *PubPoly) (*PubPoly, error) {
	if p.Threshold() != q.Threshold() {
		return nil, errors.New("poly: mismatched thresholds in PubPoly.Add")
	}
	sum := make([]group.Point, p.Threshold())
	for i := range sum {
		sum[i] = p.commits[i].Add(q.commits[i])
	}
	return &PubPoly{sum}, nil
}

// Eval evaluates the commitment polynomial at the 1-based x-coordinate
// corresponding to index i.
func (p *PubPoly) Eval(i int) PubShare {
	xi := group.ScalarFromUint64(uint64(i) + 1)
	v := group.Identity()
	for j := p.Threshold() - 1; j >= 0; j-- {
		v = v.Mul(xi).Add(p.commits[j])
	}
	return PubShare{I: i, V: v}
}

// RecoverSecret reconstructs p(0) from t or more private shares via
// Lagrange interpolation at x=0. It returns an error if fewer than t
// shares with distinct indices are supplied.
func RecoverSecret(shares []PriShare, t int) (group.Scalar, error) {
	xs, err := xCoords(shares, t)
	if err != nil {
		return group.Scalar{}, err
	}

	acc := group.ZeroScalar()
	for i := range xs {
		if xs[i] == nil {
			continue
		}
		num := shares[i].V
		den := group.OneScalar()
		for j := range xs {
			if j == i || xs[j] == nil {
				continue
			}
			num = num.Mul(*xs[j])
			den = den.Mul(xs[j].Sub(*xs[i]))
		}
		acc = acc.Add(num.Div(den))
	}
	return acc, nil
}

// xCoords returns the 1-based x-coordinate of each share, skipping any
// share whose index repeats an earlier one and capped at the first t
// distinct indices, for use in Lagrange interpolation. It returns an
// error if fewer than t distinct indices are present.
func xCoords(shares []PriShare, t int) ([]*group.Scalar, error) {
	xs := make([]*group.Scalar, len(shares))
	seen := make(map[int]bool, len(shares))
	count := 0
	for i := range shares {
		if seen[shares[i].I] {
			continue
		}
		seen[shares[i].I] = true
		x := group.ScalarFromUint64(uint64(shares[i].I) + 1)
		xs[i] = &x
		count++
		if count >= t {
			break
		}
	}
	if count < t {
		return nil, errors.New("poly: not enough shares to reconstruct secret")
	}
	return xs, nil
}
