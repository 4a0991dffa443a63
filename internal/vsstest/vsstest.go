// Package vsstest provides fixture helpers shared by the vss package's
// tests: building a cohort of dealer/verifier key pairs, the way
// DeDiS-crypto's vss_test.go genPair/genCommits helpers do, and a
// clockwork-backed deadline check for the timeout scenarios in
// spec.md §8.
package vsstest

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/drand/pedersen-vss/group"
	"github.com/jonboulle/clockwork"
)

// Cohort is a set of long-term key pairs for one VSS run: one dealer
// and n verifiers.
type Cohort struct {
	DealerSecret group.Scalar
	DealerPublic group.Point
	Secrets      []group.Scalar
	Publics      []group.Point
}

// NewCohort samples a dealer key pair and n verifier key pairs from
// rnd. Pass nil to use crypto/rand.
func NewCohort(rnd io.Reader, n int) (*Cohort, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	dealerSecret, err := group.RandomScalar(rnd)
	if err != nil {
		return nil, err
	}
	secrets := make([]group.Scalar, n)
	publics := make([]group.Point, n)
	for i := 0; i < n; i++ {
		s, err := group.RandomScalar(rnd)
		if err != nil {
			return nil, err
		}
		secrets[i] = s
		publics[i] = group.Base().Mul(s)
	}
	return &Cohort{
		DealerSecret: dealerSecret,
		DealerPublic: group.Base().Mul(dealerSecret),
		Secrets:      secrets,
		Publics:      publics,
	}, nil
}

// Deadline wraps a clockwork.Clock with the pure yes/no decision a
// SetTimeout caller makes: has the round's deadline passed. It holds no
// goroutine and drives no background behavior; it is evaluated on
// demand wherever a test (or a caller embedding this package) needs to
// decide whether to call SetTimeout yet.
type Deadline struct {
	clock clockwork.Clock
	at    time.Time
}

// NewDeadline returns a Deadline that expires after d elapses on clock.
func NewDeadline(clock clockwork.Clock, d time.Duration) *Deadline {
	return &Deadline{clock: clock, at: clock.Now().Add(d)}
}

// Expired reports whether the deadline has passed according to the
// clock backing it.
func (dl *Deadline) Expired() bool {
	return !dl.clock.Now().Before(dl.at)
}

