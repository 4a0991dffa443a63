package vss

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/drand/pedersen-vss/dh"
	"github.com/drand/pedersen-vss/group"
	"github.com/drand/pedersen-vss/internal/vsstest"
	"github.com/drand/pedersen-vss/poly"
	"github.com/drand/pedersen-vss/sign/schnorr"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nbVerifiers = 7

var verifiersSec []group.Scalar
var verifiersPub []group.Point
var dealerSec group.Scalar
var dealerPub group.Point
var secret group.Scalar

func init() {
	cohort, err := vsstest.NewCohort(rand.Reader, nbVerifiers)
	if err != nil {
		panic(err)
	}
	verifiersSec = cohort.Secrets
	verifiersPub = cohort.Publics
	dealerSec = cohort.DealerSecret
	dealerPub = cohort.DealerPublic

	s, err := group.RandomScalar(rand.Reader)
	if err != nil {
		panic(err)
	}
	secret = s
}

func defaultT() int {
	return MinimumT(nbVerifiers)
}

func TestMinimumT(t *testing.T) {
	assert.Equal(t, 4, MinimumT(7))
	assert.Equal(t, 3, MinimumT(5))
	assert.Equal(t, 2, MinimumT(2))
}

func TestNewDealerRejectsBadThreshold(t *testing.T) {
	_, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	_, err = NewDealer(rand.Reader, dealerSec, secret, verifiersPub, 1)
	assert.Error(t, err)

	_, err = NewDealer(rand.Reader, dealerSec, secret, verifiersPub, nbVerifiers+1)
	assert.Error(t, err)
}

func TestNewVerifierFindsOwnIndex(t *testing.T) {
	v, err := NewVerifier(rand.Reader, verifiersSec[2], dealerPub, verifiersPub)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Index())

	wrongKey, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)
	_, err = NewVerifier(rand.Reader, wrongKey, dealerPub, verifiersPub)
	assert.Error(t, err)
}

func TestSessionIDDeterministic(t *testing.T) {
	d, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	sid1 := sessionID(dealerPub, verifiersPub, d.deals[0].Commitments, defaultT())
	sid2 := sessionID(dealerPub, verifiersPub, d.deals[0].Commitments, defaultT())
	assert.Equal(t, sid1, sid2)
	assert.Equal(t, d.SessionID(), sid1)
}

func TestDeriveHIsDeterministicAndDistinctFromBase(t *testing.T) {
	h1 := deriveH(verifiersPub)
	h2 := deriveH(verifiersPub)
	assert.True(t, h1.Equal(h2))
	assert.False(t, h1.Equal(group.Base()))
}

func fullRun(t *testing.T) (*Dealer, []*Verifier) {
	t.Helper()
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	verifiers := make([]*Verifier, nbVerifiers)
	for i := 0; i < nbVerifiers; i++ {
		v, err := NewVerifier(rand.Reader, verifiersSec[i], dealerPub, verifiersPub)
		require.NoError(t, err)
		verifiers[i] = v
	}

	encrypted, err := dealer.EncryptedDeals()
	require.NoError(t, err)

	responses := make([]*Response, nbVerifiers)
	for i, v := range verifiers {
		r, err := v.ProcessEncryptedDeal(encrypted[i])
		require.NoError(t, err)
		require.True(t, r.Approved)
		responses[i] = r
	}

	for _, r := range responses {
		_, err := dealer.ProcessResponse(r)
		require.NoError(t, err)
		for _, v := range verifiers {
			if int(r.Index) == v.Index() {
				continue
			}
			require.NoError(t, v.ProcessResponse(r))
		}
	}
	return dealer, verifiers
}

func TestFullRunCertifiesAndRecoversSecret(t *testing.T) {
	dealer, verifiers := fullRun(t)

	assert.True(t, dealer.EnoughApprovals())
	assert.True(t, dealer.DealCertified())

	commit, err := dealer.SecretCommit()
	require.NoError(t, err)
	assert.True(t, commit.Equal(group.Base().Mul(secret)))

	deals := make([]*Deal, nbVerifiers)
	for i, v := range verifiers {
		assert.True(t, v.DealCertified())
		deals[i] = v.Deal()
		require.NotNil(t, deals[i])
	}

	recovered, err := RecoverSecret(deals[:defaultT()], defaultT())
	require.NoError(t, err)
	assert.True(t, recovered.Equal(secret))

	recovered2, err := RecoverSecret(deals[nbVerifiers-defaultT():], defaultT())
	require.NoError(t, err)
	assert.True(t, recovered2.Equal(secret))
}

func TestVerifierRejectsTamperedShare(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)
	v, err := NewVerifier(rand.Reader, verifiersSec[0], dealerPub, verifiersPub)
	require.NoError(t, err)

	encrypted, err := dealer.EncryptedDeal(0)
	require.NoError(t, err)

	decoded, err := v.decryptDeal(encrypted)
	require.NoError(t, err)
	tampered := *decoded
	bogus, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)
	tampered.SecShare.V = bogus

	err = verifyDeal(&tampered, verifiersPub, decoded.SessionID)
	assert.Error(t, err)
}

func TestDealerProcessResponseIssuesJustificationOnComplaint(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	complaint := &Response{
		SessionID: dealer.SessionID(),
		Index:     0,
		Approved:  false,
	}
	sig, err := schnorr.Sign(rand.Reader, verifiersSec[0], complaint.Hash(), indexBuf(complaint.Index))
	require.NoError(t, err)
	complaint.Signature = sig

	j, err := dealer.ProcessResponse(complaint)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, uint32(0), j.Index)

	v, err := NewVerifier(rand.Reader, verifiersSec[1], dealerPub, verifiersPub)
	require.NoError(t, err)
	encrypted, err := dealer.EncryptedDeal(1)
	require.NoError(t, err)
	_, err = v.ProcessEncryptedDeal(encrypted)
	require.NoError(t, err)

	require.NoError(t, v.ProcessResponse(complaint))
	require.NoError(t, v.ProcessJustification(j))
}

func TestJustificationForApprovedResponseErrors(t *testing.T) {
	dealer, verifiers := fullRun(t)
	j := &Justification{
		SessionID: dealer.SessionID(),
		Index:     0,
		Deal:      dealer.deals[0],
	}
	err := verifiers[1].ProcessJustification(j)
	assert.Error(t, err)
}

// TestSetTimeoutGatedByDeadline drives a round where only t of n
// verifiers respond, and a caller decides whether to call SetTimeout by
// consulting a clockwork-backed Deadline rather than calling it
// unconditionally, the way a real round-driver would.
func TestSetTimeoutGatedByDeadline(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	verifiers := make([]*Verifier, nbVerifiers)
	for i := 0; i < nbVerifiers; i++ {
		v, err := NewVerifier(rand.Reader, verifiersSec[i], dealerPub, verifiersPub)
		require.NoError(t, err)
		verifiers[i] = v
	}
	encrypted, err := dealer.EncryptedDeals()
	require.NoError(t, err)

	for i := 0; i < defaultT(); i++ {
		r, err := verifiers[i].ProcessEncryptedDeal(encrypted[i])
		require.NoError(t, err)
		_, err = dealer.ProcessResponse(r)
		require.NoError(t, err)
	}

	assert.True(t, dealer.EnoughApprovals())
	assert.False(t, dealer.DealCertified())

	clock := clockwork.NewFakeClockAt(time.Now())
	deadline := vsstest.NewDeadline(clock, 30*time.Second)

	// Before the deadline, the remaining verifiers might still respond;
	// a caller must not declare the round over yet.
	clock.Advance(10 * time.Second)
	require.False(t, deadline.Expired())
	assert.False(t, dealer.DealCertified())

	clock.Advance(25 * time.Second)
	require.True(t, deadline.Expired())
	dealer.SetTimeout()
	assert.True(t, dealer.DealCertified())
}

func TestUnsafeSetResponseDKGBypassesSignature(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	for i := 0; i < nbVerifiers; i++ {
		dealer.UnsafeSetResponseDKG(uint32(i), true)
	}
	assert.True(t, dealer.DealCertified())
}

func TestVerifierProcessResponseRequiresOwnDealFirst(t *testing.T) {
	v, err := NewVerifier(rand.Reader, verifiersSec[0], dealerPub, verifiersPub)
	require.NoError(t, err)

	r := &Response{SessionID: make([]byte, 32), Index: 1, Approved: true}
	err = v.ProcessResponse(r)
	assert.ErrorIs(t, err, ErrNoDealBeforeResponse)
}

func TestRecoverSecretRejectsMismatchedSessions(t *testing.T) {
	s1, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)
	s2, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)

	d1 := &Deal{SessionID: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), SecShare: poly.PriShare{I: 0, V: s1}, T: uint32(defaultT())}
	d2 := &Deal{SessionID: []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), SecShare: poly.PriShare{I: 1, V: s2}, T: uint32(defaultT())}
	_, err = RecoverSecret([]*Deal{d1, d2}, 2)
	assert.Error(t, err)
}

// encryptDealForTest replicates Dealer.EncryptedDeal for a caller-supplied
// Deal, letting tests play the role of a dealer that distributes one Deal
// but backs it with a different (tampered) one under Justification.
func encryptDealForTest(t *testing.T, long group.Scalar, dealerPub group.Point, verifiers []group.Point, index int, deal *Deal) *EncryptedDeal {
	t.Helper()
	e, err := group.RandomScalar(rand.Reader)
	require.NoError(t, err)
	E := group.Base().Mul(e)

	sig, err := schnorr.Sign(rand.Reader, long, E.Bytes(), indexBuf(uint32(index)))
	require.NoError(t, err)

	ctx := dh.Context(dealerPub, verifiers)
	aead, err := dh.NewAEAD(dh.Exchange(e, verifiers[index]), ctx)
	require.NoError(t, err)

	buf, err := deal.MarshalBinary()
	require.NoError(t, err)
	cipher := aead.Seal(nil, dh.ZeroNonce, buf, ctx)

	return &EncryptedDeal{DHKey: E, Signature: sig, Nonce: dh.ZeroNonce, Cipher: cipher}
}

// TestJustificationFromMaliciousDealerSetsBadDealer covers spec.md §8's
// malicious-dealer scenario: a dealer sends a Deal whose sec_share is
// incremented by 1, the recipient complains, and the dealer's
// Justification backs the same bad Deal instead of a corrected one. The
// Justification must fail verification and latch bad_dealer, so
// DealCertified can never become true afterward.
func TestJustificationFromMaliciousDealerSetsBadDealer(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	good, err := dealer.PlaintextDeal(0)
	require.NoError(t, err)
	bad := *good
	bad.SecShare.V = good.SecShare.V.Add(group.OneScalar())

	encrypted := encryptDealForTest(t, dealerSec, dealerPub, verifiersPub, 0, &bad)

	v, err := NewVerifier(rand.Reader, verifiersSec[0], dealerPub, verifiersPub)
	require.NoError(t, err)

	r, err := v.ProcessEncryptedDeal(encrypted)
	require.NoError(t, err)
	require.False(t, r.Approved)
	require.False(t, v.DealCertified())

	j := &Justification{SessionID: v.SessionID(), Index: 0, Deal: &bad}
	h, err := j.Hash()
	require.NoError(t, err)
	sig, err := schnorr.Sign(rand.Reader, dealerSec, h, indexBuf(j.Index))
	require.NoError(t, err)
	j.Signature = sig

	err = v.ProcessJustification(j)
	assert.Error(t, err)
	assert.True(t, v.aggregator.badDealer)
	assert.False(t, v.EnoughApprovals())
	assert.False(t, v.DealCertified())
}

func TestDealMarshalRoundTrip(t *testing.T) {
	dealer, err := NewDealer(rand.Reader, dealerSec, secret, verifiersPub, defaultT())
	require.NoError(t, err)

	d, err := dealer.PlaintextDeal(3)
	require.NoError(t, err)

	buf, err := d.MarshalBinary()
	require.NoError(t, err)

	var got Deal
	require.NoError(t, got.UnmarshalBinary(buf))
	assert.Equal(t, d.SessionID, got.SessionID)
	assert.Equal(t, d.SecShare.I, got.SecShare.I)
	assert.True(t, d.SecShare.V.Equal(got.SecShare.V))
	require.Len(t, got.Commitments, len(d.Commitments))
	for i := range d.Commitments {
		assert.True(t, d.Commitments[i].Equal(got.Commitments[i]))
	}
}
