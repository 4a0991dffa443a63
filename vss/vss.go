// Package vss implements Pedersen/Stadler verifiable secret sharing over
// the Ristretto255 group: a dealer distributes a secret among n
// verifiers so that any t of them can reconstruct it, while every
// verifier can independently check its share against a published
// commitment polynomial. It follows the protocol and naming of the
// kyber project's share/vss/pedersen package, generalized to the
// blinded (hiding) two-polynomial construction: a private polynomial f
// carrying the secret, a private blinding polynomial g, and a public
// commitment polynomial C = f·G + g·H.
package vss

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drand/pedersen-vss/dh"
	"github.com/drand/pedersen-vss/group"
	"github.com/drand/pedersen-vss/poly"
	"github.com/drand/pedersen-vss/sign/schnorr"
	"go.dedis.ch/protobuf"
	"golang.org/x/crypto/blake2b"
)

// Deal is the private payload the dealer sends to one verifier: its
// evaluation of the secret and blinding polynomials plus the public
// commitment polynomial every verifier checks its share against.
type Deal struct {
	SessionID   []byte
	SecShare    poly.PriShare
	RndShare    poly.PriShare
	T           uint32
	Commitments []group.Point
}

// MarshalBinary serializes a Deal deterministically. Encryption of a
// Deal operates on this representation.
func (d *Deal) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(d)
}

// UnmarshalBinary reads a Deal back from MarshalBinary's representation.
func (d *Deal) UnmarshalBinary(buf []byte) error {
	return protobuf.Decode(buf, d)
}

// EncryptedDeal is the confidential, authenticated envelope a dealer
// sends a verifier in place of a plaintext Deal: an ephemeral DH key
// signed by the dealer's long-term key, and the Deal encrypted under a
// key derived from the DH exchange with the recipient's public key.
type EncryptedDeal struct {
	DHKey     group.Point
	Signature []byte
	Nonce     []byte
	Cipher    []byte
}

// MarshalBinary serializes an EncryptedDeal deterministically.
func (e *EncryptedDeal) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(e)
}

// UnmarshalBinary reads an EncryptedDeal back from MarshalBinary's
// representation.
func (e *EncryptedDeal) UnmarshalBinary(buf []byte) error {
	return protobuf.Decode(buf, e)
}

// Response is a verifier's signed approval or complaint about the Deal
// it received, to be broadcast to every participant including the
// dealer.
type Response struct {
	SessionID []byte
	Index     uint32
	Approved  bool
	Signature []byte
}

// Hash returns the transcript digest the Response's signature covers:
// Hash("response" || session_id || index_le32 || approved_le32).
func (r *Response) Hash() []byte {
	h := sha256.New()
	h.Write([]byte("response"))
	h.Write(r.SessionID)
	h.Write(indexBuf(r.Index))
	h.Write(boolBuf(r.Approved))
	return h.Sum(nil)
}

// MarshalBinary serializes a Response deterministically.
func (r *Response) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(r)
}

// UnmarshalBinary reads a Response back from MarshalBinary's
// representation.
func (r *Response) UnmarshalBinary(buf []byte) error {
	return protobuf.Decode(buf, r)
}

// Justification is the dealer's signed rebuttal to a complaint: the
// cleartext Deal the complaining verifier was actually sent.
type Justification struct {
	SessionID []byte
	Index     uint32
	Deal      *Deal
	Signature []byte
}

// Hash returns the transcript digest the Justification's signature
// covers: Hash("justification" || session_id || index_le32 ||
// serialize(deal)).
func (j *Justification) Hash() ([]byte, error) {
	dealBuf, err := j.Deal.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write([]byte("justification"))
	h.Write(j.SessionID)
	h.Write(indexBuf(j.Index))
	h.Write(dealBuf)
	return h.Sum(nil), nil
}

// MarshalBinary serializes a Justification deterministically.
func (j *Justification) MarshalBinary() ([]byte, error) {
	return protobuf.Encode(j)
}

// UnmarshalBinary reads a Justification back from MarshalBinary's
// representation.
func (j *Justification) UnmarshalBinary(buf []byte) error {
	return protobuf.Decode(buf, j)
}

func indexBuf(i uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	return buf[:]
}

func boolBuf(b bool) []byte {
	var v uint32
	if b {
		v = 1
	}
	return indexBuf(v)
}

// MinimumT returns the minimum threshold proven secure for a cohort of
// n participants. Using a lower threshold breaks the scheme's security
// assumptions; a higher one only makes reconstruction harder.
func MinimumT(n int) int {
	return (n + 1) / 2
}

func validT(t int, verifiers []group.Point) bool {
	return t >= 2 && t <= len(verifiers)
}

func findPub(verifiers []group.Point, idx uint32) (group.Point, bool) {
	if int(idx) >= len(verifiers) {
		return group.Point{}, false
	}
	return verifiers[idx], true
}

func sessionID(dealerPub group.Point, verifiers, commitments []group.Point, t int) []byte {
	h := sha256.New()
	h.Write(dealerPub.Bytes())
	for _, v := range verifiers {
		h.Write(v.Bytes())
	}
	for _, c := range commitments {
		h.Write(c.Bytes())
	}
	h.Write(indexBuf(uint32(t)))
	return h.Sum(nil)
}

// deriveH derives the second Pedersen generator H from the verifier
// list alone, so every participant computes the same H without
// communicating (spec.md §4.2). It streams a BLAKE2Xb XOF over the
// concatenated verifier encodings and rejection-samples 32-byte chunks
// until one decodes as a valid Ristretto255 point.
func deriveH(verifiers []group.Point) group.Point {
	var buf bytes.Buffer
	for _, v := range verifiers {
		buf.Write(v.Bytes())
	}
	xof, err := blake2b.NewXOF(blake2b.OutputLengthUnknown, nil)
	if err != nil {
		panic("vss: blake2xb with no key cannot fail: " + err.Error())
	}
	if _, err := xof.Write(buf.Bytes()); err != nil {
		panic("vss: writing to blake2xb cannot fail: " + err.Error())
	}
	chunk := make([]byte, group.PointSize)
	for {
		if _, err := io.ReadFull(xof, chunk); err != nil {
			panic("vss: blake2xb is an unbounded stream: " + err.Error())
		}
		if p, err := (group.Point{}).SetBytes(chunk); err == nil {
			return p
		}
	}
}

// DeriveH exposes deriveH so a caller (e.g. a DKG layer sharing the
// same verifier cohort across rounds) can compute H once and reuse it.
func DeriveH(verifiers []group.Point) group.Point {
	return deriveH(verifiers)
}

var errDealAlreadyProcessed = errors.New("vss: verifier already received a deal")

// ErrNoDealBeforeResponse is returned by Verifier.ProcessResponse when
// the verifier has not yet processed its own Deal.
var ErrNoDealBeforeResponse = errors.New("vss: need to receive deal before response")

// verifyDeal checks d against the verifier cohort and the expected
// session ID, the computation both a Verifier and a Justification
// processor perform (spec.md §4.4 "Deal verification").
func verifyDeal(d *Deal, verifiers []group.Point, sessionID []byte) error {
	if !validT(int(d.T), verifiers) {
		return errors.New("vss: invalid t in Deal")
	}
	if !bytes.Equal(sessionID, d.SessionID) {
		return errors.New("vss: Deal has a different session id")
	}
	fi, gi := d.SecShare, d.RndShare
	if fi.I != gi.I {
		return errors.New("vss: sec_share and rnd_share index mismatch in Deal")
	}
	if fi.I < 0 || fi.I >= len(verifiers) {
		return errors.New("vss: index out of bounds in Deal")
	}
	if len(d.Commitments) != int(d.T) {
		return errors.New("vss: wrong number of commitments in Deal")
	}

	H := deriveH(verifiers)
	ci := group.Base().Mul(fi.V).Add(H.Mul(gi.V))

	commitPoly := poly.NewPubPoly(d.Commitments)
	pubShare := commitPoly.Eval(fi.I)
	if !ci.Equal(pubShare.V) {
		return errors.New("vss: share does not verify against commitments in Deal")
	}
	return nil
}

// aggregator collects Responses for one protocol run and decides
// whether enough approvals exist and whether the deal is certified
// (spec.md §4.5). Both Dealer and Verifier embed one.
type aggregator struct {
	verifiers []group.Point
	t         int
	sid       []byte

	responses map[uint32]*Response
	deal      *Deal
	badDealer bool
}

func newAggregator(verifiers []group.Point, t int, sid []byte) *aggregator {
	return &aggregator{
		verifiers: verifiers,
		t:         t,
		sid:       sid,
		responses: make(map[uint32]*Response),
	}
}

func (a *aggregator) verifyResponse(r *Response) error {
	if len(r.SessionID) != 32 || (a.sid != nil && !bytes.Equal(r.SessionID, a.sid)) {
		return errors.New("vss: response has inconsistent session id")
	}
	pub, ok := findPub(a.verifiers, r.Index)
	if !ok {
		return errors.New("vss: index out of bounds in Response")
	}
	if err := schnorr.Verify(pub, r.Hash(), indexBuf(r.Index), r.Signature); err != nil {
		return err
	}
	return a.addResponse(r)
}

func (a *aggregator) addResponse(r *Response) error {
	if _, ok := findPub(a.verifiers, r.Index); !ok {
		return errors.New("vss: index out of bounds in Response")
	}
	if _, ok := a.responses[r.Index]; ok {
		return errors.New("vss: already have a response for this index")
	}
	a.responses[r.Index] = r
	return nil
}

func (a *aggregator) verifyJustification(j *Justification) error {
	if int(j.Index) >= len(a.verifiers) {
		return errors.New("vss: index out of bounds in Justification")
	}
	if !bytes.Equal(j.Deal.SessionID, a.sid) {
		return errors.New("vss: Justification has a different session id")
	}
	r, ok := a.responses[j.Index]
	if !ok {
		return errors.New("vss: no complaint on file for this Justification")
	}
	if r.Approved {
		return errors.New("vss: Justification received for an already-approved index")
	}
	if a.deal == nil {
		a.deal = j.Deal
	}
	if err := verifyDeal(j.Deal, a.verifiers, a.sid); err != nil {
		a.badDealer = true
		return err
	}
	r.Approved = true
	return nil
}

// cleanVerifiers synthesizes an unapproved Response for every index
// that has not yet responded. It uses the aggregator's own session id
// rather than a cached Deal's, which on the Dealer side is never set
// (see spec.md §9 open question on clean_verifiers).
func (a *aggregator) cleanVerifiers() {
	for i := range a.verifiers {
		idx := uint32(i)
		if _, ok := a.responses[idx]; !ok {
			a.responses[idx] = &Response{
				SessionID: a.sid,
				Index:     idx,
				Approved:  false,
			}
		}
	}
}

// EnoughApprovals reports whether at least t verifiers have approved.
func (a *aggregator) EnoughApprovals() bool {
	var n int
	for _, r := range a.responses {
		if r.Approved {
			n++
		}
	}
	return n >= a.t
}

// DealCertified reports whether the deal has enough approvals, every
// verifier has responded, and no Justification was ever rejected.
func (a *aggregator) DealCertified() bool {
	if a.t == 0 {
		return false
	}
	if a.badDealer {
		return false
	}
	for i := range a.verifiers {
		if _, ok := a.responses[uint32(i)]; !ok {
			return false
		}
	}
	return a.EnoughApprovals()
}

// Responses returns the Responses collected so far, keyed by index.
func (a *aggregator) Responses() map[uint32]*Response {
	return a.responses
}

// Dealer creates the polynomials, commitments and per-recipient Deals
// for one VSS run, encrypts them for transport, and adjudicates the
// Responses and complaints it receives back.
type Dealer struct {
	rnd           io.Reader
	long          group.Scalar
	pub           group.Point
	secret        group.Scalar
	secretPoly    *poly.PriPoly
	secretCommits []group.Point
	verifiers     []group.Point
	hkdfContext   []byte
	t             int
	sessionID     []byte
	deals         []*Deal
	*aggregator
}

// NewDealer builds a Dealer sharing secret among verifiers with
// threshold t. It returns an error if t is outside [2, len(verifiers)].
func NewDealer(rnd io.Reader, long, secret group.Scalar, verifiers []group.Point, t int) (*Dealer, error) {
	if !validT(t, verifiers) {
		return nil, fmt.Errorf("vss: threshold t=%d invalid for %d verifiers", t, len(verifiers))
	}

	d := &Dealer{
		rnd:       rnd,
		long:      long,
		secret:    secret,
		verifiers: verifiers,
		t:         t,
	}
	d.pub = group.Base().Mul(long)

	H := deriveH(verifiers)
	f, err := poly.NewPriPoly(t, &secret, rnd)
	if err != nil {
		return nil, err
	}
	g, err := poly.NewPriPoly(t, nil, rnd)
	if err != nil {
		return nil, err
	}

	F := f.Commit(group.Base())
	G := g.Commit(H)
	C, err := F.Add(G)
	if err != nil {
		return nil, err
	}

	d.secretPoly = f
	d.secretCommits = F.Commits()
	d.sessionID = sessionID(d.pub, verifiers, C.Commits(), t)
	d.aggregator = newAggregator(verifiers, t, d.sessionID)
	d.hkdfContext = dh.Context(d.pub, verifiers)

	d.deals = make([]*Deal, len(verifiers))
	for i := range verifiers {
		d.deals[i] = &Deal{
			SessionID:   d.sessionID,
			SecShare:    f.Eval(i),
			RndShare:    g.Eval(i),
			T:           uint32(t),
			Commitments: C.Commits(),
		}
	}
	return d, nil
}

// PlaintextDeal returns the unencrypted Deal destined for verifier i.
// Use this only for testing; production callers must use EncryptedDeal.
func (d *Dealer) PlaintextDeal(i int) (*Deal, error) {
	if i < 0 || i >= len(d.deals) {
		return nil, errors.New("vss: PlaintextDeal index out of range")
	}
	return d.deals[i], nil
}

// EncryptedDeal seals the Deal for verifier i behind an ephemeral
// Diffie-Hellman exchange with that verifier's public key (spec.md
// §4.3).
func (d *Dealer) EncryptedDeal(i int) (*EncryptedDeal, error) {
	vPub, ok := findPub(d.verifiers, uint32(i))
	if !ok {
		return nil, errors.New("vss: EncryptedDeal index out of range")
	}

	e, err := group.RandomScalar(d.rnd)
	if err != nil {
		return nil, err
	}
	E := group.Base().Mul(e)

	sig, err := schnorr.Sign(d.rnd, d.long, E.Bytes(), indexBuf(uint32(i)))
	if err != nil {
		return nil, err
	}

	pre := dh.Exchange(e, vPub)
	aead, err := dh.NewAEAD(pre, d.hkdfContext)
	if err != nil {
		return nil, err
	}

	dealBuf, err := d.deals[i].MarshalBinary()
	if err != nil {
		return nil, err
	}
	cipher := aead.Seal(nil, dh.ZeroNonce, dealBuf, d.hkdfContext)

	return &EncryptedDeal{
		DHKey:     E,
		Signature: sig,
		Nonce:     dh.ZeroNonce,
		Cipher:    cipher,
	}, nil
}

// EncryptedDeals returns the EncryptedDeal for every verifier, indexed
// the same way as the verifier list.
func (d *Dealer) EncryptedDeals() ([]*EncryptedDeal, error) {
	out := make([]*EncryptedDeal, len(d.verifiers))
	for i := range d.verifiers {
		ed, err := d.EncryptedDeal(i)
		if err != nil {
			return nil, err
		}
		out[i] = ed
	}
	return out, nil
}

// ProcessResponse analyzes r. If it is a valid complaint, it returns a
// signed Justification that must be broadcast to every participant.
func (d *Dealer) ProcessResponse(r *Response) (*Justification, error) {
	if err := d.verifyResponse(r); err != nil {
		return nil, err
	}
	if r.Approved {
		return nil, nil
	}

	j := &Justification{
		SessionID: d.sessionID,
		Index:     r.Index,
		Deal:      d.deals[r.Index],
	}
	h, err := j.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(d.rnd, d.long, h, indexBuf(j.Index))
	if err != nil {
		return nil, err
	}
	j.Signature = sig
	return j, nil
}

// SecretCommit returns s·G, the commitment to the shared secret. It
// only succeeds once the deal is certified.
func (d *Dealer) SecretCommit() (group.Point, error) {
	if !d.EnoughApprovals() || !d.DealCertified() {
		return group.Point{}, errors.New("vss: secret commit requested before certification")
	}
	return group.Base().Mul(d.secret), nil
}

// Commits returns the coefficient commitments of the secret polynomial
// f, i.e. F. It only succeeds once the deal is certified.
func (d *Dealer) Commits() ([]group.Point, error) {
	if !d.EnoughApprovals() || !d.DealCertified() {
		return nil, errors.New("vss: commits requested before certification")
	}
	return d.secretCommits, nil
}

// Key returns the dealer's long-term key pair.
func (d *Dealer) Key() (group.Scalar, group.Point) {
	return d.long, d.pub
}

// SessionID returns this run's session id.
func (d *Dealer) SessionID() []byte {
	return d.sessionID
}

// PrivatePoly returns the secret-sharing polynomial f so a caller (e.g.
// a higher-level resharing/DKG scheme) can derive fresh shares later.
// This MUST stay private to the dealer.
func (d *Dealer) PrivatePoly() *poly.PriPoly {
	return d.secretPoly
}

// SetTimeout marks the end of a round: any index still missing a
// Response is recorded as an unapproved one, so the run can still reach
// a verdict despite unresponsive verifiers.
func (d *Dealer) SetTimeout() {
	d.aggregator.cleanVerifiers()
}

// UnsafeSetResponseDKG is a deliberate escape hatch for a higher-level
// DKG layer running VSS in an approval-only mode. It is NOT safe for
// standalone VSS: it bypasses signature verification entirely.
func (d *Dealer) UnsafeSetResponseDKG(index uint32, approved bool) {
	_ = d.aggregator.addResponse(&Response{
		SessionID: d.sessionID,
		Index:     index,
		Approved:  approved,
	})
}

// Verifier receives a Deal from a Dealer, checks it against the public
// commitments, and emits a signed Response.
type Verifier struct {
	rnd         io.Reader
	longterm    group.Scalar
	pub         group.Point
	dealer      group.Point
	index       int
	verifiers   []group.Point
	hkdfContext []byte
	*aggregator
}

// NewVerifier builds a Verifier for the participant whose long-term key
// is longterm. verifiers must include this participant's public key.
func NewVerifier(rnd io.Reader, longterm group.Scalar, dealerPub group.Point, verifiers []group.Point) (*Verifier, error) {
	pub := group.Base().Mul(longterm)
	index := -1
	for i, v := range verifiers {
		if v.Equal(pub) {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, errors.New("vss: public key not found in verifier list")
	}
	return &Verifier{
		rnd:         rnd,
		longterm:    longterm,
		pub:         pub,
		dealer:      dealerPub,
		index:       index,
		verifiers:   verifiers,
		hkdfContext: dh.Context(dealerPub, verifiers),
		aggregator:  newAggregator(verifiers, 0, nil),
	}, nil
}

func (v *Verifier) decryptDeal(e *EncryptedDeal) (*Deal, error) {
	if err := schnorr.Verify(v.dealer, e.DHKey.Bytes(), indexBuf(uint32(v.index)), e.Signature); err != nil {
		return nil, err
	}

	pre := dh.Exchange(v.longterm, e.DHKey)
	aead, err := dh.NewAEAD(pre, v.hkdfContext)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, e.Nonce, e.Cipher, v.hkdfContext)
	if err != nil {
		return nil, err
	}
	deal := &Deal{}
	if err := deal.UnmarshalBinary(plain); err != nil {
		return nil, err
	}
	return deal, nil
}

// ProcessEncryptedDeal decrypts e, verifies it against the dealer's
// published commitments, and returns the signed Response — an approval
// if the Deal verifies, a complaint otherwise — that must be broadcast
// to every participant including the dealer.
func (v *Verifier) ProcessEncryptedDeal(e *EncryptedDeal) (*Response, error) {
	d, err := v.decryptDeal(e)
	if err != nil {
		return nil, err
	}
	if d.SecShare.I != v.index {
		return nil, errors.New("vss: verifier received a Deal for the wrong index")
	}

	sid := sessionID(v.dealer, v.verifiers, d.Commitments, int(d.T))
	if !bytes.Equal(sid, d.SessionID) {
		return nil, errors.New("vss: Deal session id does not match recomputed session id")
	}

	if v.aggregator.t == 0 && v.aggregator.sid == nil {
		v.aggregator.t = int(d.T)
		v.aggregator.sid = sid
	} else if v.aggregator.deal != nil {
		return nil, errDealAlreadyProcessed
	}
	v.aggregator.deal = d

	r := &Response{
		SessionID: sid,
		Index:     uint32(v.index),
		Approved:  true,
	}
	if err := verifyDeal(d, v.verifiers, sid); err != nil {
		r.Approved = false
	}

	sig, err := schnorr.Sign(v.rnd, v.longterm, r.Hash(), indexBuf(r.Index))
	if err != nil {
		return nil, err
	}
	r.Signature = sig

	if err := v.aggregator.addResponse(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ProcessResponse verifies and records a Response from a peer verifier.
func (v *Verifier) ProcessResponse(r *Response) error {
	if v.aggregator.deal == nil {
		return ErrNoDealBeforeResponse
	}
	return v.aggregator.verifyResponse(r)
}

// ProcessJustification verifies j. An error here means the dealer is
// behaving maliciously; EnoughApprovals/DealCertified reflect this via
// the aggregator's bad-dealer latch.
func (v *Verifier) ProcessJustification(j *Justification) error {
	return v.aggregator.verifyJustification(j)
}

// Commits returns the commitment polynomial's coefficients from the
// cached Deal. It is public information; the private share is only
// available through Deal().
func (v *Verifier) Commits() []group.Point {
	if v.aggregator.deal == nil {
		return nil
	}
	return v.aggregator.deal.Commitments
}

// Deal returns the Deal this verifier received, once certified.
func (v *Verifier) Deal() *Deal {
	if !v.EnoughApprovals() || !v.DealCertified() {
		return nil
	}
	return v.aggregator.deal
}

// Key returns this verifier's long-term key pair.
func (v *Verifier) Key() (group.Scalar, group.Point) {
	return v.longterm, v.pub
}

// Index returns this verifier's index within the cohort.
func (v *Verifier) Index() int {
	return v.index
}

// SessionID returns the session id of the Deal this verifier received,
// or nil if none has been processed yet.
func (v *Verifier) SessionID() []byte {
	return v.aggregator.sid
}

// SetTimeout marks the end of a round; see Dealer.SetTimeout.
func (v *Verifier) SetTimeout() {
	v.aggregator.cleanVerifiers()
}

// UnsafeSetResponseDKG is the Verifier-side half of Dealer's escape
// hatch for DKG callers; see Dealer.UnsafeSetResponseDKG.
func (v *Verifier) UnsafeSetResponseDKG(index uint32, approved bool) {
	_ = v.aggregator.addResponse(&Response{
		SessionID: v.aggregator.sid,
		Index:     index,
		Approved:  approved,
	})
}

// RecoverSecret reconstructs the shared secret from t or more Deals
// that all carry the same session id. No verification is performed
// here: callers must only pass Deals already accepted by verifiers,
// since a single malicious share poisons the reconstruction.
func RecoverSecret(deals []*Deal, t int) (group.Scalar, error) {
	if len(deals) < t {
		return group.Scalar{}, errors.New("vss: not enough deals to recover secret")
	}
	shares := make([]poly.PriShare, len(deals))
	for i, d := range deals {
		if !bytes.Equal(d.SessionID, deals[0].SessionID) {
			return group.Scalar{}, errors.New("vss: deals have different session ids")
		}
		shares[i] = d.SecShare
	}
	return poly.RecoverSecret(shares, t)
}
