// Package storage defines the persistence contract of the mint.
// Implementations have to provide the atomicity guarantees stated
// on each method, the mint relies on them for exactly-once
// redemption under concurrent requests.
package storage

import (
	"errors"

	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut04"
	"github.com/opencash/mintd/cashu/nuts/nut05"
)

var (
	ErrNotFound = errors.New("not found")

	// returned by SaveProofs when any proof in the list was already
	// saved. The losing writer of two concurrent requests spending
	// the same proof gets this error.
	ErrProofAlreadyUsed = errors.New("proof already used")

	// returned by conditional quote updates when the quote was not
	// in the expected state.
	ErrQuoteConflict = errors.New("quote not in expected state")

	ErrBlindSignatureExists = errors.New("blinded message already signed")
)

type MintDB interface {
	SaveSeed([]byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(keysetId string, active bool) error

	// SaveProofs marks the proofs as spent. It is atomic: either all
	// proofs are saved or none, and a proof that was already saved
	// makes the whole call fail with ErrProofAlreadyUsed.
	SaveProofs(cashu.Proofs) error
	GetProofsUsed(Ys []string) ([]DBProof, error)

	// pending proofs are the in-flight marker for proofs tied to a
	// melt that has not settled yet
	AddPendingProofs(proofs cashu.Proofs, quoteId string) error
	GetPendingProofs(Ys []string) ([]DBProof, error)
	GetPendingProofsByQuote(quoteId string) ([]DBProof, error)
	RemovePendingProofs(Ys []string) error

	SaveMintQuote(MintQuote) error
	GetMintQuote(string) (MintQuote, error)
	UpdateMintQuoteState(quoteId string, state nut04.State) error
	// SetMintQuoteIssued transitions a quote from PAID to ISSUED.
	// The transition is a compare-and-swap: it fails with
	// ErrQuoteConflict if the quote is not in state PAID, so only
	// one of multiple concurrent redemptions can succeed.
	SetMintQuoteIssued(quoteId string) error

	SaveMeltQuote(MeltQuote) error
	GetMeltQuote(string) (MeltQuote, error)
	UpdateMeltQuote(quoteId string, preimage string, state nut05.State) error

	// SaveBlindSignatures stores the signature issued for each blinded
	// message. It is atomic: either every signature is saved or none,
	// and a blinded message that was already signed fails the whole
	// call with ErrBlindSignatureExists.
	SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	// aggregates for the operator surface
	GetIssuedEcash() (map[string]uint64, error)
	GetRedeemedEcash() (map[string]uint64, error)

	Close() error
}

type DBKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	InputFeePpk       uint
}

type DBProof struct {
	Y           string
	Amount      uint64
	Id          string
	Secret      string
	C           string
	MeltQuoteId string
}

type MintQuote struct {
	Id             string
	Amount         uint64
	PaymentRequest string
	PaymentHash    string
	State          nut04.State
	Expiry         uint64
}

type MeltQuote struct {
	Id             string
	InvoiceRequest string
	PaymentHash    string
	Amount         uint64
	FeeReserve     uint64
	State          nut05.State
	Expiry         uint64
	Preimage       string
}
