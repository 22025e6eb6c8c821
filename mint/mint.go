package mint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut04"
	"github.com/opencash/mintd/cashu/nuts/nut05"
	"github.com/opencash/mintd/cashu/nuts/nut06"
	"github.com/opencash/mintd/cashu/nuts/nut07"
	"github.com/opencash/mintd/crypto"
	"github.com/opencash/mintd/mint/lightning"
	"github.com/opencash/mintd/mint/storage"
	"github.com/opencash/mintd/mint/storage/sqlite"
	"github.com/tyler-smith/go-bip39"
)

const QuoteExpiryMins = 10

type Mint struct {
	db              storage.MintDB
	lightningClient lightning.Client

	// guards the keyset registry
	mu           sync.RWMutex
	master       *hdkeychain.ExtendedKey
	activeKeyset *crypto.MintKeyset
	// map of all keysets (both active and inactive)
	keysets map[string]crypto.MintKeyset

	publicKey      string
	maxKeysetOrder uint
	quoteExpiry    uint64
	limits         MintLimits
	mintInfo       MintInfo
	logger         *slog.Logger
}

func LoadMint(config Config) (*Mint, error) {
	path := config.MintPath
	if len(path) == 0 {
		path = mintPath()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	seed, err := db.GetSeed()
	if errors.Is(err, storage.ErrNotFound) {
		seed, err = generateSeed()
		if err != nil {
			return nil, err
		}
		if err := db.SaveSeed(seed); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	mintKey, err := master.ECPubKey()
	if err != nil {
		return nil, err
	}

	maxOrder := config.MaxKeysetOrder
	if maxOrder == 0 {
		maxOrder = crypto.MaxKeysetOrder
	}
	quoteExpiry := config.QuoteExpiryMins
	if quoteExpiry == 0 {
		quoteExpiry = QuoteExpiryMins
	}

	mint := &Mint{
		db:              db,
		lightningClient: config.LightningClient,
		master:          master,
		keysets:         make(map[string]crypto.MintKeyset),
		publicKey:       hex.EncodeToString(mintKey.SerializeCompressed()),
		maxKeysetOrder:  maxOrder,
		quoteExpiry:     uint64(quoteExpiry) * 60,
		limits:          config.Limits,
		mintInfo:        config.MintInfo,
		logger:          logger,
	}

	dbKeysets, err := db.GetKeysets()
	if err != nil {
		return nil, fmt.Errorf("error reading keysets from db: %v", err)
	}

	if len(dbKeysets) == 0 {
		keyset, err := crypto.GenerateKeyset(master, config.DerivationPathIdx, maxOrder, config.InputFeePpk, true)
		if err != nil {
			return nil, err
		}
		if err := db.SaveKeyset(storage.DBKeyset{
			Id:                keyset.Id,
			Unit:              keyset.Unit,
			Active:            true,
			DerivationPathIdx: keyset.DerivationPathIdx,
			InputFeePpk:       keyset.InputFeePpk,
		}); err != nil {
			return nil, fmt.Errorf("error saving keyset: %v", err)
		}
		mint.activeKeyset = keyset
		mint.keysets[keyset.Id] = *keyset
		mint.logInfof("setting up mint with new keyset '%v'", keyset.Id)
	} else {
		// derive every known keyset from the seed again. Key material
		// is never stored, only the derivation index is.
		for _, dbKeyset := range dbKeysets {
			keyset, err := crypto.GenerateKeyset(master, dbKeyset.DerivationPathIdx, maxOrder, dbKeyset.InputFeePpk, dbKeyset.Active)
			if err != nil {
				return nil, err
			}
			mint.keysets[keyset.Id] = *keyset
			if keyset.Active {
				mint.activeKeyset = keyset
			}
		}
		if mint.activeKeyset == nil {
			return nil, errors.New("no active keyset found")
		}
	}

	return mint, nil
}

// mintPath returns the default mint working dir at $HOME/.mintd
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(homedir, ".mintd")
}

func generateSeed() ([]byte, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, err
	}
	return bip39.NewSeed(mnemonic, ""), nil
}

func setupLogger(mintPath string, level LogLevel) (*slog.Logger, error) {
	if level == Disable {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	logWriter := io.MultiWriter(os.Stdout, logFile)

	logLevel := slog.LevelInfo
	if level == Debug {
		logLevel = slog.LevelDebug
	}

	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       logLevel,
		ReplaceAttr: replacer,
	})), nil
}

func (m *Mint) logInfof(format string, args ...any) {
	m.logger.Info(fmt.Sprintf(format, args...))
}

func (m *Mint) logErrorf(format string, args ...any) {
	m.logger.Error(fmt.Sprintf(format, args...))
}

func (m *Mint) logDebugf(format string, args ...any) {
	m.logger.Debug(fmt.Sprintf(format, args...))
}

func (m *Mint) Shutdown() error {
	return m.db.Close()
}

// RequestMintQuote will process a request to mint tokens
// and returns a mint quote or an error.
// The request to mint a token is explained in
// NUT-04 here: https://github.com/cashubtc/nuts/blob/main/04.md.
func (m *Mint) RequestMintQuote(method string, amount uint64, unit string) (storage.MintQuote, error) {
	if method != cashu.Bolt11Method {
		return storage.MintQuote{}, cashu.PaymentMethodNotSupportedErr
	}
	if unit != cashu.Sat.String() {
		return storage.MintQuote{}, cashu.UnitNotSupportedErr
	}

	if m.limits.MintingSettings.MaxAmount > 0 && amount > m.limits.MintingSettings.MaxAmount {
		return storage.MintQuote{}, cashu.MintAmountExceededErr
	}
	if m.limits.MaxBalance > 0 {
		balance, err := m.totalBalance()
		if err != nil {
			return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
		}
		if balance+amount > m.limits.MaxBalance {
			return storage.MintQuote{}, cashu.MintingDisabled
		}
	}

	invoice, err := m.lightningClient.CreateInvoice(amount)
	if err != nil {
		msg := fmt.Sprintf("error creating invoice: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}

	state := nut04.Unpaid
	if invoice.Settled {
		state = nut04.Paid
	}

	mintQuote := storage.MintQuote{
		Id:             quoteId,
		Amount:         amount,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		State:          state,
		Expiry:         uint64(time.Now().Unix()) + m.quoteExpiry,
	}
	if err := m.db.SaveMintQuote(mintQuote); err != nil {
		msg := fmt.Sprintf("error saving mint quote: %v", err)
		return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.logInfof("created mint quote '%v' for %v %v", quoteId, amount, unit)

	return mintQuote, nil
}

// GetMintQuoteState returns the state of a mint quote. It checks the
// status of the invoice tied to the quote with the lightning backend
// and persists an UNPAID to PAID transition it observes.
func (m *Mint) GetMintQuoteState(method, quoteId string) (storage.MintQuote, error) {
	if method != cashu.Bolt11Method {
		return storage.MintQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	mintQuote, err := m.db.GetMintQuote(quoteId)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.MintQuote{}, cashu.QuoteNotExistErr
	} else if err != nil {
		return storage.MintQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	if mintQuote.State == nut04.Unpaid {
		invoice, err := m.lightningClient.InvoiceStatus(mintQuote.PaymentHash)
		if err != nil {
			msg := fmt.Sprintf("error getting invoice status: %v", err)
			return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.LightningBackendErrCode)
		}
		if invoice.Settled {
			mintQuote.State = nut04.Paid
			if err := m.db.UpdateMintQuoteState(mintQuote.Id, nut04.Paid); err != nil {
				msg := fmt.Sprintf("error updating mint quote state: %v", err)
				return storage.MintQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
			}
			m.logInfof("mint quote '%v' was paid", mintQuote.Id)
		}
	}

	return mintQuote, nil
}

// MintTokens verifies whether the mint quote has been paid and proceeds to
// sign the blindedMessages and return the BlindedSignatures if it was.
// A quote can only be redeemed once.
func (m *Mint) MintTokens(method, quoteId string, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	mintQuote, err := m.GetMintQuoteState(method, quoteId)
	if err != nil {
		return nil, err
	}

	if mintQuote.State == nut04.Issued {
		return nil, cashu.MintQuoteAlreadyIssued
	}
	// an expired quote cannot be redeemed whether it was paid or not
	if uint64(time.Now().Unix()) > mintQuote.Expiry {
		return nil, cashu.QuoteExpiredErr
	}
	if mintQuote.State == nut04.Unpaid {
		return nil, cashu.MintQuoteRequestNotPaid
	}

	if len(blindedMessages) == 0 {
		return nil, cashu.EmptyBodyErr
	}
	if cashu.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, cashu.DuplicateOutputs
	}
	if blindedMessages.Amount() > mintQuote.Amount {
		return nil, cashu.OutputsOverQuoteAmountErr
	}
	if err := m.verifyOutputs(blindedMessages); err != nil {
		return nil, err
	}

	// claim the quote before signing. The compare-and-swap in the db
	// makes sure only one of concurrent redemptions gets past this.
	if err := m.db.SetMintQuoteIssued(quoteId); err != nil {
		if errors.Is(err, storage.ErrQuoteConflict) {
			return nil, cashu.MintQuoteAlreadyIssued
		}
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		// quote was claimed but nothing was issued, put it back
		if dbErr := m.db.UpdateMintQuoteState(quoteId, nut04.Paid); dbErr != nil {
			m.logErrorf("error reverting mint quote '%v' state: %v", quoteId, dbErr)
		}
		return nil, err
	}
	m.logInfof("issued %v ecash for mint quote '%v'", blindedSignatures.Amount(), quoteId)

	return blindedSignatures, nil
}

// Swap will process a request to swap tokens.
// A swap requires a set of valid proofs and blinded messages.
// If valid, the mint will sign the blindedMessages and invalidate
// the proofs that were used as input.
// It returns the BlindedSignatures.
func (m *Mint) Swap(proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(proofs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	if len(blindedMessages) == 0 {
		return nil, cashu.EmptyBodyErr
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return nil, cashu.DuplicateProofs
	}
	if cashu.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, cashu.DuplicateOutputs
	}

	if proofs.Amount() != blindedMessages.Amount() {
		return nil, cashu.AmountsDoNotMatch
	}

	if err := m.verifyProofs(proofs); err != nil {
		return nil, err
	}
	if err := m.verifyOutputs(blindedMessages); err != nil {
		return nil, err
	}

	// invalidate proofs before signing. Of two concurrent swaps
	// spending the same proof only one gets past this call, the
	// other fails here without anything issued.
	if err := m.db.SaveProofs(proofs); err != nil {
		if errors.Is(err, storage.ErrProofAlreadyUsed) {
			return nil, cashu.ProofAlreadyUsedErr
		}
		msg := fmt.Sprintf("error invalidating proofs: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	blindedSignatures, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}
	m.logDebugf("swapped %v ecash", proofs.Amount())

	return blindedSignatures, nil
}

// RequestMeltQuote will process a request to melt tokens and return a
// melt quote with the fee reserve required on top of the invoice amount.
// A melt is requested by a wallet to request the mint to pay an invoice.
func (m *Mint) RequestMeltQuote(method, request, unit string) (storage.MeltQuote, error) {
	if method != cashu.Bolt11Method {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}
	if unit != cashu.Sat.String() {
		return storage.MeltQuote{}, cashu.UnitNotSupportedErr
	}

	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		msg := fmt.Sprintf("invalid invoice: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.QuoteErrCode)
	}
	if bolt11.MSatoshi == 0 {
		return storage.MeltQuote{}, cashu.BuildCashuError("invoice has no amount", cashu.QuoteErrCode)
	}
	amount := uint64(bolt11.MSatoshi) / 1000

	if m.limits.MeltingSettings.MaxAmount > 0 && amount > m.limits.MeltingSettings.MaxAmount {
		return storage.MeltQuote{}, cashu.MeltAmountExceededErr
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
	}

	meltQuote := storage.MeltQuote{
		Id:             quoteId,
		InvoiceRequest: request,
		PaymentHash:    bolt11.PaymentHash,
		Amount:         amount,
		FeeReserve:     m.lightningClient.FeeReserve(amount),
		State:          nut05.Unpaid,
		Expiry:         uint64(time.Now().Unix()) + m.quoteExpiry,
	}
	if err := m.db.SaveMeltQuote(meltQuote); err != nil {
		msg := fmt.Sprintf("error saving melt quote: %v", err)
		return storage.MeltQuote{}, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	m.logInfof("created melt quote '%v' for %v %v", quoteId, amount, unit)

	return meltQuote, nil
}

// GetMeltQuoteState returns the state of a melt quote.
// Used to check whether a melt quote has been paid.
func (m *Mint) GetMeltQuoteState(method, quoteId string) (storage.MeltQuote, error) {
	if method != cashu.Bolt11Method {
		return storage.MeltQuote{}, cashu.PaymentMethodNotSupportedErr
	}

	meltQuote, err := m.db.GetMeltQuote(quoteId)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.MeltQuote{}, cashu.QuoteNotExistErr
	} else if err != nil {
		return storage.MeltQuote{}, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	return meltQuote, nil
}

// MeltTokens verifies whether proofs provided are valid
// and proceeds to attempt payment of the invoice in the quote.
// If blank outputs were provided, it returns blind signatures
// for any overpaid fee reserve along with the quote.
func (m *Mint) MeltTokens(ctx context.Context, method, quoteId string, proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (storage.MeltQuote, cashu.BlindedSignatures, error) {
	meltQuote, err := m.GetMeltQuoteState(method, quoteId)
	if err != nil {
		return storage.MeltQuote{}, nil, err
	}

	switch meltQuote.State {
	case nut05.Paid:
		return storage.MeltQuote{}, nil, cashu.MeltQuoteAlreadyPaid
	case nut05.Pending:
		return storage.MeltQuote{}, nil, cashu.MeltQuotePending
	}
	if uint64(time.Now().Unix()) > meltQuote.Expiry {
		return storage.MeltQuote{}, nil, cashu.QuoteExpiredErr
	}

	if len(proofs) == 0 {
		return storage.MeltQuote{}, nil, cashu.NoProofsProvided
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return storage.MeltQuote{}, nil, cashu.DuplicateProofs
	}
	if err := m.verifyProofs(proofs); err != nil {
		return storage.MeltQuote{}, nil, err
	}
	if proofs.Amount() < meltQuote.Amount+meltQuote.FeeReserve {
		return storage.MeltQuote{}, nil, cashu.InsufficientProofsAmount
	}
	if len(blindedMessages) > 0 {
		if cashu.CheckDuplicateBlindedMessages(blindedMessages) {
			return storage.MeltQuote{}, nil, cashu.DuplicateOutputs
		}
	}

	// mark the proofs as pending while the payment is in flight.
	// No lock is held across the payment call, concurrent requests
	// spending these proofs are rejected by the pending check in
	// verifyProofs.
	if err := m.db.AddPendingProofs(proofs, meltQuote.Id); err != nil {
		// loser of two concurrent melts spending the same proofs
		if errors.Is(err, storage.ErrProofAlreadyUsed) {
			return storage.MeltQuote{}, nil, cashu.ProofPendingErr
		}
		msg := fmt.Sprintf("error setting proofs as pending: %v", err)
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if err := m.db.UpdateMeltQuote(meltQuote.Id, "", nut05.Pending); err != nil {
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	payment, err := m.lightningClient.SendPayment(ctx, meltQuote.InvoiceRequest, meltQuote.Amount)
	if err != nil || payment.PaymentStatus == lightning.Failed {
		m.logInfof("payment for melt quote '%v' failed: %v", meltQuote.Id, err)
		if rollbackErr := m.rollbackPendingMelt(proofs, &meltQuote); rollbackErr != nil {
			return storage.MeltQuote{}, nil, cashu.BuildCashuError(rollbackErr.Error(), cashu.DBErrCode)
		}
		return storage.MeltQuote{}, nil, cashu.LightningPaymentErr
	}

	meltQuote.State = nut05.Paid
	meltQuote.Preimage = payment.Preimage

	// sign blank outputs for overpaid fees if the wallet provided any.
	// The fee actually paid can exceed the fee reserve estimate, in
	// which case there is no overage to return.
	var change cashu.BlindedSignatures
	if len(blindedMessages) > 0 && proofs.Amount() > meltQuote.Amount+payment.Fee {
		overpaid := proofs.Amount() - meltQuote.Amount - payment.Fee
		change, err = m.signChangeOutputs(blindedMessages, overpaid)
		if err != nil {
			m.logErrorf("error signing change outputs for melt quote '%v': %v", meltQuote.Id, err)
			change = nil
		}
	}

	if err := m.db.SaveProofs(proofs); err != nil && !errors.Is(err, storage.ErrProofAlreadyUsed) {
		msg := fmt.Sprintf("error invalidating proofs: %v", err)
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if err := m.db.UpdateMeltQuote(meltQuote.Id, meltQuote.Preimage, nut05.Paid); err != nil {
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	if err := m.removePending(proofs); err != nil {
		return storage.MeltQuote{}, nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	m.logInfof("melt quote '%v' was paid. preimage: %v", meltQuote.Id, meltQuote.Preimage)

	return meltQuote, change, nil
}

func (m *Mint) rollbackPendingMelt(proofs cashu.Proofs, meltQuote *storage.MeltQuote) error {
	if err := m.removePending(proofs); err != nil {
		return err
	}
	return m.db.UpdateMeltQuote(meltQuote.Id, "", nut05.Unpaid)
}

func (m *Mint) removePending(proofs cashu.Proofs) error {
	Ys, err := proofsYs(proofs)
	if err != nil {
		return err
	}
	return m.db.RemovePendingProofs(Ys)
}

// signChangeOutputs signs blank outputs for the overpaid amount,
// largest denominations first, as specified in
// NUT-08: https://github.com/cashubtc/nuts/blob/main/08.md.
func (m *Mint) signChangeOutputs(blindedMessages cashu.BlindedMessages, overpaid uint64) (cashu.BlindedSignatures, error) {
	amounts := cashu.AmountSplit(overpaid)

	numChange := len(amounts)
	if len(blindedMessages) < numChange {
		numChange = len(blindedMessages)
	}

	change := make(cashu.BlindedMessages, numChange)
	for i := 0; i < numChange; i++ {
		msg := blindedMessages[i]
		msg.Amount = amounts[len(amounts)-1-i]
		change[i] = msg
	}

	if err := m.verifyOutputs(change); err != nil {
		return nil, err
	}
	return m.signBlindedMessages(change)
}

// ProofStates returns the spend state for each Y as specified in
// NUT-07: https://github.com/cashubtc/nuts/blob/main/07.md.
func (m *Mint) ProofStates(Ys []string) ([]nut07.ProofState, error) {
	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}
	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		return nil, cashu.BuildCashuError(err.Error(), cashu.DBErrCode)
	}

	used := make(map[string]bool, len(usedProofs))
	for _, proof := range usedProofs {
		used[proof.Y] = true
	}
	pending := make(map[string]bool, len(pendingProofs))
	for _, proof := range pendingProofs {
		pending[proof.Y] = true
	}

	proofStates := make([]nut07.ProofState, len(Ys))
	for i, y := range Ys {
		state := nut07.Unspent
		if used[y] {
			state = nut07.Spent
		} else if pending[y] {
			state = nut07.Pending
		}
		proofStates[i] = nut07.ProofState{Y: y, State: state}
	}

	return proofStates, nil
}

func proofsYs(proofs cashu.Proofs) ([]string, error) {
	Ys := make([]string, len(proofs))
	for i, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return nil, err
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
	}
	return Ys, nil
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	Ys, err := proofsYs(proofs)
	if err != nil {
		return cashu.InvalidProofErr
	}

	usedProofs, err := m.db.GetProofsUsed(Ys)
	if err != nil {
		msg := fmt.Sprintf("error reading used proofs from db: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if len(usedProofs) != 0 {
		return cashu.ProofAlreadyUsedErr
	}

	pendingProofs, err := m.db.GetPendingProofs(Ys)
	if err != nil {
		msg := fmt.Sprintf("error reading pending proofs from db: %v", err)
		return cashu.BuildCashuError(msg, cashu.DBErrCode)
	}
	if len(pendingProofs) != 0 {
		return cashu.ProofPendingErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, proof := range proofs {
		keyset, ok := m.keysets[proof.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}

		key, ok := keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.InvalidCurvePointErr
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.InvalidCurvePointErr
		}

		if !crypto.Verify(proof.Secret, key.PrivateKey, C) {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

// verifyOutputs checks that all blinded messages are for a known and
// active keyset, carry valid denominations and parse as curve points.
func (m *Mint) verifyOutputs(blindedMessages cashu.BlindedMessages) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		if !keyset.Active {
			return cashu.InactiveKeysetErr
		}
		if !keyset.HasAmount(msg.Amount) {
			return cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return cashu.InvalidCurvePointErr
		}
		if _, err := secp256k1.ParsePubKey(B_bytes); err != nil {
			return cashu.InvalidCurvePointErr
		}
	}
	return nil
}

// signBlindedMessages will sign the blindedMessages and
// return the blindedSignatures. Outputs have to pass verifyOutputs
// before getting here. All signatures are persisted in one batch so
// a failure never leaves part of the request committed.
func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	B_s := make([]string, len(blindedMessages))
	blindedSignatures := make(cashu.BlindedSignatures, len(blindedMessages))
	for i, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.Id]
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}
		key, ok := keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.InvalidCurvePointErr
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.InvalidCurvePointErr
		}

		C_ := crypto.SignBlindedMessage(B_, key.PrivateKey)

		B_s[i] = msg.B_
		blindedSignatures[i] = cashu.BlindedSignature{
			Amount: msg.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     keyset.Id,
		}
	}

	if err := m.db.SaveBlindSignatures(B_s, blindedSignatures); err != nil {
		if errors.Is(err, storage.ErrBlindSignatureExists) {
			return nil, cashu.DuplicateOutputs
		}
		msg := fmt.Sprintf("error saving blind signatures: %v", err)
		return nil, cashu.BuildCashuError(msg, cashu.DBErrCode)
	}

	return blindedSignatures, nil
}

func (m *Mint) totalBalance() (uint64, error) {
	issued, err := m.db.GetIssuedEcash()
	if err != nil {
		return 0, err
	}
	redeemed, err := m.db.GetRedeemedEcash()
	if err != nil {
		return 0, err
	}

	var balance uint64
	for _, amount := range issued {
		balance += amount
	}
	for _, amount := range redeemed {
		balance -= amount
	}
	return balance, nil
}

// IssuedEcash returns the amount of ecash signed per keyset.
func (m *Mint) IssuedEcash() (map[string]uint64, error) {
	return m.db.GetIssuedEcash()
}

// RedeemedEcash returns the amount of ecash redeemed per keyset.
func (m *Mint) RedeemedEcash() (map[string]uint64, error) {
	return m.db.GetRedeemedEcash()
}

func (m *Mint) RetrieveMintInfo() nut06.MintInfo {
	bolt11Setting := []nut06.MethodSetting{
		{
			Method:    cashu.Bolt11Method,
			Unit:      cashu.Sat.String(),
			MinAmount: m.limits.MintingSettings.MinAmount,
			MaxAmount: m.limits.MintingSettings.MaxAmount,
		},
	}
	meltSetting := []nut06.MethodSetting{
		{
			Method:    cashu.Bolt11Method,
			Unit:      cashu.Sat.String(),
			MinAmount: m.limits.MeltingSettings.MinAmount,
			MaxAmount: m.limits.MeltingSettings.MaxAmount,
		},
	}

	return nut06.MintInfo{
		Name:            m.mintInfo.Name,
		Pubkey:          m.publicKey,
		Version:         "mintd/0.1.0",
		Description:     m.mintInfo.Description,
		LongDescription: m.mintInfo.LongDescription,
		Contact:         m.mintInfo.Contact,
		Motd:            m.mintInfo.Motd,
		Time:            time.Now().Unix(),
		Nuts: nut06.Nuts{
			Nut04: nut06.NutSetting{Methods: bolt11Setting},
			Nut05: nut06.NutSetting{Methods: meltSetting},
			Nut07: nut06.Supported{Supported: true},
			Nut08: nut06.Supported{Supported: true},
		},
	}
}
