package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut04"
	"github.com/opencash/mintd/cashu/nuts/nut05"
	"github.com/opencash/mintd/cashu/nuts/nut07"
	"github.com/opencash/mintd/crypto"
	"github.com/opencash/mintd/mint/lightning"
	"github.com/opencash/mintd/mint/storage"
)

func testMint(t *testing.T, fakeBackend *lightning.FakeBackend) *Mint {
	t.Helper()

	m, err := LoadMint(Config{
		MintPath:        t.TempDir(),
		LightningClient: fakeBackend,
		LogLevel:        Disable,
	})
	if err != nil {
		t.Fatalf("error loading mint: %v", err)
	}
	t.Cleanup(func() { m.Shutdown() })
	return m
}

// blind one message per amount in the power-of-two split
func blindMessages(t *testing.T, amount uint64, keysetId string) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey) {
	t.Helper()

	split := cashu.AmountSplit(amount)
	messages := make(cashu.BlindedMessages, len(split))
	secrets := make([]string, len(split))
	rs := make([]*secp256k1.PrivateKey, len(split))

	for i, amt := range split {
		var secretBytes [32]byte
		if _, err := rand.Read(secretBytes[:]); err != nil {
			t.Fatal(err)
		}
		secret := hex.EncodeToString(secretBytes[:])

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			t.Fatalf("error blinding message: %v", err)
		}

		messages[i] = cashu.NewBlindedMessage(keysetId, amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return messages, secrets, rs
}

func unblindSignatures(t *testing.T, signatures cashu.BlindedSignatures, secrets []string,
	rs []*secp256k1.PrivateKey, keyset crypto.MintKeyset) cashu.Proofs {
	t.Helper()

	proofs := make(cashu.Proofs, len(signatures))
	for i, sig := range signatures {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			t.Fatal(err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatal(err)
		}

		K := keyset.Keys[sig.Amount].PublicKey
		C := crypto.UnblindSignature(C_, rs[i], K)

		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Id:     sig.Id,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs
}

// mintProofs gets valid ecash from the mint by going through the
// full quote request and redemption flow.
func mintProofs(t *testing.T, m *Mint, amount uint64) cashu.Proofs {
	t.Helper()

	quote, err := m.RequestMintQuote(cashu.Bolt11Method, amount, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	keyset := m.GetActiveKeyset()
	messages, secrets, rs := blindMessages(t, amount, keyset.Id)

	signatures, err := m.MintTokens(cashu.Bolt11Method, quote.Id, messages)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	return unblindSignatures(t, signatures, secrets, rs, keyset)
}

func TestRequestMintQuote(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)

	if _, err := m.RequestMintQuote("strike", 21, cashu.Sat.String()); !errors.Is(err, cashu.PaymentMethodNotSupportedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.PaymentMethodNotSupportedErr, err)
	}
	if _, err := m.RequestMintQuote(cashu.Bolt11Method, 21, "usd"); !errors.Is(err, cashu.UnitNotSupportedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.UnitNotSupportedErr, err)
	}

	quote, err := m.RequestMintQuote(cashu.Bolt11Method, 21, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	if quote.Amount != 21 {
		t.Fatalf("expected quote amount '%v' but got '%v' instead", 21, quote.Amount)
	}
	if len(quote.PaymentRequest) == 0 {
		t.Fatal("got empty payment request in mint quote")
	}
}

func TestMintQuoteStateTransitions(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{HoldInvoices: true}
	m := testMint(t, fakeBackend)

	quote, err := m.RequestMintQuote(cashu.Bolt11Method, 42, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	if quote.State != nut04.Unpaid {
		t.Fatalf("expected quote state '%v' but got '%v' instead", nut04.Unpaid, quote.State)
	}

	if _, err := m.GetMintQuoteState(cashu.Bolt11Method, "nonexistent"); !errors.Is(err, cashu.QuoteNotExistErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.QuoteNotExistErr, err)
	}

	quoteState, err := m.GetMintQuoteState(cashu.Bolt11Method, quote.Id)
	if err != nil {
		t.Fatalf("error getting quote state: %v", err)
	}
	if quoteState.State != nut04.Unpaid {
		t.Fatalf("expected quote state '%v' but got '%v' instead", nut04.Unpaid, quoteState.State)
	}

	// minting off an unpaid quote has to be rejected
	keyset := m.GetActiveKeyset()
	messages, _, _ := blindMessages(t, 42, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, quote.Id, messages); !errors.Is(err, cashu.MintQuoteRequestNotPaid) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintQuoteRequestNotPaid, err)
	}

	// querying the state after the invoice settles persists the
	// transition to paid
	if err := fakeBackend.SettleInvoice(quote.PaymentHash); err != nil {
		t.Fatal(err)
	}
	quoteState, err = m.GetMintQuoteState(cashu.Bolt11Method, quote.Id)
	if err != nil {
		t.Fatalf("error getting quote state: %v", err)
	}
	if quoteState.State != nut04.Paid {
		t.Fatalf("expected quote state '%v' but got '%v' instead", nut04.Paid, quoteState.State)
	}
}

func TestMintTokens(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	quote, err := m.RequestMintQuote(cashu.Bolt11Method, 5, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	// outputs over the quote amount have to be rejected
	overMessages, _, _ := blindMessages(t, 6, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, quote.Id, overMessages); !errors.Is(err, cashu.OutputsOverQuoteAmountErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.OutputsOverQuoteAmountErr, err)
	}

	messages, secrets, rs := blindMessages(t, 5, keyset.Id)
	signatures, err := m.MintTokens(cashu.Bolt11Method, quote.Id, messages)
	if err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	// amount 5 splits into denominations 1 and 4
	if len(signatures) != 2 {
		t.Fatalf("expected '%v' signatures but got '%v' instead", 2, len(signatures))
	}
	if signatures.Amount() != 5 {
		t.Fatalf("expected signatures amount '%v' but got '%v' instead", 5, signatures.Amount())
	}
	for _, sig := range signatures {
		if sig.Amount != 1 && sig.Amount != 4 {
			t.Fatalf("got unexpected denomination '%v'", sig.Amount)
		}
	}

	// unblinded signatures have to verify against the keyset keys
	proofs := unblindSignatures(t, signatures, secrets, rs, keyset)
	for _, proof := range proofs {
		Cbytes, _ := hex.DecodeString(proof.C)
		C, _ := secp256k1.ParsePubKey(Cbytes)
		if !crypto.Verify(proof.Secret, keyset.Keys[proof.Amount].PrivateKey, C) {
			t.Fatal("minted proof does not verify")
		}
	}

	// a quote can only be redeemed once
	moreMessages, _, _ := blindMessages(t, 5, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, quote.Id, moreMessages); !errors.Is(err, cashu.MintQuoteAlreadyIssued) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MintQuoteAlreadyIssued, err)
	}
}

func TestMintExpiredQuote(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{HoldInvoices: true}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	invoice, err := fakeBackend.CreateInvoice(21)
	if err != nil {
		t.Fatal(err)
	}
	expiredQuote := storage.MintQuote{
		Id:             "expiredquoteid",
		Amount:         21,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		State:          nut04.Unpaid,
		Expiry:         uint64(time.Now().Add(-time.Minute).Unix()),
	}
	if err := m.db.SaveMintQuote(expiredQuote); err != nil {
		t.Fatalf("error saving mint quote: %v", err)
	}

	messages, _, _ := blindMessages(t, 21, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, expiredQuote.Id, messages); !errors.Is(err, cashu.QuoteExpiredErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.QuoteExpiredErr, err)
	}

	// a quote that was paid before expiring cannot be redeemed either
	paidInvoice, err := fakeBackend.CreateInvoice(21)
	if err != nil {
		t.Fatal(err)
	}
	expiredPaidQuote := storage.MintQuote{
		Id:             "expiredpaidquoteid",
		Amount:         21,
		PaymentRequest: paidInvoice.PaymentRequest,
		PaymentHash:    paidInvoice.PaymentHash,
		State:          nut04.Paid,
		Expiry:         uint64(time.Now().Add(-time.Minute).Unix()),
	}
	if err := m.db.SaveMintQuote(expiredPaidQuote); err != nil {
		t.Fatalf("error saving mint quote: %v", err)
	}

	paidMessages, _, _ := blindMessages(t, 21, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, expiredPaidQuote.Id, paidMessages); !errors.Is(err, cashu.QuoteExpiredErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.QuoteExpiredErr, err)
	}
}

func TestMintDuplicateOutputRetry(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	firstQuote, err := m.RequestMintQuote(cashu.Bolt11Method, 2, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}
	signedMessages, _, _ := blindMessages(t, 2, keyset.Id)
	if _, err := m.MintTokens(cashu.Bolt11Method, firstQuote.Id, signedMessages); err != nil {
		t.Fatalf("error minting tokens: %v", err)
	}

	quote, err := m.RequestMintQuote(cashu.Bolt11Method, 3, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting mint quote: %v", err)
	}

	// outputs where only the second one was already signed. The
	// request has to fail without committing the first output.
	messages, _, _ := blindMessages(t, 3, keyset.Id)
	badMessages := cashu.BlindedMessages{messages[0], signedMessages[0]}
	if _, err := m.MintTokens(cashu.Bolt11Method, quote.Id, badMessages); !errors.Is(err, cashu.DuplicateOutputs) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.DuplicateOutputs, err)
	}

	// the quote is back to paid and a retry reusing the first output
	// with a fresh second one succeeds
	replacement, _, _ := blindMessages(t, 2, keyset.Id)
	retryMessages := cashu.BlindedMessages{messages[0], replacement[0]}
	signatures, err := m.MintTokens(cashu.Bolt11Method, quote.Id, retryMessages)
	if err != nil {
		t.Fatalf("error minting tokens on retry: %v", err)
	}
	if signatures.Amount() != 3 {
		t.Fatalf("expected signatures amount '%v' but got '%v' instead", 3, signatures.Amount())
	}
}

func TestSwap(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	proofs := mintProofs(t, m, 64)

	// input and output amounts have to match
	mismatched, _, _ := blindMessages(t, 32, keyset.Id)
	if _, err := m.Swap(proofs, mismatched); !errors.Is(err, cashu.AmountsDoNotMatch) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.AmountsDoNotMatch, err)
	}

	duplicated := append(cashu.Proofs{}, proofs...)
	duplicated = append(duplicated, proofs[0])
	dupMessages, _, _ := blindMessages(t, duplicated.Amount(), keyset.Id)
	if _, err := m.Swap(duplicated, dupMessages); !errors.Is(err, cashu.DuplicateProofs) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.DuplicateProofs, err)
	}

	// unknown keyset in outputs
	badMessages, _, _ := blindMessages(t, 64, "00aabbccddeeff11")
	if _, err := m.Swap(proofs, badMessages); !errors.Is(err, cashu.UnknownKeysetErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.UnknownKeysetErr, err)
	}

	messages, secrets, rs := blindMessages(t, 64, keyset.Id)
	signatures, err := m.Swap(proofs, messages)
	if err != nil {
		t.Fatalf("error swapping: %v", err)
	}
	if signatures.Amount() != proofs.Amount() {
		t.Fatalf("expected signatures amount '%v' but got '%v' instead", proofs.Amount(), signatures.Amount())
	}

	// swapping the same proofs again has to fail
	moreMessages, _, _ := blindMessages(t, 64, keyset.Id)
	if _, err := m.Swap(proofs, moreMessages); !errors.Is(err, cashu.ProofAlreadyUsedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.ProofAlreadyUsedErr, err)
	}

	// the new proofs from the swap are spendable
	newProofs := unblindSignatures(t, signatures, secrets, rs, keyset)
	evenMoreMessages, _, _ := blindMessages(t, 64, keyset.Id)
	if _, err := m.Swap(newProofs, evenMoreMessages); err != nil {
		t.Fatalf("error swapping: %v", err)
	}
}

func TestSwapConcurrent(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	proofs := mintProofs(t, m, 32)

	messageSets := make([]cashu.BlindedMessages, 2)
	for i := range messageSets {
		messageSets[i], _, _ = blindMessages(t, 32, keyset.Id)
	}

	// two concurrent swaps spending the same proofs, exactly one
	// can succeed
	var wg sync.WaitGroup
	errChan := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(messages cashu.BlindedMessages) {
			defer wg.Done()
			_, err := m.Swap(proofs, messages)
			errChan <- err
		}(messageSets[i])
	}
	wg.Wait()
	close(errChan)

	succeeded, doubleSpends := 0, 0
	for err := range errChan {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, cashu.ProofAlreadyUsedErr):
			doubleSpends++
		default:
			t.Fatalf("got unexpected error: %v", err)
		}
	}

	if succeeded != 1 || doubleSpends != 1 {
		t.Fatalf("expected exactly one successful swap and one rejection but got %v and %v",
			succeeded, doubleSpends)
	}
}

func TestMeltTokens(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)

	invoice, err := fakeBackend.CreateInvoice(100)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.RequestMeltQuote(cashu.Bolt11Method, "notaninvoice", cashu.Sat.String()); err == nil {
		t.Fatal("expected error for invalid invoice but got nil")
	}

	meltQuote, err := m.RequestMeltQuote(cashu.Bolt11Method, invoice.PaymentRequest, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}
	if meltQuote.Amount != 100 {
		t.Fatalf("expected melt quote amount '%v' but got '%v' instead", 100, meltQuote.Amount)
	}
	if meltQuote.State != nut05.Unpaid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Unpaid, meltQuote.State)
	}

	proofs := mintProofs(t, m, 128)

	insufficient := mintProofs(t, m, 21)
	if _, _, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, insufficient, nil); !errors.Is(err, cashu.InsufficientProofsAmount) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.InsufficientProofsAmount, err)
	}

	// melt with blank outputs to get change for the overpaid amount
	keyset := m.GetActiveKeyset()
	blankOutputs, secrets, rs := blindMessages(t, 15, keyset.Id)

	melted, change, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, proofs, blankOutputs)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melted.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melted.State)
	}
	if melted.Preimage != lightning.FakePreimage {
		t.Fatalf("expected preimage '%v' but got '%v' instead", lightning.FakePreimage, melted.Preimage)
	}

	// overpaid 28 with no fee paid, change has to cover it up to the
	// number of blank outputs provided
	if change.Amount() != 28 {
		t.Fatalf("expected change amount '%v' but got '%v' instead", 28, change.Amount())
	}
	changeProofs := unblindSignatures(t, change, secrets[:len(change)], rs[:len(change)], keyset)
	for _, proof := range changeProofs {
		Cbytes, _ := hex.DecodeString(proof.C)
		C, _ := secp256k1.ParsePubKey(Cbytes)
		if !crypto.Verify(proof.Secret, keyset.Keys[proof.Amount].PrivateKey, C) {
			t.Fatal("change proof does not verify")
		}
	}

	// melted proofs are spent
	messages, _, _ := blindMessages(t, 128, keyset.Id)
	if _, err := m.Swap(proofs, messages); !errors.Is(err, cashu.ProofAlreadyUsedErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.ProofAlreadyUsedErr, err)
	}

	// paying the same quote again has to be rejected
	moreProofs := mintProofs(t, m, 128)
	if _, _, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, moreProofs, nil); !errors.Is(err, cashu.MeltQuoteAlreadyPaid) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.MeltQuoteAlreadyPaid, err)
	}
}

func TestMeltPaymentFailure(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)

	invoice, err := fakeBackend.CreateInvoice(50)
	if err != nil {
		t.Fatal(err)
	}
	meltQuote, err := m.RequestMeltQuote(cashu.Bolt11Method, invoice.PaymentRequest, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	proofs := mintProofs(t, m, 64)

	fakeBackend.FailPayments = true
	if _, _, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, proofs, nil); !errors.Is(err, cashu.LightningPaymentErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.LightningPaymentErr, err)
	}

	// nothing was spent, quote is back to unpaid and the proofs
	// can still be melted after the backend recovers
	quoteState, err := m.GetMeltQuoteState(cashu.Bolt11Method, meltQuote.Id)
	if err != nil {
		t.Fatalf("error getting melt quote state: %v", err)
	}
	if quoteState.State != nut05.Unpaid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Unpaid, quoteState.State)
	}

	fakeBackend.FailPayments = false
	melted, _, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, proofs, nil)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melted.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melted.State)
	}
}

func TestMeltChangeWithFee(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{PaymentFee: 8}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	// fee actually paid reduces the returnable overage:
	// 128 - 100 - 8 leaves 20 in change
	invoice, err := fakeBackend.CreateInvoice(100)
	if err != nil {
		t.Fatal(err)
	}
	meltQuote, err := m.RequestMeltQuote(cashu.Bolt11Method, invoice.PaymentRequest, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	proofs := mintProofs(t, m, 128)
	blankOutputs, _, _ := blindMessages(t, 15, keyset.Id)

	melted, change, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, meltQuote.Id, proofs, blankOutputs)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melted.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melted.State)
	}
	if change.Amount() != 20 {
		t.Fatalf("expected change amount '%v' but got '%v' instead", 20, change.Amount())
	}

	// fee exceeding the overage leaves nothing to return
	fakeBackend.PaymentFee = 30
	secondInvoice, err := fakeBackend.CreateInvoice(100)
	if err != nil {
		t.Fatal(err)
	}
	secondQuote, err := m.RequestMeltQuote(cashu.Bolt11Method, secondInvoice.PaymentRequest, cashu.Sat.String())
	if err != nil {
		t.Fatalf("error requesting melt quote: %v", err)
	}

	moreProofs := mintProofs(t, m, 128)
	moreBlankOutputs, _, _ := blindMessages(t, 15, keyset.Id)

	melted, change, err = m.MeltTokens(context.Background(), cashu.Bolt11Method, secondQuote.Id, moreProofs, moreBlankOutputs)
	if err != nil {
		t.Fatalf("error melting tokens: %v", err)
	}
	if melted.State != nut05.Paid {
		t.Fatalf("expected melt quote state '%v' but got '%v' instead", nut05.Paid, melted.State)
	}
	if len(change) != 0 {
		t.Fatalf("expected no change but got amount '%v'", change.Amount())
	}
}

func TestMeltConcurrent(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)

	proofs := mintProofs(t, m, 64)

	quoteIds := make([]string, 2)
	for i := range quoteIds {
		invoice, err := fakeBackend.CreateInvoice(50)
		if err != nil {
			t.Fatal(err)
		}
		meltQuote, err := m.RequestMeltQuote(cashu.Bolt11Method, invoice.PaymentRequest, cashu.Sat.String())
		if err != nil {
			t.Fatalf("error requesting melt quote: %v", err)
		}
		quoteIds[i] = meltQuote.Id
	}

	// two concurrent melts spending the same proofs, exactly one
	// can succeed
	var wg sync.WaitGroup
	errChan := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(quoteId string) {
			defer wg.Done()
			_, _, err := m.MeltTokens(context.Background(), cashu.Bolt11Method, quoteId, proofs, nil)
			errChan <- err
		}(quoteIds[i])
	}
	wg.Wait()
	close(errChan)

	succeeded, rejected := 0, 0
	for err := range errChan {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, cashu.ProofPendingErr), errors.Is(err, cashu.ProofAlreadyUsedErr):
			rejected++
		default:
			t.Fatalf("got unexpected error: %v", err)
		}
	}

	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one successful melt and one rejection but got %v and %v",
			succeeded, rejected)
	}
}

func TestProofStates(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)
	keyset := m.GetActiveKeyset()

	spentProofs := mintProofs(t, m, 8)
	messages, _, _ := blindMessages(t, 8, keyset.Id)
	if _, err := m.Swap(spentProofs, messages); err != nil {
		t.Fatalf("error swapping: %v", err)
	}

	unspentProofs := mintProofs(t, m, 4)

	Ys := make([]string, 0, len(spentProofs)+len(unspentProofs))
	for _, proof := range append(spentProofs, unspentProofs...) {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			t.Fatal(err)
		}
		Ys = append(Ys, hex.EncodeToString(Y.SerializeCompressed()))
	}

	states, err := m.ProofStates(Ys)
	if err != nil {
		t.Fatalf("error getting proof states: %v", err)
	}
	if len(states) != len(Ys) {
		t.Fatalf("expected '%v' states but got '%v' instead", len(Ys), len(states))
	}

	for i, state := range states {
		expected := nut07.Spent
		if i >= len(spentProofs) {
			expected = nut07.Unspent
		}
		if state.State != expected {
			t.Fatalf("expected state '%v' for Y '%v' but got '%v' instead", expected, state.Y, state.State)
		}
		if state.Y != Ys[i] {
			t.Fatalf("expected Y '%v' but got '%v' instead", Ys[i], state.Y)
		}
	}
}

func TestRotateKeyset(t *testing.T) {
	fakeBackend := &lightning.FakeBackend{}
	m := testMint(t, fakeBackend)

	firstKeyset := m.GetActiveKeyset()
	proofs := mintProofs(t, m, 16)

	newKeyset, err := m.RotateKeyset(100)
	if err != nil {
		t.Fatalf("error rotating keyset: %v", err)
	}
	if newKeyset.Id == firstKeyset.Id {
		t.Fatal("expected new keyset id after rotation")
	}
	if !newKeyset.Active {
		t.Fatal("expected new keyset to be active")
	}
	if newKeyset.InputFeePpk != 100 {
		t.Fatalf("expected input fee '%v' but got '%v' instead", 100, newKeyset.InputFeePpk)
	}

	// outputs for the retired keyset are rejected
	oldMessages, _, _ := blindMessages(t, 16, firstKeyset.Id)
	if _, err := m.Swap(proofs, oldMessages); !errors.Is(err, cashu.InactiveKeysetErr) {
		t.Fatalf("expected '%v' but got '%v' instead", cashu.InactiveKeysetErr, err)
	}

	// proofs from the retired keyset are still redeemable against
	// outputs of the new one
	newMessages, _, _ := blindMessages(t, 16, newKeyset.Id)
	if _, err := m.Swap(proofs, newMessages); err != nil {
		t.Fatalf("error swapping after rotation: %v", err)
	}

	keysets := m.ListKeysets()
	if len(keysets.Keysets) != 2 {
		t.Fatalf("expected '%v' keysets but got '%v' instead", 2, len(keysets.Keysets))
	}
}
