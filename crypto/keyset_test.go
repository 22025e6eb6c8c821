package crypto

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

func testMasterKey(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed, err := hdkeychain.GenerateSeed(32)
	if err != nil {
		t.Fatalf("error generating seed: %v", err)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("error deriving master key: %v", err)
	}
	return master
}

func TestGenerateKeyset(t *testing.T) {
	master := testMasterKey(t)

	keyset, err := GenerateKeyset(master, 0, MaxKeysetOrder, 0, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	if len(keyset.Keys) != MaxKeysetOrder {
		t.Fatalf("expected '%v' keys but got '%v'", MaxKeysetOrder, len(keyset.Keys))
	}

	// every denomination is a power of two and present exactly once
	for i := uint(0); i < MaxKeysetOrder; i++ {
		amount := uint64(1) << i
		if !keyset.HasAmount(amount) {
			t.Fatalf("keyset missing denomination '%v'", amount)
		}
	}
	if keyset.HasAmount(3) {
		t.Fatal("keyset has non power-of-two denomination")
	}

	if len(keyset.Id) != 16 || keyset.Id[:2] != "00" {
		t.Fatalf("invalid keyset id '%v'", keyset.Id)
	}
}

func TestKeysetDerivationDeterministic(t *testing.T) {
	master := testMasterKey(t)

	keyset1, err := GenerateKeyset(master, 0, MaxKeysetOrder, 0, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	keyset2, err := GenerateKeyset(master, 0, MaxKeysetOrder, 0, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	if keyset1.Id != keyset2.Id {
		t.Fatalf("same derivation index produced different keysets: '%v' and '%v'",
			keyset1.Id, keyset2.Id)
	}

	rotated, err := GenerateKeyset(master, 1, MaxKeysetOrder, 0, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}
	if rotated.Id == keyset1.Id {
		t.Fatal("rotated keyset has same id as previous keyset")
	}
}

func TestPublicKeyset(t *testing.T) {
	master := testMasterKey(t)

	keyset, err := GenerateKeyset(master, 0, 32, 100, true)
	if err != nil {
		t.Fatalf("error generating keyset: %v", err)
	}

	public := keyset.Public()
	if public.Id != keyset.Id {
		t.Fatalf("expected id '%v' but got '%v'", keyset.Id, public.Id)
	}
	if len(public.PublicKeys) != len(keyset.Keys) {
		t.Fatalf("expected '%v' public keys but got '%v'", len(keyset.Keys), len(public.PublicKeys))
	}
	if public.InputFeePpk != 100 {
		t.Fatalf("expected input fee '%v' but got '%v'", 100, public.InputFeePpk)
	}

	for amount, pubkey := range public.PublicKeys {
		if !keyset.Keys[amount].PublicKey.IsEqual(pubkey) {
			t.Fatalf("public key for amount '%v' does not match keyset key", amount)
		}
	}
}
