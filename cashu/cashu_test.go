package cashu

import (
	"encoding/hex"
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 64, expected: []uint64{64}},
		{amount: 255, expected: []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
		{amount: 0, expected: []uint64{}},
	}

	for _, test := range tests {
		split := AmountSplit(test.amount)
		if !reflect.DeepEqual(split, test.expected) {
			t.Errorf("expected '%v' but got '%v' instead", test.expected, split)
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	proofs := Proofs{
		{Amount: 2, Id: "00bfa73302d12ffd", Secret: "secret1", C: "c1"},
		{Amount: 4, Id: "00bfa73302d12ffd", Secret: "secret2", C: "c2"},
	}

	if CheckDuplicateProofs(proofs) {
		t.Error("reported duplicates on proofs without duplicates")
	}

	proofs = append(proofs, proofs[0])
	if !CheckDuplicateProofs(proofs) {
		t.Error("failed to detect duplicate proofs")
	}
}

func TestCheckDuplicateBlindedMessages(t *testing.T) {
	messages := BlindedMessages{
		{Amount: 1, Id: "00bfa73302d12ffd", B_: "b1"},
		{Amount: 2, Id: "00bfa73302d12ffd", B_: "b2"},
	}

	if CheckDuplicateBlindedMessages(messages) {
		t.Error("reported duplicates on messages without duplicates")
	}

	messages = append(messages, messages[1])
	if !CheckDuplicateBlindedMessages(messages) {
		t.Error("failed to detect duplicate blinded messages")
	}
}

func TestDecodeTokenV4(t *testing.T) {
	keysetIdBytes, _ := hex.DecodeString("00ad268c4d1f5826")
	Cbytes, _ := hex.DecodeString("038618543ffb6b8695df4ad4babcde92a34a96bdcd97dcee0d7ccf98d472126792")

	tokenString := "cashuBpGF0gaJhaUgArSaMTR9YJmFwgaNhYQFhc3hAOWE2ZGJiODQ3YmQyMzJiYTc2ZGIwZGYxOTcyMTZiMjlkM2I4Y2MxNDU1M2NkMjc4MjdmYzFjYzk0MmZlZGI0ZWFjWCEDhhhUP_trhpXfStS6vN6So0qWvc2X3O4NfM-Y1HISZ5JhZGlUaGFuayB5b3VhbXVodHRwOi8vbG9jYWxob3N0OjMzMzhhdWNzYXQ="
	expected := TokenV4{
		MintURL: "http://localhost:3338",
		TokenProofs: []TokenV4Proof{
			{
				Id: keysetIdBytes,
				Proofs: []ProofV4{
					{
						Amount: 1,
						Secret: "9a6dbb847bd232ba76db0df197216b29d3b8cc14553cd27827fc1cc942fedb4e",
						C:      Cbytes,
					},
				},
			},
		},
		Unit: "sat",
		Memo: "Thank you",
	}

	token, err := DecodeTokenV4(tokenString)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if !reflect.DeepEqual(*token, expected) {
		t.Fatalf("decoded token does not match. Expected '%+v' but got '%+v'", expected, *token)
	}

	if token.Amount() != 1 {
		t.Fatalf("expected token amount '%v' but got '%v'", 1, token.Amount())
	}
	if token.Mint() != "http://localhost:3338" {
		t.Fatalf("expected mint url '%v' but got '%v'", "http://localhost:3338", token.Mint())
	}
}

func TestTokenV4RoundTrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 2, Id: "00ad268c4d1f5826", Secret: "secret1",
			C: "038618543ffb6b8695df4ad4babcde92a34a96bdcd97dcee0d7ccf98d472126792"},
		{Amount: 8, Id: "00ad268c4d1f5826", Secret: "secret2",
			C: "0244538319de485d55bed3b29a642bee5879375ab9e7a620e11e48ba482421f3cf"},
	}

	token, err := NewTokenV4(proofs, "http://localhost:3338", Sat)
	if err != nil {
		t.Fatalf("error creating token: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if decoded.Amount() != proofs.Amount() {
		t.Fatalf("expected amount '%v' but got '%v'", proofs.Amount(), decoded.Amount())
	}
	if !reflect.DeepEqual(decoded.Proofs(), proofs) {
		t.Fatalf("proofs from decoded token do not match. Expected '%+v' but got '%+v'",
			proofs, decoded.Proofs())
	}
}

func TestTokenV3RoundTrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 1, Id: "00ffd48b8f5ecf80", Secret: "acc12435e7b8484c3cf1850149218af9",
			C: "0244538319de485d55bed3b29a642bee5879375ab9e7a620e11e48ba482421f3cf"},
		{Amount: 4, Id: "00ffd48b8f5ecf80", Secret: "1323d3d4707a58ad2e23ada4e9f1f49f",
			C: "023456aa110d84b4ac747aebd82c3b005aca50bf457ebd5737a4414fac3ae7d94d"},
	}

	token, err := NewTokenV3(proofs, "http://localhost:3338", Sat)
	if err != nil {
		t.Fatalf("error creating token: %v", err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}

	decoded, err := DecodeTokenV3(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if !reflect.DeepEqual(*decoded, token) {
		t.Fatalf("decoded token does not match. Expected '%+v' but got '%+v'", token, *decoded)
	}
}

func TestDecodeInvalidToken(t *testing.T) {
	invalid := []string{"", "cashu", "cashuC2tbmz", "cashuBnotbase64!!"}
	for _, tokenstr := range invalid {
		if _, err := DecodeToken(tokenstr); err == nil {
			t.Errorf("expected error decoding invalid token '%v'", tokenstr)
		}
	}
}
