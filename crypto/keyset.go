package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxKeysetOrder is the default number of denominations in a keyset:
// powers of two from 1 up to 2^63.
const MaxKeysetOrder = 64

// purpose field for the keyset derivation path m/129372'/0'/keysetIdx'/amountIdx'
const purposeIdx = 129372

// MintKeyset holds the private key material for one keyset.
// It never crosses the mint boundary, callers get PublicKeyset views.
type MintKeyset struct {
	Id                string
	Unit              string
	Active            bool
	DerivationPathIdx uint32
	InputFeePpk       uint
	Keys              map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// PublicKeyset is the freely shareable view of a keyset.
type PublicKeyset struct {
	Id          string
	Unit        string
	Active      bool
	InputFeePpk uint
	PublicKeys  map[uint64]*secp256k1.PublicKey
}

// DeriveKeysetPath derives the extended key at m/129372'/0'/index'
// from which the per-amount keys of a keyset are derived.
func DeriveKeysetPath(master *hdkeychain.ExtendedKey, index uint32) (*hdkeychain.ExtendedKey, error) {
	purpose, err := master.Derive(hdkeychain.HardenedKeyStart + purposeIdx)
	if err != nil {
		return nil, err
	}

	// unit 'sat' is coin type 0
	unitPath, err := purpose.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}

	keysetPath, err := unitPath.Derive(hdkeychain.HardenedKeyStart + index)
	if err != nil {
		return nil, err
	}

	return keysetPath, nil
}

// GenerateKeyset derives a new keyset from the master key at the given
// derivation index with one keypair per power-of-two amount up to 2^(maxOrder-1).
func GenerateKeyset(master *hdkeychain.ExtendedKey, index uint32, maxOrder uint, inputFeePpk uint, active bool) (*MintKeyset, error) {
	keys := make(map[uint64]KeyPair, maxOrder)

	keysetPath, err := DeriveKeysetPath(master, index)
	if err != nil {
		return nil, err
	}

	for i := uint(0); i < maxOrder; i++ {
		amount := uint64(1) << i

		amountPath, err := keysetPath.Derive(hdkeychain.HardenedKeyStart + uint32(i))
		if err != nil {
			return nil, err
		}
		privKey, err := amountPath.ECPrivKey()
		if err != nil {
			return nil, err
		}

		keys[amount] = KeyPair{
			PrivateKey: privKey,
			PublicKey:  privKey.PubKey(),
		}
	}

	return &MintKeyset{
		Id:                DeriveKeysetId(keys),
		Unit:              "sat",
		Active:            active,
		DerivationPathIdx: index,
		InputFeePpk:       inputFeePpk,
		Keys:              keys,
	}, nil
}

// DeriveKeysetId returns the keyset id: version byte "00" followed by
// the first 14 hex chars of the sha256 over the amount-ordered
// compressed public keys.
func DeriveKeysetId(keys map[uint64]KeyPair) string {
	amounts := make([]uint64, 0, len(keys))
	for amount := range keys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	pubkeys := make([]byte, 0, len(keys)*33)
	for _, amount := range amounts {
		pubkeys = append(pubkeys, keys[amount].PublicKey.SerializeCompressed()...)
	}
	hash := sha256.Sum256(pubkeys)

	return "00" + hex.EncodeToString(hash[:])[:14]
}

// PublicKeys returns the hex encoded public key for each amount.
func (ks *MintKeyset) PublicKeys() map[uint64]string {
	pubkeys := make(map[uint64]string, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = hex.EncodeToString(key.PublicKey.SerializeCompressed())
	}
	return pubkeys
}

// Public returns the keyset view without private material.
func (ks *MintKeyset) Public() PublicKeyset {
	pubkeys := make(map[uint64]*secp256k1.PublicKey, len(ks.Keys))
	for amount, key := range ks.Keys {
		pubkeys[amount] = key.PublicKey
	}
	return PublicKeyset{
		Id:          ks.Id,
		Unit:        ks.Unit,
		Active:      ks.Active,
		InputFeePpk: ks.InputFeePpk,
		PublicKeys:  pubkeys,
	}
}

// HasAmount reports whether amount is one of the keyset denominations.
func (ks *MintKeyset) HasAmount(amount uint64) bool {
	_, ok := ks.Keys[amount]
	return ok
}
