package mint

import (
	"fmt"

	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut01"
	"github.com/opencash/mintd/cashu/nuts/nut02"
	"github.com/opencash/mintd/crypto"
	"github.com/opencash/mintd/mint/storage"
)

func (m *Mint) GetActiveKeyset() crypto.MintKeyset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.activeKeyset
}

// ActiveKeysets returns the NUT-01 view of the keysets
// currently signing new outputs.
func (m *Mint) ActiveKeysets() nut01.GetKeysResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{
			{
				Id:   m.activeKeyset.Id,
				Unit: m.activeKeyset.Unit,
				Keys: m.activeKeyset.PublicKeys(),
			},
		},
	}
}

// ListKeysets returns the NUT-02 view of every keyset the mint
// has ever used, active or not.
func (m *Mint) ListKeysets() nut02.GetKeysetsResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keysets := make([]nut02.Keyset, 0, len(m.keysets))
	for _, keyset := range m.keysets {
		keysets = append(keysets, nut02.Keyset{
			Id:          keyset.Id,
			Unit:        keyset.Unit,
			Active:      keyset.Active,
			InputFeePpk: keyset.InputFeePpk,
		})
	}
	return nut02.GetKeysetsResponse{Keysets: keysets}
}

// KeysetById returns the NUT-01 keys response for the keyset with
// the given id or UnknownKeysetErr if the mint does not know it.
func (m *Mint) KeysetById(id string) (nut01.GetKeysResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keyset, ok := m.keysets[id]
	if !ok {
		return nut01.GetKeysResponse{}, cashu.UnknownKeysetErr
	}

	return nut01.GetKeysResponse{
		Keysets: []nut01.Keyset{
			{
				Id:   keyset.Id,
				Unit: keyset.Unit,
				Keys: keyset.PublicKeys(),
			},
		},
	}, nil
}

// RotateKeyset deactivates the current active keyset and generates a
// new active one at the next derivation index. Proofs from the old
// keyset stay redeemable, new outputs have to use the new keyset.
func (m *Mint) RotateKeyset(inputFeePpk uint) (*nut02.Keyset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newKeyset, err := crypto.GenerateKeyset(m.master, m.activeKeyset.DerivationPathIdx+1, m.maxKeysetOrder, inputFeePpk, true)
	if err != nil {
		return nil, fmt.Errorf("error generating new keyset: %v", err)
	}

	if err := m.db.UpdateKeysetActive(m.activeKeyset.Id, false); err != nil {
		return nil, fmt.Errorf("error deactivating keyset: %v", err)
	}
	if err := m.db.SaveKeyset(storage.DBKeyset{
		Id:                newKeyset.Id,
		Unit:              newKeyset.Unit,
		Active:            true,
		DerivationPathIdx: newKeyset.DerivationPathIdx,
		InputFeePpk:       newKeyset.InputFeePpk,
	}); err != nil {
		return nil, fmt.Errorf("error saving new keyset: %v", err)
	}

	previousKeyset := *m.activeKeyset
	previousKeyset.Active = false
	m.keysets[previousKeyset.Id] = previousKeyset

	m.activeKeyset = newKeyset
	m.keysets[newKeyset.Id] = *newKeyset
	m.logInfof("rotated to new keyset '%v'", newKeyset.Id)

	return &nut02.Keyset{
		Id:          newKeyset.Id,
		Unit:        newKeyset.Unit,
		Active:      true,
		InputFeePpk: newKeyset.InputFeePpk,
	}, nil
}
