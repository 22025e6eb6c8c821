package mint

import (
	"github.com/opencash/mintd/cashu/nuts/nut06"
	"github.com/opencash/mintd/mint/lightning"
)

type LogLevel int

const (
	Info LogLevel = iota
	Debug
	Disable
)

type Config struct {
	DerivationPathIdx uint32
	Port              string
	MintPath          string
	// number of denominations in a keyset, powers of two
	// from 1 up to 2^(MaxKeysetOrder-1)
	MaxKeysetOrder  uint
	InputFeePpk     uint
	QuoteExpiryMins uint
	MintInfo        MintInfo
	Limits          MintLimits
	LightningClient lightning.Client
	LogLevel        LogLevel
}

type MintInfo struct {
	Name            string
	Description     string
	LongDescription string
	Contact         []nut06.ContactInfo
	Motd            string
}

type MintMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MeltMethodSettings struct {
	MinAmount uint64
	MaxAmount uint64
}

type MintLimits struct {
	MaxBalance      uint64
	MintingSettings MintMethodSettings
	MeltingSettings MeltMethodSettings
}
