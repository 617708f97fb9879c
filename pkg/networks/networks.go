package networks

// Network ids as stored by the wallet: "<impl>--<chainId>".
const (
	BTC    = "btc--0"
	TBTC   = "tbtc--0"
	BCH    = "bch--0"
	LTC    = "ltc--0"
	DOGE   = "doge--0"
	NEURAI = "neurai--0"

	ETH      = "evm--1"
	BSC      = "evm--56"
	Polygon  = "evm--137"
	AvaxC    = "evm--43114"
	Arbitrum = "evm--42161"
	Optimism = "evm--10"

	SOL    = "sol--101"
	TRON   = "tron--0x2b6653dc"
	Cosmos = "cosmos--cosmoshub-4"
	DOT    = "dot--polkadot"
)

// Family groups networks whose encoded transactions share one shape.
// New chain-specific encodings get a new Family value and a new arm in every
// switch over Family.
type Family int

const (
	// FamilyDefault covers every network whose encoded transaction did not
	// change shape between schema versions.
	FamilyDefault Family = iota
	// FamilyBtcFork covers Bitcoin and its UTXO forks.
	FamilyBtcFork
)

func (f Family) String() string {
	switch f {
	case FamilyBtcFork:
		return "btc_fork"
	case FamilyDefault:
		return "default"
	default:
		return "unknown"
	}
}

var families = map[string]Family{
	BTC:    FamilyBtcFork,
	TBTC:   FamilyBtcFork,
	BCH:    FamilyBtcFork,
	LTC:    FamilyBtcFork,
	DOGE:   FamilyBtcFork,
	NEURAI: FamilyBtcFork,
}

// FamilyOf classifies a network id. Ids without an explicit entry, including
// unknown ones, belong to FamilyDefault.
func FamilyOf(networkID string) Family {
	if f, ok := families[networkID]; ok {
		return f
	}
	return FamilyDefault
}

// BtcForkNetworks returns the network ids classified as FamilyBtcFork.
func BtcForkNetworks() []string {
	return []string{BTC, TBTC, BCH, LTC, DOGE, NEURAI}
}
