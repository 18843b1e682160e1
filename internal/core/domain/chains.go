package domain

type ChainID string
type ChainFamily string

const (
	// Chain IDs
	ChainIDBitcoin  ChainID = "bitcoin"
	ChainIDEthereum ChainID = "ethereum"

	// Accounting families
	FamilyUTXO    ChainFamily = "utxo"
	FamilyAccount ChainFamily = "account"
)

// ChainFamilies maps ChainID to its accounting family.
var ChainFamilies = map[ChainID]ChainFamily{
	ChainIDBitcoin:  FamilyUTXO,
	ChainIDEthereum: FamilyAccount,
}

// NativeAssets maps ChainID to its native asset symbol.
var NativeAssets = map[ChainID]string{
	ChainIDBitcoin:  "BTC",
	ChainIDEthereum: "ETH",
}
