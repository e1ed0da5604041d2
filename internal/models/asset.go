package models

import "fmt"

const (
	AssetUSDT = "USDT"
)

const (
	NetworkBSC  = "BSC"
	NetworkTRON = "TRON"
)

// SupportedNetworks is the closed asset -> networks table, in menu order.
var SupportedNetworks = map[string][]string{
	AssetUSDT: {NetworkBSC, NetworkTRON},
}

// DefaultDepositAddresses are the escrow-owned addresses per supported pair.
// One address per pair, shared by every session negotiating that pair.
var DefaultDepositAddresses = map[Pair]string{
	{Asset: AssetUSDT, Network: NetworkBSC}:  "0xDA4c2a5B876b0c7521e1c752690D8705080000fE",
	{Asset: AssetUSDT, Network: NetworkTRON}: "TVsTYwseYdRXUKk2ehcEcTT4UU3b2tqrVm",
}

type Pair struct {
	Asset   string `json:"asset"`
	Network string `json:"network"`
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.Asset, p.Network)
}

func NetworksFor(asset string) ([]string, bool) {
	networks, ok := SupportedNetworks[asset]
	if !ok {
		return nil, false
	}
	out := make([]string, len(networks))
	copy(out, networks)
	return out, true
}

func IsSupportedPair(asset, network string) bool {
	for _, n := range SupportedNetworks[asset] {
		if n == network {
			return true
		}
	}
	return false
}

// NetworkDecimals is the token precision of USDT on each network.
func NetworkDecimals(network string) int32 {
	switch network {
	case NetworkBSC:
		return 18
	case NetworkTRON:
		return 6
	default:
		return 0
	}
}

// NetworkLabel is the button label of a network.
func NetworkLabel(network string) string {
	switch network {
	case NetworkBSC:
		return "BSC[BEP20]"
	case NetworkTRON:
		return "TRON[TRC20]"
	default:
		return network
	}
}

// TokenName is the name shown in deposit confirmations.
func TokenName(asset, network string) string {
	switch {
	case asset == AssetUSDT && network == NetworkBSC:
		return "BSC-USD"
	case asset == AssetUSDT && network == NetworkTRON:
		return "TRON-USDT"
	default:
		return asset
	}
}
