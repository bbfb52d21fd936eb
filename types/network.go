package types

import "sort"

// settlementAssets maps each supported network to the canonical USDC mint on it.
// It is read-only after package initialization.
var settlementAssets = map[Network]string{
	NetworkSolanaDevnet:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
	NetworkSolanaMainnet: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
}

// SettlementAsset returns the settlement token mint for network.
func SettlementAsset(network Network) (string, bool) {
	asset, ok := settlementAssets[network]
	return asset, ok
}

// SupportedNetworks lists the recognized networks in a stable order.
func SupportedNetworks() []Network {
	networks := make([]Network, 0, len(settlementAssets))
	for n := range settlementAssets {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}
