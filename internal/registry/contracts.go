package registry

import "github.com/ethereum/go-ethereum/common"

// VenueContracts are the Uniswap V3 deployments the quote backends talk to.
// Two router generations exist side by side; the configured venue picks one.
type VenueContracts struct {
	QuoterV1     common.Address
	QuoterV2     common.Address
	SwapRouter   common.Address
	SwapRouter02 common.Address
}

var venueContractsByChainID = map[int64]VenueContracts{
	137: {
		QuoterV1:     common.HexToAddress("0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"),
		QuoterV2:     common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e"),
		SwapRouter:   common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564"),
		SwapRouter02: common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45"),
	},
}

func UniswapV3Contracts(chainID int64) (VenueContracts, bool) {
	contracts, ok := venueContractsByChainID[chainID]
	return contracts, ok
}

var explorerByChainID = map[int64]string{
	1:     "https://etherscan.io",
	137:   "https://polygonscan.com",
	80002: "https://amoy.polygonscan.com",
}

// ExplorerTxURL links a transaction hash on the chain's block explorer.
func ExplorerTxURL(chainID int64, txHash string) string {
	base, ok := explorerByChainID[chainID]
	if !ok || txHash == "" {
		return ""
	}
	return base + "/tx/" + txHash
}
