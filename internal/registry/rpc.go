package registry

import (
	"fmt"
	"strings"
)

// Default public RPC endpoints, used whenever --rpc-url is not passed.
var defaultRPCByChainID = map[int64]string{
	1:     "https://eth.llamarpc.com",
	137:   "https://polygon-rpc.com",
	80002: "https://rpc-amoy.polygon.technology",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; provide --rpc-url", chainID)
}
