package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Chain describes an EVM network the agent can trade on.
type Chain struct {
	Name        string
	Slug        string
	CAIP2       string
	EVMChainID  int64
	NativeAsset string
}

var chainBySlug = map[string]Chain{
	"polygon":      {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeAsset: "POL"},
	"matic":        {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137, NativeAsset: "POL"},
	"polygon-amoy": {Name: "Polygon Amoy", Slug: "polygon-amoy", CAIP2: "eip155:80002", EVMChainID: 80002, NativeAsset: "POL"},
	"amoy":         {Name: "Polygon Amoy", Slug: "polygon-amoy", CAIP2: "eip155:80002", EVMChainID: 80002, NativeAsset: "POL"},
	"ethereum":     {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1, NativeAsset: "ETH"},
}

var chainByID = map[int64]Chain{
	1:     chainBySlug["ethereum"],
	137:   chainBySlug["polygon"],
	80002: chainBySlug["polygon-amoy"],
}

// ParseChain accepts a slug, a numeric chain id or a CAIP-2 eip155 identifier.
func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)
	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if id, err := strconv.ParseInt(norm, 10, 64); err == nil && id > 0 {
		return ChainByID(id), nil
	}
	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

// ChainByID returns the known descriptor or a generic EVM descriptor.
func ChainByID(id int64) Chain {
	if chain, ok := chainByID[id]; ok {
		return chain
	}
	return Chain{Name: fmt.Sprintf("EVM-%d", id), Slug: fmt.Sprintf("evm-%d", id), CAIP2: fmt.Sprintf("eip155:%d", id), EVMChainID: id}
}

// IsEVMAddress reports whether v is a 0x-prefixed 20-byte hex address.
func IsEVMAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}
