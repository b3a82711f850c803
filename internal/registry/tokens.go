package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
)

// Token is the on-chain descriptor for a tradable symbol.
type Token struct {
	Symbol    string         `json:"symbol"`
	Canonical string         `json:"canonical"`
	Name      string         `json:"name"`
	Address   common.Address `json:"address"`
	Decimals  int            `json:"decimals"`
	Native    bool           `json:"native"`
	PriceID   string         `json:"price_id,omitempty"`
}

// Tokens is the immutable symbol table for one chain.
type Tokens struct {
	chainID int64
	bySym   map[string]Token
	aliases map[string]string
	wrapped string
}

// Polygon PoS deployment. Addresses are fixed for the life of a deployment.
var polygonTokens = []Token{
	{Symbol: "POL", Name: "Polygon Ecosystem Token", Address: common.HexToAddress("0x0000000000000000000000000000000000001010"), Decimals: 18, Native: true, PriceID: "matic-network"},
	{Symbol: "WPOL", Name: "Wrapped POL", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18, PriceID: "matic-network"},
	{Symbol: "USDC", Name: "USD Coin (PoS)", Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), Decimals: 6, PriceID: "usd-coin"},
	{Symbol: "USDT", Name: "Tether USD (PoS)", Address: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6, PriceID: "tether"},
	{Symbol: "WETH", Name: "Wrapped Ether", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18, PriceID: "weth"},
	{Symbol: "WBTC", Name: "Wrapped BTC", Address: common.HexToAddress("0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6"), Decimals: 8, PriceID: "wrapped-bitcoin"},
	{Symbol: "DAI", Name: "Dai Stablecoin", Address: common.HexToAddress("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), Decimals: 18, PriceID: "dai"},
	{Symbol: "LINK", Name: "ChainLink Token", Address: common.HexToAddress("0x53E0bca35eC356BD5ddDFebbD1Fc0fD03FaBad39"), Decimals: 18, PriceID: "chainlink"},
}

// Legacy and colloquial symbols. MATIC was renamed to POL; bridged ETH and BTC
// trade as their wrapped ERC20 forms on Polygon.
var polygonAliases = map[string]string{
	"MATIC":  "POL",
	"WMATIC": "WPOL",
	"ETH":    "WETH",
	"BTC":    "WBTC",
}

var tokensByChainID = map[int64]*Tokens{
	137: newTokens(137, polygonTokens, polygonAliases, "WPOL"),
}

func newTokens(chainID int64, list []Token, aliases map[string]string, wrapped string) *Tokens {
	t := &Tokens{chainID: chainID, bySym: make(map[string]Token, len(list)), aliases: aliases, wrapped: wrapped}
	for _, tok := range list {
		tok.Canonical = tok.Symbol
		t.bySym[tok.Symbol] = tok
	}
	return t
}

// TokensForChain returns the token table for a deployment chain.
func TokensForChain(chainID int64) (*Tokens, bool) {
	t, ok := tokensByChainID[chainID]
	return t, ok
}

func (t *Tokens) ChainID() int64 { return t.chainID }

// Canonicalize maps alias and legacy symbols to the canonical registry symbol.
// Unknown symbols are returned upper-cased and unchanged.
func (t *Tokens) Canonicalize(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if canonical, ok := t.aliases[sym]; ok {
		return canonical
	}
	return sym
}

// Resolve canonicalizes symbol and returns its descriptor.
func (t *Tokens) Resolve(symbol string) (Token, error) {
	canonical := t.Canonicalize(symbol)
	tok, ok := t.bySym[canonical]
	if !ok {
		return Token{}, clierr.New(clierr.CodeUnknownToken, fmt.Sprintf("unknown token %q on chain %d", strings.TrimSpace(symbol), t.chainID))
	}
	if canonical != strings.ToUpper(strings.TrimSpace(symbol)) {
		tok.Symbol = strings.ToUpper(strings.TrimSpace(symbol))
	}
	return tok, nil
}

// Routable substitutes the wrapped ERC20 for the native gas asset.
func (t *Tokens) Routable(tok Token) Token {
	if !tok.Native {
		return tok
	}
	return t.bySym[t.wrapped]
}

// Wrapped returns the wrapped native token.
func (t *Tokens) Wrapped() Token {
	return t.bySym[t.wrapped]
}

// ByAddress finds the canonical token for an on-chain address.
func (t *Tokens) ByAddress(addr common.Address) (Token, bool) {
	for _, tok := range t.bySym {
		if tok.Address == addr {
			return tok, true
		}
	}
	return Token{}, false
}

// Symbols returns canonical symbols sorted alphabetically.
func (t *Tokens) Symbols() []string {
	out := make([]string, 0, len(t.bySym))
	for sym := range t.bySym {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Aliases returns a copy of the alias table.
func (t *Tokens) Aliases() map[string]string {
	out := make(map[string]string, len(t.aliases))
	for k, v := range t.aliases {
		out[k] = v
	}
	return out
}

// All returns canonical descriptors sorted by symbol.
func (t *Tokens) All() []Token {
	syms := t.Symbols()
	out := make([]Token, 0, len(syms))
	for _, sym := range syms {
		out = append(out, t.bySym[sym])
	}
	return out
}
