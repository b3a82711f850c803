package model

import (
	"math/big"
	"time"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Cache     CacheStatus `json:"cache"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// SwapIntent is the structured trade request extracted from free text. Field
// names follow the completion endpoint's JSON contract.
type SwapIntent struct {
	Action     string `json:"action"`
	FromToken  string `json:"fromToken"`
	ToToken    string `json:"toToken"`
	Amount     string `json:"amount"`
	AmountUnit string `json:"amountUnit"`
}

type QuoteKind string

const (
	QuoteOnchain   QuoteKind = "onchain"
	QuoteEstimated QuoteKind = "estimated"
)

// Quote is an immutable priced preview. Base-unit amounts are decimal strings so
// copies never share big.Int state.
type Quote struct {
	Kind               QuoteKind     `json:"kind"`
	Venue              string        `json:"venue"`
	FromToken          string        `json:"from_token"`
	ToToken            string        `json:"to_token"`
	RouteFrom          string        `json:"route_from"`
	RouteTo            string        `json:"route_to"`
	AmountIn           string        `json:"amount_in"`
	AmountInBaseUnits  string        `json:"amount_in_base_units"`
	AmountOutBaseUnits string        `json:"amount_out_base_units"`
	AmountOutDisplay   string        `json:"amount_out"`
	GasEstimate        uint64        `json:"gas_estimate"`
	PriceImpact        string        `json:"price_impact,omitempty"`
	Route              string        `json:"route"`
	FeeTier            int           `json:"fee_tier,omitempty"`
	IssuedAt           time.Time     `json:"issued_at"`
	TTL                time.Duration `json:"ttl"`
}

// Binding reports whether the quote came from an on-chain quoting call.
func (q Quote) Binding() bool {
	return q.Kind == QuoteOnchain
}

func (q Quote) ExpiresAt() time.Time {
	return q.IssuedAt.Add(q.TTL)
}

// Expired is true once now reaches IssuedAt+TTL.
func (q Quote) Expired(now time.Time) bool {
	return !now.Before(q.ExpiresAt())
}

func (q Quote) AmountOut() *big.Int {
	return parseBaseUnits(q.AmountOutBaseUnits)
}

func (q Quote) AmountInBase() *big.Int {
	return parseBaseUnits(q.AmountInBaseUnits)
}

// PriceImpactDisplay never presents an estimate as a measured impact.
func (q Quote) PriceImpactDisplay() string {
	if !q.Binding() {
		return "indicative only"
	}
	if q.PriceImpact == "" {
		return "n/a"
	}
	return q.PriceImpact
}

func parseBaseUnits(v string) *big.Int {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return new(big.Int)
	}
	return n
}

type EventType string

const (
	EventQuoteReady           EventType = "quote_ready"
	EventConfirmationRequired EventType = "confirmation_required"
	EventExecutionStarted     EventType = "execution_started"
	EventExecutionSettled     EventType = "execution_settled"
	EventExecutionFailed      EventType = "execution_failed"
	EventWalletLocked         EventType = "wallet_locked"
	EventSwapCancelled        EventType = "swap_cancelled"
	EventReply                EventType = "reply"
	EventError                EventType = "error"
)

// Event is what the core emits to the surrounding chat or websocket layer.
type Event struct {
	Type           EventType   `json:"type"`
	SwapID         string      `json:"swap_id,omitempty"`
	State          string      `json:"state,omitempty"`
	Intent         *SwapIntent `json:"intent,omitempty"`
	Quote          *Quote      `json:"quote,omitempty"`
	Code           string      `json:"code,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	ApprovalTxHash string      `json:"approval_tx_hash,omitempty"`
	TxHash         string      `json:"tx_hash,omitempty"`
	ExplorerURL    string      `json:"explorer_url,omitempty"`
	AmountIn       string      `json:"amount_in,omitempty"`
	AmountOut      string      `json:"amount_out,omitempty"`
	GasUsed        uint64      `json:"gas_used,omitempty"`
	Message        string      `json:"message,omitempty"`
	At             time.Time   `json:"at"`
}

// SwapRecord is the journal row written when a swap reaches a terminal state.
type SwapRecord struct {
	ID             string     `json:"id"`
	Account        string     `json:"account"`
	Address        string     `json:"address,omitempty"`
	ChainID        int64      `json:"chain_id"`
	State          string     `json:"state"`
	Intent         SwapIntent `json:"intent"`
	Quote          Quote      `json:"quote"`
	ApprovalTxHash string     `json:"approval_tx_hash,omitempty"`
	TxHash         string     `json:"tx_hash,omitempty"`
	ExplorerURL    string     `json:"explorer_url,omitempty"`
	AmountOut      string     `json:"amount_out,omitempty"`
	GasUsed        uint64     `json:"gas_used,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type WalletInfo struct {
	Account   string    `json:"account"`
	Address   string    `json:"address,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type TxStatus struct {
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}
