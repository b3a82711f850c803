package orchestrator

import (
	"math/big"
	"time"

	"github.com/ggonzalez94/defi-agent/internal/model"
)

type State string

const (
	StateIdle                 State = "idle"
	StateQuoted               State = "quoted"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateSettled              State = "settled"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateCancelled
}

// PendingSwap is the single in-flight swap of a session. Its presence in a
// non-terminal state is what blocks a second intent.
type PendingSwap struct {
	ID             string           `json:"id"`
	Intent         model.SwapIntent `json:"intent"`
	Quote          model.Quote      `json:"quote"`
	State          State            `json:"state"`
	ApprovalTxHash string           `json:"approval_tx_hash,omitempty"`
	TxHash         string           `json:"tx_hash,omitempty"`
	ErrorCode      string           `json:"error_code,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	AwaitingSince  time.Time        `json:"awaiting_since,omitempty"`
}

// MinAmountOut floors quoted*(10000-slippageBps)/10000.
func MinAmountOut(quoted *big.Int, slippageBps int64) *big.Int {
	if quoted == nil || quoted.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(quoted, big.NewInt(10_000-slippageBps))
	return out.Quo(out, big.NewInt(10_000))
}
