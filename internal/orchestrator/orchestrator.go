package orchestrator

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/id"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/quote"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

type Interpreter interface {
	Parse(ctx context.Context, text string) (model.SwapIntent, bool)
	Reply(ctx context.Context, text string) string
}

type Quoter interface {
	GetQuote(ctx context.Context, from, to, amount string) (model.Quote, bool, error)
}

// Signers hands out a signer only while the wallet is unlocked.
type Signers interface {
	Signer(chainID int64) (signer.Signer, bool)
}

// Chain is the fund-moving surface, satisfied by *execution.Executor.
type Chain interface {
	Balance(ctx context.Context, token registry.Token, owner common.Address) (*big.Int, error)
	EnsureAllowance(ctx context.Context, s signer.Signer, token registry.Token, spender common.Address, amount *big.Int) (string, error)
	Submit(ctx context.Context, s signer.Signer, req execution.TxRequest) (common.Hash, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type Journal interface {
	Save(rec model.SwapRecord) error
}

type Sink func(model.Event)

type Config struct {
	ChainID        int64
	Account        string
	SlippageBps    int64
	Deadline       time.Duration
	ConfirmTimeout time.Duration
}

type Deps struct {
	Tokens      *registry.Tokens
	Interpreter Interpreter
	Quoter      Quoter
	Venue       quote.Backend
	Signers     Signers
	Chain       Chain
	Journal     Journal
}

// Orchestrator drives one session's swap from intent to settlement. The mutex
// guards state transitions only and is never held across an external call.
type Orchestrator struct {
	mu      sync.Mutex
	pending *PendingSwap
	last    *PendingSwap
	busy    bool

	cfg  Config
	deps Deps
	sink Sink
	now  func() time.Time
	log  logrus.FieldLogger
}

type Option func(*Orchestrator)

func WithSink(sink Sink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Orchestrator {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 20 * time.Minute
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	o := &Orchestrator{cfg: cfg, deps: deps, sink: func(model.Event) {}, now: time.Now, log: discard}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pending returns a copy of the in-flight swap, if any.
func (o *Orchestrator) Pending() (PendingSwap, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return PendingSwap{}, false
	}
	return *o.pending, true
}

// Last returns the most recent terminal swap of this session.
func (o *Orchestrator) Last() (PendingSwap, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return PendingSwap{}, false
	}
	return *o.last, true
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return StateIdle
	}
	return o.pending.State
}

// HandleMessage routes free text: a trade intent is submitted, anything else
// gets a conversational reply.
func (o *Orchestrator) HandleMessage(ctx context.Context, text string) error {
	intent, ok := o.deps.Interpreter.Parse(ctx, text)
	if !ok {
		o.emit(model.Event{Type: model.EventReply, Message: o.deps.Interpreter.Reply(ctx, text)})
		return nil
	}
	return o.Submit(ctx, intent)
}

// Submit quotes intent and asks for confirmation. A non-terminal pending swap
// rejects it with PendingSwapExists and is left untouched.
func (o *Orchestrator) Submit(ctx context.Context, intent model.SwapIntent) error {
	o.mu.Lock()
	if o.pending != nil && !o.pending.State.Terminal() {
		current := o.pending.State
		o.mu.Unlock()
		return clierr.New(clierr.CodePendingSwapExists, fmt.Sprintf("a swap is already %s; confirm or cancel it first", current))
	}
	now := o.now()
	p := &PendingSwap{ID: uuid.NewString(), Intent: intent, State: StateQuoted, CreatedAt: now}
	o.pending = p
	o.mu.Unlock()

	log := o.log.WithField("swap_id", p.ID)
	log.WithFields(logrus.Fields{"from": intent.FromToken, "to": intent.ToToken, "amount": intent.Amount}).Info("quoting swap")

	q, ok, err := o.deps.Quoter.GetQuote(ctx, intent.FromToken, intent.ToToken, intent.Amount)
	if err != nil {
		o.fail(p, clierr.CodeOf(err), err.Error())
		return nil
	}
	if !ok {
		o.fail(p, clierr.CodeNoQuoteAvailable, fmt.Sprintf("no route available for %s -> %s", intent.FromToken, intent.ToToken))
		return nil
	}

	o.mu.Lock()
	p.Quote = q
	p.State = StateAwaitingConfirmation
	p.AwaitingSince = o.now()
	snapshot := *p
	o.mu.Unlock()

	o.emitQuote(snapshot, "")
	if _, ok := o.deps.Signers.Signer(o.cfg.ChainID); !ok {
		o.emit(model.Event{Type: model.EventWalletLocked, SwapID: snapshot.ID, State: string(snapshot.State), Message: "wallet is locked; unlock it before confirming"})
	}
	return nil
}

// Confirm executes the pending swap. Failures after this point are terminal
// and reported through events; the returned error covers only rejected calls.
func (o *Orchestrator) Confirm(ctx context.Context) error {
	o.mu.Lock()
	p := o.pending
	if p == nil || p.State != StateAwaitingConfirmation {
		o.mu.Unlock()
		return clierr.New(clierr.CodeUsage, "no swap is awaiting confirmation")
	}
	if o.busy {
		o.mu.Unlock()
		return clierr.New(clierr.CodeUsage, "confirmation already in progress")
	}
	o.busy = true
	intent, previous := p.Intent, p.Quote
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()
	log := o.log.WithField("swap_id", p.ID)
	floor := MinAmountOut(previous.AmountOut(), o.cfg.SlippageBps)

	// 1. signer
	txSigner, ok := o.deps.Signers.Signer(o.cfg.ChainID)
	if !ok {
		o.fail(p, clierr.CodeWalletLocked, "wallet is locked")
		return nil
	}

	// 2. fresh, binding quote
	q := previous
	if q.Expired(o.now()) || !q.Binding() {
		fresh, ok, err := o.deps.Quoter.GetQuote(ctx, intent.FromToken, intent.ToToken, intent.Amount)
		if err != nil || !ok {
			reason := "quote expired and could not be refreshed"
			if err != nil {
				reason = fmt.Sprintf("%s: %v", reason, err)
			}
			o.fail(p, clierr.CodeStaleQuote, reason)
			return nil
		}
		if !fresh.Binding() {
			o.fail(p, clierr.CodeInsufficientLiquidity, "no on-chain liquidity for this pair; only a non-binding estimate is available")
			return nil
		}
		if fresh.AmountOut().Cmp(floor) < 0 {
			log.WithFields(logrus.Fields{"previous": previous.AmountOutBaseUnits, "fresh": fresh.AmountOutBaseUnits}).Info("refreshed quote is worse, asking again")
			o.mu.Lock()
			if o.pending != p || p.State != StateAwaitingConfirmation {
				o.mu.Unlock()
				return clierr.New(clierr.CodeUsage, "swap is no longer awaiting confirmation")
			}
			p.Quote = fresh
			p.AwaitingSince = o.now()
			snapshot := *p
			o.mu.Unlock()
			o.emitQuote(snapshot, "price moved beyond slippage tolerance; please confirm the new quote")
			return nil
		}
		q = fresh
	}
	if q.Expired(o.now()) {
		o.fail(p, clierr.CodeStaleQuote, "quote expired before execution")
		return nil
	}

	o.mu.Lock()
	if o.pending != p || p.State != StateAwaitingConfirmation {
		o.mu.Unlock()
		return clierr.New(clierr.CodeUsage, "swap is no longer awaiting confirmation")
	}
	p.Quote = q
	p.State = StateExecuting
	snapshot := *p
	o.mu.Unlock()
	o.emit(model.Event{Type: model.EventExecutionStarted, SwapID: snapshot.ID, State: string(snapshot.State), Quote: &snapshot.Quote, AmountIn: q.AmountIn})
	log.Info("executing swap")

	o.execute(ctx, p, txSigner, q, floor)
	return nil
}

// execute moves funds for q. The swap never accepts less than confirmedFloor,
// the minimum the user agreed to when confirming.
func (o *Orchestrator) execute(ctx context.Context, p *PendingSwap, txSigner signer.Signer, q model.Quote, confirmedFloor *big.Int) {
	tokens := o.deps.Tokens
	fromTok, err := tokens.Resolve(q.FromToken)
	if err != nil {
		o.fail(p, clierr.CodeOf(err), err.Error())
		return
	}
	toTok, err := tokens.Resolve(q.ToToken)
	if err != nil {
		o.fail(p, clierr.CodeOf(err), err.Error())
		return
	}
	routeFrom, routeTo := tokens.Routable(fromTok), tokens.Routable(toTok)
	amountIn := q.AmountInBase()
	owner := txSigner.Address()
	router := o.deps.Venue.Router()

	// 3. funds and allowance
	balance, err := o.deps.Chain.Balance(ctx, fromTok, owner)
	if err != nil {
		o.fail(p, clierr.CodeUnavailable, fmt.Sprintf("read %s balance: %v", fromTok.Canonical, err))
		return
	}
	if balance.Cmp(amountIn) < 0 {
		o.fail(p, clierr.CodeInsufficientFunds, fmt.Sprintf("balance %s %s is below %s", id.FormatUnits(balance, fromTok.Decimals), fromTok.Canonical, q.AmountIn))
		return
	}
	if !fromTok.Native {
		approvalHash, err := o.deps.Chain.EnsureAllowance(ctx, txSigner, routeFrom, router, amountIn)
		o.setHashes(p, approvalHash, "")
		if err != nil {
			o.fail(p, clierr.CodeApprovalFailed, err.Error())
			return
		}
	}

	// 4. slippage floor
	minOut := MinAmountOut(q.AmountOut(), o.cfg.SlippageBps)
	if confirmedFloor != nil && confirmedFloor.Cmp(minOut) > 0 {
		minOut = confirmedFloor
	}

	// 5. submit with deadline
	deadline := big.NewInt(o.now().Add(o.cfg.Deadline).Unix())
	data, err := o.deps.Venue.SwapCall(quote.SwapParams{
		TokenIn:          routeFrom.Address,
		TokenOut:         routeTo.Address,
		Fee:              q.FeeTier,
		Recipient:        owner,
		AmountIn:         amountIn,
		AmountOutMinimum: minOut,
		Deadline:         deadline,
	})
	if err != nil {
		o.fail(p, clierr.CodeOf(err), err.Error())
		return
	}
	value := new(big.Int)
	if fromTok.Native {
		value.Set(amountIn)
	}
	hash, err := o.deps.Chain.Submit(ctx, txSigner, execution.TxRequest{Kind: execution.TxSwap, To: router, Router: router, Value: value, Data: data})
	if err != nil {
		o.fail(p, clierr.CodeOf(err), err.Error())
		return
	}
	o.setHashes(p, "", hash.Hex())

	// 6. settlement
	receipt, err := o.deps.Chain.WaitReceipt(ctx, hash)
	if err != nil {
		o.fail(p, clierr.CodeConfirmationTimeout, "transaction submitted but not yet confirmed; it may still settle")
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		o.fail(p, clierr.CodeSwapReverted, "swap reverted on-chain")
		return
	}
	out, ok := execution.TransferredTo(receipt, routeTo.Address, owner)
	if !ok {
		out = q.AmountOut()
	}
	o.settle(p, owner, out, toTok, receipt.GasUsed)
}

// Cancel abandons a swap awaiting confirmation. Nothing has touched the chain.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	p := o.pending
	if p == nil || p.State != StateAwaitingConfirmation {
		o.mu.Unlock()
		return clierr.New(clierr.CodeUsage, "no swap is awaiting confirmation")
	}
	if o.busy {
		o.mu.Unlock()
		return clierr.New(clierr.CodeUsage, "confirmation already in progress")
	}
	snapshot := o.conclude(p, StateCancelled, 0, "cancelled by user")
	o.mu.Unlock()
	o.report(snapshot, model.EventSwapCancelled, nil)
	return nil
}

// Tick cancels a swap whose confirmation window has elapsed. It reports
// whether anything was cancelled.
func (o *Orchestrator) Tick(now time.Time) bool {
	o.mu.Lock()
	p := o.pending
	expired := p != nil && p.State == StateAwaitingConfirmation && !o.busy && !now.Before(p.AwaitingSince.Add(o.cfg.ConfirmTimeout))
	if !expired {
		o.mu.Unlock()
		return false
	}
	snapshot := o.conclude(p, StateCancelled, 0, "confirmation window elapsed")
	o.mu.Unlock()
	o.report(snapshot, model.EventSwapCancelled, nil)
	return true
}

func (o *Orchestrator) setHashes(p *PendingSwap, approval, tx string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if approval != "" {
		p.ApprovalTxHash = approval
	}
	if tx != "" {
		p.TxHash = tx
	}
}

func (o *Orchestrator) fail(p *PendingSwap, code clierr.Code, reason string) {
	o.finish(p, StateFailed, code, reason, model.EventExecutionFailed, nil)
}

type settlement struct {
	address   common.Address
	amountOut string
	gasUsed   uint64
}

func (o *Orchestrator) settle(p *PendingSwap, owner common.Address, out *big.Int, toTok registry.Token, gasUsed uint64) {
	o.finish(p, StateSettled, 0, "", model.EventExecutionSettled, &settlement{
		address:   owner,
		amountOut: id.FormatUnits(out, toTok.Decimals),
		gasUsed:   gasUsed,
	})
}

// finish moves p to a terminal state, then journals and emits the outcome.
func (o *Orchestrator) finish(p *PendingSwap, state State, code clierr.Code, reason string, eventType model.EventType, s *settlement) {
	o.mu.Lock()
	snapshot := o.conclude(p, state, code, reason)
	o.mu.Unlock()
	o.report(snapshot, eventType, s)
}

// conclude applies a terminal state and frees the session slot. Callers hold o.mu.
func (o *Orchestrator) conclude(p *PendingSwap, state State, code clierr.Code, reason string) PendingSwap {
	p.State = state
	if code != 0 {
		p.ErrorCode = code.String()
	}
	p.Reason = reason
	snapshot := *p
	if o.pending == p {
		o.pending = nil
	}
	o.last = &snapshot
	return snapshot
}

// report journals a concluded swap and emits its terminal event.
func (o *Orchestrator) report(snapshot PendingSwap, eventType model.EventType, s *settlement) {
	now := o.now()
	explorer := registry.ExplorerTxURL(o.cfg.ChainID, snapshot.TxHash)
	rec := model.SwapRecord{
		ID:             snapshot.ID,
		Account:        o.cfg.Account,
		ChainID:        o.cfg.ChainID,
		State:          string(snapshot.State),
		Intent:         snapshot.Intent,
		Quote:          snapshot.Quote,
		ApprovalTxHash: snapshot.ApprovalTxHash,
		TxHash:         snapshot.TxHash,
		ExplorerURL:    explorer,
		ErrorCode:      snapshot.ErrorCode,
		Reason:         snapshot.Reason,
		CreatedAt:      snapshot.CreatedAt,
		UpdatedAt:      now,
	}
	ev := model.Event{
		Type:           eventType,
		SwapID:         snapshot.ID,
		State:          string(snapshot.State),
		Code:           snapshot.ErrorCode,
		Reason:         snapshot.Reason,
		ApprovalTxHash: snapshot.ApprovalTxHash,
		TxHash:         snapshot.TxHash,
		ExplorerURL:    explorer,
		AmountIn:       snapshot.Quote.AmountIn,
	}
	if s != nil {
		rec.Address = s.address.Hex()
		rec.AmountOut = s.amountOut
		rec.GasUsed = s.gasUsed
		ev.AmountOut = s.amountOut
		ev.GasUsed = s.gasUsed
	}

	if o.deps.Journal != nil {
		if err := o.deps.Journal.Save(rec); err != nil {
			o.log.WithError(err).WithField("swap_id", snapshot.ID).Warn("could not journal swap outcome")
		}
	}
	metrics.SwapsFinished.WithLabelValues(string(snapshot.State), snapshot.ErrorCode).Inc()
	o.log.WithFields(logrus.Fields{"swap_id": snapshot.ID, "state": snapshot.State, "code": snapshot.ErrorCode, "tx_hash": snapshot.TxHash}).Info("swap finished")
	o.emit(ev)
}

func (o *Orchestrator) emitQuote(p PendingSwap, note string) {
	q := p.Quote
	intent := p.Intent
	o.emit(model.Event{Type: model.EventQuoteReady, SwapID: p.ID, State: string(p.State), Quote: &q, Message: note})
	o.emit(model.Event{Type: model.EventConfirmationRequired, SwapID: p.ID, State: string(p.State), Intent: &intent, Quote: &q})
}

func (o *Orchestrator) emit(ev model.Event) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	o.sink(ev)
}
