package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
)

type Options struct {
	Simulate        bool
	GasMultiplier   float64
	CallTimeout     time.Duration
	PollAttempts    int
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		Simulate:        true,
		GasMultiplier:   1.2,
		CallTimeout:     15 * time.Second,
		PollAttempts:    30,
		PollInterval:    2 * time.Second,
		MaxPollInterval: 15 * time.Second,
	}
}

type TxKind string

const (
	TxApproval TxKind = "approval"
	TxSwap     TxKind = "swap"
)

// TxRequest is one fund-moving transaction. Router is the only spender or
// target the policy accepts; MaxApproval bounds approve amounts.
type TxRequest struct {
	Kind        TxKind
	To          common.Address
	Value       *big.Int
	Data        []byte
	Router      common.Address
	MaxApproval *big.Int
}

type Executor struct {
	client  ChainClient
	chainID *big.Int
	opts    Options
	log     logrus.FieldLogger
	sleep   func(ctx context.Context, d time.Duration) error

	chainMu      sync.Mutex
	chainChecked bool
}

func NewExecutor(client ChainClient, chainID int64, opts Options, log logrus.FieldLogger) *Executor {
	defaults := DefaultOptions()
	if opts.GasMultiplier < 1 {
		opts.GasMultiplier = defaults.GasMultiplier
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaults.CallTimeout
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaults.PollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval * 8
	}
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}
	return &Executor{client: client, chainID: big.NewInt(chainID), opts: opts, log: log, sleep: sleepContext}
}

func (e *Executor) ChainID() int64 { return e.chainID.Int64() }

// Submit validates, simulates, prices, signs and broadcasts req. It does not
// wait for inclusion.
func (e *Executor) Submit(ctx context.Context, s signer.Signer, req TxRequest) (common.Hash, error) {
	if s == nil {
		return common.Hash{}, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if err := validateTx(req); err != nil {
		return common.Hash{}, err
	}
	if err := e.ensureChain(ctx); err != nil {
		return common.Hash{}, err
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	msg := ethereum.CallMsg{From: s.Address(), To: &to, Value: value, Data: req.Data}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	if e.opts.Simulate {
		if _, err := e.client.CallContract(callCtx, msg, nil); err != nil {
			return common.Hash{}, wrapEVMExecutionError(clierr.CodeSwapReverted, fmt.Sprintf("simulate %s (eth_call)", req.Kind), err)
		}
	}
	gasLimit, err := e.client.EstimateGas(callCtx, msg)
	if err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodeSwapReverted, fmt.Sprintf("estimate %s gas", req.Kind), err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	tipCap, err := e.client.SuggestGasTipCap(callCtx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := e.client.HeaderByNumber(callCtx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := e.client.PendingNonceAt(callCtx, s.Address())
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.SignTx(e.chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := e.client.SendTransaction(callCtx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	e.log.WithFields(logrus.Fields{"kind": req.Kind, "tx_hash": signed.Hash().Hex(), "nonce": nonce, "gas": gasLimit}).Info("transaction submitted")
	return signed.Hash(), nil
}

// WaitReceipt polls with exponential backoff for a bounded number of attempts.
// Exhaustion is a ConfirmationTimeout; the transaction may still land later.
func (e *Executor) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	interval := e.opts.PollInterval
	for attempt := 1; attempt <= e.opts.PollAttempts; attempt++ {
		metrics.ReceiptPolls.Inc()
		callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		receipt, err := e.client.TransactionReceipt(callCtx, hash)
		cancel()
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.log.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt lookup failed, retrying")
		}
		if attempt == e.opts.PollAttempts {
			break
		}
		if err := e.sleep(ctx, interval); err != nil {
			return nil, clierr.Wrap(clierr.CodeConfirmationTimeout, "stopped waiting for receipt", err)
		}
		interval *= 2
		if interval > e.opts.MaxPollInterval {
			interval = e.opts.MaxPollInterval
		}
	}
	return nil, clierr.New(clierr.CodeConfirmationTimeout, fmt.Sprintf("no receipt for %s after %d attempts", hash.Hex(), e.opts.PollAttempts))
}

// ensureChain checks once that the RPC endpoint serves the configured chain.
// Lookup failures are not cached.
func (e *Executor) ensureChain(ctx context.Context) error {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	if e.chainChecked {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	got, err := e.client.ChainID(callCtx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if got.Cmp(e.chainID) != 0 {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("rpc endpoint serves chain %s, expected %s", got, e.chainID))
	}
	e.chainChecked = true
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type rpcDataError interface {
	ErrorData() interface{}
}

func wrapEVMExecutionError(code clierr.Code, message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return clierr.Wrap(code, message, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	data, decodeErr := hexutil.Decode(strings.TrimSpace(raw))
	if decodeErr != nil {
		return ""
	}
	return decodeRevertData(data)
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("custom error %s", hexutil.Encode(data[:4]))
}
