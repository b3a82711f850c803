package execution

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

var testRouter = common.HexToAddress("0x68b3465833fb72A70ecDF485E0e4C7bD8665Fc45")

type fakeChain struct {
	mu            sync.Mutex
	chainID       int64
	allowance     *big.Int
	balance       *big.Int
	simulateErr   error
	sent          []*types.Transaction
	notFoundPolls int
	receiptStatus uint64
	polls         int
}

func newFakeChain() *fakeChain {
	return &fakeChain{chainID: 137, allowance: big.NewInt(0), balance: big.NewInt(0), receiptStatus: types.ReceiptStatusSuccessful}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case len(msg.Data) >= 4 && bytes.Equal(msg.Data[:4], erc20ABI.Methods["allowance"].ID):
		return erc20ABI.Methods["allowance"].Outputs.Pack(f.allowance)
	case len(msg.Data) >= 4 && bytes.Equal(msg.Data[:4], erc20ABI.Methods["balanceOf"].ID):
		return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
	}
	if f.simulateErr != nil {
		return nil, f.simulateErr
	}
	return []byte{}, nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 100_000, nil }

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(50_000_000_000)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls <= f.notFoundPolls {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.receiptStatus, TxHash: hash, GasUsed: 91_000, BlockNumber: big.NewInt(42)}, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	pk, err := crypto.HexToECDSA(testPrivateKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	s, err := signer.NewLocalSigner(pk, 137)
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	return s
}

func newTestExecutor(chain ChainClient) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := NewExecutor(chain, 137, Options{Simulate: true, PollAttempts: 4, PollInterval: time.Second, MaxPollInterval: 3 * time.Second}, nil)
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestSubmitBuildsDynamicFeeTx(t *testing.T) {
	chain := newFakeChain()
	e, _ := newTestExecutor(chain)
	s := testSigner(t)

	hash, err := e.Submit(context.Background(), s, TxRequest{Kind: TxSwap, To: testRouter, Router: testRouter, Value: big.NewInt(5), Data: []byte{1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(chain.sent))
	}
	tx := chain.sent[0]
	if tx.Hash() != hash || tx.Type() != types.DynamicFeeTxType {
		t.Fatalf("unexpected tx %s type %d", tx.Hash().Hex(), tx.Type())
	}
	if tx.Gas() != 120_000 {
		t.Fatalf("expected gas multiplier applied, got %d", tx.Gas())
	}
	if tx.GasFeeCap().Cmp(big.NewInt(130_000_000_000)) != 0 {
		t.Fatalf("expected fee cap 2*base+tip, got %s", tx.GasFeeCap())
	}
	if tx.Value().Int64() != 5 {
		t.Fatalf("unexpected value %s", tx.Value())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), tx)
	if err != nil || from != s.Address() {
		t.Fatalf("unexpected sender %s err %v", from.Hex(), err)
	}
}

func TestSubmitRejectsWrongChainAndForeignTarget(t *testing.T) {
	chain := newFakeChain()
	chain.chainID = 1
	e, _ := newTestExecutor(chain)
	_, err := e.Submit(context.Background(), testSigner(t), TxRequest{Kind: TxSwap, To: testRouter, Router: testRouter, Data: []byte{1, 2, 3, 4}})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected chain mismatch, got %v", err)
	}

	e, _ = newTestExecutor(newFakeChain())
	_, err = e.Submit(context.Background(), testSigner(t), TxRequest{Kind: TxSwap, To: common.HexToAddress("0x01"), Router: testRouter, Data: []byte{1, 2, 3, 4}})
	if err == nil {
		t.Fatal("expected swap to a non-router target to be rejected")
	}
}

func TestSubmitSimulationRevertCarriesReason(t *testing.T) {
	chain := newFakeChain()
	chain.simulateErr = testRPCDataError{msg: "execution reverted", data: "0x" + common.Bytes2Hex(encodeErrorString(t, "Too little received"))}
	e, _ := newTestExecutor(chain)

	_, err := e.Submit(context.Background(), testSigner(t), TxRequest{Kind: TxSwap, To: testRouter, Router: testRouter, Data: []byte{1, 2, 3, 4}})
	if !clierr.Is(err, clierr.CodeSwapReverted) {
		t.Fatalf("expected swap reverted, got %v", err)
	}
	var cliErr *clierr.Error
	if !errors.As(err, &cliErr) || !bytes.Contains([]byte(cliErr.Message), []byte("Too little received")) {
		t.Fatalf("expected decoded revert reason in %v", err)
	}
	if len(chain.sent) != 0 {
		t.Fatal("nothing should be broadcast after a failed simulation")
	}
}

func TestWaitReceiptBacksOffAndSucceeds(t *testing.T) {
	chain := newFakeChain()
	chain.notFoundPolls = 3
	e, slept := newTestExecutor(chain)

	receipt, err := e.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("WaitReceipt failed: %v", err)
	}
	if receipt.GasUsed != 91_000 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("unexpected sleeps %v", *slept)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("unexpected backoff %v, want %v", *slept, want)
		}
	}
}

func TestWaitReceiptTimesOutAfterBoundedAttempts(t *testing.T) {
	chain := newFakeChain()
	chain.notFoundPolls = 100
	e, _ := newTestExecutor(chain)

	_, err := e.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	if !clierr.Is(err, clierr.CodeConfirmationTimeout) {
		t.Fatalf("expected confirmation timeout, got %v", err)
	}
	if chain.polls != 4 {
		t.Fatalf("expected 4 polls, got %d", chain.polls)
	}
}

func TestEnsureAllowance(t *testing.T) {
	tokens, _ := registry.TokensForChain(137)
	usdc, _ := tokens.Resolve("USDC")
	pol, _ := tokens.Resolve("POL")
	s := testSigner(t)

	chain := newFakeChain()
	chain.allowance = big.NewInt(1_000)
	e, _ := newTestExecutor(chain)
	hash, err := e.EnsureAllowance(context.Background(), s, usdc, testRouter, big.NewInt(1_000))
	if err != nil || hash != "" || len(chain.sent) != 0 {
		t.Fatalf("sufficient allowance must not approve: hash=%q err=%v sent=%d", hash, err, len(chain.sent))
	}
	if hash, err := e.EnsureAllowance(context.Background(), s, pol, testRouter, big.NewInt(1)); err != nil || hash != "" {
		t.Fatalf("native asset needs no approval: hash=%q err=%v", hash, err)
	}

	hash, err = e.EnsureAllowance(context.Background(), s, usdc, testRouter, big.NewInt(5_000))
	if err != nil || hash == "" {
		t.Fatalf("expected approval, got hash=%q err=%v", hash, err)
	}
	approve := chain.sent[0]
	if *approve.To() != usdc.Address {
		t.Fatalf("approval must target the token, got %s", approve.To().Hex())
	}
	args, err := erc20ABI.Methods["approve"].Inputs.Unpack(approve.Data()[4:])
	if err != nil || args[0].(common.Address) != testRouter || args[1].(*big.Int).Int64() != 5_000 {
		t.Fatalf("unexpected approve args %v err %v", args, err)
	}

	chain.receiptStatus = types.ReceiptStatusFailed
	hash, err = e.EnsureAllowance(context.Background(), s, usdc, testRouter, big.NewInt(5_000))
	if !clierr.Is(err, clierr.CodeApprovalFailed) || hash == "" {
		t.Fatalf("expected approval failure with hash, got hash=%q err=%v", hash, err)
	}
}

func TestValidateApprovalRejectsUnbounded(t *testing.T) {
	data, err := erc20ABI.Pack("approve", testRouter, big.NewInt(101))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	req := TxRequest{Kind: TxApproval, To: common.HexToAddress("0xcd"), Router: testRouter, Data: data, MaxApproval: big.NewInt(100)}
	if err := validateTx(req); err == nil {
		t.Fatal("expected approval above the swap input to be rejected")
	}
	req.MaxApproval = big.NewInt(101)
	if err := validateTx(req); err != nil {
		t.Fatalf("expected bounded approval to pass, got %v", err)
	}
	req.Router = common.HexToAddress("0xab")
	if err := validateTx(req); err == nil {
		t.Fatal("expected approval to a foreign spender to be rejected")
	}
}

func TestTransferredToSumsMatchingLogs(t *testing.T) {
	token := common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	me := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	other := common.HexToAddress("0x0000000000000000000000000000000000000def")
	transfer := func(addr, to common.Address, amount int64) *types.Log {
		return &types.Log{
			Address: addr,
			Topics:  []common.Hash{transferTopic, common.BytesToHash(testRouter.Bytes()), common.BytesToHash(to.Bytes())},
			Data:    common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		}
	}
	receipt := &types.Receipt{Logs: []*types.Log{
		transfer(token, me, 700),
		transfer(token, other, 50),
		transfer(common.HexToAddress("0x01"), me, 9),
		transfer(token, me, 300),
	}}
	got, ok := TransferredTo(receipt, token, me)
	if !ok || got.Int64() != 1000 {
		t.Fatalf("unexpected transferred amount %v ok=%v", got, ok)
	}
	if _, ok := TransferredTo(receipt, token, common.HexToAddress("0x02")); ok {
		t.Fatal("expected no transfer to an unrelated address")
	}
}

func TestTxStatus(t *testing.T) {
	chain := newFakeChain()
	chain.notFoundPolls = 1
	e, _ := newTestExecutor(chain)
	hash := "0x" + common.Bytes2Hex(common.LeftPadBytes([]byte{1}, 32))

	st, err := e.TxStatus(context.Background(), hash)
	if err != nil || st.Status != TxStatusPending {
		t.Fatalf("expected pending, got %+v err %v", st, err)
	}
	st, err = e.TxStatus(context.Background(), hash)
	if err != nil || st.Status != TxStatusConfirmed || st.BlockNumber != 42 {
		t.Fatalf("expected confirmed, got %+v err %v", st, err)
	}
	if st.ExplorerURL != "https://polygonscan.com/tx/"+hash {
		t.Fatalf("unexpected explorer url %q", st.ExplorerURL)
	}
	if _, err := e.TxStatus(context.Background(), "0x123"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	reason := decodeRevertData(common.FromHex("0x12345678"))
	if reason != "custom error 0x12345678" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("abi type: %v", err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack reason: %v", err)
	}
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}
