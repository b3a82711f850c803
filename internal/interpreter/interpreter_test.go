package interpreter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

type stubCompleter struct {
	answer  string
	err     error
	prompts []string
}

func (s *stubCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.answer, s.err
}

func newTestInterpreter(t *testing.T, c Completer) *Interpreter {
	t.Helper()
	tokens, ok := registry.TokensForChain(137)
	if !ok {
		t.Fatal("missing polygon tokens")
	}
	if c == nil {
		return New(tokens)
	}
	return New(tokens, WithCompleter(c))
}

func TestParseFallbackCanonicalizesWrappedETH(t *testing.T) {
	in := newTestInterpreter(t, nil)
	intent, ok := in.Parse(context.Background(), "swap 5 ETH for USDC")
	if !ok {
		t.Fatal("expected intent")
	}
	want := model.SwapIntent{Action: "swap", FromToken: "WETH", ToToken: "USDC", Amount: "5", AmountUnit: "WETH"}
	if intent != want {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}

func TestParseConversationalMessageIsNone(t *testing.T) {
	in := newTestInterpreter(t, nil)
	if _, ok := in.Parse(context.Background(), "what's the weather today"); ok {
		t.Fatal("expected no intent for small talk")
	}
}

func TestParseFallbackVariants(t *testing.T) {
	in := newTestInterpreter(t, nil)
	cases := []struct {
		text string
		from string
		to   string
		amt  string
	}{
		{"Trade 100 MATIC to DAI please", "POL", "DAI", "100"},
		{"exchange 0.25 wbtc for link", "WBTC", "LINK", "0.25"},
		{"can you do 10 wmatic to usdt", "WPOL", "USDT", "10"},
	}
	for _, tc := range cases {
		intent, ok := in.Parse(context.Background(), tc.text)
		if !ok {
			t.Fatalf("expected intent for %q", tc.text)
		}
		if intent.FromToken != tc.from || intent.ToToken != tc.to || intent.Amount != tc.amt {
			t.Fatalf("unexpected intent for %q: %+v", tc.text, intent)
		}
	}
}

func TestParseRejectsUnknownTokenAndDustAmounts(t *testing.T) {
	in := newTestInterpreter(t, nil)
	for _, text := range []string{
		"swap 5 DOGE for USDC",
		"swap 0.0000001 USDC for DAI",
		"swap 5 USDC for USDC",
	} {
		if intent, ok := in.Parse(context.Background(), text); ok {
			t.Fatalf("expected no intent for %q, got %+v", text, intent)
		}
	}
}

func TestParseAcceptsFencedModelAnswer(t *testing.T) {
	stub := &stubCompleter{answer: "```json\n{\"action\":\"swap\",\"fromToken\":\"MATIC\",\"toToken\":\"USDC\",\"amount\":\"12.50\",\"amountUnit\":\"MATIC\"}\n```"}
	in := newTestInterpreter(t, stub)
	intent, ok := in.Parse(context.Background(), "please turn twelve and a half matic into usdc")
	if !ok {
		t.Fatal("expected model intent")
	}
	if intent.FromToken != "POL" || intent.Amount != "12.5" || intent.AmountUnit != "POL" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if len(stub.prompts) != 1 || !strings.Contains(stub.prompts[0], "WPOL") {
		t.Fatalf("expected prompt to list available tokens, got %v", stub.prompts)
	}
}

func TestParseModelNullIsFinal(t *testing.T) {
	in := newTestInterpreter(t, &stubCompleter{answer: "null"})
	if _, ok := in.Parse(context.Background(), "don't swap 5 ETH for USDC"); ok {
		t.Fatal("expected explicit null answer to veto the fallback parser")
	}
}

func TestParseFallsBackOnModelFailures(t *testing.T) {
	answers := []*stubCompleter{
		{err: errors.New("endpoint down")},
		{answer: "Sure! Here you go: {\"action\":\"swap\"}"},
		{answer: `{"action":"swap","fromToken":"WETH","toToken":"USDC","amount":"5","amountUnit":"WETH","note":"x"}`},
		{answer: `{"action":"swap","fromToken":"WETH","toToken":"USDC","amount":"5"} {"action":"swap"}`},
		{answer: `{"action":"swap","fromToken":"WETH","toToken":"USDC","amount":"-5","amountUnit":"WETH"}`},
		{answer: `[{"action":"swap"}]`},
	}
	for idx, stub := range answers {
		in := newTestInterpreter(t, stub)
		intent, ok := in.Parse(context.Background(), "swap 5 ETH for USDC")
		if !ok {
			t.Fatalf("case %d: expected fallback intent", idx)
		}
		if intent.FromToken != "WETH" || intent.Amount != "5" {
			t.Fatalf("case %d: unexpected intent %+v", idx, intent)
		}
	}
}

func TestParseRejectsAmountInDestinationUnit(t *testing.T) {
	stub := &stubCompleter{answer: `{"action":"swap","fromToken":"POL","toToken":"USDC","amount":"100","amountUnit":"USDC"}`}
	in := newTestInterpreter(t, stub)
	if _, ok := in.Parse(context.Background(), "get me 100 usdc using pol"); ok {
		t.Fatal("expected exact-output request to be rejected")
	}
}

func TestReplyUsesCannedAnswerWhenUnavailable(t *testing.T) {
	in := newTestInterpreter(t, &stubCompleter{err: errors.New("boom")})
	if got := in.Reply(context.Background(), "hello"); got != cannedReply {
		t.Fatalf("unexpected reply %q", got)
	}
	in = newTestInterpreter(t, &stubCompleter{answer: "  Hi there!  "})
	if got := in.Reply(context.Background(), "hello"); got != "Hi there!" {
		t.Fatalf("unexpected reply %q", got)
	}
	if got := newTestInterpreter(t, nil).Reply(context.Background(), "hello"); got != cannedReply {
		t.Fatalf("expected canned reply without completer, got %q", got)
	}
}

func TestDecodeCompletion(t *testing.T) {
	if _, isNull, err := decodeCompletion("  null \n"); err != nil || !isNull {
		t.Fatalf("expected null, got isNull=%v err=%v", isNull, err)
	}
	if _, _, err := decodeCompletion("```python\n{}\n```"); err == nil {
		t.Fatal("expected non-json fence to be rejected")
	}
	raw, _, err := decodeCompletion("```\n{\"action\":\"trade\",\"fromToken\":\"DAI\",\"toToken\":\"USDC\",\"amount\":\"1\"}\n```")
	if err != nil || raw.Action != "trade" {
		t.Fatalf("unexpected decode result %+v err=%v", raw, err)
	}
}
