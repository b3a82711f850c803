package interpreter

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/defi-agent/internal/id"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var (
	verbPattern = regexp.MustCompile(`(?i)\b(swap|trade|exchange)\s+(\d+(?:\.\d+)?)\s+([a-z0-9]+)\s+(?:for|to)\s+([a-z0-9]+)\b`)
	barePattern = regexp.MustCompile(`(?i)(?:^|\s)(\d+(?:\.\d+)?)\s+([a-z0-9]+)\s+(?:for|to)\s+([a-z0-9]+)\b`)
)

var allowedActions = map[string]bool{"swap": true, "trade": true, "exchange": true}

// Interpreter turns free text into a SwapIntent. The completion endpoint is
// tried first; a deterministic pattern match covers everything it misses.
type Interpreter struct {
	tokens    *registry.Tokens
	completer Completer
	timeout   time.Duration
	network   string
	log       logrus.FieldLogger
}

type Option func(*Interpreter)

// WithCompleter enables the language-model path. A nil completer keeps the
// interpreter in fallback-only mode.
func WithCompleter(c Completer) Option {
	return func(i *Interpreter) { i.completer = c }
}

func WithTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.timeout = d
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(i *Interpreter) {
		if log != nil {
			i.log = log
		}
	}
}

func WithNetworkName(name string) Option {
	return func(i *Interpreter) {
		if name != "" {
			i.network = name
		}
	}
}

func New(tokens *registry.Tokens, opts ...Option) *Interpreter {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	i := &Interpreter{tokens: tokens, timeout: 10 * time.Second, network: "Polygon", log: discard}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Parse returns the intent expressed by text, or false when the message is not
// a trade request. It never returns an error: endpoint failures and malformed
// completions fall through to the pattern matcher.
func (i *Interpreter) Parse(ctx context.Context, text string) (model.SwapIntent, bool) {
	if strings.TrimSpace(text) == "" {
		metrics.IntentsParsed.WithLabelValues("none").Inc()
		return model.SwapIntent{}, false
	}

	if i.completer != nil {
		intent, final, ok := i.parseWithModel(ctx, text)
		if ok {
			metrics.IntentsParsed.WithLabelValues("llm").Inc()
			return intent, true
		}
		if final {
			metrics.IntentsParsed.WithLabelValues("none").Inc()
			return model.SwapIntent{}, false
		}
	}

	if intent, ok := i.parseFallback(text); ok {
		metrics.IntentsParsed.WithLabelValues("fallback").Inc()
		return intent, true
	}
	metrics.IntentsParsed.WithLabelValues("none").Inc()
	return model.SwapIntent{}, false
}

// parseWithModel reports final=true when the model explicitly answered null.
func (i *Interpreter) parseWithModel(ctx context.Context, text string) (model.SwapIntent, bool, bool) {
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	answer, err := i.completer.Complete(callCtx, intentPrompt(text, i.tokens.Symbols(), i.tokens.Aliases()))
	if err != nil {
		i.log.WithError(err).Debug("completion failed, using fallback parser")
		return model.SwapIntent{}, false, false
	}
	raw, isNull, err := decodeCompletion(answer)
	if err != nil {
		i.log.WithError(err).WithField("completion", truncate(answer, 120)).Debug("rejecting malformed completion")
		return model.SwapIntent{}, false, false
	}
	if isNull {
		return model.SwapIntent{}, true, false
	}
	intent, err := i.validate(raw)
	if err != nil {
		i.log.WithError(err).Debug("completion failed validation")
		return model.SwapIntent{}, false, false
	}
	return intent, false, true
}

func (i *Interpreter) parseFallback(text string) (model.SwapIntent, bool) {
	if m := verbPattern.FindStringSubmatch(text); m != nil {
		intent, err := i.validate(rawIntent{Action: m[1], Amount: m[2], FromToken: m[3], ToToken: m[4]})
		if err == nil {
			return intent, true
		}
	}
	if m := barePattern.FindStringSubmatch(text); m != nil {
		intent, err := i.validate(rawIntent{Action: "swap", Amount: m[1], FromToken: m[2], ToToken: m[3]})
		if err == nil {
			return intent, true
		}
	}
	return model.SwapIntent{}, false
}

func (i *Interpreter) validate(raw rawIntent) (model.SwapIntent, error) {
	action := strings.ToLower(strings.TrimSpace(raw.Action))
	if !allowedActions[action] {
		return model.SwapIntent{}, fmt.Errorf("unsupported action %q", raw.Action)
	}
	if strings.TrimSpace(raw.FromToken) == "" || strings.TrimSpace(raw.ToToken) == "" || strings.TrimSpace(raw.Amount) == "" {
		return model.SwapIntent{}, fmt.Errorf("intent is missing required fields")
	}
	from, err := i.tokens.Resolve(raw.FromToken)
	if err != nil {
		return model.SwapIntent{}, err
	}
	to, err := i.tokens.Resolve(raw.ToToken)
	if err != nil {
		return model.SwapIntent{}, err
	}
	if from.Canonical == to.Canonical {
		return model.SwapIntent{}, fmt.Errorf("source and destination are the same token")
	}
	if unit := strings.TrimSpace(raw.AmountUnit); unit != "" && i.tokens.Canonicalize(unit) != from.Canonical {
		return model.SwapIntent{}, fmt.Errorf("amount must be denominated in the source token")
	}
	amount, err := id.NormalizeDecimal(raw.Amount)
	if err != nil {
		return model.SwapIntent{}, err
	}
	base, err := id.ToBaseUnits(amount, from.Decimals)
	if err != nil {
		return model.SwapIntent{}, err
	}
	if base.Sign() <= 0 {
		return model.SwapIntent{}, fmt.Errorf("amount %s is below the smallest unit of %s", amount, from.Canonical)
	}
	return model.SwapIntent{
		Action:     action,
		FromToken:  from.Canonical,
		ToToken:    to.Canonical,
		Amount:     amount,
		AmountUnit: from.Canonical,
	}, nil
}

// Reply produces a conversational answer for messages that are not trades.
func (i *Interpreter) Reply(ctx context.Context, text string) string {
	if i.completer == nil {
		return cannedReply
	}
	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	answer, err := i.completer.Complete(callCtx, replyPrompt(text, i.network, i.tokens.Symbols()))
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			i.log.WithError(err).Debug("reply generation failed")
		}
		return cannedReply
	}
	return strings.TrimSpace(answer)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
