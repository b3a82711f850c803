package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/defi-agent/internal/cache"
	"github.com/ggonzalez94/defi-agent/internal/custody"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/httpx"
	"github.com/ggonzalez94/defi-agent/internal/id"
	"github.com/ggonzalez94/defi-agent/internal/interpreter"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/orchestrator"
	"github.com/ggonzalez94/defi-agent/internal/pricefeed"
	"github.com/ggonzalez94/defi-agent/internal/quote"
	"github.com/ggonzalez94/defi-agent/internal/registry"
	"github.com/ggonzalez94/defi-agent/internal/version"
)

// pipeline is everything one process needs to run swap sessions. Sessions
// share the chain client, the quote service and the wallet; each session
// gets its own orchestrator.
type pipeline struct {
	tokens      *registry.Tokens
	interpreter *interpreter.Interpreter
	quotes      *quote.Service
	executor    *execution.Executor
	wallet      *custody.Wallet
	journal     *execution.Store
	client      *ethclient.Client
}

func (p *pipeline) close() {
	if p.client != nil {
		p.client.Close()
	}
}

func (s *runtimeState) tokens() (*registry.Tokens, error) {
	tokens, ok := registry.TokensForChain(s.settings.ChainID)
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no token registry for chain id %d", s.settings.ChainID))
	}
	return tokens, nil
}

func (s *runtimeState) httpClient() *httpx.Client {
	return httpx.New(s.settings.Timeout, s.settings.Retries,
		httpx.WithLogger(s.log),
		httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
	)
}

func (s *runtimeState) newInterpreter(tokens *registry.Tokens) *interpreter.Interpreter {
	opts := []interpreter.Option{
		interpreter.WithLogger(s.log),
		interpreter.WithTimeout(s.settings.Timeout),
		interpreter.WithNetworkName(id.ChainByID(s.settings.ChainID).Name),
	}
	if s.settings.LLMProvider == "gemini" && s.settings.LLMAPIKey != "" {
		completer := interpreter.NewGeminiCompleter(s.httpClient(), s.settings.LLMBaseURL, s.settings.LLMModel, s.settings.LLMAPIKey)
		opts = append(opts, interpreter.WithCompleter(completer))
	} else {
		s.log.Debug("no language model configured; using pattern interpreter only")
	}
	return interpreter.New(tokens, opts...)
}

func (s *runtimeState) dialChain(ctx context.Context) (*ethclient.Client, error) {
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	return client, nil
}

func (s *runtimeState) ratioSource() (quote.RatioSource, error) {
	switch s.settings.QuoteFallback {
	case "none":
		return nil, nil
	case "live":
		opts := []pricefeed.Option{pricefeed.WithLogger(s.log)}
		if s.settings.CacheEnabled {
			store, err := s.openCache()
			if err != nil {
				return nil, err
			}
			opts = append(opts, pricefeed.WithCache(store, s.settings.PriceTTL, s.settings.MaxStale))
		}
		feed := pricefeed.New(s.httpClient(), s.settings.PriceFeedURL, opts...)
		return quote.ChainedRatios{quote.LiveRatios{Feed: feed}, quote.DefaultStaticRatios()}, nil
	default:
		return quote.DefaultStaticRatios(), nil
	}
}

func (s *runtimeState) newQuoteService(tokens *registry.Tokens, caller quote.ContractCaller) (*quote.Service, error) {
	backend, err := quote.NewBackend(s.settings.QuoteVenue, s.settings.ChainID, caller)
	if err != nil {
		return nil, err
	}
	opts := []quote.Option{
		quote.WithBackend(backend),
		quote.WithFeeTiers(s.settings.FeeTiers),
		quote.WithTTL(s.settings.QuoteTTL),
		quote.WithTierTimeout(s.settings.TierTimeout),
		quote.WithLogger(s.log),
	}
	ratios, err := s.ratioSource()
	if err != nil {
		return nil, err
	}
	if ratios != nil {
		opts = append(opts, quote.WithRatios(ratios))
	}
	return quote.New(tokens, opts...), nil
}

func (s *runtimeState) openCache() (*cache.Store, error) {
	if s.cache != nil {
		return s.cache, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	s.cache = store
	return store, nil
}

func (s *runtimeState) openJournal() (*execution.Store, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	store, err := execution.OpenStore(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open swap journal", err)
	}
	s.journal = store
	return store, nil
}

func (s *runtimeState) openWallet() (*custody.Wallet, error) {
	if s.walletStore == nil {
		store, err := custody.OpenStore(s.settings.WalletPath, s.settings.WalletLockPath)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "open wallet store", err)
		}
		s.walletStore = store
	}
	return custody.Open(s.walletStore, s.settings.Account, custody.ParamsFor(s.settings.ScryptMode))
}

func (s *runtimeState) executionOptions() execution.Options {
	opts := execution.DefaultOptions()
	opts.GasMultiplier = s.settings.GasMultiplier
	opts.CallTimeout = s.settings.Timeout
	opts.PollAttempts = s.settings.PollAttempts
	opts.PollInterval = s.settings.PollInterval
	return opts
}

// buildPipeline wires every collaborator a swap session needs.
func (s *runtimeState) buildPipeline(ctx context.Context) (*pipeline, error) {
	tokens, err := s.tokens()
	if err != nil {
		return nil, err
	}
	client, err := s.dialChain(ctx)
	if err != nil {
		return nil, err
	}
	quotes, err := s.newQuoteService(tokens, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	wallet, err := s.openWallet()
	if err != nil {
		client.Close()
		return nil, err
	}
	journal, err := s.openJournal()
	if err != nil {
		client.Close()
		return nil, err
	}
	return &pipeline{
		tokens:      tokens,
		interpreter: s.newInterpreter(tokens),
		quotes:      quotes,
		executor:    execution.NewExecutor(client, s.settings.ChainID, s.executionOptions(), s.log),
		wallet:      wallet,
		journal:     journal,
		client:      client,
	}, nil
}

func (s *runtimeState) newSession(p *pipeline, log logrus.FieldLogger, sink func(model.Event)) *orchestrator.Orchestrator {
	return orchestrator.New(
		orchestrator.Config{
			ChainID:        s.settings.ChainID,
			Account:        s.settings.Account,
			SlippageBps:    s.settings.SlippageBps,
			Deadline:       s.settings.Deadline,
			ConfirmTimeout: s.settings.ConfirmTimeout,
		},
		orchestrator.Deps{
			Tokens:      p.tokens,
			Interpreter: p.interpreter,
			Quoter:      p.quotes,
			Venue:       p.quotes.Backend(),
			Signers:     p.wallet,
			Chain:       p.executor,
			Journal:     p.journal,
		},
		orchestrator.WithSink(sink),
		orchestrator.WithLogger(log),
	)
}
