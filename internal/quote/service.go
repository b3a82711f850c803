package quote

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/id"
	"github.com/ggonzalez94/defi-agent/internal/metrics"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

var DefaultFeeTiers = []int{500, 3000, 10000}

// Service prices swap intents. On-chain quoting through the configured backend
// is authoritative; the ratio source only produces non-binding estimates.
type Service struct {
	tokens       *registry.Tokens
	backend      Backend
	ratios       RatioSource
	feeTiers     []int
	ttl          time.Duration
	tierTimeout time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
}

type Option func(*Service)

func WithBackend(b Backend) Option {
	return func(s *Service) { s.backend = b }
}

func WithRatios(r RatioSource) Option {
	return func(s *Service) { s.ratios = r }
}

func WithFeeTiers(tiers []int) Option {
	return func(s *Service) {
		if len(tiers) > 0 {
			s.feeTiers = append([]int(nil), tiers...)
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithTierTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.tierTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func New(tokens *registry.Tokens, opts ...Option) *Service {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Service{
		tokens:       tokens,
		feeTiers:     DefaultFeeTiers,
		ttl:          30 * time.Second,
		tierTimeout: 5 * time.Second,
		now:          time.Now,
		log:          discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the venue used for binding quotes, or nil in estimate-only mode.
func (s *Service) Backend() Backend { return s.backend }

// GetQuote returns a quote with a strictly positive output, or false when no
// route exists. Only unknown symbols and unusable amounts are errors.
func (s *Service) GetQuote(ctx context.Context, from, to, amount string) (model.Quote, bool, error) {
	start := s.now()
	fromTok, err := s.tokens.Resolve(from)
	if err != nil {
		return model.Quote{}, false, err
	}
	toTok, err := s.tokens.Resolve(to)
	if err != nil {
		return model.Quote{}, false, err
	}
	amountIn, err := id.ToBaseUnits(amount, fromTok.Decimals)
	if err != nil {
		return model.Quote{}, false, err
	}
	if amountIn.Sign() <= 0 {
		return model.Quote{}, false, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s is below the smallest unit of %s", amount, fromTok.Canonical))
	}

	routeFrom := s.tokens.Routable(fromTok)
	routeTo := s.tokens.Routable(toTok)
	if routeFrom.Address == routeTo.Address {
		s.record("none", "", start)
		return model.Quote{}, false, nil
	}

	base := model.Quote{
		FromToken:         fromTok.Canonical,
		ToToken:           toTok.Canonical,
		RouteFrom:         routeFrom.Canonical,
		RouteTo:           routeTo.Canonical,
		AmountIn:          id.FormatUnits(amountIn, fromTok.Decimals),
		AmountInBaseUnits: amountIn.String(),
		TTL:               s.ttl,
	}

	if s.backend != nil {
		if q, ok := s.onchain(ctx, base, routeFrom, routeTo, toTok, amountIn); ok {
			s.record(string(model.QuoteOnchain), q.Venue, start)
			return q, true, nil
		}
	}
	if s.ratios != nil {
		if q, ok := s.estimated(ctx, base, routeFrom, routeTo, toTok, amountIn); ok {
			s.record(string(model.QuoteEstimated), "", start)
			return q, true, nil
		}
	}
	s.log.WithFields(logrus.Fields{"from": routeFrom.Canonical, "to": routeTo.Canonical}).Info("no route available")
	s.record("none", "", start)
	return model.Quote{}, false, nil
}

func (s *Service) onchain(ctx context.Context, q model.Quote, routeFrom, routeTo, toTok registry.Token, amountIn *big.Int) (model.Quote, bool) {
	for _, fee := range s.feeTiers {
		tq, err := s.quoteTier(ctx, routeFrom, routeTo, fee, amountIn)
		if err != nil {
			s.log.WithError(err).WithField("fee", fee).Debug("fee tier quote failed")
			continue
		}
		if tq.AmountOut == nil || tq.AmountOut.Sign() <= 0 {
			continue
		}
		q.Kind = model.QuoteOnchain
		q.Venue = s.backend.Name()
		q.FeeTier = fee
		q.AmountOutBaseUnits = tq.AmountOut.String()
		q.AmountOutDisplay = id.FormatUnits(tq.AmountOut, toTok.Decimals)
		q.GasEstimate = tq.GasEstimate
		q.PriceImpact = s.priceImpact(ctx, routeFrom, routeTo, fee, amountIn, tq.AmountOut)
		q.Route = fmt.Sprintf("%s -> %s via %s (fee %s)", routeFrom.Canonical, routeTo.Canonical, q.Venue, feeDisplay(fee))
		if toTok.Native {
			q.Route += fmt.Sprintf(", delivered as %s", routeTo.Canonical)
		}
		q.IssuedAt = s.now()
		return q, true
	}
	return model.Quote{}, false
}

func (s *Service) estimated(ctx context.Context, q model.Quote, routeFrom, routeTo, toTok registry.Token, amountIn *big.Int) (model.Quote, bool) {
	ratio, ok := s.ratios.Ratio(ctx, routeFrom, routeTo)
	if !ok {
		return model.Quote{}, false
	}
	out := estimateOut(amountIn, ratio, routeFrom.Decimals, routeTo.Decimals)
	if out.Sign() <= 0 {
		return model.Quote{}, false
	}
	q.Kind = model.QuoteEstimated
	q.AmountOutBaseUnits = out.String()
	q.AmountOutDisplay = id.FormatUnits(out, toTok.Decimals)
	q.GasEstimate = defaultSwapGas
	q.Route = fmt.Sprintf("%s -> %s (estimated, non-binding)", routeFrom.Canonical, routeTo.Canonical)
	q.IssuedAt = s.now()
	return q, true
}

func (s *Service) quoteTier(ctx context.Context, from, to registry.Token, fee int, amountIn *big.Int) (TierQuote, error) {
	tierCtx, cancel := context.WithTimeout(ctx, s.tierTimeout)
	defer cancel()
	return s.backend.Quote(tierCtx, from.Address, to.Address, fee, amountIn)
}

// priceImpact compares the execution price against a reference quote at
// 1/1000 of the input on the same tier. Empty when the reference fails.
func (s *Service) priceImpact(ctx context.Context, from, to registry.Token, fee int, amountIn, amountOut *big.Int) string {
	ref := new(big.Int).Quo(amountIn, big.NewInt(1000))
	if ref.Sign() == 0 {
		ref.SetInt64(1)
	}
	tq, err := s.quoteTier(ctx, from, to, fee, ref)
	if err != nil || tq.AmountOut == nil || tq.AmountOut.Sign() <= 0 {
		return ""
	}
	// 1 - (out/in) / (refOut/ref)
	exec := new(big.Rat).SetFrac(new(big.Int).Mul(amountOut, ref), new(big.Int).Mul(amountIn, tq.AmountOut))
	impact := new(big.Rat).Sub(big.NewRat(1, 1), exec)
	impact.Mul(impact, big.NewRat(100, 1))
	if impact.Cmp(big.NewRat(1, 100)) < 0 {
		return "<0.01%"
	}
	return impact.FloatString(2) + "%"
}

func (s *Service) record(kind, venue string, start time.Time) {
	metrics.QuotesIssued.WithLabelValues(kind, venue).Inc()
	metrics.QuoteDuration.WithLabelValues(kind).Observe(s.now().Sub(start).Seconds())
}

func feeDisplay(fee int) string {
	return new(big.Rat).SetFrac64(int64(fee), 10000).FloatString(2) + "%"
}
