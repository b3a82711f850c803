package model

import (
	"testing"
	"time"
)

func TestQuoteExpiry(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	q := Quote{Kind: QuoteOnchain, IssuedAt: issued, TTL: 30 * time.Second}
	if q.Expired(issued.Add(29 * time.Second)) {
		t.Fatal("did not expect quote to be expired before ttl")
	}
	if !q.Expired(issued.Add(30 * time.Second)) {
		t.Fatal("expected quote to be expired at ttl boundary")
	}
}

func TestEstimatedQuoteIsNonBinding(t *testing.T) {
	q := Quote{Kind: QuoteEstimated, PriceImpact: "0.10%"}
	if q.Binding() {
		t.Fatal("estimated quote must not be binding")
	}
	if q.PriceImpactDisplay() != "indicative only" {
		t.Fatalf("unexpected price impact display %q", q.PriceImpactDisplay())
	}
	onchain := Quote{Kind: QuoteOnchain, PriceImpact: "0.10%"}
	if onchain.PriceImpactDisplay() != "0.10%" {
		t.Fatalf("unexpected onchain impact %q", onchain.PriceImpactDisplay())
	}
}

func TestQuoteAmountsParse(t *testing.T) {
	q := Quote{AmountOutBaseUnits: "995", AmountInBaseUnits: "bad"}
	if q.AmountOut().Int64() != 995 {
		t.Fatalf("unexpected amount out %s", q.AmountOut())
	}
	if q.AmountInBase().Sign() != 0 {
		t.Fatal("expected malformed base units to parse as zero")
	}
}
