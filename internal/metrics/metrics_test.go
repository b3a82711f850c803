package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesAgentMetrics(t *testing.T) {
	IntentsParsed.WithLabelValues("fallback").Inc()
	SwapsFinished.WithLabelValues("settled", "success").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, name := range []string{`defi_agent_intents_total{path="fallback"}`, `defi_agent_swaps_total{code="success",state="settled"}`} {
		if !strings.Contains(text, name) {
			t.Fatalf("expected %s in scrape output", name)
		}
	}
}
