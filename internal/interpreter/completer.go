package interpreter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/httpx"
	"github.com/ggonzalez94/defi-agent/internal/registry"
)

// Completer sends a prompt to a language model and returns its text answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeminiCompleter calls the Gemini generateContent REST endpoint.
type GeminiCompleter struct {
	http    *httpx.Client
	baseURL string
	model   string
	apiKey  string
}

func NewGeminiCompleter(httpClient *httpx.Client, baseURL, model, apiKey string) *GeminiCompleter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.GeminiBaseURL
	}
	if strings.TrimSpace(model) == "" {
		model = registry.GeminiDefaultModel
	}
	return &GeminiCompleter{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", clierr.New(clierr.CodeAuth, "gemini api key is not configured")
	}
	var req geminiRequest
	req.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body, err := json.Marshal(req)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode completion request", err)
	}

	endpoint := g.baseURL + "/models/" + url.PathEscape(g.model) + ":generateContent"
	var resp geminiResponse
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if _, err := httpx.DoBodyJSON(ctx, g.http, http.MethodPost, endpoint, body, headers, &resp); err != nil {
		return "", err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return "", clierr.New(clierr.CodeUnavailable, "completion blocked: "+resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", clierr.New(clierr.CodeUnavailable, "completion returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", clierr.New(clierr.CodeUnavailable, "completion returned empty text")
	}
	return text, nil
}
