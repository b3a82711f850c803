package registry

const (
	// Language-model completion endpoint (Gemini generateContent REST).
	GeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	GeminiDefaultModel = "gemini-1.5-flash"

	// Live USD price feed used by the estimated-quote fallback.
	CoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
)
