package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/defi-agent/internal/id"
)

const envPrefix = "DEFI_AGENT_"

type GlobalFlags struct {
	ConfigPath     string
	EnvFile        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	LogLevel       string
	ChainID        int64
	RPCURL         string
	Account        string
	NoCache        bool
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	LogLevel       string
	LogFormat      string

	ChainID int64
	RPCURL  string
	Account string

	QuoteVenue    string
	FeeTiers      []int
	QuoteTTL      time.Duration
	QuoteFallback string
	TierTimeout   time.Duration

	SlippageBps     int64
	Deadline        time.Duration
	ConfirmTimeout  time.Duration
	PollAttempts    int
	PollInterval    time.Duration
	GasMultiplier   float64
	JournalPath     string
	JournalLockPath string

	WalletPath     string
	WalletLockPath string
	ScryptMode     string

	LLMProvider string
	LLMBaseURL  string
	LLMModel    string
	LLMAPIKey   string

	PriceFeedURL string
	PriceTTL     time.Duration

	CacheEnabled  bool
	CachePath     string
	CacheLockPath string
	MaxStale      time.Duration

	MetricsAddr string
	ListenAddr  string
}

type fileConfig struct {
	Output    string `yaml:"output"`
	Timeout   string `yaml:"timeout"`
	Retries   *int   `yaml:"retries"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Chain     string `yaml:"chain"`
	ChainID   int64  `yaml:"chain_id"`
	RPCURL    string `yaml:"rpc_url"`
	Account   string `yaml:"account"`
	Quote     struct {
		Venue        string `yaml:"venue"`
		FeeTiers     []int  `yaml:"fee_tiers"`
		TTL          string `yaml:"ttl"`
		Fallback     string `yaml:"fallback"`
		TierTimeout  string `yaml:"tier_timeout"`
	} `yaml:"quote"`
	Execution struct {
		SlippageBps     *int64   `yaml:"slippage_bps"`
		Deadline        string   `yaml:"deadline"`
		ConfirmTimeout  string   `yaml:"confirm_timeout"`
		PollAttempts    *int     `yaml:"poll_attempts"`
		PollInterval    string   `yaml:"poll_interval"`
		GasMultiplier   *float64 `yaml:"gas_multiplier"`
		JournalPath     string   `yaml:"journal_path"`
		JournalLockPath string   `yaml:"journal_lock_path"`
	} `yaml:"execution"`
	Wallet struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
		Scrypt   string `yaml:"scrypt"`
	} `yaml:"wallet"`
	LLM struct {
		Provider  string `yaml:"provider"`
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"llm"`
	PriceFeed struct {
		BaseURL string `yaml:"base_url"`
		TTL     string `yaml:"ttl"`
	} `yaml:"pricefeed"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	MetricsAddr string `yaml:"metrics_addr"`
	ListenAddr  string `yaml:"listen_addr"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	if err := loadEnvFile(flags.EnvFile); err != nil {
		return Settings{}, err
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}
	if err := validate(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cacheDir, err := defaultCacheDir()
	if err != nil {
		return Settings{}, err
	}
	dataDir, err := defaultDataDir()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         15 * time.Second,
		Retries:         2,
		LogLevel:        "info",
		LogFormat:       "text",
		ChainID:         137,
		Account:         "default",
		QuoteVenue:      "uniswap-v3-router02",
		FeeTiers:        []int{500, 3000, 10000},
		QuoteTTL:        30 * time.Second,
		QuoteFallback:   "static",
		TierTimeout:     5 * time.Second,
		SlippageBps:     50,
		Deadline:        20 * time.Minute,
		ConfirmTimeout:  2 * time.Minute,
		PollAttempts:    30,
		PollInterval:    2 * time.Second,
		GasMultiplier:   1.2,
		JournalPath:     filepath.Join(cacheDir, "swaps.db"),
		JournalLockPath: filepath.Join(cacheDir, "swaps.lock"),
		WalletPath:      filepath.Join(dataDir, "wallets.db"),
		WalletLockPath:  filepath.Join(dataDir, "wallets.lock"),
		ScryptMode:      "standard",
		LLMProvider:     "gemini",
		PriceTTL:        60 * time.Second,
		CacheEnabled:    true,
		CachePath:       filepath.Join(cacheDir, "cache.db"),
		CacheLockPath:   filepath.Join(cacheDir, "cache.lock"),
		MaxStale:        5 * time.Minute,
		ListenAddr:      "127.0.0.1:8787",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defi-agent", "config.yaml"), nil
}

func defaultCacheDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "defi-agent"), nil
}

func defaultDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "defi-agent"), nil
}

// loadEnvFile populates the process environment from a dotenv file without
// overriding variables that are already set. A missing default .env is fine;
// a missing explicit file is an error.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("parse env file: %w", err)
	}
	return nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" {
		settings.LogFormat = cfg.LogFormat
	}
	if cfg.Chain != "" {
		chain, err := id.ParseChain(cfg.Chain)
		if err != nil {
			return fmt.Errorf("config chain: %w", err)
		}
		settings.ChainID = chain.EVMChainID
	}
	if cfg.ChainID != 0 {
		settings.ChainID = cfg.ChainID
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.Account != "" {
		settings.Account = cfg.Account
	}
	if cfg.Quote.Venue != "" {
		settings.QuoteVenue = cfg.Quote.Venue
	}
	if len(cfg.Quote.FeeTiers) > 0 {
		settings.FeeTiers = cfg.Quote.FeeTiers
	}
	if cfg.Quote.Fallback != "" {
		settings.QuoteFallback = strings.ToLower(cfg.Quote.Fallback)
	}
	if cfg.Execution.SlippageBps != nil {
		settings.SlippageBps = *cfg.Execution.SlippageBps
	}
	if cfg.Execution.PollAttempts != nil {
		settings.PollAttempts = *cfg.Execution.PollAttempts
	}
	if cfg.Execution.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.Execution.GasMultiplier
	}
	if cfg.Execution.JournalPath != "" {
		settings.JournalPath = cfg.Execution.JournalPath
	}
	if cfg.Execution.JournalLockPath != "" {
		settings.JournalLockPath = cfg.Execution.JournalLockPath
	}
	if cfg.Wallet.Path != "" {
		settings.WalletPath = cfg.Wallet.Path
	}
	if cfg.Wallet.LockPath != "" {
		settings.WalletLockPath = cfg.Wallet.LockPath
	}
	if cfg.Wallet.Scrypt != "" {
		settings.ScryptMode = strings.ToLower(cfg.Wallet.Scrypt)
	}
	if cfg.LLM.Provider != "" {
		settings.LLMProvider = strings.ToLower(cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL != "" {
		settings.LLMBaseURL = cfg.LLM.BaseURL
	}
	if cfg.LLM.Model != "" {
		settings.LLMModel = cfg.LLM.Model
	}
	if cfg.LLM.APIKey != "" {
		settings.LLMAPIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.APIKeyEnv != "" {
		settings.LLMAPIKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	if cfg.PriceFeed.BaseURL != "" {
		settings.PriceFeedURL = cfg.PriceFeed.BaseURL
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.MetricsAddr != "" {
		settings.MetricsAddr = cfg.MetricsAddr
	}
	if cfg.ListenAddr != "" {
		settings.ListenAddr = cfg.ListenAddr
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", cfg.Timeout, &settings.Timeout},
		{"quote.ttl", cfg.Quote.TTL, &settings.QuoteTTL},
		{"quote.tier_timeout", cfg.Quote.TierTimeout, &settings.TierTimeout},
		{"execution.deadline", cfg.Execution.Deadline, &settings.Deadline},
		{"execution.confirm_timeout", cfg.Execution.ConfirmTimeout, &settings.ConfirmTimeout},
		{"execution.poll_interval", cfg.Execution.PollInterval, &settings.PollInterval},
		{"pricefeed.ttl", cfg.PriceFeed.TTL, &settings.PriceTTL},
		{"cache.max_stale", cfg.Cache.MaxStale, &settings.MaxStale},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func env(key string) string {
	return os.Getenv(envPrefix + key)
}

func applyEnv(settings *Settings) error {
	if v := env("OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := env("RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := env("LOG_LEVEL"); v != "" {
		settings.LogLevel = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		settings.LogFormat = v
	}
	if v := env("CHAIN"); v != "" {
		chain, err := id.ParseChain(v)
		if err != nil {
			return fmt.Errorf("%sCHAIN: %w", envPrefix, err)
		}
		settings.ChainID = chain.EVMChainID
	}
	if v := env("CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := env("RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := env("ACCOUNT"); v != "" {
		settings.Account = v
	}
	if v := env("VENUE"); v != "" {
		settings.QuoteVenue = v
	}
	if v := env("FEE_TIERS"); v != "" {
		tiers, err := parseFeeTiers(v)
		if err != nil {
			return fmt.Errorf("%sFEE_TIERS: %w", envPrefix, err)
		}
		settings.FeeTiers = tiers
	}
	if v := env("FALLBACK"); v != "" {
		settings.QuoteFallback = strings.ToLower(v)
	}
	if v := env("SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := env("WALLET_PATH"); v != "" {
		settings.WalletPath = v
	}
	if v := env("WALLET_LOCK_PATH"); v != "" {
		settings.WalletLockPath = v
	}
	if v := env("SCRYPT"); v != "" {
		settings.ScryptMode = strings.ToLower(v)
	}
	if v := env("JOURNAL_PATH"); v != "" {
		settings.JournalPath = v
	}
	if v := env("LLM_API_KEY"); v != "" {
		settings.LLMAPIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" && settings.LLMAPIKey == "" {
		settings.LLMAPIKey = v
	}
	if v := env("LLM_BASE_URL"); v != "" {
		settings.LLMBaseURL = v
	}
	if v := env("LLM_MODEL"); v != "" {
		settings.LLMModel = v
	}
	if v := env("PRICEFEED_URL"); v != "" {
		settings.PriceFeedURL = v
	}
	if v := env("NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := env("CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := env("CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := env("METRICS_ADDR"); v != "" {
		settings.MetricsAddr = v
	}
	if v := env("LISTEN_ADDR"); v != "" {
		settings.ListenAddr = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TIMEOUT", &settings.Timeout},
		{"QUOTE_TTL", &settings.QuoteTTL},
		{"DEADLINE", &settings.Deadline},
		{"CONFIRM_TIMEOUT", &settings.ConfirmTimeout},
		{"POLL_INTERVAL", &settings.PollInterval},
	}
	for _, d := range durations {
		if v := env(d.key); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				*d.dst = parsed
			}
		}
	}
	return nil
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		settings.SelectFields = splitCSV(flags.Select)
	}
	settings.ResultsOnly = flags.ResultsOnly
	if strings.TrimSpace(flags.EnableCommands) != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = flags.LogLevel
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.Account) != "" {
		settings.Account = strings.TrimSpace(flags.Account)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	return nil
}

func validate(settings *Settings) error {
	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.SlippageBps < 0 || settings.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage_bps must be between 0 and 9999")
	}
	if settings.PollAttempts <= 0 {
		return fmt.Errorf("execution.poll_attempts must be > 0")
	}
	if settings.GasMultiplier < 1 {
		return fmt.Errorf("execution.gas_multiplier must be >= 1")
	}
	if settings.QuoteTTL <= 0 {
		return fmt.Errorf("quote.ttl must be > 0")
	}
	for _, tier := range settings.FeeTiers {
		if tier <= 0 || tier >= 1_000_000 {
			return fmt.Errorf("invalid fee tier %d", tier)
		}
	}
	switch settings.QuoteFallback {
	case "static", "live", "none":
	default:
		return fmt.Errorf("quote.fallback must be static, live or none")
	}
	switch settings.ScryptMode {
	case "standard", "light":
	default:
		return fmt.Errorf("wallet.scrypt must be standard or light")
	}
	if strings.TrimSpace(settings.Account) == "" {
		return fmt.Errorf("account must not be empty")
	}
	return nil
}

func parseFeeTiers(v string) ([]int, error) {
	parts := splitCSV(v)
	tiers := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid fee tier %q", part)
		}
		tiers = append(tiers, n)
	}
	return tiers, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
