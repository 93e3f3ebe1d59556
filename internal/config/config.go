package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// ServerLoc pins log timestamps and daily-loss bookkeeping to UTC,
// which is what the exchange settles in.
var ServerLoc = time.UTC

// Config carries every tunable of the engine. The numeric defaults are
// the authoritative values; overriding any of them is an env var away,
// so tuning never means hunting literals through the code.
type Config struct {
	Version string

	// Exchange access
	AppID       string // Deriv application id
	APIToken    string // primary account token
	DemoToken   string // fallback token used when the primary is rejected
	Endpoint    string // wss endpoint, app_id appended at connect time
	Currency    string
	AccountType string // "demo" or "real"

	// Logging
	MaxLogSizeMB  int64
	MaxLogBackups int

	// Transport timings (seconds unless noted)
	AuthTimeoutSec       int
	HistoryTimeoutSec    int
	BuyTimeoutSec        int
	PingIntervalSec      int
	PingJitterSec        int
	PingGraceSec         int
	PingMissLimit        int
	ReconnectBaseSec     int
	ReconnectCapSec      int
	ReconnectMaxAttempts int
	PendingReapSec       int
	PendingWarnDepth     int
	SendRatePerSec       float64 // outbound frame budget

	// Tick buffering
	TickWindow int // bounded per-symbol FIFO window

	// Strategy thresholds
	AnalyzeEveryNTicks      int
	MinConfidenceThreshold  float64
	MinConfluenceScore      float64
	CooldownSeconds         int     // same-side signal cooldown
	PredictionScoreMin      float64 // per-horizon score must exceed this
	PredictionMinConfidence float64 // multi-horizon confidence hard block
	HorizonAgreementBoost   float64 // all-three-agree confidence boost
	NeutralConfidenceFloor  float64
	ADXConflictBlock        float64 // DI spread that vetoes a counter signal

	// Regime classification
	ADXTrendingMin      float64
	DISpreadTrendingMin float64
	ADXRangingMax       float64
	BBWidthRangingPct   float64
	ADXRangingSoftMax   float64

	// Regime-alignment confidence multipliers
	AlignedTrendMult    float64
	CounterTrendMult    float64
	AlignedRangeMult    float64
	MisalignedRangeMult float64

	// Risk / money management
	MartingaleMultiplier  float64
	MaxMartingaleLevel    int
	TradeCooldownSec      int
	MaxConsecutiveLosses  int
	DailyLossLimit        float64 // 0 disables; real accounts only
	ProjectedRiskPct      float64 // geometric-sum warning threshold
	ProjectedRiskAutoStop bool    // stricter stop, off by default
	BuyRetryMax           int
	BuyRetryBaseSec       int
	BuyRetryCapSec        int
	BreakerFailures       int // buy failures that trip the breaker
	BreakerWindowSec      int
	BreakerPauseSec       int
	StuckResetSec         int // WAITING_RESULT watchdog once a contract is open

	// The synthetic indices run hot by nature, so trading on extreme
	// volatility stays allowed unless explicitly switched on.
	BlockExtremeVolatility bool

	// Entry filter
	RiskMode string // LOW_RISK | HIGH_PROBABILITY | AGGRESSIVE | SNIPER

	// Scanner
	ScanIntervalSec  int
	ScannerPruneAt   int // accumulated ticks before buffer reset
	StaleAnalysisMin int
	MinReadyTicks    int

	// Persistence
	RecoverySaveEvery int
	RecoveryMaxAgeMin int
	RecoveryFile      string
	JournalDir        string
	TokenStoreFile    string
	TokenSecret       string
}

// Load reads .env (if present), validates the required secrets and
// returns a Config populated with defaults for everything else.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	requiredSecretVars := map[string]bool{
		"DERIV_APP_ID":    true,
		"DERIV_API_TOKEN": true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	if envMap, err := godotenv.Read(); err == nil {
		log.Println("--- .env File Variables ---")
		for key, val := range envMap {
			if requiredSecretVars[key] || key == "DERIV_DEMO_TOKEN" || key == "TOKEN_STORE_SECRET" {
				// Mask secret values: show only last 4 chars
				masked := "***"
				if len(val) > 4 {
					masked = "***" + val[len(val)-4:]
				}
				log.Printf("%s=%s", key, masked)
			} else {
				log.Printf("%s=%s", key, val)
			}
		}
		log.Println("---------------------------")
	}

	return &Config{
		AppID:       os.Getenv("DERIV_APP_ID"),
		APIToken:    os.Getenv("DERIV_API_TOKEN"),
		DemoToken:   os.Getenv("DERIV_DEMO_TOKEN"),
		Endpoint:    getEnvAsString("DERIV_ENDPOINT", "wss://ws.derivws.com/websockets/v3"),
		Currency:    getEnvAsString("DERIV_CURRENCY", "USD"),
		AccountType: getEnvAsString("DERIV_ACCOUNT_TYPE", "demo"),

		MaxLogSizeMB:  int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsInt("MAX_LOG_BACKUPS", 3),

		AuthTimeoutSec:       getEnvAsInt("AUTH_TIMEOUT_SEC", 30),
		HistoryTimeoutSec:    getEnvAsInt("HISTORY_TIMEOUT_SEC", 10),
		BuyTimeoutSec:        getEnvAsInt("BUY_TIMEOUT_SEC", 30),
		PingIntervalSec:      getEnvAsInt("PING_INTERVAL_SEC", 60),
		PingJitterSec:        getEnvAsInt("PING_JITTER_SEC", 20),
		PingGraceSec:         getEnvAsInt("PING_GRACE_SEC", 10),
		PingMissLimit:        getEnvAsInt("PING_MISS_LIMIT", 3),
		ReconnectBaseSec:     getEnvAsInt("RECONNECT_BASE_SEC", 5),
		ReconnectCapSec:      getEnvAsInt("RECONNECT_CAP_SEC", 60),
		ReconnectMaxAttempts: getEnvAsInt("RECONNECT_MAX_ATTEMPTS", 5),
		PendingReapSec:       getEnvAsInt("PENDING_REAP_SEC", 60),
		PendingWarnDepth:     getEnvAsInt("PENDING_WARN_DEPTH", 50),
		SendRatePerSec:       getEnvAsFloat64("SEND_RATE_PER_SEC", 10),

		TickWindow: getEnvAsInt("TICK_WINDOW", 300),

		AnalyzeEveryNTicks:      getEnvAsInt("ANALYZE_EVERY_N_TICKS", 10),
		MinConfidenceThreshold:  getEnvAsFloat64("MIN_CONFIDENCE_THRESHOLD", 0.50),
		MinConfluenceScore:      getEnvAsFloat64("MIN_CONFLUENCE_SCORE", 40),
		CooldownSeconds:         getEnvAsInt("SIGNAL_COOLDOWN_SEC", 12),
		PredictionScoreMin:      getEnvAsFloat64("PREDICTION_SCORE_MIN", 0.15),
		PredictionMinConfidence: getEnvAsFloat64("PREDICTION_MIN_CONFIDENCE", 0.55),
		HorizonAgreementBoost:   getEnvAsFloat64("HORIZON_AGREEMENT_BOOST", 0.15),
		NeutralConfidenceFloor:  getEnvAsFloat64("NEUTRAL_CONFIDENCE_FLOOR", 0.25),
		ADXConflictBlock:        getEnvAsFloat64("ADX_CONFLICT_BLOCK", 15),

		ADXTrendingMin:      getEnvAsFloat64("ADX_TRENDING_MIN", 22),
		DISpreadTrendingMin: getEnvAsFloat64("DI_SPREAD_TRENDING_MIN", 10),
		ADXRangingMax:       getEnvAsFloat64("ADX_RANGING_MAX", 12),
		BBWidthRangingPct:   getEnvAsFloat64("BB_WIDTH_RANGING_PCT", 25),
		ADXRangingSoftMax:   getEnvAsFloat64("ADX_RANGING_SOFT_MAX", 18),

		AlignedTrendMult:    getEnvAsFloat64("ALIGNED_TREND_MULT", 1.30),
		CounterTrendMult:    getEnvAsFloat64("COUNTER_TREND_MULT", 0.85),
		AlignedRangeMult:    getEnvAsFloat64("ALIGNED_RANGE_MULT", 1.50),
		MisalignedRangeMult: getEnvAsFloat64("MISALIGNED_RANGE_MULT", 0.90),

		MartingaleMultiplier:  getEnvAsFloat64("MARTINGALE_MULTIPLIER", 2.0),
		MaxMartingaleLevel:    getEnvAsInt("MAX_MARTINGALE_LEVEL", 5),
		TradeCooldownSec:      getEnvAsInt("TRADE_COOLDOWN_SEC", 4),
		MaxConsecutiveLosses:  getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 5),
		DailyLossLimit:        getEnvAsFloat64("DAILY_LOSS_LIMIT", 0),
		ProjectedRiskPct:      getEnvAsFloat64("PROJECTED_RISK_PCT", 0.20),
		ProjectedRiskAutoStop: getEnvAsBool("PROJECTED_RISK_AUTO_STOP", false),
		BuyRetryMax:           getEnvAsInt("BUY_RETRY_MAX", 5),
		BuyRetryBaseSec:       getEnvAsInt("BUY_RETRY_BASE_SEC", 5),
		BuyRetryCapSec:        getEnvAsInt("BUY_RETRY_CAP_SEC", 60),
		BreakerFailures:       getEnvAsInt("BREAKER_FAILURES", 3),
		BreakerWindowSec:      getEnvAsInt("BREAKER_WINDOW_SEC", 60),
		BreakerPauseSec:       getEnvAsInt("BREAKER_PAUSE_SEC", 120),
		StuckResetSec:         getEnvAsInt("STUCK_RESET_SEC", 120),

		BlockExtremeVolatility: getEnvAsBool("BLOCK_EXTREME_VOLATILITY", false),

		RiskMode: getEnvAsString("RISK_MODE", "LOW_RISK"),

		ScanIntervalSec:  getEnvAsInt("SCAN_INTERVAL_SEC", 15),
		ScannerPruneAt:   getEnvAsInt("SCANNER_PRUNE_TICKS", 10000),
		StaleAnalysisMin: getEnvAsInt("STALE_ANALYSIS_MIN", 5),
		MinReadyTicks:    getEnvAsInt("MIN_READY_TICKS", 30),

		RecoverySaveEvery: getEnvAsInt("RECOVERY_SAVE_EVERY", 5),
		RecoveryMaxAgeMin: getEnvAsInt("RECOVERY_MAX_AGE_MIN", 30),
		RecoveryFile:      getEnvAsString("RECOVERY_FILE", "session_recovery.json"),
		JournalDir:        getEnvAsString("JOURNAL_DIR", "journal"),
		TokenStoreFile:    getEnvAsString("TOKEN_STORE_FILE", "tokens.enc"),
		TokenSecret:       os.Getenv("TOKEN_STORE_SECRET"),
	}
}

// IsRealAccount reports whether risk rules for real money apply.
func (c *Config) IsRealAccount() bool {
	return c.AccountType == "real"
}
