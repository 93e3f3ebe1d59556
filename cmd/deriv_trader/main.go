package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"deriv_trading/internal/bus"
	"deriv_trading/internal/config"
	"deriv_trading/internal/exchange"
	"deriv_trading/internal/journal"
	"deriv_trading/internal/logger"
	"deriv_trading/internal/metrics"
	"deriv_trading/internal/scanner"
	"deriv_trading/internal/strategy"
	"deriv_trading/internal/trading"

	"github.com/shopspring/decimal"
)

const LogFile = "trader.log"
const VersionFile = "version.latest"

// main is the entry point of the application.
func main() {
	// 1. Initialization
	cfg := config.Load()
	cfg.Version = readVersion()

	logger.Setup(LogFile, cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	// 2. Event bus, with dropped events surfaced as a counter
	b := bus.Init()
	b.OnDrop(metrics.BusDropped.Inc)

	// 3. Transport
	client := exchange.NewClient(cfg, b)
	if err := client.Connect(); err != nil {
		log.Fatalf("CRITICAL: exchange connect failed: %v", err)
	}
	defer client.Disconnect()

	// 4. Pair scanner across the short-term symbols
	scan, err := scanner.New(cfg, client)
	if err != nil {
		log.Fatalf("CRITICAL: scanner init failed: %v", err)
	}
	if err := scan.Start(); err != nil {
		log.Fatalf("CRITICAL: scanner start failed: %v", err)
	}
	defer scan.Stop()

	// 5. Trade manager. Chat and dashboard layers bind to its operator
	// surface; a session can also be auto-started from the environment.
	symbol := os.Getenv("TRADE_SYMBOL")
	engineSymbol := symbol
	if engineSymbol == "" {
		engineSymbol = "R_100"
	}
	engine := strategy.NewEngine(engineSymbol, cfg)
	manager := trading.NewManager(cfg, client, b, engine, trading.NopNotifier{})

	jnl, err := journal.New(cfg.JournalDir)
	if err != nil {
		log.Printf("Warning: journal disabled: %v", err)
	} else {
		manager.SetJournal(jnl)
	}

	if symbol != "" {
		stake, err := decimal.NewFromString(getEnv("TRADE_STAKE", "1.00"))
		if err != nil {
			log.Fatalf("CRITICAL: bad TRADE_STAKE: %v", err)
		}
		duration := getEnvAsInt("TRADE_DURATION", 5)
		unit := getEnv("TRADE_DURATION_UNIT", "t")
		target := getEnvAsInt("TRADE_TARGET", 0)

		if err := manager.Configure(stake, duration, unit, target, symbol); err != nil {
			log.Fatalf("CRITICAL: session configure failed: %v", err)
		}
		if err := manager.Start(); err != nil {
			log.Fatalf("CRITICAL: session start failed: %v", err)
		}
	}

	log.Printf("Deriv Trader %s initialized (%s account)", cfg.Version, cfg.AccountType)

	// 6. Graceful shutdown on signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("⚠️ Trader shutting down: system signal received.")
	stats := manager.Stop()
	if stats.Total > 0 {
		log.Printf("Final session: %d trades, %d wins, profit %s",
			stats.Total, stats.Wins, stats.TotalProfit)
	}
}

func readVersion() string {
	version, err := os.ReadFile(VersionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return string(version)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
