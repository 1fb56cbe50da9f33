package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/haiminh-dev/orderblock-bot/internal/bot"
	"github.com/haiminh-dev/orderblock-bot/internal/config"
	"github.com/haiminh-dev/orderblock-bot/internal/exchange/adapters"
	"github.com/haiminh-dev/orderblock-bot/internal/logger"
	"github.com/haiminh-dev/orderblock-bot/internal/monitoring"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file (e.g., default.json), empty for built-in defaults")
		envFile    = flag.String("env", ".env", "Environment file path")
		demo       = flag.Bool("demo", true, "Use demo trading environment - paper trading (default: true)")
		testnet    = flag.Bool("testnet", false, "Use testnet infrastructure instead of mainnet")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s (%v), using environment variables", *envFile, err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if flagPassed("demo") {
		cfg.Exchange.Demo = *demo
	}
	if flagPassed("testnet") {
		cfg.Exchange.Testnet = *testnet
	}

	credentials, err := config.LoadCredentials()
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}

	botLogger, err := logger.NewLogger("orderblock-bot", cfg.State.LogDir)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer botLogger.Close()

	gateway := adapters.NewBybitGateway(adapters.GatewayConfig{
		APIKey:    credentials.APIKey,
		APISecret: credentials.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
	})

	botState := state.NewBotState(cfg.State.BalanceHistoryCap, cfg.State.ReconLogCap)
	store := state.NewStore(cfg.State.DataDir, botLogger)

	var health *monitoring.HealthChecker
	if cfg.Monitoring.Enabled {
		health = monitoring.NewHealthChecker(2 * cfg.CycleInterval())
		startMonitoringServers(cfg, health, botLogger)
	}

	engine := bot.NewEngine(cfg, gateway, botState, store, botLogger, health)

	fmt.Println("Order Block Bot starting...")
	if cfg.Exchange.Demo {
		fmt.Println("Demo mode: paper trading, no real money involved")
	} else {
		fmt.Println("LIVE TRADING MODE - real money will be used")
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// Block until interrupted
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	fmt.Printf("\nReceived %s, shutting down...\n", sig)
	engine.Stop()
	fmt.Println("Shutdown complete")
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

// startMonitoringServers launches the metrics and health HTTP listeners.
// Failures are logged but never stop the bot from trading.
func startMonitoringServers(cfg *config.Config, health *monitoring.HealthChecker, botLogger *logger.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", monitoring.NewMetricsHandler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			botLogger.LogError("Metrics Server", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.Handle("/health", health)
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitoring.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			botLogger.LogError("Health Server", err)
		}
	}()

	fmt.Printf("Metrics on :%d/metrics, health on :%d/health\n",
		cfg.Monitoring.MetricsPort, cfg.Monitoring.HealthPort)
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
