// Command portfolio is the paper-trading portfolio engine's entrypoint: it
// loads a schedule profile, wires up the journal, broker, and notifier,
// warms up every symbol, reconciles against the broker, and runs the
// dispatch loop until SIGINT/SIGTERM.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"axfl/bars"
	"axfl/broker"
	"axfl/clock"
	"axfl/config"
	"axfl/feed"
	"axfl/journal"
	"axfl/logger"
	"axfl/marketdata"
	"axfl/metrics"
	"axfl/news"
	"axfl/notify"
	"axfl/portfolio"
	"axfl/strategy"
	"axfl/symbols"
)

func main() {
	schedulePath := flag.String("schedule", "", "path to a JSON schedule profile")
	mode := flag.String("mode", "replay", "replay|ws")
	journalPath := flag.String("journal", "axfl.db", "path to the sqlite journal database")
	statusLogDir := flag.String("status-log-dir", "logs", "directory for the daily status log")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.Warnf("main: no .env file loaded: %v", err)
	}

	sched := config.Default()
	if *schedulePath != "" {
		raw, err := os.ReadFile(*schedulePath)
		if err != nil {
			logger.Errorf("main: read schedule %s: %v", *schedulePath, err)
			os.Exit(1)
		}
		sched, err = config.Load(raw)
		if err != nil {
			logger.Errorf("main: parse schedule %s: %v", *schedulePath, err)
			os.Exit(1)
		}
	}
	if len(sched.Symbols) == 0 || len(sched.Strategies) == 0 {
		logger.Errorf("main: schedule has no symbols or strategies")
		os.Exit(1)
	}

	metrics.Init()

	store, err := journal.Open(*journalPath)
	if err != nil {
		logger.Errorf("main: open journal: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	var brk broker.Adapter
	if accountID := os.Getenv("AXFL_BROKER_ACCOUNT_ID"); accountID != "" {
		apiKey := os.Getenv("AXFL_BROKER_API_KEY")
		brk = broker.NewPracticeBroker(accountID, broker.StaticToken(apiKey), sched.Venue)
		if err := brk.PingAuth(); err != nil {
			logger.Warnf("main: broker auth check failed, continuing paper-only: %v", err)
		}
	} else {
		logger.Infof("main: no broker credentials set, running paper-only")
	}

	notifier := notify.NewLogNotifier(256)
	defer notifier.Close()

	eng := portfolio.New(sched, clock.RealClock{}, store, brk, notifier)

	if brk != nil {
		sum := eng.Reconcile(true)
		if len(sum.Errors) > 0 {
			logger.Warnf("main: reconciliation reported %d error(s)", len(sum.Errors))
		}
	}

	if sched.NewsGuard.Enabled && sched.NewsGuard.CSVPath != "" {
		events, err := news.LoadEventsCSV(sched.NewsGuard.CSVPath)
		if err != nil {
			logger.Warnf("main: load news calendar: %v", err)
		} else {
			eng.SetNewsEvents(events)
		}
	}

	warmup1m, err := fetchWarmup(sched)
	if err != nil {
		logger.Errorf("main: warm-up failed fatally: %v", err)
		os.Exit(1)
	}

	if err := eng.Warmup(warmup1m, defaultStrategyFactory); err != nil {
		logger.Errorf("main: warm-up failed fatally: %v", err)
		os.Exit(1)
	}

	statusEvery := time.Duration(sched.StatusEveryS) * time.Second
	if *mode == "replay" {
		statusEvery = 5 * time.Second
	}
	go eng.StartStatusLoop(*mode, *statusLogDir, statusEvery)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("main: shutdown signal received")
		eng.RequestShutdown()
	}()

	switch *mode {
	case "ws":
		venueSymbols := make([]string, 0, len(sched.Symbols))
		for _, sym := range sched.Symbols {
			_, prefixed, _ := symbols.ProviderForms(sym, sched.Venue)
			venueSymbols = append(venueSymbols, prefixed)
		}
		keys := splitNonEmpty(os.Getenv("AXFL_FEED_KEYS"), ",")
		client := feed.New(os.Getenv("AXFL_FEED_URL"), venueSymbols, keys, 4096)
		eng.RunWS(client, warmup1m)
	default:
		eng.RunReplay(warmup1m, 50*time.Millisecond)
	}

	eng.EmitStatus(*mode, *statusLogDir)
	logger.Infof("main: shutdown complete")
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fetchWarmup(sched config.Schedule) (map[string][]bars.Bar, error) {
	providers := map[string]marketdata.Provider{}
	if key := os.Getenv("AXFL_TWELVEDATA_KEY"); key != "" {
		providers[marketdata.SourceTwelveData] = marketdata.NewTwelveDataProvider(key)
	}
	if key := os.Getenv("AXFL_FINNHUB_KEY"); key != "" {
		providers[marketdata.SourceFinnhub] = marketdata.NewFinnhubProvider(key)
	}
	providers[marketdata.SourceYFinance] = marketdata.NewYFinanceProvider()

	return marketdata.Warmup(providers, sched.Symbols, sched.Source, sched.WarmupDays)
}

func defaultStrategyFactory(name string, params map[string]interface{}) (strategy.Strategy, error) {
	fast, slow := 10, 30
	slPips, tpPips := 20.0, 40.0
	if v, ok := params["fast"].(float64); ok {
		fast = int(v)
	}
	if v, ok := params["slow"].(float64); ok {
		slow = int(v)
	}
	if v, ok := params["sl_pips"].(float64); ok {
		slPips = v
	}
	if v, ok := params["tp_pips"].(float64); ok {
		tpPips = v
	}
	return &strategy.SMACrossover{Fast: fast, Slow: slow, SLPips: slPips, TPPips: tpPips, Pip: 0.0001}, nil
}
