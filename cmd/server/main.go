package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clarity-gateway/inference"
	"clarity-gateway/middleware/ratelimit"
	"clarity-gateway/middleware/ratelimit/domain"
	"clarity-gateway/middleware/ratelimit/infra"
	"clarity-gateway/webapp"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ledger := infra.NewLedger(cfg.requestsPerMinute, cfg.tokensPerHour)

	var statsStore domain.StatsStore
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatalf("redis stats ping error: %v", err)
		}

		statsStore = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ledger.StartJanitor(ctx)

	analyzer, err := inference.NewClient(ctx, cfg.bedrockRegion,
		inference.WithModelID(cfg.bedrockModelID),
		inference.WithTimeout(cfg.inferenceTimeout),
		inference.WithMaxRPS(cfg.inferenceMaxRPS),
	)
	if err != nil {
		log.Fatalf("bedrock client error: %v", err)
	}

	keyFn := ratelimit.DefaultKeyFunc(cfg.keyHeader, cfg.trustXFF)

	handler := &webapp.Handler{
		Usage:    ledger,
		Stats:    statsStore,
		Analyzer: analyzer,
		KeyFn:    keyFn,
	}

	// admissão e teto de concorrência só na rota de análise, que é a única
	// que chega ao backend de inferência
	analyze := http.Handler(http.HandlerFunc(handler.HandleAnalyze))
	analyze = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(analyze)
	if cfg.rateEnabled {
		analyze = ratelimit.Middleware(ratelimit.Options{
			Usage:               ledger,
			Stats:               statsStore,
			MaxInputLength:      cfg.maxInputLength,
			KeyFn:               keyFn,
			AddRateLimitHeaders: cfg.addHeaders,
		})(analyze)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /analyze", analyze)
	mux.HandleFunc("GET /stats", handler.HandleStats)
	mux.HandleFunc("GET /{$}", handler.HandleIndex)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("clarity gateway listening on %s", cfg.listenAddr)
	log.Printf("admission: enabled=%v requests=%d/min tokens=%d/hour maxInput=%d chars keyHeader=%q trustXFF=%v",
		cfg.rateEnabled, cfg.requestsPerMinute, cfg.tokensPerHour, cfg.maxInputLength, cfg.keyHeader, cfg.trustXFF)
	log.Printf("stats: enabled=%v redisAddr=%q bucket=%q ttl=%s trackKeys=%v",
		cfg.statsEnabled, cfg.statsRedisAddr, cfg.statsBucket, cfg.statsTTL, cfg.statsTrackKeys)
	log.Printf("inference: model=%s region=%s timeout=%s maxRPS=%.2f concurrency=%d",
		cfg.bedrockModelID, cfg.bedrockRegion, cfg.inferenceTimeout, cfg.inferenceMaxRPS, cfg.concurrencyMax)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr string

	rateEnabled       bool
	requestsPerMinute int
	tokensPerHour     int
	maxInputLength    int
	keyHeader         string
	trustXFF          bool
	addHeaders        bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	bedrockRegion    string
	bedrockModelID   string
	inferenceTimeout time.Duration
	inferenceMaxRPS  float64

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.requestsPerMinute = getenvIntDefault("RATE_REQUESTS_PER_MINUTE", 10)
	cfg.tokensPerHour = getenvIntDefault("RATE_TOKENS_PER_HOUR", 5000)
	cfg.maxInputLength = getenvIntDefault("RATE_MAX_INPUT_LENGTH", 2000)
	cfg.keyHeader = os.Getenv("RATE_KEY_HEADER")
	// atrás de proxy é o deployment normal; o primeiro IP do XFF identifica o cliente
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", true)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 10)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 10*time.Second)

	cfg.bedrockRegion = getenvDefault("BEDROCK_REGION", "us-east-1")
	cfg.bedrockModelID = getenvDefault("BEDROCK_MODEL_ID", inference.DefaultModelID)
	cfg.inferenceTimeout = getenvDurationDefault("INFERENCE_TIMEOUT", 30*time.Second)
	cfg.inferenceMaxRPS = getenvFloatDefault("INFERENCE_MAX_RPS", 0)

	cfg.statsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("RATE_STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("RATE_STATS_PREFIX", "admission:stats")
	cfg.statsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.requestsPerMinute <= 0 {
		return config{}, errors.New("RATE_REQUESTS_PER_MINUTE must be > 0")
	}
	if cfg.tokensPerHour <= 0 {
		return config{}, errors.New("RATE_TOKENS_PER_HOUR must be > 0")
	}
	if cfg.maxInputLength <= 0 {
		return config{}, errors.New("RATE_MAX_INPUT_LENGTH must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
