package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pasal/internal/catalog"
	"pasal/internal/checkout"
	"pasal/internal/db"
	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
	"pasal/internal/domain/profile"
	"pasal/internal/mailer"
	"pasal/internal/payments"
	"pasal/internal/ratelimiter"
)

var version = "1.0.0"

// NewLogger creates a console zap logger with colored levels.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zapcore.InfoLevel)

	return zap.New(core).Sugar(), nil
}

func envStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Printf("Invalid %s, defaulting to %d\n", key, fallback)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		fmt.Printf("Invalid %s, defaulting to %v\n", key, fallback)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Printf("Invalid %s, defaulting to %s\n", key, fallback)
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config{
		addr:        envStr("ADDR", ":8080"),
		env:         envStr("ENV", "development"),
		frontendURL: os.Getenv("FRONTEND_URL"),
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    envInt("DB_MAX_CONNS", 30),
			maxIdleTime: envStr("DB_MAX_IDLE_TIME", "15m"),
		},
		redis: redisConfig{
			addr:     envStr("REDIS_ADDR", "localhost:6379"),
			password: os.Getenv("REDIS_PASSWORD"),
			db:       envInt("REDIS_DB", 0),
			cartTTL:  envDuration("GUEST_CART_TTL", 7*24*time.Hour),
		},
		mail: mailConfig{
			host:     os.Getenv("SMTP_HOST"),
			port:     envInt("SMTP_PORT", 587),
			username: os.Getenv("SMTP_USERNAME"),
			password: os.Getenv("SMTP_PASSWORD"),
			sender:   envStr("SMTP_SENDER", "orders@pasal.example.com"),
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
		},
		gateways: gatewayConfig{
			cryptoURL:  os.Getenv("CRYPTO_GATEWAY_URL"),
			cryptoKey:  os.Getenv("CRYPTO_GATEWAY_API_KEY"),
			fiatURL:    os.Getenv("FIAT_GATEWAY_URL"),
			fiatKey:    os.Getenv("FIAT_GATEWAY_API_KEY"),
			successURL: os.Getenv("PAYMENT_SUCCESS_URL"),
			cancelURL:  os.Getenv("PAYMENT_CANCEL_URL"),
			timeout:    envDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		checkout: checkoutConfig{
			currency:          envStr("CHECKOUT_CURRENCY", "usd"),
			shippingFlatCents: int64(envInt("SHIPPING_FLAT_CENTS", 500)),
			taxRateBps:        int64(envInt("TAX_RATE_BPS", 0)),
			pollInterval:      envDuration("PAYMENT_POLL_INTERVAL", 10*time.Second),
			fiatMethods:       []string{"card"},
		},
		reconcile: reconcileConfig{
			enabled:  envBool("RECONCILE_ENABLED", true),
			interval: envDuration("RECONCILE_INTERVAL", 30*time.Minute),
			limit:    envInt("RECONCILE_LIMIT", 200),
		},
		catalogURL: os.Getenv("CATALOG_URL"),
		rateLimiter: ratelimiter.Config{
			RequestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 20),
			TimeFrame:            envDuration("RATELIMITER_TIME_FRAME", time.Minute),
			Enabled:              envBool("RATE_LIMITER_ENABLED", true),
		},
	}

	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	// Database
	pool, err := db.New(cfg.db.addr, int32(cfg.db.maxConns), cfg.db.maxIdleTime)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	if err := db.Migrate(cfg.db.addr); err != nil {
		logger.Fatalw("migrations failed", "error", err)
	}

	// Redis holds guest carts
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.redis.addr,
		Password: cfg.redis.password,
		DB:       cfg.redis.db,
	})
	defer rdb.Close()

	guestCarts := carts.NewRedisStoreWithTTL(rdb, cfg.redis.cartTTL)
	accountCarts := carts.NewPostgresStore(pool)
	cartStore := carts.NewRouted(guestCarts, accountCarts)
	syncer := carts.NewSyncer(guestCarts, accountCarts, logger)

	orderNumbers, err := orders.NewOrderNumberGenerator(envStr("ORDER_NUMBER_SALT", "pasal-orders"))
	if err != nil {
		logger.Fatalw("order number generator", "error", err)
	}
	orderRepo := orders.NewRepository(pool, orderNumbers)
	profileRepo := profile.NewRepository(pool)

	// Payment gateways
	fiatGateway := payments.NewInvoiceGateway(
		cfg.gateways.fiatURL, cfg.gateways.fiatKey,
		cfg.gateways.successURL, cfg.gateways.cancelURL,
		cfg.gateways.timeout,
	)
	cryptoGateway := payments.NewCryptoClient(cfg.gateways.cryptoURL, cfg.gateways.cryptoKey, cfg.gateways.timeout)
	manager := payments.NewManager(fiatGateway, cryptoGateway, cfg.checkout.fiatMethods)

	mailClient := mailer.New(cfg.mail.host, cfg.mail.port, cfg.mail.username, cfg.mail.password, cfg.mail.sender)

	recorder := checkout.NewRecorder(pool)
	engine := checkout.NewEngine(
		checkout.Config{
			Currency:          cfg.checkout.currency,
			ShippingFlatCents: cfg.checkout.shippingFlatCents,
			TaxRateBps:        cfg.checkout.taxRateBps,
			PollInterval:      cfg.checkout.pollInterval,
		},
		logger, cartStore, orderRepo, profileRepo, manager, recorder, mailClient,
	)
	reconciler := checkout.NewReconciler(logger, cryptoGateway, orderRepo, recorder, cfg.checkout.currency)

	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	defer stopSweeps()

	app := &application{
		config:      cfg,
		logger:      logger,
		carts:       cartStore,
		syncer:      syncer,
		orders:      orderRepo,
		profiles:    profileRepo,
		catalog:     catalog.NewClient(cfg.catalogURL, 10*time.Second),
		gateways:    manager,
		engine:      engine,
		reconciler:  reconciler,
		rateLimiter: rateLimiter,
		stopSweeps:  stopSweeps,
	}

	if cfg.reconcile.enabled {
		app.sweepOrphanedIntents(sweepCtx)
	}

	// Metrics at /v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		s := pool.Stat()
		return map[string]any{
			"total_conns":    s.TotalConns(),
			"idle_conns":     s.IdleConns(),
			"acquired_conns": s.AcquiredConns(),
		}
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}
