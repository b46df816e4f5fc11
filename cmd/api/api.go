package main

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"pasal/internal/catalog"
	"pasal/internal/checkout"
	"pasal/internal/domain/carts"
	"pasal/internal/domain/orders"
	"pasal/internal/domain/profile"
	"pasal/internal/payments"
	"pasal/internal/ratelimiter"
)

type application struct {
	config      config
	logger      *zap.SugaredLogger
	carts       carts.Store
	syncer      *carts.Syncer
	orders      *orders.Repository
	profiles    profile.Store
	catalog     catalog.Service
	gateways    *payments.Manager
	engine      *checkout.Engine
	reconciler  *checkout.Reconciler
	rateLimiter *ratelimiter.FixedWindowRateLimiter
	stopSweeps  context.CancelFunc
}

type config struct {
	addr        string
	env         string
	frontendURL string
	db          dbConfig
	redis       redisConfig
	mail        mailConfig
	auth        authConfig
	gateways    gatewayConfig
	checkout    checkoutConfig
	reconcile   reconcileConfig
	catalogURL  string
	rateLimiter ratelimiter.Config
}

type dbConfig struct {
	addr        string
	maxConns    int
	maxIdleTime string
}

type redisConfig struct {
	addr     string
	password string
	db       int
	cartTTL  time.Duration
}

type mailConfig struct {
	host     string
	port     int
	username string
	password string
	sender   string
}

type authConfig struct {
	basic basicConfig
}

type basicConfig struct {
	user string
	pass string
}

type gatewayConfig struct {
	cryptoURL  string
	cryptoKey  string
	fiatURL    string
	fiatKey    string
	successURL string
	cancelURL  string
	timeout    time.Duration
}

type checkoutConfig struct {
	currency          string
	shippingFlatCents int64
	taxRateBps        int64
	pollInterval      time.Duration
	fiatMethods       []string
}

type reconcileConfig struct {
	enabled  bool
	interval time.Duration
	limit    int
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Account-ID", "X-Device-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/cart", func(r chi.Router) {
			r.Use(app.ShopperMiddleware)
			r.Get("/", app.getCartHandler)
			r.Post("/lines", app.addCartLineHandler)
			r.Patch("/lines/{variantKey}", app.updateCartLineHandler)
			r.Delete("/lines/{variantKey}", app.removeCartLineHandler)
			r.Delete("/", app.clearCartHandler)
			r.Post("/merge", app.mergeCartHandler)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Use(app.ShopperMiddleware)
			r.With(app.RateLimiterMiddleware).Post("/", app.startCheckoutHandler)
			r.Get("/currencies", app.payCurrenciesHandler)
			r.Get("/min-amount", app.minAmountHandler)
			r.Post("/abandon", app.abandonCheckoutHandler)
			r.Route("/{orderID}", func(r chi.Router) {
				r.Get("/status", app.checkoutStatusHandler)
				r.Post("/cancel", app.cancelCheckoutHandler)
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(app.ShopperMiddleware)
			r.Get("/", app.listOrdersHandler)
			r.Get("/{orderID}", app.getOrderHandler)
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Use(app.ShopperMiddleware)
			r.Get("/", app.listAddressesHandler)
		})
	})
	return r
}

func (app *application) run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		// Stop the reconciliation loop and drain the payment watchers
		// before closing the listener so no in-flight settlement is cut
		// off mid-write.
		if app.stopSweeps != nil {
			app.stopSweeps()
		}
		app.engine.Monitor().Stop()

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}

func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"status":  "ok",
		"env":     app.config.env,
		"version": version,
	}
	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}
