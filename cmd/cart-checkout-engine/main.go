// Package main boots the cart and checkout engine.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fairyhunter13/cart-checkout-engine/internal/cart"
	"github.com/fairyhunter13/cart-checkout-engine/internal/catalog"
	"github.com/fairyhunter13/cart-checkout-engine/internal/checkout"
	"github.com/fairyhunter13/cart-checkout-engine/internal/config"
	"github.com/fairyhunter13/cart-checkout-engine/internal/events"
	httpapi "github.com/fairyhunter13/cart-checkout-engine/internal/http"
	"github.com/fairyhunter13/cart-checkout-engine/internal/kafka"
	"github.com/fairyhunter13/cart-checkout-engine/internal/ledger"
	"github.com/fairyhunter13/cart-checkout-engine/internal/model"
	"github.com/fairyhunter13/cart-checkout-engine/internal/obs"
	"github.com/fairyhunter13/cart-checkout-engine/internal/order"
	"github.com/fairyhunter13/cart-checkout-engine/internal/pricing"
	"github.com/fairyhunter13/cart-checkout-engine/internal/queue"
)

func main() {
	app := &cli.App{
		Name:   "cart-checkout-engine",
		Usage:  "shopping cart, stock reservation and checkout service",
		Flags:  []cli.Flag{seedFlag()},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server (default)",
				Flags:  []cli.Flag{seedFlag()},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply order store migrations and exit",
				Action: migrateCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		obs.Logger.Error("service_failed", "error", err)
		os.Exit(1)
	}
}

func seedFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "seed",
		Usage:   "JSON file of catalog events applied at startup",
		EnvVars: []string{"CATALOG_SEED_FILE"},
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	obs.InitLogger(cfg.LogLevel)
	return cfg, nil
}

func migrateCmd(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OrderStoreDSN == "" {
		return errors.New("ORDER_STORE_DSN is required for migrate")
	}
	st, err := order.Open(c.Context, cfg.OrderStoreDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return err
	}
	obs.Logger.Info("order_store_migrated")
	return nil
}

func openOrders(ctx context.Context, cfg config.Config) (order.Store, func(), error) {
	if cfg.OrderStoreDSN == "" {
		obs.Logger.Info("order_store_memory")
		return order.NewMemoryStore(), func() {}, nil
	}
	st, err := order.Open(ctx, cfg.OrderStoreDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, nil, err
	}
	obs.Logger.Info("order_store_mysql")
	return st, func() { _ = st.Close() }, nil
}

func openDispatcher(cfg config.Config) (events.Dispatcher, func()) {
	kc := kafka.NewClient(cfg.KafkaBrokers)
	w, err := kc.NewWriter(cfg.KafkaOrderTopic)
	if err != nil {
		obs.Logger.Info("event_publishing_log_only", "reason", err.Error())
		return events.LogDispatcher{}, func() {}
	}
	obs.Logger.Info("event_publishing_kafka", "brokers", kc.Brokers, "topic", cfg.KafkaOrderTopic)
	return events.Multi{events.LogDispatcher{}, events.NewKafkaDispatcher(w)}, func() { _ = w.Close() }
}

// loadSeed reads catalog events from a JSON array file. Every event must
// pass the same checks as POST /events.
func loadSeed(path string) ([]model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var evs []model.Event
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range evs {
		if err := evs[i].Normalize(); err != nil {
			return nil, fmt.Errorf("seed event %d: %w", i, err)
		}
	}
	return evs, nil
}

func seedCatalog(path string, mgr *queue.Manager) error {
	evs, err := loadSeed(path)
	if err != nil {
		return err
	}
	for _, ev := range evs {
		mgr.Submit(ev)
	}
	obs.Logger.Info("catalog_seeded", "events", len(evs), "path", path)
	return nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	obs.Logger.Info("service_starting")

	pc, err := pricing.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	engine := pricing.New(pc)
	metrics := obs.NewMetrics()

	orders, closeOrders, err := openOrders(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeOrders()
	dispatcher, closeDispatcher := openDispatcher(cfg)
	defer closeDispatcher()

	app := httpapi.NewApp(cfg)
	app.Metrics = metrics
	app.Orders = orders
	app.Catalog = catalog.New()
	app.Ledger = ledger.New(app.Catalog, cfg.LockTimeout)
	app.Carts = cart.NewService(cart.NewStore(), app.Ledger, app.Catalog, engine, dispatcher, metrics)
	app.Checkout = checkout.New(app.Carts, app.Ledger, orders, engine, dispatcher, metrics, cfg.ReplayWindow)

	mgr := queue.NewManager(cfg, queue.New(128), catalog.NewFeed(app.Catalog, app.Ledger, dispatcher, metrics))
	app.Manager = mgr
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)

	if path := c.String("seed"); path != "" {
		if err := seedCatalog(path, mgr); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigc:
		obs.Logger.Info("shutdown_signal", "signal", s.String())
	case err := <-errc:
		obs.Logger.Error("http_server_error", "error", err)
		mgr.Stop()
		return err
	}

	app.StartShutdown()
	obs.Logger.Info("shutdown_drain_begin", "backlog_size", mgr.BacklogSize(), "worker_count", mgr.WorkerCount())

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := mgr.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	mgr.Stop()
	obs.Logger.Info("service_stopped")
	return nil
}
