package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyforge/internal/adapter/repo"
	"storyforge/internal/http/handlers"
	httpapi "storyforge/internal/http/httpapi"
	"storyforge/internal/infra"
	"storyforge/internal/payments"
	"storyforge/internal/pipeline"
	"storyforge/internal/providers/image"
	"storyforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: db connection failed")
	}
	defer pool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure storage")
	}

	images, err := image.NewClient(image.Options{
		APIKey:     cfg.ImageAPIKey,
		BaseURL:    cfg.ImageBaseURL,
		RatePerMin: cfg.ImageRatePerMin,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure image provider")
	}

	gateway, err := payments.NewClient(cfg.CheckoutBaseURL, cfg.CheckoutSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure checkout gateway")
	}

	orders := repo.NewOrderRepository(pool)
	pages := repo.NewPageRepository(pool)
	purchases := repo.NewPurchaseRepository(pool)
	pending := repo.NewPendingCreditRepository(pool)
	ledger := repo.NewCreditLedger(pool)
	tasks := repo.NewTaskRepository(pool)
	events := repo.NewWebhookEventRepository(pool)

	// The API runs only the synchronous preview slice of the pipeline;
	// everything else goes through the task queue to the worker.
	previews := &pipeline.Controller{
		Cfg:    cfg,
		Orders: orders,
		Images: images,
		Store:  store,
		Logger: logger,
	}

	app := &handlers.App{
		Cfg:       cfg,
		Orders:    orders,
		Pages:     pages,
		Purchases: purchases,
		Pending:   pending,
		Ledger:    ledger,
		Tasks:     tasks,
		Gateway:   gateway,
		Previews:  previews,
		Processor: &payments.Processor{
			Orders:    orders,
			Purchases: purchases,
			Pending:   pending,
			Events:    events,
			Tasks:     tasks,
			Logger:    logger,
		},
		Logger: logger,
	}

	router := httpapi.NewRouter(app, store.BasePath())
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
