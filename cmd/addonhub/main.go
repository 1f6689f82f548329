package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ogero/stremio-addonhub/internal"
	"github.com/ogero/stremio-addonhub/internal/catalog"
	"github.com/ogero/stremio-addonhub/internal/common"
	"github.com/ogero/stremio-addonhub/internal/config"
	"github.com/ogero/stremio-addonhub/internal/notifier"
	"github.com/ogero/stremio-addonhub/internal/registry"
	"github.com/ogero/stremio-addonhub/internal/store"
	"github.com/ogero/stremio-addonhub/internal/streams"
	"github.com/ogero/stremio-addonhub/pkg/addon"
	"github.com/ogero/stremio-addonhub/pkg/imdb"
	"github.com/ogero/stremio-addonhub/pkg/transport"
	slogchi "github.com/samber/slog-chi"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		common.Log.Error("Failed to config.Load", "err", err)
		os.Exit(1)
	}

	shutdownLogger, err := common.InitLogger(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitLogger", "err", err)
		os.Exit(1)
	}

	shutdownInstrumentation, err := common.InitInstrumentation(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OTLPEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitInstrumentation", "err", err)
		os.Exit(1)
	}

	st, err := store.Open(store.Options{Path: cfg.DataDir})
	if err != nil {
		common.Log.Error("Failed to store.Open", "err", err)
		os.Exit(1)
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxConnsPerHost = 100
	t.MaxIdleConnsPerHost = 100

	addonClient := addon.NewClient(addon.Options{
		HTTPClient: &http.Client{
			Timeout: cfg.AddonTimeout,
			Transport: transport.NewHeadersRoundTripper(otelhttp.NewTransport(t),
				transport.WithAccept("application/json"),
				transport.WithUserAgent(cfg.AddonUserAgent),
			),
		},
		Retry: addon.RetryPolicy{
			MaxAttempts: cfg.AddonMaxAttempts,
			BaseDelay:   cfg.AddonRetryBaseDelay,
		},
		MaxBodyBytes:        cfg.AddonMaxBodyBytes,
		StreamCacheTTL:      cfg.StreamCacheTTL,
		StreamCacheErrorTTL: cfg.StreamCacheErrorTTL,
	})

	n := notifier.New()
	addonRegistry := registry.New(addonClient, st, n.Addons, cfg.BootstrapAddons)

	hubService, err := internal.NewHubService(internal.HubServiceDeps{
		Registry:         addonRegistry,
		Preferences:      catalog.New(st, n.Catalogs),
		Aggregator:       streams.NewAggregator(addonRegistry, addonClient),
		Addons:           addonClient,
		IMDB:             imdb.NewStalkrIMDB(otelhttp.NewTransport(t.Clone())),
		Store:            st,
		Notifier:         n,
		MetadataCacheTTL: cfg.MetadataCacheTTL,
	})
	if err != nil {
		common.Log.Error("Failed to internal.NewHubService", "err", err)
		os.Exit(1)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := hubService.Warmup(ctx); err != nil {
			common.Log.Warn("Failed to internal.HubService.Warmup", "err", err)
		}
	}()

	app, err := internal.NewApp(hubService)
	if err != nil {
		common.Log.Error("Failed to internal.NewApp", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(slogchi.New(common.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{
			"Content-Type",
			"X-Requested-With",
			"Accept",
			"Accept-Language",
			"Accept-Encoding",
			"Content-Language",
			"Origin",
		},
		MaxAge: 300,
	}))
	app.Mount(r)

	// Listen
	srv := &http.Server{
		Addr:    cfg.ServerListenAddr,
		Handler: otelhttp.NewHandler(r, cfg.ServiceName),
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Warn("Failed to http.Server.Shutdown", "err", err)
	}

	if err := hubService.Close(ctx); err != nil {
		common.Log.Warn("Failed to internal.HubService.Close", "err", err)
	}

	if err := st.Close(); err != nil {
		common.Log.Warn("Failed to store.Badger.Close", "err", err)
	}

	shutdownInstrumentation(ctx)

	common.Log.Info("Bye!")

	if err := shutdownLogger(ctx); err != nil {
		common.Log.Warn("Failed to shutdown logger", "err", err)
	}
}
