// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PickupDesk/internal/api"
	"github.com/Corphon/PickupDesk/internal/auth"
	"github.com/Corphon/PickupDesk/internal/config"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/utils"
)

const shutdownTimeout = 30 * time.Second

// App 应用程序结构
type App struct {
	Config   *config.Config
	Logger   *utils.Logger
	Store    storage.ItemStore
	Metrics  *utils.RedemptionMetrics
	Sessions *api.TerminalSessionManager
	Router   *gin.Engine

	limiter *api.RateLimiter
	server  *http.Server
}

// New wires the store, services and router from cfg
func New(cfg *config.Config, logger *utils.Logger) (*App, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.SeedFile != "" {
		n, err := storage.LoadSeed(context.Background(), store, cfg.SeedFile)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("加载种子数据失败: %w", err)
		}
		logger.Info("seed loaded", map[string]interface{}{"file": cfg.SeedFile, "items": n})
	}

	metrics := utils.NewRedemptionMetrics(nil, logger)
	sessions := api.NewTerminalSessionManager(logger)
	limiter := api.NewRateLimiter()

	router := api.SetupRouter(api.RouterDeps{
		Verifier: services.NewRedemptionVerifier(store, services.VerifierOptions{
			MaxAge:  cfg.VoucherMaxAge,
			Logger:  logger,
			Metrics: metrics,
		}),
		Issuer:          services.NewIssueService(store),
		Items:           services.NewItemService(store),
		Metrics:         metrics,
		Sessions:        sessions,
		Limiter:         limiter,
		TokenConfig:     TokenConfig(cfg),
		Logger:          logger,
		StoreDriver:     cfg.StoreDriver,
		RedeemRateLimit: cfg.RedeemRateLimit,
		VerifyTimeout:   cfg.VerifyTimeout,
		ResumeCooldown:  cfg.ResumeCooldown,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Metrics:  metrics,
		Sessions: sessions,
		Router:   router,
		limiter:  limiter,
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// OpenStore builds the item store named by STORE_DRIVER, wrapped so that only
// state machine edges reach it
func OpenStore(cfg *config.Config) (storage.ItemStore, error) {
	var (
		store storage.ItemStore
		err   error
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		store = storage.NewMemoryStore()
	case config.StoreFile:
		store, err = storage.NewFileStore(cfg.DataDir)
	case config.StoreSQLite:
		dsn := cfg.DatabaseDSN
		if dsn == "" {
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据目录失败: %w", err)
			}
			dsn = "file:" + filepath.Join(cfg.DataDir, "pickupdesk.db")
		}
		store, err = storage.OpenSQLStore(config.StoreSQLite, dsn)
	case config.StorePostgres:
		store, err = storage.OpenSQLStore(config.StorePostgres, cfg.DatabaseDSN)
	default:
		err = fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	return storage.Guarded(store), nil
}

// TokenConfig builds the operator JWT settings. An empty secret yields a config
// every token fails against.
func TokenConfig(cfg *config.Config) *auth.TokenConfig {
	return &auth.TokenConfig{
		Secret:     []byte(cfg.AuthSecretKey),
		Expiration: cfg.AuthTokenTTL,
	}
}

// Handler exposes the router, for tests and embedding
func (a *App) Handler() http.Handler {
	return a.Router
}

// Run serves HTTP until ctx ends, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	a.Metrics.StartMetricsCollection(metricsCtx, 5*time.Minute)

	errc := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening", map[string]interface{}{
			"addr":  a.server.Addr,
			"store": a.Config.StoreDriver,
		})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		// the listener failed before any shutdown was asked for
		a.Close()
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	a.Sessions.Shutdown()
	err := a.server.Shutdown(shutdownCtx)
	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	<-errc
	return err
}

// Close releases the store and background workers
func (a *App) Close() error {
	a.limiter.Stop()
	return a.Store.Close()
}
