package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cachepackage "auth-server/cache"
	"auth-server/config"
	"auth-server/database"
	"auth-server/grants"
	"auth-server/handlers"
	"auth-server/metrics"
	"auth-server/registry"
	"auth-server/store"

	"github.com/redis/go-redis/v9"
	"github.com/umakantv/go-utils/httpserver"
	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InitLogger configures the process logger
func InitLogger() {
	logger.Init(logger.LoggerConfig{
		CallerKey:  "file",
		TimeKey:    "timestamp",
		CallerSkip: 1,
	})
}

// bearerAuth checks the protocol host's bearer token. With no token
// configured, development accepts every caller and other environments none.
func bearerAuth(cfg config.Config) func(r *http.Request) (bool, httpserver.RequestAuth) {
	return func(r *http.Request) (bool, httpserver.RequestAuth) {
		if cfg.APIToken == "" {
			if cfg.IsDevelopment() {
				return true, httpserver.RequestAuth{Type: "none", Client: "development"}
			}
			return false, httpserver.RequestAuth{}
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIToken)) != 1 {
			return false, httpserver.RequestAuth{}
		}
		return true, httpserver.RequestAuth{
			Type:   "bearer",
			Client: "protocol-host",
		}
	}
}

// NewGrantStore builds the configured grant store. The returned close func
// releases anything the store owns beyond the shared database.
func NewGrantStore(cfg config.Config, sqlStore *store.SQLStore) (store.GrantStore, func(), error) {
	switch cfg.GrantStore {
	case config.GrantStoreRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:                 []string{cfg.RedisAddr},
			Password:              cfg.RedisPassword,
			DB:                    cfg.RedisDB,
			ContextTimeoutEnabled: true,
		})
		rs := store.NewRedisGrantStore(client, cfg.RedisKeyPrefix, cfg.GrantRetention,
			store.WithRedisTimeout(cfg.StoreTimeout))
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Error("Failed to close redis grant store", zap.Error(err))
			}
		}, nil
	case config.GrantStoreSQL:
		return sqlStore, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown grant store %q", config.ErrInvalidConfig, cfg.GrantStore)
	}
}

// NewRegistry builds the client registry, with the read-through cache when
// it is enabled
func NewRegistry(cfg config.Config, es store.EntityStore) (*registry.Registry, func(), error) {
	c, err := cachepackage.InitializeCache(cfg)
	if err != nil {
		return nil, nil, err
	}
	if c == nil {
		return registry.New(es), func() {}, nil
	}
	return registry.New(es, registry.WithCache(c, cfg.CacheTTL)), func() { c.Close() }, nil
}

func StartServer() {
	InitLogger()

	logger.Info("Starting Auth Server...")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Auth Server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Auth Server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	dbConn := database.InitializeDatabase(cfg)
	defer dbConn.Close()

	collector := metrics.New()

	if _, err := Prepare(ctx, cfg, dbConn, collector); err != nil {
		return err
	}

	sqlStore := store.NewSQLStore(dbConn, store.WithTimeout(cfg.StoreTimeout))

	reg, closeCache, err := NewRegistry(cfg, sqlStore)
	if err != nil {
		return err
	}
	defer closeCache()

	grantStore, closeGrants, err := NewGrantStore(cfg, sqlStore)
	if err != nil {
		return err
	}
	defer closeGrants()

	manager := grants.NewManager(grantStore, reg,
		grants.WithSweepBatchSize(cfg.SweepBatchSize),
		grants.WithMetrics(collector))

	clientHandler := handlers.NewOAuthClientHandler(reg)
	tokenHandler := handlers.NewOAuthTokenHandler(manager, reg)

	server := httpserver.New(cfg.Port, bearerAuth(cfg))
	server.Register(httpserver.Route{
		Name:     "HealthCheck",
		Method:   "GET",
		Path:     "/health",
		AuthType: "none",
	}, httpserver.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "auth-server"}`))
	}))

	server.Register(httpserver.Route{
		Name:     "Metrics",
		Method:   "GET",
		Path:     "/metrics",
		AuthType: "none",
	}, httpserver.HandlerFunc(func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		collector.Handler().ServeHTTP(w, r)
	}))

	routes := []struct {
		name, method, path string
		handler            func(ctx context.Context, w http.ResponseWriter, r *http.Request)
	}{
		{"GetClient", "GET", "/clients/{client_id}", clientHandler.GetClient},
		{"AuthenticateClient", "POST", "/clients/{client_id}/authenticate", clientHandler.AuthenticateClient},
		{"GetIdentityResource", "GET", "/resources/identity/{name}", clientHandler.GetIdentityResource},
		{"GetApiResource", "GET", "/resources/api/{name}", clientHandler.GetApiResource},
		{"IssueGrant", "POST", "/grants", tokenHandler.IssueGrant},
		{"ListGrants", "GET", "/grants", tokenHandler.ListGrants},
		{"RevokeGrants", "DELETE", "/grants", tokenHandler.RevokeGrants},
		{"ConsumeGrant", "POST", "/grants/{key}/consume", tokenHandler.ConsumeGrant},
		{"ValidateGrant", "GET", "/grants/{key}", tokenHandler.ValidateGrant},
		{"RevokeGrant", "DELETE", "/grants/{key}", tokenHandler.RevokeGrant},
	}
	for _, rt := range routes {
		server.Register(httpserver.Route{
			Name:     rt.name,
			Method:   rt.method,
			Path:     rt.path,
			AuthType: "bearer",
		}, httpserver.HandlerFunc(rt.handler))
	}

	logger.Info("Health check: GET /health")
	logger.Info("API endpoints: /clients, /resources, /grants")

	logger.Info("Auth Server starting",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("grant_store", cfg.GrantStore))

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grants.NewSweeper(manager, cfg.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		select {
		case err := <-serverErr:
			if err == nil {
				return errors.New("http server exited")
			}
			return fmt.Errorf("http server: %w", err)
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}
