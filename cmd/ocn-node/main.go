// Package main runs an Open Charging Network node.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/ocn-node/internal/chain"
	"github.com/R3E-Network/ocn-node/internal/config"
	"github.com/R3E-Network/ocn-node/internal/httpapi"
	"github.com/R3E-Network/ocn-node/internal/logging"
	"github.com/R3E-Network/ocn-node/internal/metrics"
	"github.com/R3E-Network/ocn-node/internal/middleware"
	"github.com/R3E-Network/ocn-node/internal/platform/migrations"
	"github.com/R3E-Network/ocn-node/internal/registry"
	"github.com/R3E-Network/ocn-node/internal/routing"
	"github.com/R3E-Network/ocn-node/internal/signing"
	"github.com/R3E-Network/ocn-node/internal/storage"
	"github.com/R3E-Network/ocn-node/internal/storage/memory"
	"github.com/R3E-Network/ocn-node/internal/storage/postgres"
	"github.com/R3E-Network/ocn-node/internal/storage/redis"
	"github.com/R3E-Network/ocn-node/internal/transport"
)

const serviceName = "ocn-node"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(serviceName, cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("node stopped")
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	stores, closers, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if cerr := c.Close(); cerr != nil {
				log.WithError(cerr).Warn("close storage")
			}
		}
	}()

	signer, err := signing.Load(ctx, signing.KeySource{
		PrivateKeyHex:    cfg.Wallet.PrivateKey,
		MasterKeySeedHex: cfg.Wallet.MasterKeySeed,
	}, stores.Wallet)
	if err != nil {
		return fmt.Errorf("load node key: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"address":    signer.Address(),
		"public_key": signer.PublicKeyHex(),
	}).Info("node key loaded")

	reg, err := newRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}

	router := routing.New(stores, reg, signer, cfg.NodeURL, log)

	retries := cfg.Transport.Retries
	if retries == 0 {
		retries = -1
	}
	client := transport.NewClient(transport.Config{
		Timeout:    cfg.Transport.Timeout,
		MaxRetries: retries,
		UserAgent:  serviceName,
	})

	m := metrics.New()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go limiter.StartCleanup(5*time.Minute, stopCleanup)

	if cfg.Admin.Secret == "" {
		log.Warn("OCN_ADMIN_SECRET not set; admin API rejects every request")
	}

	handler := httpapi.NewHandler(httpapi.Deps{
		Routing:        router,
		Transport:      client,
		Stores:         stores,
		Metrics:        m,
		Logger:         log,
		PeerKeys:       reg,
		PeerKeyTTL:     time.Minute,
		AdminSecret:    cfg.Admin.Secret,
		AllowedOrigins: cfg.Admin.AllowedOrigins,
		RateLimiter:    limiter,
		ServiceName:    serviceName,
	})

	// Redis expires proxy resources itself.
	var sweeper *routing.Sweeper
	if cfg.Storage.RedisURL == "" {
		sweeper = routing.NewSweeper(stores.ProxyResources, cfg.Proxy.TTL, cfg.Proxy.SweepSchedule, log)
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	// A forwarded request may wait for every retry of the outbound call.
	writeTimeout := cfg.Transport.Timeout*time.Duration(cfg.Transport.Retries+1) + 10*time.Second

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":     cfg.ListenAddr,
			"node_url": cfg.NodeURL,
			"storage":  cfg.Storage.Backend,
		}).Info("ocn node listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("sweeper stop")
		}
	}
	return nil
}

// openStores selects the storage backend. Proxy resources move to Redis
// when a Redis URL is configured.
func openStores(ctx context.Context, cfg *config.Config, log *logging.Logger) (storage.Stores, []io.Closer, error) {
	var (
		stores  storage.Stores
		closers []io.Closer
	)

	switch cfg.Storage.Backend {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return stores, nil, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, db)
		if err := migrations.Apply(ctx, db.DB); err != nil {
			return stores, closers, fmt.Errorf("apply migrations: %w", err)
		}
		stores = postgres.New(db).Stores()
		log.Info("using postgres storage")
	default:
		stores = memory.New().Stores()
		log.Warn("using in-memory storage; state is lost on restart")
	}

	if cfg.Storage.RedisURL != "" {
		proxies, err := redis.NewProxyStore(ctx, redis.Options{
			URL: cfg.Storage.RedisURL,
			TTL: cfg.Proxy.TTL,
		})
		if err != nil {
			return stores, closers, fmt.Errorf("open redis: %w", err)
		}
		closers = append(closers, proxies)
		stores.ProxyResources = proxies
		log.Info("proxy resources stored in redis")
	}

	return stores, closers, nil
}

func newRegistry(ctx context.Context, cfg *config.Config, log *logging.Logger) (registry.Registry, error) {
	if !cfg.UseChainRegistry() {
		log.Warn("NEO_RPC_URL not set; using a static registry, peer routing disabled")
		return registry.NewStaticRegistry(), nil
	}

	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.Chain.RPCURL,
		NetworkID: cfg.Chain.NetworkID,
		Timeout:   cfg.Chain.RegistryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}
	reg, err := registry.NewNeoRegistry(client, registry.Config{
		Contract: cfg.Chain.RegistryContract,
		Timeout:  cfg.Chain.RegistryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	// An unreachable RPC node is not fatal; lookups fail as transient until
	// it comes back.
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RegistryTimeout)
	defer cancel()
	entry := log.WithFields(map[string]interface{}{
		"contract": reg.Contract(),
		"network":  client.NetworkID(),
	})
	if height, err := client.GetBlockCount(probeCtx); err != nil {
		entry.WithError(err).Warn("neo rpc unreachable")
	} else {
		entry.WithField("height", height).Info("using neo registry")
	}
	return reg, nil
}
