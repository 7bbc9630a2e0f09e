package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/herbalyze/herbalyze/internal/api"
	"github.com/herbalyze/herbalyze/internal/config"
	"github.com/herbalyze/herbalyze/internal/consent"
	"github.com/herbalyze/herbalyze/internal/database"
	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/internal/records"
	"github.com/herbalyze/herbalyze/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("Failed to run migrations: %v", err)
	}
	cancelMigrate()

	// Redis backs the session store and the optional scan cache.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	sessions := session.NewRedisStore(redisClient, "herbalyze", time.Duration(cfg.SessionTTL)*time.Hour)

	// Ledger gateway
	gateway, err := ledger.New(ledger.Options{
		RPCURL:             cfg.LedgerRPCURL,
		ContractAddress:    cfg.ContractAddress,
		KeystoreDir:        cfg.KeystoreDir,
		KeystorePassphrase: cfg.KeystorePassphrase,
	})
	if err != nil {
		log.Fatalf("Failed to initialize ledger gateway: %v", err)
	}
	if cfg.KeystoreDir == "" {
		log.Println("No keystore configured; ledger writes will be unavailable")
	}

	// Domain services
	consentManager := consent.NewManager(gateway)
	scanCache := records.NewScanCache(redisClient, "herbalyze",
		time.Duration(cfg.ScanCacheTTL)*time.Minute, cfg.ScanCacheEnabled)
	scanner := records.NewScanner(gateway, scanCache)
	recordService := records.NewService(consentManager, gateway, scanner)

	// HTTP layer
	handlers := api.NewHandlers(cfg, db, consentManager, recordService, gateway, sessions)
	router := api.NewRouter(cfg, handlers)

	// Start pprof server if enabled
	if cfg.EnablePprof {
		go func() {
			pprofAddr := fmt.Sprintf("localhost:%d", cfg.PprofPort)
			log.Printf("Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Herbalyze API server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited properly")
}
