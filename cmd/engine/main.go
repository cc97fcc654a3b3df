package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/api"
	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/db"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/internal/mempool"
	"github.com/rawblock/coinjoin-engine/internal/scanner"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
)

func main() {
	log.Println("Starting coinjoin-engine bitcoin analysis gateway...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbUrl := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbUrl)
	if err != nil {
		log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting forensics data. Error: %v", err)
	} else {
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Printf("Warning: DB schema init failed: %v", err)
		}
	}

	// Setup WebSocket Hub (live ops feed: CoinJoin + watchlist alerts)
	wsHub := api.NewHub()
	go wsHub.Run()

	// Assemble the endpoint pool / failover driver / chainservice from
	// the env-key table spec.md §6 names (MEMPOOL_LOCAL_URL and friends).
	upstreamCfg := upstream.LoadConfigFromEnv()
	pool := upstream.NewPool(upstreamCfg)
	driver := upstream.NewDriver(pool, upstreamCfg)
	store := cache.NewMemoryStore()
	chain := chainservice.NewService(driver, store, upstreamCfg)

	watchlist := heuristics.NewAddressWatchlist()

	// Historical Block Scanner, broadcasting CoinJoin detections over the
	// same websocket feed the live poller uses.
	blockScanner := scanner.NewBlockScanner(chain, dbConn, watchlist, api.BroadcastCoinJoinAlert(wsHub))

	// Live mempool poller.
	poller := mempool.NewPoller(chain, wsHub, dbConn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx)

	if dbConn != nil {
		go runEndpointSnapshotLoop(ctx, pool, dbConn)
	}

	r := api.SetupRouter(pool, chain, watchlist, dbConn, wsHub, blockScanner)

	port := getEnvOrDefault("PORT", "5339")

	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runEndpointSnapshotLoop persists a health sample of every configured
// endpoint every minute, for the /metrics/mempool historical view.
func runEndpointSnapshotLoop(ctx context.Context, pool *upstream.Pool, dbConn *db.PostgresStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dbConn.SaveEndpointSnapshots(ctx, pool.Snapshots()); err != nil {
				log.Printf("Warning: failed to persist endpoint health snapshots: %v", err)
			}
		}
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
