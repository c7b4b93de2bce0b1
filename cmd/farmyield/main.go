package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/farmyield/backend/internal/ipfs"
	"github.com/farmyield/backend/internal/ledger"
	"github.com/farmyield/backend/internal/reputation"
	"github.com/farmyield/backend/internal/reward"
	"github.com/farmyield/backend/internal/server"
	"github.com/farmyield/backend/internal/store"
	"github.com/farmyield/backend/internal/verify"
)

func main() {
	listenAddr := flag.String("listen", envOr("FARMYIELD_LISTEN", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", envOr("FARMYIELD_DB_PATH", "./farmyield.db"), "SQLite database path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	db, err := store.NewSQLiteStore(ctx, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// The treasury keypair may be given as a file path or inline (a JSON
	// byte array or a base58 string). Without it the API still runs but
	// rewards stay queued.
	keypair, err := loadTreasuryKeypair()
	if err != nil {
		log.Fatalf("Failed to load treasury keypair: %v", err)
	}

	cfg := server.Config{
		ListenAddr:         *listenAddr,
		DBPath:             *dbPath,
		TreasuryServiceURL: envOr("FARMYIELD_TREASURY_URL", "http://localhost:8899"),
		TreasuryConfigured: keypair != nil,
		IPFSAPIURL:         os.Getenv("FARMYIELD_IPFS_API_URL"),
		IPFSGatewayURL:     envOr("FARMYIELD_IPFS_GATEWAY_URL", "https://ipfs.io"),
		RequireSignedVotes: os.Getenv("FARMYIELD_REQUIRE_SIGNED_VOTES") == "true",
	}

	weights := reputation.DefaultWeights()
	verifyEngine := verify.NewEngine(db, verify.DefaultConfig(), weights, logger)
	ipfsClient := ipfs.NewClient(cfg.IPFSAPIURL, cfg.IPFSGatewayURL)
	if !ipfsClient.Configured() {
		log.Println("WARNING: IPFS API not configured -- reports will be accepted without images")
	}

	srv := server.NewServer(cfg, db, verifyEngine, ipfsClient, logger)
	defer srv.Stop()

	if keypair != nil {
		treasury := ledger.NewClient(cfg.TreasuryServiceURL, keypair)
		rewardEngine := reward.NewEngine(db, treasury, weights, 5, logger)
		go func() {
			if err := rewardEngine.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("ERROR: reward engine: %v", err)
			}
		}()
		log.Printf("Reward engine started (treasury %s)", treasury.TreasuryAddress())
	} else {
		log.Println("WARNING: treasury keypair not set -- rewards will queue but not pay out")
	}

	httpSrv := &http.Server{
		Addr:    *listenAddr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Printf("Listening on %s", *listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}

// loadTreasuryKeypair resolves FARMYIELD_TREASURY_KEYPAIR as either a path
// to a keypair file or the keypair material itself. An unset variable is
// not an error; it just disables payouts.
func loadTreasuryKeypair() (*ledger.Keypair, error) {
	raw := os.Getenv("FARMYIELD_TREASURY_KEYPAIR")
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") || !fileExists(raw) {
		return ledger.ParseKeypair(raw)
	}
	return ledger.LoadKeypairFile(raw)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
