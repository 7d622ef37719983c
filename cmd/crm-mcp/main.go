// cmd/crm-mcp is the entry point for the CRM MCP (Model Context Protocol)
// server. It exposes CRM read tools over line-delimited JSON-RPC 2.0 on
// stdio, with an entity-resolution cache between the tools and the CRM so
// repeated lookups of the same owners, customers, and divisions stay local.
//
// Startup sequence:
//  1. Load configuration from environment variables (plus optional YAML file).
//  2. Build the OAuth2 client-credentials HTTP client.
//  3. Create the CRM client and verify the token with a WhoAmI call.
//  4. Open the cache persistence backend and load the entity cache.
//  5. Create the MCP server and serve JSON-RPC 2.0 from stdin to stdout.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/actumdigital/crm-mcp/internal/api/mcp"
	"github.com/actumdigital/crm-mcp/internal/auth"
	"github.com/actumdigital/crm-mcp/internal/config"
	"github.com/actumdigital/crm-mcp/internal/crm"
	"github.com/actumdigital/crm-mcp/internal/entitycache"
	"github.com/actumdigital/crm-mcp/internal/entitycache/persist"
)

// openStore creates the cache persistence backend selected by configuration.
func openStore(cfg config.CacheConfig) (persist.Store, error) {
	if cfg.Backend == "sqlite" {
		return persist.NewSQLiteStore(cfg.Path)
	}
	return persist.NewFileStore(cfg.Path)
}

func main() {
	// Redirect the default logger to stderr so that any incidental log calls
	// (e.g. from imported packages) never pollute the stdout JSON-RPC stream.
	log.SetOutput(os.Stderr)
	log.SetPrefix("crm-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	// Set up a root context that is cancelled on SIGINT / SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	// The OAuth2 client acquires and refreshes tokens on its own; the CRM
	// client only sees an http.Client with a bounded per-request timeout.
	httpClient := auth.NewHTTPClient(ctx, auth.Credentials{
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.CRM.ClientSecret,
		TenantID:     cfg.CRM.TenantID,
		Resource:     cfg.CRM.Resource,
	}, time.Duration(cfg.HTTP.TimeoutSeconds)*time.Second)

	client := crm.NewClient(httpClient, cfg.CRM.Resource,
		crm.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
	)

	// Verify credentials before accepting any tool call.
	userID, err := client.WhoAmI(ctx)
	if err != nil {
		log.Fatalf("failed to verify CRM credentials: %v", err)
	}
	log.Printf("current user ID: %s", userID)

	store, err := openStore(cfg.Cache)
	if err != nil {
		log.Fatalf("failed to open cache store at %q: %v", cfg.Cache.Path, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("cache store close error: %v", err)
		}
	}()

	cache := entitycache.New(client, client, store,
		entitycache.WithExpiry(time.Duration(cfg.Cache.ExpiryHours)*time.Hour),
	)

	srv := mcp.NewServer(client, cache)
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	log.Println("starting CRM MCP server...")
	if err := transport.Serve(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server error: %v", err)
	}
}
