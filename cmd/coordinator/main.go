package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/marker/internal/artifact"
	"github.com/dyluth/marker/internal/config"
	"github.com/dyluth/marker/internal/coordinator"
	"github.com/dyluth/marker/internal/events"
	"github.com/dyluth/marker/internal/transport"
	"github.com/dyluth/marker/internal/workflow"
)

func main() {
	// 1. Load marker.yml (REDIS_URL and MARKER_COHORT override it)
	configPath := os.Getenv("MARKER_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	// 2. Open the ledger and verify Redis connectivity
	ctx := context.Background()
	ledgerClient, err := cfg.OpenLedger(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer ledgerClient.Close()

	// 3. Open the artifact store
	store, err := cfg.OpenArtifacts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open artifact store: %v\n", err)
		os.Exit(1)
	}

	// 4. Domain events are optional; run without them if NATS is unreachable
	publisher, err := events.New(cfg.Events.NATSURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Domain events disabled: %v\n", err)
		publisher = &events.NoopPublisher{}
	}
	defer publisher.Close()

	// 5. Chat transport
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	bridge, err := transport.NewBridge(redisOpts, cfg.Cohort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create transport: %v\n", err)
		os.Exit(1)
	}
	defer bridge.Close()

	// 6. Workflow engine and coordinator
	fetcher := artifact.NewFetcher(0)
	if root := cfg.Workflow.LocalAttachments; root != "" {
		fetcher.AllowLocalFiles(root)
		fmt.Printf("Accepting file:// attachments under %s\n", root)
	}
	engine := workflow.New(workflow.Config{
		Ledger:        ledgerClient,
		Artifacts:     store,
		Fetcher:       fetcher,
		Publisher:     publisher,
		DoneToken:     cfg.Workflow.DoneToken,
		PeriodChoices: cfg.Workflow.PeriodChoices,
	})
	coord := coordinator.New(coordinator.Config{
		Store:       ledgerClient,
		Engine:      engine,
		Transport:   bridge,
		Publisher:   publisher,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		HealthAddr:  cfg.Health.Addr,
		BotHandle:   cfg.BotHandle,
	})

	fmt.Printf("Coordinator starting for cohort '%s'\n", cfg.Cohort)

	// 7. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- coord.Run(runCtx)
	}()

	// 8. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Coordinator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Coordinator stopped")
}
