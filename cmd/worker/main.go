package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/campaign-engine/internal/app"
	"github.com/ignite/campaign-engine/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single pass and exit")
	flag.Parse()

	log.Println("Starting campaign engine worker...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer a.Close()

	poller := a.NewPoller()

	if *once {
		poller.RunOnce(ctx)
		st := poller.Stats()
		log.Printf("Pass done: %d tenants, %d deliveries", st.Tenants, st.Deliveries)
		if st.Errors > 0 {
			log.Printf("Pass failed: %s", st.LastError)
			a.Close()
			os.Exit(1)
		}
		return
	}

	poller.Start()
	log.Printf("Worker %s running (poll every %s, up to %d batches per pass)",
		poller.WorkerID(), cfg.Engine.PollInterval(), cfg.Engine.BatchLimit)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	poller.Stop()
	log.Println("Worker stopped")
}
