// Command fhe-worker runs session jobs dispatched by fhe-sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luxfi/fhe-sessions/internal/queue"
	"github.com/luxfi/fhe-sessions/internal/storage"
	"github.com/luxfi/fhe-sessions/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	hostname, _ := os.Hostname()

	var (
		numWorkers    = flag.Int("workers", 4, "number of worker goroutines")
		redisAddr     = flag.String("redis", "localhost:6379", "Redis address")
		redisDB       = flag.Int("redis-db", 0, "Redis database number")
		queueName     = flag.String("queue", "default", "queue name")
		storagePath   = flag.String("storage", "/tmp/fhe-sessions", "result ciphertext storage path")
		metricsAddr   = flag.String("metrics", ":9090", "metrics server address")
		keyGenTimeout = flag.Duration("keygen-timeout", 0, "per-session key generation deadline (0 disables)")
		name          = flag.String("name", hostname, "worker name recorded in jobs")
	)
	flag.Parse()

	log.Printf("FHE session worker starting...")
	log.Printf("  Workers: %d", *numWorkers)
	log.Printf("  Redis: %s", *redisAddr)
	log.Printf("  Storage: %s", *storagePath)
	log.Printf("  Metrics: %s", *metricsAddr)

	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr: *redisAddr,
		DB:   *redisDB,
	}, *queueName)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	store, err := storage.NewFileStorage(*storagePath)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}

	pool := worker.NewPool(worker.Config{
		Name:          *name,
		Workers:       *numWorkers,
		Queue:         q,
		Storage:       store,
		KeyGenTimeout: *keyGenTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	server := &http.Server{
		Addr:    *metricsAddr,
		Handler: pool.Handler(),
	}

	go func() {
		log.Printf("Metrics server starting on %s", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("Received signal: %s", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	if err := pool.Stop(30 * time.Second); err != nil {
		log.Printf("Worker pool shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
