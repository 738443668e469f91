package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bookbarn/checkout/internal/checkout"
	"github.com/bookbarn/checkout/internal/config"
	kafkax "github.com/bookbarn/checkout/internal/kafka"
	"github.com/bookbarn/checkout/internal/metrics"
	"github.com/bookbarn/checkout/internal/payment"
	"github.com/bookbarn/checkout/internal/postgres"
	"github.com/bookbarn/checkout/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Dead-letter producer for poisoned callbacks
	dlq := kafkax.NewProducer(cfg.KafkaBrokers, payment.TopicCallbackDLQ, 256)
	dlq.Start(ctx)

	rec := &payment.Reconciler{
		Store:       &checkout.Repo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-reconciler",
		Metrics:     metrics.NewReconciler(),
	}

	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:     cfg.KafkaBrokers,
		Group:       cfg.ReconcilerGroup,
		Topic:       payment.TopicCallback,
		Workers:     cfg.ReconcilerWorkers,
		MaxAttempts: cfg.ReconcilerMaxAttempts,
		Backoff:     200 * time.Millisecond,
		Fatal:       payment.Fatal,
		DLQ:         dlq,
	})

	go func() {
		log.Printf("reconciler started: group=%s topic=%s workers=%d",
			cfg.ReconcilerGroup, payment.TopicCallback, cfg.ReconcilerWorkers)
		if err := cons.Start(ctx, rec.HandleMessage); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// health + metrics only
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: getenv("METRICS_ADDR", ":8082"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down reconciler...")
	cancel()
	time.Sleep(500 * time.Millisecond)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	dlq.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
