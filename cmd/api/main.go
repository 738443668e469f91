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

	"github.com/bookbarn/checkout/internal/cart"
	"github.com/bookbarn/checkout/internal/checkout"
	"github.com/bookbarn/checkout/internal/config"
	"github.com/bookbarn/checkout/internal/httpx"
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
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for the callback queue
	prod := kafkax.NewProducer(cfg.KafkaBrokers, payment.TopicCallback, 1024)
	prod.Start(ctx)

	// Service & handler
	svc := &checkout.Service{
		Store: &checkout.Repo{DB: db},
		Cart:  &cart.RedisStore{RDB: rdb},
	}
	router := httpx.NewRouter()
	ch := &httpx.CheckoutHandler{
		Service:  svc,
		Producer: prod,
		Redis:    rdb,
		Name:     cfg.ServiceName,
		Metrics:  metrics.NewCheckout(),
	}
	ch.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
