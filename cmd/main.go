/**
 * @description
 * This is the main entry point for the cagnotte service. It is responsible
 * for initializing all components of the service, including configuration,
 * the backing store, the checkout client, message brokers, the scheduler,
 * the core application service, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Optional .env loading for local development.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/checkout: Client for the checkout provider.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/stupidpencil/Cascade-cagnotte/internal/api"
	"github.com/stupidpencil/Cascade-cagnotte/internal/app"
	"github.com/stupidpencil/Cascade-cagnotte/internal/config"
	"github.com/stupidpencil/Cascade-cagnotte/internal/store"
	"github.com/stupidpencil/Cascade-cagnotte/pkg/checkout"
	rmrabbit "github.com/stupidpencil/Cascade-cagnotte/pkg/rabbitmq"
)

func main() {
	// Load a local .env if present; real deployments use the environment.
	_ = godotenv.Load()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.OwnerTokenSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"owner token secret must be configured\" env=OWNER_TOKEN_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting cagnotte-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreBackend)

	// Initialize the data access layer (repository).
	var repository store.Repository
	switch cfg.StoreBackend {
	case "postgres":
		poolConfig, parseErr := pgxpool.ParseConfig(cfg.DatabaseURL)
		if parseErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", parseErr)
		}

		poolConfig.MaxConns = 50
		poolConfig.MinConns = 5
		poolConfig.MaxConnLifetime = 30 * time.Minute
		poolConfig.MaxConnIdleTime = 5 * time.Minute

		// Disable prepared statement caching to prevent conflicts
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, poolErr := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if poolErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", poolErr)
		}
		defer dbpool.Close()
		log.Println("level=info component=bootstrap msg=\"database connected\"")
		repository = store.NewPostgresRepository(dbpool)
	default:
		log.Println("level=info component=bootstrap msg=\"using in-memory store\"")
		repository = store.NewMemoryRepository()
	}

	// Initialize the RabbitMQ producer to publish pot lifecycle events. A
	// missing broker degrades to a no-op publisher rather than blocking boot.
	var producer rmrabbit.Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events disabled\"")
		producer = &rmrabbit.EventProducerFallback{}
	} else if p, prodErr := rmrabbit.NewEventProducer(cfg.RabbitMQURL); prodErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", prodErr)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer p.Close()
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		producer = p
	}

	// Initialize the checkout client. An empty base URL enables offline mode.
	checkoutClient := checkout.NewClient(cfg.CheckoutAPIBaseURL, cfg.CheckoutAPIKey)
	if checkoutClient.Offline() {
		log.Println("level=warn component=bootstrap msg=\"checkout provider not configured; running in offline mode\"")
	}

	// Initialize the core application service with its dependencies.
	potService := app.NewService(
		repository,
		checkoutClient,
		producer,
		cfg.OwnerTokenSecret,
		cfg.AppBaseURL,
	)

	// Wire up the payment status consumer when a broker is available.
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		paymentConsumer := app.NewPaymentStatusConsumer(potService)
		bindings := []rmrabbit.Binding{
			{Exchange: "payment.events", RoutingKey: "payment.captured", Handler: paymentConsumer},
			{Exchange: "payment.events", RoutingKey: "payment.failed", Handler: paymentConsumer},
		}
		consumer, consErr := rmrabbit.NewConsumer(cfg.RabbitMQURL, cfg.PaymentEventQueue, bindings)
		if consErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; payment events disabled\" err=%v", consErr)
		} else {
			defer consumer.Close()
			consumerCtx, cancelConsumer := context.WithCancel(context.Background())
			defer cancelConsumer()
			go func() {
				if err := consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
					log.Printf("level=error component=rabbitmq_consumer msg=\"consumer stopped\" err=%v", err)
				}
			}()
			log.Println("level=info component=bootstrap msg=\"payment consumer started\"")
		}
	}

	// Start the periodic due-settlement sweep.
	scheduler := app.NewScheduler()
	jobs := app.NewJobs(potService)
	if err := jobs.Register(scheduler, cfg.CycleCloseSchedule); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler registration failed\" err=%v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("level=info component=bootstrap msg=\"scheduler started\" schedule=%q", cfg.CycleCloseSchedule)

	// Initialize the API handlers and router.
	potHandlers := api.NewPotHandlers(potService)
	router := chi.NewRouter()
	router.Mount("/", api.PotRoutes(potHandlers, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
