package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/emreis/sanalpos/binlookup"
	"github.com/emreis/sanalpos/handler"
	"github.com/emreis/sanalpos/infra/config"
	"github.com/emreis/sanalpos/infra/crypto"
	"github.com/emreis/sanalpos/infra/logger"
	"github.com/emreis/sanalpos/infra/middle"
	"github.com/emreis/sanalpos/infra/opensearch"
	"github.com/emreis/sanalpos/orchestrator"
	"github.com/emreis/sanalpos/provider"
	"github.com/emreis/sanalpos/router"
	"github.com/emreis/sanalpos/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("no .env file, reading environment directly")
	}

	cfg := config.GetAppConfig()
	if cfg.EncryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY is required")
	}

	var osClient *opensearch.Client
	if cfg.EnableLogging && cfg.OpenSearchURL != "" {
		client, err := opensearch.NewClient(cfg)
		if err != nil {
			log.Printf("opensearch logging unavailable: %v", err)
		} else {
			osClient = client
		}
	}
	logger.Init(osClient)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	cancel()
	if err != nil {
		log.Fatalf("mongodb connect failed: %v", err)
	}
	db := mongoClient.Database(cfg.MongoDatabase)

	cipher := crypto.NewFieldCipher(cfg.EncryptionKey)
	terminals := store.NewMongoTerminalStore(db, cipher)
	transactions := store.NewMongoTransactionStore(db, cipher)

	bins := binlookup.NewCache(binlookup.NewHTTPResolver(cfg.BinAPIURL))

	orch := orchestrator.New(terminals, transactions, bins, provider.DefaultRegistry, cfg.CallbackBaseURL)

	validate := validator.New()
	payments := handler.NewPaymentHandler(orch, validate)
	public := handler.NewPublicHandler(orch)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.PanicRecoveryMiddleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CorsOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Api-Key", "X-Gateway-User"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Routes(r, payments, public)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api listening", logger.LogContext{Fields: map[string]any{"port": cfg.Port}})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err.Error())
		}
	}()

	<-shutdownCtx.Done()
	logger.Info("shutting down gracefully")

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	_ = mongoClient.Disconnect(ctx)
}
