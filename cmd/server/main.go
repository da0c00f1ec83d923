// Package main is the entry point of the NGMC chatbot API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/internal/repository"
	"ngmc-chatbot-go/internal/scraper"
	"ngmc-chatbot-go/internal/server"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/database"
	"ngmc-chatbot-go/pkg/events"
	"ngmc-chatbot-go/pkg/kafka"
	"ngmc-chatbot-go/pkg/llm"
	"ngmc-chatbot-go/pkg/log"
	"ngmc-chatbot-go/pkg/storage"
	"ngmc-chatbot-go/pkg/token"
)

const defaultConfigPath = "./configs/config.yaml"

func main() {
	// 1. Configuration
	configPath := os.Getenv("NGMC_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStart()

	// 3. Persistence
	var (
		mongoClient *mongo.Client
		mysqlDB     *gorm.DB
		store       *repository.Store
	)
	switch cfg.Database.Driver {
	case "mongo":
		mongoClient, err = database.OpenMongo(startCtx, cfg.Database.Mongo.URI)
		if err != nil {
			log.Fatal("failed to connect to MongoDB", err)
		}
		store = repository.NewMongoStore(mongoClient.Database(cfg.Database.Mongo.Database), cfg.Database.QueryTimeout)
	case "mysql":
		mysqlDB, err = database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatal("failed to connect to MySQL", err)
		}
		store = repository.NewGormStore(mysqlDB, cfg.Database.QueryTimeout)
	default:
		log.Warnf("using the in-memory store, data is lost on restart")
		store = repository.NewMemoryStore()
	}
	if err := store.EnsureIndexes(startCtx); err != nil {
		log.Fatal("failed to prepare the database schema", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = database.OpenRedis(startCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect to Redis", err)
		}
		capacity := max(cfg.Prompt.HistoryTurns, cfg.Prompt.RecentTurns)
		store = store.WithHistoryCache(repository.NewRedisHistoryCache(rdb, capacity, cfg.Redis.TTL))
	}

	// 4. Usage events
	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Brokers != "" {
		publisher = kafka.NewProducer(cfg.Kafka)
	}

	// 5. Reference corpus
	if cfg.Scraper.Enabled {
		var artifacts scraper.ArtifactStore
		if cfg.MinIO.Endpoint != "" {
			minioStore, err := storage.NewMinIOStore(startCtx, cfg.MinIO)
			if err != nil {
				log.Fatal("failed to initialize MinIO", err)
			}
			artifacts = minioStore
		}
		if _, err := scraper.New(cfg.Scraper, scraper.DefaultTargets, artifacts).Run(startCtx); err != nil {
			log.Fatal("failed to scrape college links", err)
		}
	}
	assembler := service.NewContextAssembler(cfg.Prompt, store.Conversations)
	if err := assembler.Reload(); err != nil {
		log.Fatal("failed to load the reference corpus", err)
	}

	// 6. Services
	jwtManager := token.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLHours)
	llmClient := llm.NewClient(cfg.LLM, publisher)
	userService := service.NewUserService(store.Users, jwtManager, cfg.Auth.APIKey)
	chatService := service.NewChatService(store.Chats, store.Conversations, assembler, llmClient, service.NewReplyParser(cfg.Prompt.DefaultTitle))
	if cfg.Auth.APIKey == "" {
		log.Warnf("auth.api_key is empty, every check-auth call will be rejected")
	}

	// 7. Router
	gin.SetMode(cfg.Server.Mode)
	r := server.NewRouter(cfg.Server.AllowedOrigins, server.Dependencies{
		UserService: userService,
		ChatService: chatService,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed", err)
	}

	if err := publisher.Close(); err != nil {
		log.Error("failed to close the usage event producer", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close Redis", err)
		}
	}
	if mongoClient != nil {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Error("failed to disconnect from MongoDB", err)
		}
	}
	if mysqlDB != nil {
		if err := database.CloseMySQL(mysqlDB); err != nil {
			log.Error("failed to close MySQL", err)
		}
	}
	log.Info("server stopped")
}
