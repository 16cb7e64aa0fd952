package main

import (
	"context"
	"log"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"proMessenger/config"
	"proMessenger/pkg/api"
	"proMessenger/pkg/app"
	"proMessenger/pkg/middleware"
	"proMessenger/pkg/repository"
)

func init() {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file, using the environment only")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Unable to load configuration: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()

	session := middleware.NewSession(middleware.NewFileTokenStore(cfg.Server.TokenFile))

	client, err := repository.NewClient(cfg.Backend.APIBaseURL, session)
	if err != nil {
		log.Printf("Unable to create API client: %v", err)
		os.Exit(1)
	}
	storage := repository.NewStorage(client)

	var journal api.Journal
	if cfg.Database.URL != "" {
		db, err := config.SetupDatabase(ctx, cfg.Database.URL)
		if err != nil {
			log.Printf("Unable to connect to database: %v", err)
			os.Exit(1)
		}
		defer db.Close()

		orderJournal := repository.NewJournal(db)
		if err := orderJournal.Migrate(ctx); err != nil {
			log.Printf("Unable to prepare order journal: %v", err)
			os.Exit(1)
		}
		journal = orderJournal
	}

	guard := api.NewMemoryGuard()
	if cfg.Redis.URL != "" {
		rdb, err := config.SetupRedis(ctx, cfg.Redis.URL)
		if err != nil {
			log.Printf("Unable to connect to redis: %v", err)
			os.Exit(1)
		}
		defer rdb.Close()
		guard = api.NewRedisGuard(rdb, cfg.Redis.LockTTL)
	}

	limits := api.Limits{
		MaxFiles:    cfg.Attachments.MaxFiles,
		MaxFileSize: cfg.Attachments.MaxSize,
		MaxWidth:    cfg.Attachments.MaxWidth,
		MaxHeight:   cfg.Attachments.MaxHeight,
		Quality:     cfg.Attachments.Quality,
	}
	preparer := api.NewPreparer(limits, cfg.Attachments.PreviewDir)
	tray := api.NewTray(limits.MaxFiles)

	hub := api.NewHub(cfg.Server.PromptTimeout)
	channel := api.NewChannel(api.ChannelConfig{
		URL:               cfg.Backend.Socket(),
		ReconnectAttempts: cfg.Backend.ReconnectAttempts,
		ReconnectDelay:    cfg.Backend.ReconnectDelay,
	}, session)

	state := api.NewConversationState("")
	chatService := api.NewChatService(storage, state, tray, channel, hub)
	orders := api.NewOrderCoordinator(storage, chatService, guard, journal, hub)

	router := chi.NewRouter()

	server := app.NewServer(router, session, chatService, orders, preparer, hub, channel, app.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.Origins(),
	})

	if err = server.Run(); err != nil {
		log.Println(err)
	}
}
