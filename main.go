package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	appBot "stockinfo-bot/bot"
	"stockinfo-bot/internal/approval"
	"stockinfo-bot/internal/auth"
	"stockinfo-bot/internal/config"
	"stockinfo-bot/internal/database"
	"stockinfo-bot/internal/handlers"
	"stockinfo-bot/internal/locales"
	"stockinfo-bot/internal/stockapi"

	"github.com/benbjohnson/clock"
	sentry "github.com/getsentry/sentry-go"
	telego "github.com/mymmrac/telego"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize localization bundle
	locales.Init(cfg.DefaultLanguage)

	// Initialize Sentry (if DSN is provided)
	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     cfg.Version,
		Debug:       cfg.Debug,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Creating context for application lifecycle
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB
	client, db, err := database.ConnectDB(ctx, cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}
	defer func() {
		if err = client.Disconnect(context.Background()); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
			sentry.CaptureException(err)
		} else {
			log.Println("Disconnected from MongoDB.")
		}
	}()

	userRepo := database.NewMongoUserRepository(db)
	actionLogger := database.NewMongoLogger(db)

	// Create the raw telego bot instance
	var bot *telego.Bot
	if cfg.Debug {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultDebugLogger())
	} else {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, false))
	}
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create telego bot: %v", err)
	}

	// Admin approval workflow
	approvalManager, err := approval.NewManager(bot, userRepo, cfg.AdminIDs)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create approval manager: %v", err)
	}

	// Access gate in front of every data command
	gate, err := auth.NewGate(userRepo, approvalManager, cfg.AdminIDs, cfg.MaxRequestsPerDay, clock.New())
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create access gate: %v", err)
	}

	// Market data collaborator
	marketClient := stockapi.NewClient(cfg.AlphaVantageKey)

	// Command handlers
	messageHandler := handlers.NewMessageHandler(
		gate,
		approvalManager,
		marketClient,
		userRepo,
		actionLogger,
		cfg.Version,
	)

	// Long polling update stream
	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to start long polling: %v", err)
	}

	b, err := appBot.New(appBot.Deps{
		Bot:         bot,
		UpdatesChan: updates,
		Handler:     messageHandler,
		Debug:       cfg.Debug,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// Start the bot's processing loop in a separate goroutine
	go b.Start(ctx)

	log.Println("Bot is up! 🚀")

	// Wait for context cancellation (e.g., SIGINT, SIGTERM)
	<-ctx.Done()
	log.Println("Bot shutdown complete.")
}
