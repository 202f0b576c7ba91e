package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/notify"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"chat-relay/transport/ws"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer (database close, index
// close, worker shutdown) executes before the process exits.
func run() error {
	// 1. Configuration & Logger (.env is optional, real env wins)
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := newLogger(config.LogLevel)

	// 2. Durable store (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Full-text index (Bluge)
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = writer.Close()
	}()

	// 4. Repositories & Runtime
	roomRepository := repositories.NewRoomRepository(db)
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	receiptRepository := repositories.NewReceiptRepository(db)
	searchRepository := repositories.NewSearchRepository(writer, log)

	registry := runtime.NewRegistry()
	presence := runtime.NewPresence(log, registry, config.SinkTimeout)

	// 5. Moderation
	words, err := moderation.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	moderator, err := moderation.NewModerator(words, config.CharacterReplacement)
	if err != nil {
		return fmt.Errorf("moderator setup failed: %w", err)
	}

	// 6. Offline notification fallback
	var notifier contract.INotifier
	if config.NatsURL != "" {
		natsNotifier, err := notify.NewNatsNotifier(log, config.NatsURL)
		if err != nil {
			return fmt.Errorf("NATS connection failed: %w", err)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
	} else {
		notifier = notify.NewNoopNotifier(log)
	}

	// 7. Services
	indexQueue := make(chan domain.Message, config.BufferSize)
	messageService := services.NewMessageService(log,
		roomRepository, messageRepository, receiptRepository, searchRepository,
		registry, notifier, moderator, indexQueue,
		config.SinkTimeout, config.MaxContentLength, config.SearchLimit)
	receiptService := services.NewReceiptService(log,
		messageRepository, receiptRepository, roomRepository, presence)

	// 8. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 9. Supervised background workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		workers.NewIndexerWorker(log, indexQueue, searchRepository),
		workers.NewHeartbeatWorker(log, config.MetricInterval, registry),
	)
	sup.Run(ctx)

	// 10. HTTP/Websocket server
	handler := ws.NewHandler(log, ws.Config{
		HeartbeatInterval: config.HeartbeatInterval,
		PongTimeout:       config.PongTimeout,
		SinkTimeout:       config.SinkTimeout,
		SendRate:          config.SendRate,
		SendBurst:         config.SendBurst,
	}, presence, registry, auth.NewVerifier(), messageService, receiptService, roomRepository)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: router}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 11. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 12. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown was not clean", "err", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
