// Command bot starts the media download bot and its admin HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mediafetch/internal/bot"
	"mediafetch/internal/extract"
	"mediafetch/internal/observability/logging"
	"mediafetch/internal/server"
	"mediafetch/internal/serverutil"
	"mediafetch/internal/session"
	"mediafetch/internal/storage"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	addr := flag.String("addr", "", "admin HTTP listen address")
	dataPath := flag.String("data", "", "path to the JSON datastore directory")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	queueDriver := flag.String("queue-driver", "", "session event queue driver (memory or redis)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the session queue")
	redisStream := flag.String("redis-stream", "", "Redis stream name for session events")
	extractorURL := flag.String("extractor-url", "", "base URL of the extraction sidecar")
	extractorToken := flag.String("extractor-token", "", "bearer token for the extraction sidecar")
	extractTimeout := flag.Duration("extract-timeout", 0, "ceiling for one extraction")
	workers := flag.Int("workers", 0, "session worker goroutines")
	maxExtractions := flag.Int64("max-extractions", 0, "maximum concurrent extractions")
	adminIDs := flag.String("admin-ids", "", "comma-separated admin user IDs")
	adminToken := flag.String("admin-token", "", "bearer token for the admin HTTP surface")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAFETCH_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAFETCH_LOG_FORMAT")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(storeOptions{
		driver:      firstNonEmpty(*storageDriver, os.Getenv("MEDIAFETCH_STORAGE_DRIVER")),
		dataPath:    firstNonEmpty(*dataPath, os.Getenv("MEDIAFETCH_DATA")),
		postgresDSN: firstNonEmpty(*postgresDSN, os.Getenv("MEDIAFETCH_POSTGRES_DSN")),
	}, logger)
	if err != nil {
		logger.Error("datastore initialisation failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("datastore close failed", "error", err)
		}
	}()

	queue, err := openQueue(queueOptions{
		driver: firstNonEmpty(*queueDriver, os.Getenv("MEDIAFETCH_QUEUE_DRIVER")),
		addr:   firstNonEmpty(*redisAddr, os.Getenv("MEDIAFETCH_REDIS_ADDR")),
		stream: firstNonEmpty(*redisStream, os.Getenv("MEDIAFETCH_REDIS_STREAM")),
	}, logger)
	if err != nil {
		logger.Error("session queue initialisation failed", "error", err)
		os.Exit(1)
	}

	resolver, err := openResolver(
		firstNonEmpty(*extractorURL, os.Getenv("MEDIAFETCH_EXTRACTOR_URL")),
		firstNonEmpty(*extractorToken, os.Getenv("MEDIAFETCH_EXTRACTOR_TOKEN")),
		logger,
	)
	if err != nil {
		logger.Error("extractor initialisation failed", "error", err)
		os.Exit(1)
	}

	processor := session.NewProcessor(session.ProcessorConfig{
		Resolver:       resolver,
		Queue:          queue,
		Workers:        *workers,
		MaxExtractions: *maxExtractions,
		Timeout:        *extractTimeout,
		Logger:         logging.WithComponent(logger, "session"),
	})
	processor.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := processor.Shutdown(shutdownCtx); err != nil {
			logger.Error("processor shutdown failed", "error", err)
		}
	}()

	transport := &logTransport{logger: logging.WithComponent(logger, "transport")}
	chatBot := bot.New(bot.Config{
		Store:     store,
		Transport: transport,
		Processor: processor,
		Queue:     queue,
		AdminIDs:  splitList(firstNonEmpty(*adminIDs, os.Getenv("MEDIAFETCH_ADMIN_IDS"))),
		Logger:    logging.WithComponent(logger, "bot"),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := chatBot.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	listenAddr := firstNonEmpty(*addr, os.Getenv("MEDIAFETCH_ADDR"))
	token := firstNonEmpty(*adminToken, os.Getenv("MEDIAFETCH_ADMIN_TOKEN"))
	if listenAddr != "" && token != "" {
		adminServer, err := server.New(server.Config{
			Store:       store,
			Broadcaster: bot.NewBroadcaster(store, transport, logger),
			AdminToken:  token,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("admin server initialisation failed", "error", err)
			os.Exit(1)
		}
		group.Go(func() error {
			logger.Info("admin HTTP surface listening", "addr", listenAddr)
			return serverutil.Run(groupCtx, serverutil.Config{
				Server: &http.Server{Addr: listenAddr, Handler: adminServer.Handler()},
			})
		})
	} else {
		logger.Info("admin HTTP surface disabled; set both addr and admin token to enable it")
	}

	logger.Info("bot started")
	if err := group.Wait(); err != nil {
		logger.Error("shutting down after failure", "error", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

type storeOptions struct {
	driver      string
	dataPath    string
	postgresDSN string
}

func openStore(opts storeOptions, logger *slog.Logger) (storage.Repository, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	switch driver {
	case "", "json":
		dataPath := opts.dataPath
		if dataPath == "" {
			dataPath = "data"
		}
		return storage.NewStorage(dataPath, storage.WithLogger(logging.WithComponent(logger, "storage")))
	case "postgres":
		if opts.postgresDSN == "" {
			return nil, errors.New("postgres driver requires a DSN")
		}
		return storage.NewPostgresStorage(storage.PostgresConfig{
			DSN:             opts.postgresDSN,
			ApplicationName: "mediafetch-bot",
		}, storage.WithLogger(logging.WithComponent(logger, "storage")))
	default:
		return nil, fmt.Errorf("unknown storage driver %q (use json or postgres)", opts.driver)
	}
}

type queueOptions struct {
	driver string
	addr   string
	stream string
}

func openQueue(opts queueOptions, logger *slog.Logger) (session.Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.driver))
	switch driver {
	case "", "memory":
		return session.NewMemoryQueue(0), nil
	case "redis":
		return session.NewRedisQueue(session.RedisQueueConfig{
			Addr:   opts.addr,
			Stream: opts.stream,
			Logger: logging.WithComponent(logger, "session-queue"),
		})
	default:
		return nil, fmt.Errorf("unknown queue driver %q (use memory or redis)", opts.driver)
	}
}

func openResolver(baseURL, token string, logger *slog.Logger) (extract.Resolver, error) {
	if baseURL == "" {
		logger.Warn("no extractor configured; downloads will fail until one is set")
		return extract.NoopResolver{}, nil
	}
	return extract.NewHTTPResolver(extract.HTTPResolverConfig{
		BaseURL: baseURL,
		Token:   token,
	})
}

// logTransport stands in until a chat platform adapter is wired. It makes
// local runs observable without any external dependency.
type logTransport struct {
	logger *slog.Logger
}

func (t *logTransport) SendMessage(ctx context.Context, userID, text string) (string, error) {
	t.logger.Info("send", "user", userID, "text", text)
	return fmt.Sprintf("log-%d", time.Now().UnixNano()), nil
}

func (t *logTransport) EditMessage(ctx context.Context, userID, messageID, text string) error {
	t.logger.Info("edit", "user", userID, "message", messageID, "text", text)
	return nil
}

func (t *logTransport) SendFile(ctx context.Context, userID, filePath, caption string) error {
	t.logger.Info("send file", "user", userID, "file", filePath, "caption", caption)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
