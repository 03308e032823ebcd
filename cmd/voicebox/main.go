package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"voicebox/internal/adminauth"
	"voicebox/internal/app"
	"voicebox/internal/config"
	"voicebox/internal/episodes"
	"voicebox/internal/notify"
	"voicebox/internal/platform"
	"voicebox/internal/ratelimit"
	"voicebox/internal/server"
	"voicebox/internal/util"
	"voicebox/pkg/domain"
	"voicebox/pkg/media"
	"voicebox/pkg/queue"
	"voicebox/pkg/speech"
	"voicebox/pkg/storage"
	"voicebox/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		fatal("failed to init store", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	notifyQueue, err := queue.NewRedisNotificationQueue(redisClient, queue.Config{
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
	})
	if err != nil {
		fatal("failed to init notification queue", err)
	}

	var publisher storage.Publisher
	if cfg.StorageEndpoint != "" {
		publisher, err = storage.NewMinioPublisher(
			cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey,
			cfg.StorageBucket, cfg.PullBaseURL, cfg.StorageUseSSL)
		if err != nil {
			fatal("failed to init object storage", err)
		}
	}

	var synthesizer speech.Synthesizer
	if cfg.OpenAIAPIKey != "" {
		synthesizer = speech.NewOpenAISynthesizer(cfg.OpenAIAPIKey, "", cfg.TTSModel, cfg.TTSVoice)
	}

	whatsapp := platform.NewWhatsAppClient(cfg.GraphAPIToken, cfg.WhatsAppPhoneID, "")
	telegram := platform.NewTelegramClient(cfg.TelegramBotToken, "")

	transcoder := media.NewFFmpeg(cfg.FFmpegPath, time.Duration(cfg.FFmpegTimeoutSeconds)*time.Second)

	appCore, err := app.New(app.Config{
		Store:       st,
		Publisher:   publisher,
		Transcoder:  transcoder,
		Synthesizer: synthesizer,
		Queue:       notifyQueue,
		MediaFetchers: map[domain.Platform]app.MediaFetcher{
			domain.PlatformWhatsApp: whatsapp,
			domain.PlatformTelegram: telegram,
		},
		AdminChatID: cfg.AdminChatID,
		Logger:      logger,
	})
	if err != nil {
		fatal("failed to init app", err)
	}

	auth, err := adminauth.New(adminauth.Options{
		PasswordHash: cfg.AdminPasswordHash,
		Secret:       cfg.AdminJWTSecret,
	})
	if err != nil {
		fatal("failed to init admin auth", err)
	}

	rateLimit := cfg.RateLimitPerMinute
	if rateLimit <= 0 {
		rateLimit = 120
	}
	newLimiter := func(name string) *ratelimit.FixedWindowLimiter {
		limiter, err := ratelimit.NewFixedWindowLimiter(
			redisClient, "voicebox:ratelimit:"+name, rateLimit, time.Minute)
		if err != nil {
			fatal("failed to init "+name+" limiter", err)
		}
		return limiter
	}

	episodeService := episodes.NewService(st)

	httpServer, err := server.New(server.Config{
		App:             appCore,
		Episodes:        episodeService,
		Auth:            auth,
		Callbacks:       telegram,
		MetaVerifyToken: cfg.MetaVerifyToken,
		WebhookLimiter:  newLimiter("webhook"),
		OutboxLimiter:   newLimiter("outbox"),
		AdminLimiter:    newLimiter("admin"),
	})
	if err != nil {
		fatal("failed to init server", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr: addr,
		Handler: util.WithRequestID(
			util.WithRequestLog("voicebox", httpServer.Router())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	worker := notify.NewWorker(notifyQueue, map[domain.Platform]notify.Sender{
		domain.PlatformWhatsApp: whatsapp,
		domain.PlatformTelegram: telegram,
	}, cfg.QueueConcurrency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("voicebox server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if cfg.EpisodesFeedURL != "" {
		scraper := episodes.NewScraper(st, cfg.EpisodesFeedURL,
			time.Duration(cfg.EpisodesRefreshIntervalMins)*time.Minute, logger)
		g.Go(func() error {
			err := scraper.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		fatal("shutdown with error", err)
	}
	slog.Info("voicebox stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
