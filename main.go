package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mind-ease/api"
	"mind-ease/config"
	"mind-ease/dashboard"
	"mind-ease/pomodoro"
	"mind-ease/schedule"
	"mind-ease/storage"
	"mind-ease/stream"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tables, err := storage.New(cfg.StorageConnectionString, storage.TableNames{
		Tasks:    cfg.TasksTable,
		Sessions: cfg.SessionsTable,
		Users:    cfg.UsersTable,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	cache := storage.NewCache(tables, rc, cfg.CacheTTL)

	var outbox *storage.Outbox
	if cfg.EventsQueue != "" {
		outbox, err = storage.NewOutbox(cfg.StorageConnectionString, cfg.EventsQueue, storage.OutboxConfig{
			Logger: logger.WithField("component", "outbox"),
		})
		if err != nil {
			logger.Fatalf("outbox: %v", err)
		}
	}

	runner := schedule.NewLive(clockwork.NewRealClock())
	deps := dashboard.Deps{
		Tasks:    cache,
		Profiles: cache,
		Sessions: tables,
		Runner:   runner,
		Events:   stream.NewPublisher(rc, logger.WithField("component", "stream")),
		Durations: pomodoro.Durations{
			Focus:      time.Duration(cfg.FocusMinutes) * time.Minute,
			ShortBreak: time.Duration(cfg.ShortBreakMinutes) * time.Minute,
			LongBreak:  time.Duration(cfg.LongBreakMinutes) * time.Minute,
		},
		AlertPollInterval: cfg.AlertPollInterval,
		AlertDebounce:     cfg.AlertDebounce,
		RemoteTimeout:     cfg.RemoteTimeout,
		Logger:            logger.WithField("component", "dashboard"),
	}
	// A nil *storage.Outbox must not become a non-nil interface.
	if outbox != nil {
		deps.Outbox = outbox
	}
	registry := dashboard.NewRegistry(deps)

	var auth api.Authenticator
	if cfg.Auth0TestMode {
		auth = api.NewTestAuth([]byte(cfg.TestJWTSecret), cfg.Auth0Audience, "")
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshUnknownKID: true})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", cfg.JWKSCacheTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
	}))
	api.Register(e, &api.Server{
		Auth:       auth,
		Workspaces: registry,
		Deduper:    api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Redis:      rc,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("mind-ease api listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := e.Shutdown(sctx)
		if cerr := registry.Close(); cerr != nil {
			logger.WithError(cerr).Warn("close workspaces")
		}
		runner.Close()
		if outbox != nil {
			outbox.Close()
		}
		if cerr := rc.Close(); cerr != nil {
			logger.WithError(cerr).Warn("close redis")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("server: %v", err)
	}
	logger.Info("mind-ease api stopped")
}
