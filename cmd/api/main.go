package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"voiture-alert/internal/adapters/email"
	"voiture-alert/internal/adapters/httpapi"
	"voiture-alert/internal/adapters/identity"
	"voiture-alert/internal/adapters/repo"
	"voiture-alert/internal/adapters/telegram"
	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/cache"
	"voiture-alert/internal/infra/config"
	"voiture-alert/internal/infra/db"
	httpinfra "voiture-alert/internal/infra/http"
	"voiture-alert/internal/infra/log"
	"voiture-alert/internal/infra/metrics"
	"voiture-alert/internal/usecase/alert"
	"voiture-alert/internal/usecase/dispatch"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var guard domain.Guard
	if cfg.RedisAddr != "" && cfg.DedupTTL > 0 {
		guard = cache.NewRedisGuard(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		logger.Info().Dur("ttl", cfg.DedupTTL).Msg("api: дедупликация объявлений включена")
	}

	tgSender := telegram.NewSender(cfg.Telegram.BotToken, logger.With().Str("component", "telegram").Logger())
	emailSender := email.NewSender(email.Config{
		Addr:       cfg.SMTP.Addr,
		From:       cfg.SMTP.From,
		User:       cfg.SMTP.User,
		Password:   cfg.SMTP.Password,
		SubjPrefix: cfg.SMTP.SubjPrefix,
	}, logger.With().Str("component", "email").Logger())

	dispatcher := dispatch.NewService(repoAdapter, []domain.Sender{tgSender, emailSender}, logger.With().Str("component", "dispatch").Logger())
	alertService := alert.NewService(repoAdapter, repoAdapter, dispatcher, guard, cfg.DedupTTL, logger.With().Str("component", "alert").Logger())
	sessions := identity.NewClient(cfg.Auth.BaseURL, cfg.Auth.ServiceKey)

	handler := httpapi.NewHandler(alertService, repoAdapter, repoAdapter, repoAdapter, sessions, tgSender, cfg.N8N.InternalToken, cfg.Telegram.InternalToken, logger.With().Str("component", "httpapi").Logger())

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Routes(srv.Router)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
