package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voiture-alert/internal/adapters/bot"
	"voiture-alert/internal/adapters/repo"
	"voiture-alert/internal/infra/config"
	"voiture-alert/internal/infra/db"
	"voiture-alert/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, repo.NewPostgres(pool), logger.With().Str("component", "bot").Logger())
	h.Run(ctx)
	logger.Info().Msg("bot-gateway: остановка")
}
