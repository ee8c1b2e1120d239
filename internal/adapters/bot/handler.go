package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"voiture-alert/internal/domain"
)

// Префикс deep-link из кнопки «Connecter mon Telegram» в веб-интерфейсе.
const connectPrefix = "connect_"

const (
	msgWelcome    = "👋 Bienvenue sur Voiture Alert.\n\nPour lier ton compte, ouvre l'application web et clique sur « Connecter mon Telegram » depuis la page Profil."
	msgLinked     = "✅ Ton compte Voiture Alert est maintenant lié à ce Telegram.\nTu recevras ici les alertes dès qu'une nouvelle annonce correspond à tes filtres."
	msgLinkFailed = "❌ Impossible de lier ton compte Voiture Alert pour l'instant. Réessaie plus tard."
)

type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler обслуживает бота привязки аккаунтов: /start connect_<user_id>
// связывает чат Telegram с профилем пользователя.
type Handler struct {
	api      api
	profiles domain.ProfileRepo
	log      zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(botAPI *tgbotapi.BotAPI, profiles domain.ProfileRepo, log zerolog.Logger) *Handler {
	return &Handler{api: botAPI, profiles: profiles, log: log}
}

func newHandlerWithAPI(a api, profiles domain.ProfileRepo, log zerolog.Logger) *Handler {
	return &Handler{api: a, profiles: profiles, log: log}
}

// Run запускает long-polling и блокируется до отмены контекста.
func (h *Handler) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.api.GetUpdatesChan(u)

	h.log.Info().Msg("бот привязки запущен")
	for {
		select {
		case <-ctx.Done():
			h.api.StopReceivingUpdates()
			return
		case upd := <-updates:
			h.handleUpdate(ctx, upd)
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/start") {
		h.reply(msg.Chat.ID, msgWelcome)
		return
	}

	payload := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
	if !strings.HasPrefix(payload, connectPrefix) {
		h.reply(msg.Chat.ID, msgWelcome)
		return
	}

	userID := strings.TrimPrefix(payload, connectPrefix)
	username := msg.From.UserName
	if _, err := h.profiles.UpsertTelegram(ctx, userID, msg.Chat.ID, username); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Int64("chat_id", msg.Chat.ID).Msg("привязка чата")
		h.reply(msg.Chat.ID, msgLinkFailed)
		return
	}
	h.log.Info().Str("user_id", userID).Int64("chat_id", msg.Chat.ID).Msg("чат привязан")
	h.reply(msg.Chat.ID, msgLinked)
}

func (h *Handler) reply(chatID int64, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("отправка ответа")
	}
}
