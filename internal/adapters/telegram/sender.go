package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/metrics"
)

// ErrNotConfigured возвращается, когда у сервиса нет токена бота.
var ErrNotConfigured = errors.New("telegram-бот не настроен")

type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender доставляет уведомления через Telegram Bot API.
// Отсутствие токена не ошибка: канал просто пропускается.
type Sender struct {
	api api
	log zerolog.Logger
}

var _ domain.Sender = (*Sender)(nil)

// NewSender создаёт отправителя. При пустом токене или недоступном API
// возвращает ненастроенный экземпляр, который пропускает все отправки.
func NewSender(token string, log zerolog.Logger) *Sender {
	if token == "" {
		log.Warn().Msg("telegram: токен не задан, канал отключён")
		return &Sender{log: log}
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Error().Err(err).Msg("telegram: не удалось создать клиент, канал отключён")
		return &Sender{log: log}
	}
	return &Sender{api: bot, log: log}
}

func newSenderWithAPI(a api, log zerolog.Logger) *Sender {
	return &Sender{api: a, log: log}
}

// Configured сообщает, готов ли канал к отправке.
func (s *Sender) Configured() bool {
	return s.api != nil
}

// Name реализует domain.Sender.
func (s *Sender) Name() string {
	return "telegram"
}

// Enabled реализует domain.Sender.
func (s *Sender) Enabled(p domain.Profile) bool {
	return p.NotifyTelegram
}

// Send отправляет уведомление в чат пользователя. Неуспех внешнего API —
// итог failed: он логируется, но не всплывает к исходному запросу.
func (s *Sender) Send(ctx context.Context, p domain.Profile, n domain.Notification) domain.DispatchResult {
	if s.api == nil {
		return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchSkipped, Reason: "бот не настроен"}
	}
	if p.TelegramChatID == 0 {
		return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchSkipped, Reason: "telegram не привязан"}
	}

	msg := tgbotapi.NewMessage(p.TelegramChatID, FormatAlert(n))
	msg.ParseMode = tgbotapi.ModeMarkdown

	start := time.Now()
	_, err := s.api.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "sendMessage", start, err)
	if err != nil {
		return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchFailed, Reason: "ошибка Bot API", Err: err}
	}
	return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchSent}
}

// SendTest отправляет проверочное сообщение. В отличие от Send, ошибка
// доставки возвращается вызывающему: её показывают пользователю.
func (s *Sender) SendTest(ctx context.Context, chatID int64) error {
	if s.api == nil {
		return ErrNotConfigured
	}
	msg := tgbotapi.NewMessage(chatID, FormatTest())
	msg.ParseMode = tgbotapi.ModeMarkdown

	start := time.Now()
	_, err := s.api.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_test_message", "sendMessage", start, err)
	if err != nil {
		return fmt.Errorf("отправка тестового сообщения: %w", err)
	}
	return nil
}
