package email

import (
	"context"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/metrics"
)

// Config описывает SMTP-подключение. Пустой Addr включает режим заглушки.
type Config struct {
	Addr       string
	From       string
	User       string
	Password   string
	SubjPrefix string
}

// Sender доставляет уведомления по электронной почте. Без настроенного
// SMTP работает заглушкой: фиксирует намерение в логе и отчитывается успехом.
type Sender struct {
	cfg  Config
	auth smtp.Auth
	log  zerolog.Logger
}

var _ domain.Sender = (*Sender)(nil)

// NewSender создаёт отправителя почты.
func NewSender(cfg Config, log zerolog.Logger) *Sender {
	var auth smtp.Auth
	if cfg.Addr != "" && (cfg.User != "" || cfg.Password != "") {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, hostOf(cfg.Addr))
	}
	return &Sender{cfg: cfg, auth: auth, log: log}
}

// Name реализует domain.Sender.
func (s *Sender) Name() string {
	return "email"
}

// Enabled реализует domain.Sender.
func (s *Sender) Enabled(p domain.Profile) bool {
	return p.NotifyEmail
}

// Send отправляет письмо, если SMTP настроен и у профиля есть адрес.
// Иначе ведёт себя как заглушка с успешным итогом.
func (s *Sender) Send(ctx context.Context, p domain.Profile, n domain.Notification) domain.DispatchResult {
	if s.cfg.Addr == "" || p.Email == "" {
		s.log.Info().
			Str("user_id", p.UserID).
			Str("notification_id", n.ID).
			Str("title", n.Title).
			Msg("email: заглушка, письмо не отправлено")
		return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchSent, Reason: "заглушка"}
	}

	subject := strings.TrimSpace(s.cfg.SubjPrefix + " " + n.Title)
	body := n.Body
	if n.URL != "" {
		body += "\n\n" + n.URL
	}
	msg := []byte(
		"From: " + s.cfg.From + "\r\n" +
			"To: " + p.Email + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + body + "\r\n")

	start := time.Now()
	err := smtp.SendMail(s.cfg.Addr, s.auth, s.cfg.From, []string{p.Email}, msg)
	metrics.ObserveNetworkRequest("smtp", "send_mail", s.cfg.Addr, start, err)
	if err != nil {
		return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchFailed, Reason: "ошибка SMTP", Err: err}
	}
	return domain.DispatchResult{Channel: s.Name(), Status: domain.DispatchSent}
}

func hostOf(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
