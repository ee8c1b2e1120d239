package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/metrics"
)

// Service раскладывает сохранённое уведомление по внешним каналам.
// Каналы работают независимо: отказ одного не мешает остальным и не
// откатывает уже созданное уведомление, поэтому Dispatch не возвращает ошибку.
type Service struct {
	profiles domain.ProfileRepo
	senders  []domain.Sender
	log      zerolog.Logger
}

var _ domain.Dispatcher = (*Service)(nil)

// NewService создаёт диспетчер каналов.
func NewService(profiles domain.ProfileRepo, senders []domain.Sender, log zerolog.Logger) *Service {
	return &Service{profiles: profiles, senders: senders, log: log}
}

// Dispatch читает профиль получателя (создавая его с настройками по
// умолчанию при отсутствии) и параллельно запускает все включённые каналы.
func (s *Service) Dispatch(ctx context.Context, n domain.Notification) []domain.DispatchResult {
	profile, err := s.profiles.GetOrCreate(ctx, n.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", n.UserID).Str("notification_id", n.ID).Msg("профиль недоступен, доставка пропущена")
		return nil
	}

	results := make([]domain.DispatchResult, len(s.senders))
	var wg sync.WaitGroup
	for i, snd := range s.senders {
		if !snd.Enabled(profile) {
			results[i] = domain.DispatchResult{
				Channel: snd.Name(),
				Status:  domain.DispatchSkipped,
				Reason:  "канал отключён в профиле",
			}
			continue
		}
		wg.Add(1)
		go func(i int, snd domain.Sender) {
			defer wg.Done()
			results[i] = snd.Send(ctx, profile, n)
		}(i, snd)
	}
	wg.Wait()

	for _, res := range results {
		metrics.ChannelSendTotal.WithLabelValues(res.Channel, string(res.Status)).Inc()
		ev := s.log.Info()
		if res.Status == domain.DispatchFailed {
			ev = s.log.Error().Err(res.Err)
		}
		ev.Str("notification_id", n.ID).
			Str("user_id", n.UserID).
			Str("channel", res.Channel).
			Str("status", string(res.Status)).
			Str("reason", res.Reason).
			Msg("итог доставки")
	}
	return results
}
