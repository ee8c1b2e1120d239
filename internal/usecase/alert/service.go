package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/metrics"
	"voiture-alert/internal/usecase/match"
)

// Теги каналов, проставляемые в уведомлениях: по ним видно,
// каким путём уведомление попало в систему.
const (
	ChannelNewAd   = "n8n-new-ad"
	ChannelDefault = "n8n"
)

// Сообщения для нулевых исходов. Тексты видит пайплайн автоматизации.
const (
	MsgNoMatch      = "Aucun filtre ne correspond"
	MsgNoRecipients = "Filtres trouvés mais aucun user_id à notifier"
	MsgDuplicate    = "Annonce déjà traitée"
)

// ErrRecipientRequired возвращается при прямом создании без получателя или заголовка.
var ErrRecipientRequired = errors.New("user_id и title обязательны")

// Summary — итог обработки одного объявления.
type Summary struct {
	Matches   int
	Message   string
	Duplicate bool
	Created   []domain.Notification
}

// DirectInput описывает прямое уведомление, минующее матчер.
type DirectInput struct {
	UserID   string
	FilterID *string
	Title    string
	Body     string
	URL      string
	Channel  string
}

// Service сопоставляет объявления с фильтрами и фиксирует уведомления.
type Service struct {
	filters       domain.FilterRepo
	notifications domain.NotificationRepo
	dispatcher    domain.Dispatcher
	guard         domain.Guard
	dedupTTL      time.Duration
	log           zerolog.Logger
}

// NewService создаёт сервис. guard может быть nil: тогда повторная
// отправка того же объявления обрабатывается заново (поведение по умолчанию).
func NewService(filters domain.FilterRepo, notifications domain.NotificationRepo, dispatcher domain.Dispatcher, guard domain.Guard, dedupTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		filters:       filters,
		notifications: notifications,
		dispatcher:    dispatcher,
		guard:         guard,
		dedupTTL:      dedupTTL,
		log:           log,
	}
}

// HandleListing прогоняет объявление через матчер, сохраняет уведомления
// одним батчем и раскладывает их по каналам. Нулевые исходы — не ошибка.
func (s *Service) HandleListing(ctx context.Context, l domain.Listing) (Summary, error) {
	metrics.ListingEventsTotal.Inc()

	if s.guard != nil && s.dedupTTL > 0 && l.AdID != "" {
		first, err := s.guard.Once(ctx, "listing:"+l.AdID, s.dedupTTL)
		if err != nil {
			// Недоступный guard не должен блокировать обработку.
			s.log.Warn().Err(err).Str("ad_id", l.AdID).Msg("dedup guard недоступен, обрабатываем без защиты")
		} else if !first {
			s.log.Info().Str("ad_id", l.AdID).Msg("повторное объявление пропущено")
			return Summary{Matches: 0, Message: MsgDuplicate, Duplicate: true}, nil
		}
	}

	filters, err := s.filters.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("чтение фильтров: %w", err)
	}

	matched := match.Match(l, filters)
	if len(matched) == 0 {
		s.log.Info().Str("ad_id", l.AdID).Msg("совпадений нет")
		return Summary{Matches: 0, Message: MsgNoMatch}, nil
	}

	batch := make([]domain.Notification, 0, len(matched))
	for _, f := range matched {
		if strings.TrimSpace(f.UserID) == "" {
			// Старые фильтры без владельца: матчер их отбрасывает,
			// но на записи страхуемся ещё раз.
			continue
		}
		filterID := f.ID
		batch = append(batch, domain.Notification{
			UserID:   f.UserID,
			FilterID: &filterID,
			Title:    buildTitle(l),
			Body:     buildBody(l),
			URL:      l.URL,
			Channel:  ChannelNewAd,
		})
	}
	if len(batch) == 0 {
		return Summary{Matches: 0, Message: MsgNoRecipients}, nil
	}

	created, err := s.notifications.CreateBatch(ctx, batch)
	if err != nil {
		return Summary{}, fmt.Errorf("сохранение уведомлений: %w", err)
	}
	metrics.NotificationsCreatedTotal.Add(float64(len(created)))

	// Доставка идёт после фиксации строк; уведомления раскладываются
	// независимо, медленный канал одного получателя не задерживает остальных.
	var wg sync.WaitGroup
	for _, n := range created {
		wg.Add(1)
		go func(n domain.Notification) {
			defer wg.Done()
			s.dispatcher.Dispatch(ctx, n)
		}(n)
	}
	wg.Wait()

	s.log.Info().Str("ad_id", l.AdID).Int("matches", len(created)).Msg("объявление обработано")
	return Summary{Matches: len(created), Created: created}, nil
}

// CreateDirect сохраняет одно уведомление без матчинга и сразу доставляет его.
func (s *Service) CreateDirect(ctx context.Context, in DirectInput) (domain.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Title) == "" {
		return domain.Notification{}, ErrRecipientRequired
	}
	channel := in.Channel
	if channel == "" {
		channel = ChannelDefault
	}
	created, err := s.notifications.Create(ctx, domain.Notification{
		UserID:   in.UserID,
		FilterID: in.FilterID,
		Title:    in.Title,
		Body:     in.Body,
		URL:      in.URL,
		Channel:  channel,
	})
	if err != nil {
		return domain.Notification{}, fmt.Errorf("сохранение уведомления: %w", err)
	}
	metrics.NotificationsCreatedTotal.Inc()
	s.dispatcher.Dispatch(ctx, created)
	return created, nil
}

func buildTitle(l domain.Listing) string {
	return fmt.Sprintf("📢 Nouvelle annonce : %s %s", l.Make, l.Model)
}

func buildBody(l domain.Listing) string {
	return strings.Join([]string{
		fmt.Sprintf("Une annonce vient d'être trouvée à %s.", l.Region),
		fmt.Sprintf("Prix : %s M DA", strconv.FormatFloat(l.Price, 'f', -1, 64)),
		fmt.Sprintf("Année : %d", l.Year),
		fmt.Sprintf("Carburant : %s", orNA(l.Fuel)),
		fmt.Sprintf("Boîte : %s", orNA(l.Gearbox)),
	}, "\n")
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
