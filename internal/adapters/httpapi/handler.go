package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"voiture-alert/internal/adapters/identity"
	"voiture-alert/internal/adapters/repo"
	"voiture-alert/internal/adapters/telegram"
	"voiture-alert/internal/domain"
	httpinfra "voiture-alert/internal/infra/http"
	"voiture-alert/internal/usecase/alert"
)

const notificationsPageSize = 50

// sessionResolver переводит токен сессии в идентификатор пользователя.
type sessionResolver interface {
	UserID(ctx context.Context, accessToken string) (string, error)
}

// Handler обслуживает HTTP API шлюза: машинные эндпоинты пайплайна
// автоматизации и пользовательские эндпоинты центра уведомлений.
type Handler struct {
	alertUC       *alert.Service
	filters       domain.FilterRepo
	profiles      domain.ProfileRepo
	notifications domain.NotificationRepo
	sessions      sessionResolver
	tg            *telegram.Sender
	n8nToken      string
	telegramToken string
	log           zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(alertUC *alert.Service, filters domain.FilterRepo, profiles domain.ProfileRepo, notifications domain.NotificationRepo, sessions sessionResolver, tg *telegram.Sender, n8nToken, telegramToken string, log zerolog.Logger) *Handler {
	return &Handler{
		alertUC:       alertUC,
		filters:       filters,
		profiles:      profiles,
		notifications: notifications,
		sessions:      sessions,
		tg:            tg,
		n8nToken:      n8nToken,
		telegramToken: telegramToken,
		log:           log,
	}
}

// Routes монтирует эндпоинты на роутер.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.BearerAuth(h.n8nToken))
		protected.Post("/api/n8n/new-ad", h.handleNewAd)
		protected.Post("/api/n8n/notifications", h.handleDirectNotification)
		protected.Get("/api/n8n/filters", h.handleFilters)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(httpinfra.BearerAuth(h.telegramToken))
		protected.Post("/api/telegram/link", h.handleTelegramLink)
	})

	// Сессионные эндпоинты: авторизация токеном пользователя, не внутренним секретом.
	r.Post("/api/telegram/test-notification", h.handleTestNotification)
	r.Get("/api/notifications", h.handleListNotifications)
	r.Post("/api/notifications/{id}/read", h.handleMarkRead)
	r.Get("/api/profile", h.handleGetProfile)
	r.Patch("/api/profile", h.handleUpdateProfile)
}

type newAdRequest struct {
	AdID    string      `json:"ad_id"`
	Make    string      `json:"marque"`
	Model   string      `json:"modele"`
	Region  string      `json:"wilaya"`
	Price   json.Number `json:"prix"`
	Year    json.Number `json:"annee"`
	Fuel    string      `json:"fuel"`
	Gearbox string      `json:"gearbox"`
	URL     string      `json:"url"`
}

func (h *Handler) handleNewAd(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req newAdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "JSON invalide")
		return
	}

	if req.AdID == "" || req.Make == "" || req.Model == "" || req.Region == "" || req.Price == "" || req.Year == "" || req.URL == "" {
		httpinfra.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Champs manquants",
			"details": map[string]any{
				"ad_id":  req.AdID,
				"marque": req.Make,
				"modele": req.Model,
				"wilaya": req.Region,
				"prix":   req.Price,
				"annee":  req.Year,
				"url":    req.URL,
			},
		})
		return
	}

	price, priceErr := req.Price.Float64()
	yearValue, yearErr := req.Year.Float64()
	if priceErr != nil || yearErr != nil {
		httpinfra.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error": "prix ou annee non numériques",
			"prix":  req.Price,
			"annee": req.Year,
		})
		return
	}

	summary, err := h.alertUC.HandleListing(r.Context(), domain.Listing{
		AdID:    req.AdID,
		Make:    req.Make,
		Model:   req.Model,
		Region:  req.Region,
		Price:   price,
		Year:    int(yearValue),
		Fuel:    req.Fuel,
		Gearbox: req.Gearbox,
		URL:     req.URL,
	})
	if err != nil {
		h.log.Error().Err(err).Str("ad_id", req.AdID).Msg("обработка объявления")
		httpinfra.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "storage error",
			"details": err.Error(),
		})
		return
	}

	resp := map[string]any{"ok": true, "matches": summary.Matches}
	if summary.Message != "" {
		resp["message"] = summary.Message
	}
	httpinfra.WriteJSON(w, http.StatusCreated, resp)
}

type directNotificationRequest struct {
	UserID   string `json:"user_id"`
	FilterID string `json:"filter_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	AdURL    string `json:"ad_url"`
	Channel  string `json:"channel"`
}

func (h *Handler) handleDirectNotification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req directNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "JSON invalide")
		return
	}
	if req.UserID == "" || req.Title == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "user_id et title sont obligatoires")
		return
	}

	var filterID *string
	if req.FilterID != "" {
		filterID = &req.FilterID
	}
	created, err := h.alertUC.CreateDirect(r.Context(), alert.DirectInput{
		UserID:   req.UserID,
		FilterID: filterID,
		Title:    req.Title,
		Body:     req.Body,
		URL:      req.AdURL,
		Channel:  req.Channel,
	})
	if err != nil {
		if errors.Is(err, alert.ErrRecipientRequired) {
			httpinfra.WriteError(w, http.StatusBadRequest, "user_id et title sont obligatoires")
			return
		}
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("прямое уведомление")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, map[string]any{
		"ok":           true,
		"notification": notificationJSON(created),
	})
}

func (h *Handler) handleFilters(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, "user_id manquant")
		return
	}
	filters, err := h.filters.ListByUser(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("чтение фильтров")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	out := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, filterJSON(f))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

type telegramLinkRequest struct {
	UserID           string      `json:"user_id"`
	TelegramChatID   json.Number `json:"telegram_chat_id"`
	TelegramUsername string      `json:"telegram_username"`
}

func (h *Handler) handleTelegramLink(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req telegramLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "JSON invalide")
		return
	}
	chatID, chatErr := req.TelegramChatID.Int64()
	if req.UserID == "" || req.TelegramChatID == "" || chatErr != nil || chatID == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "user_id et telegram_chat_id sont obligatoires")
		return
	}

	profile, err := h.profiles.UpsertTelegram(r.Context(), req.UserID, chatID, req.TelegramUsername)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("привязка telegram")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"profile": profileJSON(profile),
	})
}

func (h *Handler) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	token := httpinfra.BearerToken(r)
	if token == "" {
		httpinfra.WriteError(w, http.StatusUnauthorized, "Accès non autorisé (token manquant).")
		return
	}
	userID, err := h.sessions.UserID(r.Context(), token)
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthorized) {
			h.log.Error().Err(err).Msg("проверка сессии")
		}
		httpinfra.WriteError(w, http.StatusUnauthorized, "Utilisateur non authentifié.")
		return
	}

	profile, err := h.profiles.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("чтение профиля")
		httpinfra.WriteError(w, http.StatusInternalServerError, "Erreur lors de la récupération du profil.")
		return
	}

	switch {
	case profile.TelegramChatID == 0:
		httpinfra.WriteError(w, http.StatusBadRequest, "Aucun Telegram lié à ce compte. Va dans Profil → Connecter Telegram.")
		return
	case !profile.NotifyTelegram:
		httpinfra.WriteError(w, http.StatusBadRequest, "Les notifications Telegram sont désactivées pour ce compte. Active l'option dans Profil.")
		return
	case !h.tg.Configured():
		httpinfra.WriteError(w, http.StatusBadRequest, "Bot Telegram non configuré côté serveur.")
		return
	}

	// Здесь ошибка канала намеренно уходит пользователю: это проверка связи.
	if err := h.tg.SendTest(r.Context(), profile.TelegramChatID); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("тестовое уведомление")
		httpinfra.WriteError(w, http.StatusBadGateway, "Erreur lors de l'envoi du message Telegram.")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	notifications, err := h.notifications.ListRecent(r.Context(), userID, notificationsPageSize)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("чтение уведомлений")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	out := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationJSON(n))
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.notifications.MarkRead(r.Context(), id, userID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpinfra.WriteError(w, http.StatusNotFound, "notification introuvable")
			return
		}
		h.log.Error().Err(err).Str("notification_id", id).Msg("отметка о прочтении")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("чтение профиля")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, profileJSON(profile))
}

type profileUpdateRequest struct {
	NotifyEmail    *bool   `json:"notify_email"`
	NotifyTelegram *bool   `json:"notify_telegram"`
	Email          *string `json:"email"`
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.sessionUser(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "JSON invalide")
		return
	}
	profile, err := h.profiles.UpdatePrefs(r.Context(), userID, domain.ProfilePrefs{
		NotifyEmail:    req.NotifyEmail,
		NotifyTelegram: req.NotifyTelegram,
		Email:          req.Email,
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("обновление профиля")
		httpinfra.WriteError(w, http.StatusInternalServerError, "storage error")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"profile": profileJSON(profile),
	})
}

func (h *Handler) sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := httpinfra.BearerToken(r)
	if token == "" {
		httpinfra.WriteError(w, http.StatusUnauthorized, "Accès non autorisé (token manquant).")
		return "", false
	}
	userID, err := h.sessions.UserID(r.Context(), token)
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthorized) {
			h.log.Error().Err(err).Msg("проверка сессии")
		}
		httpinfra.WriteError(w, http.StatusUnauthorized, "Utilisateur non authentifié.")
		return "", false
	}
	return userID, true
}

func filterJSON(f domain.Filter) map[string]any {
	return map[string]any{
		"id":         f.ID,
		"user_id":    f.UserID,
		"marque":     f.Make,
		"modele":     f.Model,
		"wilaya":     f.Region,
		"prix_min":   f.PriceMin,
		"prix_max":   f.PriceMax,
		"annee_min":  f.YearMin,
		"annee_max":  f.YearMax,
		"fuel":       nullable(f.Fuel),
		"gearbox":    nullable(f.Gearbox),
		"created_at": f.CreatedAt,
	}
}

func notificationJSON(n domain.Notification) map[string]any {
	return map[string]any{
		"id":         n.ID,
		"user_id":    n.UserID,
		"filter_id":  n.FilterID,
		"title":      n.Title,
		"body":       nullable(n.Body),
		"url":        nullable(n.URL),
		"channel":    n.Channel,
		"read_at":    n.ReadAt,
		"created_at": n.CreatedAt,
	}
}

func profileJSON(p domain.Profile) map[string]any {
	var chatID any
	if p.TelegramChatID != 0 {
		chatID = p.TelegramChatID
	}
	return map[string]any{
		"id":                p.UserID,
		"telegram_id":       chatID,
		"telegram_username": nullable(p.TelegramUsername),
		"email":             nullable(p.Email),
		"notify_email":      p.NotifyEmail,
		"notify_telegram":   p.NotifyTelegram,
		"created_at":        p.CreatedAt,
		"updated_at":        p.UpdatedAt,
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
