package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"voiture-alert/internal/adapters/identity"
	"voiture-alert/internal/adapters/repo"
	"voiture-alert/internal/adapters/telegram"
	"voiture-alert/internal/domain"
	"voiture-alert/internal/usecase/alert"
	"voiture-alert/internal/usecase/dispatch"
)

const (
	testN8NToken      = "n8n-secret"
	testTelegramToken = "tg-secret"
	testSession       = "session-token"
)

// stubStore подменяет все репозитории одной структурой, как это
// делает боевой Postgres.
type stubStore struct {
	filters       []domain.Filter
	profile       domain.Profile
	notifications []domain.Notification

	filtersErr   error
	notifyErr    error
	markReadErr  error
	lastPrefs    domain.ProfilePrefs
	linkedUserID string
	linkedChatID int64
}

func (s *stubStore) ListAll(context.Context) ([]domain.Filter, error) {
	return s.filters, s.filtersErr
}

func (s *stubStore) ListByUser(_ context.Context, userID string) ([]domain.Filter, error) {
	if s.filtersErr != nil {
		return nil, s.filtersErr
	}
	out := make([]domain.Filter, 0)
	for _, f := range s.filters {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubStore) GetOrCreate(_ context.Context, userID string) (domain.Profile, error) {
	p := s.profile
	if p.UserID == "" {
		p.UserID = userID
		p.NotifyEmail = true
		p.NotifyTelegram = true
	}
	return p, nil
}

func (s *stubStore) UpsertTelegram(_ context.Context, userID string, chatID int64, username string) (domain.Profile, error) {
	s.linkedUserID = userID
	s.linkedChatID = chatID
	return domain.Profile{UserID: userID, TelegramChatID: chatID, TelegramUsername: username, NotifyEmail: true, NotifyTelegram: true}, nil
}

func (s *stubStore) UpdatePrefs(_ context.Context, userID string, prefs domain.ProfilePrefs) (domain.Profile, error) {
	s.lastPrefs = prefs
	p := s.profile
	p.UserID = userID
	return p, nil
}

func (s *stubStore) Create(_ context.Context, n domain.Notification) (domain.Notification, error) {
	if s.notifyErr != nil {
		return domain.Notification{}, s.notifyErr
	}
	n.ID = "n-1"
	n.CreatedAt = time.Now().UTC()
	s.notifications = append(s.notifications, n)
	return n, nil
}

func (s *stubStore) CreateBatch(_ context.Context, batch []domain.Notification) ([]domain.Notification, error) {
	if s.notifyErr != nil {
		return nil, s.notifyErr
	}
	for i := range batch {
		batch[i].ID = "n-batch"
		batch[i].CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, batch...)
	return batch, nil
}

func (s *stubStore) ListRecent(context.Context, string, int) ([]domain.Notification, error) {
	return s.notifications, nil
}

func (s *stubStore) MarkRead(context.Context, string, string, time.Time) error {
	return s.markReadErr
}

type stubSessions struct{ userID string }

func (s stubSessions) UserID(_ context.Context, token string) (string, error) {
	if token != testSession {
		return "", identity.ErrUnauthorized
	}
	return s.userID, nil
}

func newTestServer(t *testing.T, store *stubStore) *httptest.Server {
	t.Helper()
	log := zerolog.Nop()
	tg := telegram.NewSender("", log)
	dispatcher := dispatch.NewService(store, nil, log)
	alertUC := alert.NewService(store, store, dispatcher, nil, 0, log)
	h := NewHandler(alertUC, store, store, store, stubSessions{userID: "u1"}, tg, testN8NToken, testTelegramToken, log)

	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("создание запроса: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("выполнение запроса: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		parsed = nil
	}
	return resp, parsed
}

func clioAdBody() string {
	return `{"ad_id":"ad-1","marque":"Renault","modele":"Clio 4","wilaya":"Alger","prix":250,"annee":2018,"url":"https://x"}`
}

func fptr(v float64) *float64 { return &v }

func TestNewAdRequiresToken(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", "", clioAdBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("без токена ожидали 401, получили %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", "wrong", clioAdBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("с чужим токеном ожидали 401, получили %d", resp.StatusCode)
	}
}

func TestNewAdMissingFields(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken, `{"ad_id":"ad-1","marque":"Renault"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	if body["error"] != "Champs manquants" {
		t.Fatalf("неожиданная ошибка: %v", body["error"])
	}
	details, ok := body["details"].(map[string]any)
	if !ok || details["marque"] != "Renault" || details["modele"] != "" {
		t.Fatalf("ожидали эхо полей в details, получили %v", body["details"])
	}
}

func TestNewAdRejectsBadNumbers(t *testing.T) {
	srv := newTestServer(t, &stubStore{})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken,
		`{"ad_id":"ad-1","marque":"Renault","modele":"Clio 4","wilaya":"Alger","prix":1e999,"annee":2018,"url":"https://x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", resp.StatusCode)
	}
	if body["error"] != "prix ou annee non numériques" {
		t.Fatalf("неожиданная ошибка: %v", body["error"])
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken,
		`{"ad_id":"ad-1","marque":"Renault","modele":"Clio 4","wilaya":"Alger","prix":"abc","annee":2018,"url":"https://x"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "JSON invalide" {
		t.Fatalf("ожидали JSON invalide и 400, получили %d %v", resp.StatusCode, body["error"])
	}
}

func TestNewAdMatchesFilter(t *testing.T) {
	store := &stubStore{filters: []domain.Filter{{
		ID:     "f1",
		UserID: "u1",
		Make:   "renault",
		Model:  "clio 4",
		Region: "ALGER",
	}}}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken, clioAdBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d", resp.StatusCode)
	}
	if body["ok"] != true || body["matches"] != float64(1) {
		t.Fatalf("ожидали одно совпадение, получили %v", body)
	}
	if len(store.notifications) != 1 {
		t.Fatalf("ожидали одно сохранённое уведомление, получили %d", len(store.notifications))
	}
}

func TestNewAdNoMatch(t *testing.T) {
	store := &stubStore{filters: []domain.Filter{{
		ID:       "f1",
		UserID:   "u1",
		Make:     "renault",
		Model:    "clio 4",
		Region:   "ALGER",
		PriceMax: fptr(240),
	}}}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken, clioAdBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ожидали 201, получили %d", resp.StatusCode)
	}
	if body["matches"] != float64(0) || body["message"] != "Aucun filtre ne correspond" {
		t.Fatalf("ожидали нулевой исход с сообщением, получили %v", body)
	}
	if len(store.notifications) != 0 {
		t.Fatal("при нулевом исходе уведомлений быть не должно")
	}
}

func TestNewAdStorageError(t *testing.T) {
	store := &stubStore{
		filters:   []domain.Filter{{ID: "f1", UserID: "u1", Make: "renault", Model: "clio 4", Region: "alger"}},
		notifyErr: errors.New("insert failed"),
	}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/new-ad", testN8NToken, clioAdBody())
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("ожидали 500, получили %d", resp.StatusCode)
	}
	if body["error"] != "storage error" {
		t.Fatalf("неожиданная ошибка: %v", body["error"])
	}
}

func TestDirectNotification(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/n8n/notifications", testN8NToken, `{"title":"t"}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "user_id et title sont obligatoires" {
		t.Fatalf("ожидали 400 про обязательные поля, получили %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/n8n/notifications", testN8NToken, `{"user_id":"u1","title":"Maintenance","body":"b"}`)
	if resp.StatusCode != http.StatusCreated || body["ok"] != true {
		t.Fatalf("ожидали 201, получили %d %v", resp.StatusCode, body)
	}
	created, ok := body["notification"].(map[string]any)
	if !ok || created["channel"] != "n8n" {
		t.Fatalf("ожидали канал по умолчанию n8n, получили %v", body["notification"])
	}
}

func TestFiltersEndpoint(t *testing.T) {
	store := &stubStore{filters: []domain.Filter{
		{ID: "f1", UserID: "u1", Make: "renault", Model: "clio 4", Region: "alger"},
		{ID: "f2", UserID: "u2", Make: "peugeot", Model: "208", Region: "oran"},
	}}
	srv := newTestServer(t, store)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/n8n/filters", testN8NToken, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("без user_id ожидали 400, получили %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/n8n/filters?user_id=u1", nil)
	req.Header.Set("Authorization", "Bearer "+testN8NToken)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("выполнение запроса: %v", err)
	}
	defer resp2.Body.Close()
	var filters []map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&filters); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if len(filters) != 1 || filters[0]["marque"] != "renault" || filters[0]["wilaya"] != "alger" {
		t.Fatalf("ожидали один фильтр u1 с французскими ключами, получили %v", filters)
	}
}

func TestTelegramLink(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/telegram/link", testTelegramToken, `{"user_id":"u1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("без chat id ожидали 400, получили %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/telegram/link", testTelegramToken, `{"user_id":"u1","telegram_chat_id":42,"telegram_username":"driss"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("ожидали 200, получили %d %v", resp.StatusCode, body)
	}
	if store.linkedUserID != "u1" || store.linkedChatID != 42 {
		t.Fatalf("неожиданная привязка: %s %d", store.linkedUserID, store.linkedChatID)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/telegram/link", testN8NToken, `{"user_id":"u1","telegram_chat_id":42}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("токен n8n не должен открывать эндпоинт telegram: %d", resp.StatusCode)
	}
}

func TestTestNotification(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/telegram/test-notification", "", "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Accès non autorisé (token manquant)." {
		t.Fatalf("без токена ожидали 401, получили %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/telegram/test-notification", "expired", "")
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "Utilisateur non authentifié." {
		t.Fatalf("с чужой сессией ожидали 401, получили %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/telegram/test-notification", testSession, "")
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Aucun Telegram lié à ce compte. Va dans Profil → Connecter Telegram." {
		t.Fatalf("без привязки ожидали 400, получили %d %v", resp.StatusCode, body)
	}

	store.profile = domain.Profile{UserID: "u1", TelegramChatID: 42, NotifyTelegram: false}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/telegram/test-notification", testSession, "")
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Les notifications Telegram sont désactivées pour ce compte. Active l'option dans Profil." {
		t.Fatalf("с выключенным каналом ожидали 400, получили %d %v", resp.StatusCode, body)
	}

	store.profile = domain.Profile{UserID: "u1", TelegramChatID: 42, NotifyTelegram: true}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/telegram/test-notification", testSession, "")
	if resp.StatusCode != http.StatusBadRequest || body["error"] != "Bot Telegram non configuré côté serveur." {
		t.Fatalf("без бота ожидали 400, получили %d %v", resp.StatusCode, body)
	}
}

func TestNotificationCenter(t *testing.T) {
	store := &stubStore{notifications: []domain.Notification{{ID: "n1", UserID: "u1", Title: "t", Channel: "n8n-new-ad"}}}
	srv := newTestServer(t, store)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer "+testSession)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("выполнение запроса: %v", err)
	}
	defer resp.Body.Close()
	var list []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}
	if len(list) != 1 || list[0]["id"] != "n1" {
		t.Fatalf("ожидали одно уведомление, получили %v", list)
	}

	resp2, body := doJSON(t, http.MethodPost, srv.URL+"/api/notifications/n1/read", testSession, "")
	if resp2.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("ожидали 200, получили %d %v", resp2.StatusCode, body)
	}

	store.markReadErr = repo.ErrNotFound
	resp2, _ = doJSON(t, http.MethodPost, srv.URL+"/api/notifications/none/read", testSession, "")
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("для чужого id ожидали 404, получили %d", resp2.StatusCode)
	}
}

func TestProfileEndpoints(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/profile", testSession, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", resp.StatusCode)
	}
	if body["id"] != "u1" || body["notify_telegram"] != true {
		t.Fatalf("ожидали профиль по умолчанию, получили %v", body)
	}

	resp, body = doJSON(t, http.MethodPatch, srv.URL+"/api/profile", testSession, `{"notify_telegram":false,"email":"u1@example.com"}`)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("ожидали 200, получили %d %v", resp.StatusCode, body)
	}
	if store.lastPrefs.NotifyTelegram == nil || *store.lastPrefs.NotifyTelegram {
		t.Fatalf("ожидали выключение telegram, получили %+v", store.lastPrefs)
	}
	if store.lastPrefs.Email == nil || *store.lastPrefs.Email != "u1@example.com" {
		t.Fatalf("ожидали новый email, получили %+v", store.lastPrefs)
	}
	if store.lastPrefs.NotifyEmail != nil {
		t.Fatal("непереданное поле не должно попадать в prefs")
	}
}
