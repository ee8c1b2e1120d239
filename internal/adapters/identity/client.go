package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voiture-alert/internal/infra/metrics"
)

// ErrUnauthorized возвращается при недействительном или просроченном токене сессии.
var ErrUnauthorized = errors.New("недействительный токен сессии")

// Client проверяет пользовательские сессии у внешнего identity-провайдера.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient создаёт клиента identity-провайдера.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// UserID переводит токен сессии в идентификатор пользователя.
func (c *Client) UserID(ctx context.Context, accessToken string) (string, error) {
	if accessToken == "" {
		return "", ErrUnauthorized
	}
	if c.baseURL == "" {
		return "", errors.New("identity-провайдер не настроен")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("apikey", c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("identity", "get_user", "auth", start, err)
	if err != nil {
		return "", fmt.Errorf("запрос к identity-провайдеру: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("identity-провайдер ответил статусом %d", resp.StatusCode)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("разбор ответа: %w", err)
	}
	if payload.ID == "" {
		return "", ErrUnauthorized
	}
	return payload.ID, nil
}
