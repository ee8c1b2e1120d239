package domain

import "time"

// Filter описывает сохранённый поисковый фильтр пользователя.
type Filter struct {
	ID        string
	UserID    string
	Make      string
	Model     string
	Region    string
	PriceMin  *float64
	PriceMax  *float64
	YearMin   *int
	YearMax   *int
	Fuel      string
	Gearbox   string
	CreatedAt time.Time
}

// Listing описывает новое объявление, найденное пайплайном автоматизации.
// Не сохраняется: живёт только в рамках одного запроса.
type Listing struct {
	AdID    string
	Make    string
	Model   string
	Region  string
	Price   float64
	Year    int
	Fuel    string
	Gearbox string
	URL     string
}

// Notification хранит одно уведомление в центре уведомлений пользователя.
// FilterID — слабая ссылка: фильтр может быть удалён, уведомление остаётся.
type Notification struct {
	ID        string
	UserID    string
	FilterID  *string
	Title     string
	Body      string
	URL       string
	Channel   string
	ReadAt    *time.Time
	CreatedAt time.Time
}

// Profile хранит настройки каналов доставки пользователя.
// Ключ совпадает с идентификатором пользователя у identity-провайдера.
type Profile struct {
	UserID           string
	TelegramChatID   int64
	TelegramUsername string
	Email            string
	NotifyEmail      bool
	NotifyTelegram   bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DispatchStatus описывает итог попытки доставки по одному каналу.
type DispatchStatus string

const (
	DispatchSent    DispatchStatus = "sent"
	DispatchSkipped DispatchStatus = "skipped"
	DispatchFailed  DispatchStatus = "failed"
)

// DispatchResult содержит итог доставки уведомления по одному каналу.
type DispatchResult struct {
	Channel string
	Status  DispatchStatus
	Reason  string
	Err     error
}

// ProfilePrefs описывает изменяемые настройки профиля: nil-поле означает «не менять».
type ProfilePrefs struct {
	NotifyEmail    *bool
	NotifyTelegram *bool
	Email          *string
}
