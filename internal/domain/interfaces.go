package domain

import (
	"context"
	"time"
)

// FilterRepo читает фильтры. Запись фильтров делает веб-интерфейс,
// ядро работает с ними только на чтение.
type FilterRepo interface {
	ListAll(ctx context.Context) ([]Filter, error)
	ListByUser(ctx context.Context, userID string) ([]Filter, error)
}

// ProfileRepo управляет профилями доставки. Все записи идемпотентны:
// upsert по идентификатору пользователя.
type ProfileRepo interface {
	GetOrCreate(ctx context.Context, userID string) (Profile, error)
	UpsertTelegram(ctx context.Context, userID string, chatID int64, username string) (Profile, error)
	UpdatePrefs(ctx context.Context, userID string, prefs ProfilePrefs) (Profile, error)
}

// NotificationRepo управляет уведомлениями.
type NotificationRepo interface {
	Create(ctx context.Context, n Notification) (Notification, error)
	CreateBatch(ctx context.Context, batch []Notification) ([]Notification, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
}

// Sender доставляет уведомление по одному внешнему каналу.
// Enabled проверяет пользовательскую настройку канала: диспетчер не
// вызывает Send для отключённого канала.
type Sender interface {
	Name() string
	Enabled(p Profile) bool
	Send(ctx context.Context, p Profile, n Notification) DispatchResult
}

// Dispatcher раскладывает одно сохранённое уведомление по каналам.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) []DispatchResult
}

// Guard реализует одноразовый захват ключа с TTL.
// Once возвращает true, если ключ захвачен впервые.
type Guard interface {
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
