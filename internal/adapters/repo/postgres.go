package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voiture-alert/internal/domain"
	"voiture-alert/internal/infra/metrics"
)

// ErrNotFound возвращается, когда запись не принадлежит пользователю или не существует.
var ErrNotFound = errors.New("запись не найдена")

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.FilterRepo       = (*Postgres)(nil)
	_ domain.ProfileRepo      = (*Postgres)(nil)
	_ domain.NotificationRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const filterColumns = `id, user_id, marque, modele, wilaya, prix_min, prix_max, annee_min, annee_max, fuel, gearbox, created_at`

func scanFilter(row pgx.Row) (domain.Filter, error) {
	var (
		f        domain.Filter
		userID   sql.NullString
		priceMin sql.NullFloat64
		priceMax sql.NullFloat64
		yearMin  sql.NullInt64
		yearMax  sql.NullInt64
		fuel     sql.NullString
		gearbox  sql.NullString
	)
	err := row.Scan(&f.ID, &userID, &f.Make, &f.Model, &f.Region, &priceMin, &priceMax, &yearMin, &yearMax, &fuel, &gearbox, &f.CreatedAt)
	if err != nil {
		return domain.Filter{}, err
	}
	f.UserID = userID.String
	if priceMin.Valid {
		v := priceMin.Float64
		f.PriceMin = &v
	}
	if priceMax.Valid {
		v := priceMax.Float64
		f.PriceMax = &v
	}
	if yearMin.Valid {
		v := int(yearMin.Int64)
		f.YearMin = &v
	}
	if yearMax.Valid {
		v := int(yearMax.Int64)
		f.YearMax = &v
	}
	f.Fuel = fuel.String
	f.Gearbox = gearbox.String
	return f, nil
}

func (p *Postgres) listFilters(ctx context.Context, operation, query string, args ...any) ([]domain.Filter, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", operation, "car_filters", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filters []domain.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

// ListAll возвращает все фильтры: матчер прогоняет объявление по полному набору.
func (p *Postgres) ListAll(ctx context.Context) ([]domain.Filter, error) {
	return p.listFilters(ctx, "filters_list_all", `SELECT `+filterColumns+` FROM car_filters`)
}

// ListByUser возвращает фильтры одного пользователя.
func (p *Postgres) ListByUser(ctx context.Context, userID string) ([]domain.Filter, error) {
	return p.listFilters(ctx, "filters_list_by_user", `SELECT `+filterColumns+` FROM car_filters WHERE user_id=$1`, userID)
}

const profileColumns = `id, telegram_id, telegram_username, email, notify_email, notify_telegram, created_at, updated_at`

func scanProfile(row pgx.Row) (domain.Profile, error) {
	var (
		pr       domain.Profile
		chatID   sql.NullInt64
		username sql.NullString
		email    sql.NullString
	)
	err := row.Scan(&pr.UserID, &chatID, &username, &email, &pr.NotifyEmail, &pr.NotifyTelegram, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return domain.Profile{}, err
	}
	pr.TelegramChatID = chatID.Int64
	pr.TelegramUsername = username.String
	pr.Email = email.String
	return pr, nil
}

// GetOrCreate возвращает профиль, создавая его с настройками по умолчанию.
// Повторные и конкурентные вызовы идемпотентны: upsert по ключу пользователя.
func (p *Postgres) GetOrCreate(ctx context.Context, userID string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO user_profiles (id) VALUES ($1)
ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
RETURNING `+profileColumns+`
`, userID)
	profile, err := scanProfile(row)
	metrics.ObserveNetworkRequest("postgres", "profiles_get_or_create", "user_profiles", start, err)
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

// UpsertTelegram привязывает Telegram-чат к профилю пользователя.
func (p *Postgres) UpsertTelegram(ctx context.Context, userID string, chatID int64, username string) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var usernameArg any
	if strings.TrimSpace(username) != "" {
		usernameArg = username
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO user_profiles (id, telegram_id, telegram_username)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id, telegram_username = EXCLUDED.telegram_username, updated_at = now()
RETURNING `+profileColumns+`
`, userID, chatID, usernameArg)
	profile, err := scanProfile(row)
	metrics.ObserveNetworkRequest("postgres", "profiles_upsert_telegram", "user_profiles", start, err)
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

// UpdatePrefs меняет настройки каналов. Nil-поля не трогают текущие значения.
func (p *Postgres) UpdatePrefs(ctx context.Context, userID string, prefs domain.ProfilePrefs) (domain.Profile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO user_profiles (id, notify_email, notify_telegram, email)
VALUES ($1, COALESCE($2, true), COALESCE($3, true), $4)
ON CONFLICT (id) DO UPDATE SET
	notify_email = COALESCE($2, user_profiles.notify_email),
	notify_telegram = COALESCE($3, user_profiles.notify_telegram),
	email = COALESCE($4, user_profiles.email),
	updated_at = now()
RETURNING `+profileColumns+`
`, userID, prefs.NotifyEmail, prefs.NotifyTelegram, prefs.Email)
	profile, err := scanProfile(row)
	metrics.ObserveNetworkRequest("postgres", "profiles_update_prefs", "user_profiles", start, err)
	if err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

const notificationColumns = `id, user_id, filter_id, title, body, url, channel, read_at, created_at`

func scanNotification(row pgx.Row) (domain.Notification, error) {
	var (
		n        domain.Notification
		filterID sql.NullString
		body     sql.NullString
		urlValue sql.NullString
		readAt   sql.NullTime
	)
	err := row.Scan(&n.ID, &n.UserID, &filterID, &n.Title, &body, &urlValue, &n.Channel, &readAt, &n.CreatedAt)
	if err != nil {
		return domain.Notification{}, err
	}
	if filterID.Valid {
		v := filterID.String
		n.FilterID = &v
	}
	n.Body = body.String
	n.URL = urlValue.String
	if readAt.Valid {
		ts := readAt.Time
		n.ReadAt = &ts
	}
	return n, nil
}

func notificationArgs(n domain.Notification) []any {
	var body, urlValue any
	if n.Body != "" {
		body = n.Body
	}
	if n.URL != "" {
		urlValue = n.URL
	}
	return []any{uuid.NewString(), n.UserID, n.FilterID, n.Title, body, urlValue, n.Channel}
}

// Create сохраняет одно уведомление.
func (p *Postgres) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO notifications (id, user_id, filter_id, title, body, url, channel)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+notificationColumns+`
`, notificationArgs(n)...)
	created, err := scanNotification(row)
	metrics.ObserveNetworkRequest("postgres", "notifications_insert", "notifications", start, err)
	if err != nil {
		return domain.Notification{}, err
	}
	return created, nil
}

// CreateBatch вставляет пачку уведомлений одним запросом: либо вся пачка,
// либо ничего. Возвращает созданные строки.
func (p *Postgres) CreateBatch(ctx context.Context, batch []domain.Notification) ([]domain.Notification, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`INSERT INTO notifications (id, user_id, filter_id, title, body, url, channel) VALUES `)
	for i, n := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, notificationArgs(n)...)
	}
	b.WriteString(` RETURNING ` + notificationColumns)

	start := time.Now()
	rows, err := p.pool.Query(ctx, b.String(), args...)
	metrics.ObserveNetworkRequest("postgres", "notifications_insert_batch", "notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var created []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		created = append(created, n)
	}
	return created, rows.Err()
}

// ListRecent возвращает последние уведомления пользователя.
func (p *Postgres) ListRecent(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+notificationColumns+`
FROM notifications WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "notifications_list_by_user", "notifications", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead отмечает уведомление прочитанным. Повторная отметка не
// перезаписывает первоначальное время прочтения.
func (p *Postgres) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE notifications SET read_at = COALESCE(read_at, $3)
WHERE id=$1 AND user_id=$2
`, id, userID, at)
	metrics.ObserveNetworkRequest("postgres", "notifications_mark_read", "notifications", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
