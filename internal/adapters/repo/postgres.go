package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo           = (*Postgres)(nil)
	_ domain.ChannelRepo        = (*Postgres)(nil)
	_ domain.ScheduleRepo       = (*Postgres)(nil)
	_ domain.WeatherRepo        = (*Postgres)(nil)
	_ domain.SeaRepo            = (*Postgres)(nil)
	_ domain.PostRepo           = (*Postgres)(nil)
	_ domain.PublishChannelRepo = (*Postgres)(nil)
	_ domain.AssetRepo          = (*Postgres)(nil)
	_ domain.SettingsRepo       = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	is_superadmin BOOLEAN NOT NULL DEFAULT FALSE,
	tz_offset TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS pending_users (
	id BIGINT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS rejected_users (
	id BIGINT PRIMARY KEY,
	username TEXT NOT NULL DEFAULT '',
	rejected_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS channels (
	id BIGINT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS scheduled_posts (
	id BIGSERIAL PRIMARY KEY,
	batch_id TEXT NOT NULL,
	from_chat_id BIGINT NOT NULL,
	message_id BIGINT NOT NULL,
	target_chat_id BIGINT NOT NULL,
	publish_at TIMESTAMPTZ NOT NULL,
	sent BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS scheduled_posts_due_idx ON scheduled_posts (publish_at) WHERE NOT sent`,
	`CREATE TABLE IF NOT EXISTS cities (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS weather_cache_hour (
	city_id BIGINT NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	weather_code INT NOT NULL,
	wind_speed DOUBLE PRECISION NOT NULL,
	is_day BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (city_id, ts)
)`,
	`CREATE TABLE IF NOT EXISTS weather_cache_day (
	city_id BIGINT NOT NULL REFERENCES cities(id) ON DELETE CASCADE,
	day DATE NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	weather_code INT NOT NULL,
	wind_speed DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (city_id, day)
)`,
	`CREATE TABLE IF NOT EXISTS seas (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sea_cache (
	sea_id BIGINT PRIMARY KEY REFERENCES seas(id) ON DELETE CASCADE,
	updated_at TIMESTAMPTZ NOT NULL,
	current_temp DOUBLE PRECISION,
	morning_temp DOUBLE PRECISION,
	midday_temp DOUBLE PRECISION,
	evening_temp DOUBLE PRECISION,
	night_temp DOUBLE PRECISION
)`,
	`CREATE TABLE IF NOT EXISTS weather_posts (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL,
	message_id BIGINT NOT NULL,
	template TEXT NOT NULL,
	base_text TEXT NOT NULL DEFAULT '',
	base_caption TEXT NOT NULL DEFAULT '',
	markup JSONB,
	UNIQUE (chat_id, message_id)
)`,
	`CREATE TABLE IF NOT EXISTS weather_buttons (
	id BIGSERIAL PRIMARY KEY,
	chat_id BIGINT NOT NULL,
	message_id BIGINT NOT NULL,
	label TEXT NOT NULL,
	UNIQUE (chat_id, message_id, label)
)`,
	`CREATE TABLE IF NOT EXISTS weather_publish_channels (
	channel_id BIGINT PRIMARY KEY,
	post_time TEXT NOT NULL,
	last_published_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS assets (
	message_id BIGINT PRIMARY KEY,
	hashtags TEXT[] NOT NULL DEFAULT '{}',
	template TEXT NOT NULL DEFAULT '',
	used_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
}

// EnsureSchema создаёт недостающие таблицы при старте.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		start := time.Now()
		_, err := p.pool.Exec(ctx, stmt)
		metrics.ObserveNetworkRequest("postgres", "ensure_schema", "", start, err)
		if err != nil {
			return fmt.Errorf("создание схемы: %w", err)
		}
	}
	return nil
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(id int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var u domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, username, is_superadmin, tz_offset FROM users WHERE id=$1
`, id).Scan(&u.ID, &u.Username, &u.IsSuperadmin, &u.TZOffset)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	return u, err
}

// CountUsers возвращает число зарегистрированных операторов.
func (p *Postgres) CountUsers() (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "users_count", "users", start, err)
	return count, err
}

// CreateUser добавляет оператора. Повторное добавление обновляет имя.
func (p *Postgres) CreateUser(user domain.User) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO users (id, username, is_superadmin, tz_offset)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, is_superadmin = users.is_superadmin OR EXCLUDED.is_superadmin
`, user.ID, user.Username, user.IsSuperadmin, user.TZOffset)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	return err
}

// DeleteUser удаляет оператора.
func (p *Postgres) DeleteUser(id int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "users_delete", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListUsers возвращает всех операторов.
func (p *Postgres) ListUsers() ([]domain.User, error) {
	return p.listUsers(`SELECT id, username, is_superadmin, tz_offset FROM users ORDER BY id`, "users_list")
}

// ListSuperadmins возвращает операторов с правом одобрения заявок.
func (p *Postgres) ListSuperadmins() ([]domain.User, error) {
	return p.listUsers(`SELECT id, username, is_superadmin, tz_offset FROM users WHERE is_superadmin ORDER BY id`, "users_list_superadmins")
}

func (p *Postgres) listUsers(query, op string) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", op, "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.IsSuperadmin, &u.TZOffset); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateTZOffset сохраняет персональное смещение оператора.
func (p *Postgres) UpdateTZOffset(id int64, offset string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE users SET tz_offset=$2 WHERE id=$1`, id, offset)
	metrics.ObserveNetworkRequest("postgres", "users_update_tz", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddPending ставит заявку в очередь на одобрение.
func (p *Postgres) AddPending(user domain.PendingUser) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	requestedAt := user.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO pending_users (id, username, requested_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`, user.ID, user.Username, requestedAt)
	metrics.ObserveNetworkRequest("postgres", "pending_add", "pending_users", start, err)
	return err
}

// IsPending сообщает, ждёт ли заявка решения.
func (p *Postgres) IsPending(id int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pending_users WHERE id=$1)`, id).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "pending_exists", "pending_users", start, err)
	return exists, err
}

// CountPending возвращает длину очереди заявок.
func (p *Postgres) CountPending() (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM pending_users`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "pending_count", "pending_users", start, err)
	return count, err
}

// ListPendingUsers возвращает заявки в порядке подачи.
func (p *Postgres) ListPendingUsers() ([]domain.PendingUser, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, username, requested_at FROM pending_users ORDER BY requested_at
`)
	metrics.ObserveNetworkRequest("postgres", "pending_list", "pending_users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []domain.PendingUser
	for rows.Next() {
		var u domain.PendingUser
		if err := rows.Scan(&u.ID, &u.Username, &u.RequestedAt); err != nil {
			return nil, err
		}
		pending = append(pending, u)
	}
	return pending, rows.Err()
}

// ApprovePending переносит заявку в операторы.
func (p *Postgres) ApprovePending(id int64) (domain.PendingUser, error) {
	return p.resolvePending(id, true)
}

// RejectPending переносит заявку в отказы.
func (p *Postgres) RejectPending(id int64) (domain.PendingUser, error) {
	return p.resolvePending(id, false)
}

func (p *Postgres) resolvePending(id int64, approve bool) (domain.PendingUser, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "pending_users", start, err)
	if err != nil {
		return domain.PendingUser{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var u domain.PendingUser
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT id, username, requested_at FROM pending_users WHERE id=$1 FOR UPDATE
`, id).Scan(&u.ID, &u.Username, &u.RequestedAt)
	metrics.ObserveNetworkRequest("postgres", "pending_get", "pending_users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingUser{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PendingUser{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM pending_users WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "pending_delete", "pending_users", start, err)
	if err != nil {
		return domain.PendingUser{}, err
	}

	if approve {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO users (id, username) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
`, u.ID, u.Username)
		metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	} else {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO rejected_users (id, username) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING
`, u.ID, u.Username)
		metrics.ObserveNetworkRequest("postgres", "rejected_add", "rejected_users", start, err)
	}
	if err != nil {
		return domain.PendingUser{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "pending_users", start, err)
	if err != nil {
		return domain.PendingUser{}, err
	}
	return u, nil
}

// IsRejected сообщает, получал ли пользователь отказ.
func (p *Postgres) IsRejected(id int64) (bool, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rejected_users WHERE id=$1)`, id).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "rejected_exists", "rejected_users", start, err)
	return exists, err
}

// UpsertChannel реализует domain.ChannelRepo.
func (p *Postgres) UpsertChannel(ch domain.Channel) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channels (id, title) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
`, ch.ID, ch.Title)
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	return err
}

// DeleteChannel убирает канал из списка доступных.
func (p *Postgres) DeleteChannel(id int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "channels_delete", "channels", start, err)
	return err
}

// ListChannels возвращает каналы, где бот администратор.
func (p *Postgres) ListChannels() ([]domain.Channel, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, title FROM channels ORDER BY title, id`)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.Channel
	for rows.Next() {
		var ch domain.Channel
		if err := rows.Scan(&ch.ID, &ch.Title); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// CreateScheduled реализует domain.ScheduleRepo. Вставка пакетная,
// чтобы частично созданных рассылок не оставалось.
func (p *Postgres) CreateScheduled(posts []domain.ScheduledPost) ([]int64, error) {
	if len(posts) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "scheduled_posts", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]int64, 0, len(posts))
	for _, post := range posts {
		var id int64
		start = time.Now()
		err = tx.QueryRow(ctx, `
INSERT INTO scheduled_posts (batch_id, from_chat_id, message_id, target_chat_id, publish_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, post.BatchID, post.FromChatID, post.MessageID, post.TargetChatID, post.PublishAt).Scan(&id)
		metrics.ObserveNetworkRequest("postgres", "scheduled_insert", "scheduled_posts", start, err)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "scheduled_posts", start, err)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListDue возвращает неотправленные публикации с наступившим сроком.
func (p *Postgres) ListDue(now time.Time) ([]domain.ScheduledPost, error) {
	return p.listScheduled(`
SELECT id, batch_id, from_chat_id, message_id, target_chat_id, publish_at, sent, sent_at
FROM scheduled_posts WHERE NOT sent AND publish_at <= $1 ORDER BY publish_at, id
`, "scheduled_list_due", now)
}

// ListPending возвращает все неотправленные публикации.
func (p *Postgres) ListPending() ([]domain.ScheduledPost, error) {
	return p.listScheduled(`
SELECT id, batch_id, from_chat_id, message_id, target_chat_id, publish_at, sent, sent_at
FROM scheduled_posts WHERE NOT sent ORDER BY publish_at, id
`, "scheduled_list_pending")
}

// ListSentHistory возвращает последние отправленные публикации.
func (p *Postgres) ListSentHistory(limit int) ([]domain.ScheduledPost, error) {
	return p.listScheduled(`
SELECT id, batch_id, from_chat_id, message_id, target_chat_id, publish_at, sent, sent_at
FROM scheduled_posts WHERE sent ORDER BY sent_at DESC, id DESC LIMIT $1
`, "scheduled_list_history", limit)
}

func (p *Postgres) listScheduled(query, op string, args ...any) ([]domain.ScheduledPost, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "scheduled_posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []domain.ScheduledPost
	for rows.Next() {
		var post domain.ScheduledPost
		if err := rows.Scan(&post.ID, &post.BatchID, &post.FromChatID, &post.MessageID, &post.TargetChatID, &post.PublishAt, &post.Sent, &post.SentAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// MarkSent помечает публикацию отправленной. Переход единственный:
// повторная пометка возвращает ErrNotFound.
func (p *Postgres) MarkSent(id int64, at time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET sent = TRUE, sent_at = $2 WHERE id=$1 AND NOT sent
`, id, at)
	metrics.ObserveNetworkRequest("postgres", "scheduled_mark_sent", "scheduled_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdatePublishAt переносит срок неотправленной публикации.
func (p *Postgres) UpdatePublishAt(id int64, at time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts SET publish_at = $2 WHERE id=$1 AND NOT sent
`, id, at)
	metrics.ObserveNetworkRequest("postgres", "scheduled_reschedule", "scheduled_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteScheduled удаляет неотправленную публикацию из расписания.
// Отправленные строки остаются в истории.
func (p *Postgres) DeleteScheduled(id int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM scheduled_posts WHERE id=$1 AND NOT sent`, id)
	metrics.ObserveNetworkRequest("postgres", "scheduled_delete", "scheduled_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const (
	settingAssetChannel      = "asset_channel"
	settingLatestWeatherPost = "latest_weather_post"
)

func (p *Postgres) setSetting(key, value string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO settings (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
`, key, value)
	metrics.ObserveNetworkRequest("postgres", "settings_set", "settings", start, err)
	return err
}

func (p *Postgres) getSetting(key string) (string, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var value string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "settings_get", "settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	return value, err
}

// SetAssetChannel реализует domain.SettingsRepo.
func (p *Postgres) SetAssetChannel(channelID int64) error {
	return p.setSetting(settingAssetChannel, strconv.FormatInt(channelID, 10))
}

// GetAssetChannel возвращает канал заготовок.
func (p *Postgres) GetAssetChannel() (int64, error) {
	value, err := p.getSetting(settingAssetChannel)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// SetLatestWeatherPost запоминает последний опубликованный погодный пост.
func (p *Postgres) SetLatestWeatherPost(ref domain.MessageRef) error {
	return p.setSetting(settingLatestWeatherPost, fmt.Sprintf("%d:%d", ref.ChatID, ref.MessageID))
}

// GetLatestWeatherPost возвращает последний опубликованный погодный пост.
func (p *Postgres) GetLatestWeatherPost() (domain.MessageRef, error) {
	value, err := p.getSetting(settingLatestWeatherPost)
	if err != nil {
		return domain.MessageRef{}, err
	}
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return domain.MessageRef{}, fmt.Errorf("повреждённая настройка %s: %q", settingLatestWeatherPost, value)
	}
	chatID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return domain.MessageRef{}, err
	}
	messageID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChatID: chatID, MessageID: messageID}, nil
}
